package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, 25, cfg.Queue.MaxSize)
				assert.Equal(t, 4, cfg.Queue.MaxConcurrent)
				assert.Equal(t, 20*time.Second, cfg.Timeouts.Base)
				assert.Equal(t, "/tmp/watched", cfg.Watcher.Dir)
				assert.Equal(t, "transcription-api-test", cfg.App.Name)
			}
		})
	}
}

func TestLoad_FillsDefaults(t *testing.T) {
	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	// Absent sections fall back to defaults
	assert.Equal(t, 1, cfg.Queue.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Queue.AwaitPollInterval)
	assert.Equal(t, ".txt", cfg.Watcher.OutputExt)
	assert.Equal(t, time.Minute, cfg.Watchdog.Interval)
	assert.Equal(t, 30*time.Minute, cfg.Watchdog.StuckCeiling)
	assert.Equal(t, 3, cfg.Watchdog.FailureThreshold)
	assert.Equal(t, float64(500), cfg.Validation.MaxFileSizeMB)
	assert.Contains(t, cfg.Validation.Formats, "mp3")
	assert.Equal(t, 10, cfg.RateLimit.PerWindow)
	assert.Equal(t, time.Hour, cfg.Retention.TTL)
	assert.False(t, cfg.Archive.Enabled)
	assert.False(t, cfg.Events.Enabled)
}

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config { return Default() }

	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "zero queue size",
			mutate:    func(c *Config) { c.Queue.MaxSize = 0 },
			wantErr:   true,
			errString: "queue max_size",
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Queue.MaxConcurrent = 0 },
			wantErr:   true,
			errString: "queue max_concurrent",
		},
		{
			name:      "negative retries",
			mutate:    func(c *Config) { c.Queue.MaxRetries = -1 },
			wantErr:   true,
			errString: "max_retries",
		},
		{
			name: "timeout min above max",
			mutate: func(c *Config) {
				c.Timeouts.Min = time.Hour
				c.Timeouts.Max = time.Minute
			},
			wantErr:   true,
			errString: "exceeds max",
		},
		{
			name:      "empty watcher dir",
			mutate:    func(c *Config) { c.Watcher.Dir = "" },
			wantErr:   true,
			errString: "watcher dir is required",
		},
		{
			name:      "zero watchdog interval",
			mutate:    func(c *Config) { c.Watchdog.Interval = 0 },
			wantErr:   true,
			errString: "watchdog interval",
		},
		{
			name:      "empty processor app name",
			mutate:    func(c *Config) { c.Processor.AppName = "" },
			wantErr:   true,
			errString: "processor app_name is required",
		},
		{
			name:      "no formats",
			mutate:    func(c *Config) { c.Validation.Formats = nil },
			wantErr:   true,
			errString: "formats must not be empty",
		},
		{
			name:      "zero rate limit",
			mutate:    func(c *Config) { c.RateLimit.PerWindow = 0 },
			wantErr:   true,
			errString: "rate_limit",
		},
		{
			name: "archive enabled without host",
			mutate: func(c *Config) {
				c.Archive.Enabled = true
				c.Archive.Host = ""
				c.Archive.Database = "history"
			},
			wantErr:   true,
			errString: "archive host is required",
		},
		{
			name: "archive enabled without database",
			mutate: func(c *Config) {
				c.Archive.Enabled = true
				c.Archive.Host = "localhost"
				c.Archive.Database = ""
			},
			wantErr:   true,
			errString: "archive database is required",
		},
		{
			name: "events enabled without host",
			mutate: func(c *Config) {
				c.Events.Enabled = true
				c.Events.Host = ""
			},
			wantErr:   true,
			errString: "events host is required",
		},
		{
			name: "events enabled without exchange",
			mutate: func(c *Config) {
				c.Events.Enabled = true
				c.Events.Host = "localhost"
				c.Events.Exchange = ""
			},
			wantErr:   true,
			errString: "events exchange is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		require.NoError(t, cfg.Validate())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})
}

func TestPortConstants(t *testing.T) {
	assert.Equal(t, 1, MinPort)
	assert.Equal(t, 65535, MaxPort)
}
