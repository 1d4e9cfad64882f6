package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Queue      QueueConfig      `yaml:"queue"`
	Timeouts   TimeoutConfig    `yaml:"timeouts"`
	Watcher    WatcherConfig    `yaml:"watcher"`
	Watchdog   WatchdogConfig   `yaml:"watchdog"`
	Processor  ProcessorConfig  `yaml:"processor"`
	Validation ValidationConfig `yaml:"validation"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Retention  RetentionConfig  `yaml:"retention"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Events     EventsConfig     `yaml:"events"`
	Logging    LoggingConfig    `yaml:"logging"`
	App        AppConfig        `yaml:"app"`
}

// ServerConfig holds HTTP server configuration. Read and write timeouts
// are generous because synchronous transcription requests can hold the
// connection for the full job deadline.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	UploadDir       string        `yaml:"upload_dir"`
}

// QueueConfig holds admission and dispatch configuration
type QueueConfig struct {
	MaxSize           int           `yaml:"max_size"`
	MaxConcurrent     int           `yaml:"max_concurrent"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	AwaitPollInterval time.Duration `yaml:"await_poll_interval"`
}

// TimeoutConfig parameterizes the per-job deadline model. The effective
// deadline is base + file size in MB * per_mb, clamped to [min, max],
// and must expire before any upstream caller's own deadline so failure
// is reported from here first.
type TimeoutConfig struct {
	Base  time.Duration `yaml:"base"`
	PerMB time.Duration `yaml:"per_mb"`
	Min   time.Duration `yaml:"min"`
	Max   time.Duration `yaml:"max"`
}

// WatcherConfig holds watched-folder and result correlation configuration
type WatcherConfig struct {
	Dir             string        `yaml:"dir"`
	OutputExt       string        `yaml:"output_ext"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	RelocateOrphans bool          `yaml:"relocate_orphans"`
	KeepFiles       bool          `yaml:"keep_files"`
	ArchiveDir      string        `yaml:"archive_dir"`
}

// WatchdogConfig holds the recovery loop's sweep and restart windows
type WatchdogConfig struct {
	Interval         time.Duration `yaml:"interval"`
	StuckCeiling     time.Duration `yaml:"stuck_ceiling"`
	FailureThreshold int           `yaml:"failure_threshold"`
	MaxRestarts      int           `yaml:"max_restarts"`
	RestartWindow    time.Duration `yaml:"restart_window"`
	StaleInputAge    time.Duration `yaml:"stale_input_age"`
}

// ProcessorConfig identifies the external transcription application
type ProcessorConfig struct {
	AppName    string        `yaml:"app_name"`
	QuitWait   time.Duration `yaml:"quit_wait"`
	LaunchWait time.Duration `yaml:"launch_wait"`
	ModelName  string        `yaml:"model_name"`
}

// ValidationConfig holds upload constraints
type ValidationConfig struct {
	MaxFileSizeMB float64       `yaml:"max_file_size_mb"`
	MaxDuration   time.Duration `yaml:"max_duration"`
	Formats       []string      `yaml:"formats"`
}

// RateLimitConfig holds per-client request limits
type RateLimitConfig struct {
	PerWindow int           `yaml:"per_window"`
	Window    time.Duration `yaml:"window"`
}

// RetentionConfig controls how long finished jobs stay queryable
type RetentionConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ArchiveConfig holds the optional PostgreSQL job history sink
type ArchiveConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// EventsConfig holds the optional RabbitMQ lifecycle event publisher
type EventsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	User          string        `yaml:"user"`
	Password      string        `yaml:"password"`
	VHost         string        `yaml:"vhost"`
	Exchange      string        `yaml:"exchange"`
	RoutingKey    string        `yaml:"routing_key"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// Load reads and parses the configuration file. Fields absent from the
// file keep their defaults.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Default returns the baseline configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3001,
			ReadTimeout:     15 * time.Minute,
			WriteTimeout:    15 * time.Minute,
			IdleTimeout:     2 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
			UploadDir:       "uploads",
		},
		Queue: QueueConfig{
			MaxSize:           50,
			MaxConcurrent:     2,
			MaxRetries:        1,
			RetryBackoff:      2 * time.Second,
			AwaitPollInterval: 500 * time.Millisecond,
		},
		Timeouts: TimeoutConfig{
			Base:  15 * time.Second,
			PerMB: 30 * time.Second,
			Min:   10 * time.Second,
			Max:   10 * time.Minute,
		},
		Watcher: WatcherConfig{
			Dir:          "watched_input",
			OutputExt:    ".txt",
			PollInterval: 500 * time.Millisecond,
			KeepFiles:    true,
			ArchiveDir:   "audio_archive",
		},
		Watchdog: WatchdogConfig{
			Interval:         time.Minute,
			StuckCeiling:     30 * time.Minute,
			FailureThreshold: 3,
			MaxRestarts:      3,
			RestartWindow:    time.Hour,
			StaleInputAge:    5 * time.Minute,
		},
		Processor: ProcessorConfig{
			AppName:    "MacWhisper",
			QuitWait:   5 * time.Second,
			LaunchWait: 10 * time.Second,
			ModelName:  "MacWhisper (WhisperKit Pro / Whisper Large V3)",
		},
		Validation: ValidationConfig{
			MaxFileSizeMB: 500,
			MaxDuration:   2 * time.Hour,
			Formats:       []string{"mp3", "wav", "m4a", "flac", "ogg", "opus", "webm", "aac"},
		},
		RateLimit: RateLimitConfig{
			PerWindow: 10,
			Window:    time.Minute,
		},
		Retention: RetentionConfig{
			TTL:           time.Hour,
			SweepInterval: 5 * time.Minute,
		},
		Archive: ArchiveConfig{
			Port:            5432,
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Events: EventsConfig{
			Port:          5672,
			VHost:         "/",
			Exchange:      "transcription.events",
			RoutingKey:    "job.finished",
			RetryAttempts: 3,
			RetryInterval: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		App: AppConfig{
			Name:        "macwhisper-transcription-api",
			Version:     "dev",
			Environment: "development",
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Queue.MaxSize <= 0 {
		return fmt.Errorf("queue max_size must be greater than 0")
	}

	if c.Queue.MaxConcurrent <= 0 {
		return fmt.Errorf("queue max_concurrent must be greater than 0")
	}

	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("queue max_retries must not be negative")
	}

	if c.Timeouts.Base <= 0 || c.Timeouts.Max <= 0 {
		return fmt.Errorf("timeout base and max must be greater than 0")
	}

	if c.Timeouts.Min > c.Timeouts.Max {
		return fmt.Errorf("timeout min (%s) exceeds max (%s)", c.Timeouts.Min, c.Timeouts.Max)
	}

	if c.Watcher.Dir == "" {
		return fmt.Errorf("watcher dir is required")
	}

	if c.Watcher.PollInterval <= 0 {
		return fmt.Errorf("watcher poll_interval must be greater than 0")
	}

	if c.Watchdog.Interval <= 0 {
		return fmt.Errorf("watchdog interval must be greater than 0")
	}

	if c.Watchdog.FailureThreshold <= 0 {
		return fmt.Errorf("watchdog failure_threshold must be greater than 0")
	}

	if c.Processor.AppName == "" {
		return fmt.Errorf("processor app_name is required")
	}

	if len(c.Validation.Formats) == 0 {
		return fmt.Errorf("validation formats must not be empty")
	}

	if c.RateLimit.PerWindow <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit per_window and window must be greater than 0")
	}

	if c.Archive.Enabled {
		if c.Archive.Host == "" {
			return fmt.Errorf("archive host is required when archive is enabled")
		}
		if c.Archive.Database == "" {
			return fmt.Errorf("archive database is required when archive is enabled")
		}
		if c.Archive.Port < MinPort || c.Archive.Port > MaxPort {
			return fmt.Errorf("invalid archive port: %d (must be between %d and %d)", c.Archive.Port, MinPort, MaxPort)
		}
	}

	if c.Events.Enabled {
		if c.Events.Host == "" {
			return fmt.Errorf("events host is required when events are enabled")
		}
		if c.Events.Exchange == "" {
			return fmt.Errorf("events exchange is required when events are enabled")
		}
		if c.Events.Port < MinPort || c.Events.Port > MaxPort {
			return fmt.Errorf("invalid events port: %d (must be between %d and %d)", c.Events.Port, MinPort, MaxPort)
		}
	}

	return nil
}
