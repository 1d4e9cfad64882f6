package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func mb(f float64) int64 {
	return int64(f * 1024 * 1024)
}

func TestTimeoutModel_Compute(t *testing.T) {
	model := TimeoutModel{
		Base:  15 * time.Second,
		PerMB: 30 * time.Second,
		Min:   10 * time.Second,
		Max:   10 * time.Minute,
	}

	tests := []struct {
		name      string
		sizeBytes int64
		expected  time.Duration
	}{
		{
			name:      "small voice memo",
			sizeBytes: mb(0.1),
			expected:  18 * time.Second,
		},
		{
			name:      "one megabyte",
			sizeBytes: mb(1),
			expected:  45 * time.Second,
		},
		{
			name:      "large file clamps to max",
			sizeBytes: mb(30),
			expected:  10 * time.Minute,
		},
		{
			name:      "zero bytes gets base",
			sizeBytes: 0,
			expected:  15 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, model.Compute(tt.sizeBytes))
		})
	}
}

func TestTimeoutModel_ClampsToMin(t *testing.T) {
	model := TimeoutModel{
		Base:  time.Second,
		PerMB: time.Second,
		Min:   30 * time.Second,
		Max:   10 * time.Minute,
	}

	assert.Equal(t, 30*time.Second, model.Compute(mb(2)))
}

func TestTimeoutModel_Monotonic(t *testing.T) {
	model := TimeoutModel{
		Base:  15 * time.Second,
		PerMB: 30 * time.Second,
		Min:   10 * time.Second,
		Max:   10 * time.Minute,
	}

	prev := time.Duration(0)
	for _, size := range []float64{0, 0.1, 0.5, 1, 5, 10, 19.5, 20, 50, 500} {
		d := model.Compute(mb(size))
		assert.GreaterOrEqual(t, d, prev, "size %.1f MB", size)
		prev = d
	}
}

func TestTimeoutModel_Deterministic(t *testing.T) {
	model := TimeoutModel{
		Base:  15 * time.Second,
		PerMB: 30 * time.Second,
		Min:   10 * time.Second,
		Max:   10 * time.Minute,
	}

	first := model.Compute(mb(7.3))
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, model.Compute(mb(7.3)))
	}
}

func TestEstimateDuration(t *testing.T) {
	tests := []struct {
		format   string
		sizeMB   float64
		expected float64
	}{
		{"wav", 10, 100},
		{"flac", 10, 100},
		{"mp3", 10, 600},
		{"m4a", 1, 60},
		{"ogg", 0.5, 30},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			assert.Equal(t, tt.expected, EstimateDuration(tt.format, tt.sizeMB))
		})
	}
}
