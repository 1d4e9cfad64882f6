// Package validate checks uploaded audio before it is allowed to occupy
// queue capacity. Failures here are caller-correctable and never create a
// job record.
package validate

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anon-design/macwhisper-transcription-api/internal/job"
)

// ErrInvalid is the sentinel wrapped by every validation failure.
var ErrInvalid = errors.New("validation failed")

// Config holds the upload constraints.
type Config struct {
	MaxFileSizeMB float64
	MaxDuration   time.Duration
	Formats       []string
}

// Info describes a validated upload.
type Info struct {
	Format            string
	SizeBytes         int64
	SizeMB            float64
	EstimatedDuration float64
}

// Validator applies the configured constraints.
type Validator struct {
	cfg     Config
	formats map[string]bool
}

// New creates a validator.
func New(cfg Config) *Validator {
	formats := make(map[string]bool, len(cfg.Formats))
	for _, f := range cfg.Formats {
		formats[strings.ToLower(f)] = true
	}
	return &Validator{cfg: cfg, formats: formats}
}

// File validates the uploaded file at path. originalFilename carries the
// extension the upload arrived with; path may be a temp file without one.
func (v *Validator) File(path, originalFilename string) (Info, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Info{}, fmt.Errorf("%w: file not found: %s", ErrInvalid, path)
	}

	sizeMB := float64(info.Size()) / (1024 * 1024)
	if sizeMB > v.cfg.MaxFileSizeMB {
		return Info{}, fmt.Errorf("%w: file too large: %.1fMB, maximum allowed: %.0fMB",
			ErrInvalid, sizeMB, v.cfg.MaxFileSizeMB)
	}

	format, err := v.detectFormat(path, originalFilename)
	if err != nil {
		return Info{}, err
	}

	duration := job.EstimateDuration(format, sizeMB)
	if duration > v.cfg.MaxDuration.Seconds() {
		return Info{}, fmt.Errorf("%w: audio too long: %.1f min, maximum allowed: %.0f min",
			ErrInvalid, duration/60, v.cfg.MaxDuration.Minutes())
	}

	return Info{
		Format:            format,
		SizeBytes:         info.Size(),
		SizeMB:            sizeMB,
		EstimatedDuration: duration,
	}, nil
}

// detectFormat resolves the audio format from the original filename first,
// then the stored path, then the MIME type as a last resort.
func (v *Validator) detectFormat(path, originalFilename string) (string, error) {
	if originalFilename != "" {
		if ext := extOf(originalFilename); v.formats[ext] {
			return ext, nil
		}
	}
	if ext := extOf(path); v.formats[ext] {
		return ext, nil
	}

	name := originalFilename
	if name == "" {
		name = path
	}
	if mimeType := mime.TypeByExtension(filepath.Ext(name)); strings.HasPrefix(mimeType, "audio/") {
		format := strings.SplitN(mimeType[len("audio/"):], ";", 2)[0]
		if v.formats[format] {
			return format, nil
		}
	}

	return "", fmt.Errorf("%w: unsupported audio format, valid formats: %s",
		ErrInvalid, strings.Join(v.cfg.Formats, ", "))
}

func extOf(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}
