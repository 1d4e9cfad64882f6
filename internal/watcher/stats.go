package watcher

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FolderStats summarizes the watched folder for health reporting.
type FolderStats struct {
	TotalFiles  int     `json:"total_files"`
	AudioFiles  int     `json:"audio_files"`
	OutputFiles int     `json:"output_files"`
	OtherFiles  int     `json:"other_files"`
	TotalSizeMB float64 `json:"total_size_mb"`
	Path        string  `json:"path"`
}

// StaleInput is an audio file that has waited for its transcript longer
// than the given age, a sign the external processor stopped picking up work.
type StaleInput struct {
	Filename   string        `json:"filename"`
	SizeMB     float64       `json:"size_mb"`
	Age        time.Duration `json:"-"`
	AgeMinutes float64       `json:"age_minutes"`
}

// Stats walks the watched folder and counts files by kind.
func Stats(dir string, audioFormats []string, outputExt string) (FolderStats, error) {
	stats := FolderStats{Path: dir}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return stats, err
	}

	formats := make(map[string]bool, len(audioFormats))
	for _, f := range audioFormats {
		formats[f] = true
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		stats.TotalFiles++
		stats.TotalSizeMB += float64(info.Size()) / (1024 * 1024)

		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(entry.Name()), "."))
		switch {
		case strings.HasSuffix(entry.Name(), outputExt):
			stats.OutputFiles++
		case formats[ext]:
			stats.AudioFiles++
		default:
			stats.OtherFiles++
		}
	}
	return stats, nil
}

// StaleInputs returns audio files older than maxAge with no sibling output
// artifact, oldest first.
func StaleInputs(dir string, audioFormats []string, outputExt string, maxAge time.Duration) ([]StaleInput, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	formats := make(map[string]bool, len(audioFormats))
	for _, f := range audioFormats {
		formats[f] = true
	}

	outputStems := make(map[string]bool)
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), outputExt) {
			outputStems[strings.TrimSuffix(entry.Name(), outputExt)] = true
		}
	}

	var stale []StaleInput
	now := time.Now()

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(entry.Name()), "."))
		if !formats[ext] {
			continue
		}

		stem := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if outputStems[stem] || outputStems[entry.Name()] {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		age := now.Sub(info.ModTime())
		if age <= maxAge {
			continue
		}

		stale = append(stale, StaleInput{
			Filename:   entry.Name(),
			SizeMB:     float64(info.Size()) / (1024 * 1024),
			Age:        age,
			AgeMinutes: age.Minutes(),
		})
	}

	sort.Slice(stale, func(i, j int) bool { return stale[i].Age > stale[j].Age })
	return stale, nil
}
