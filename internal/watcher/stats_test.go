package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFormats = []string{"mp3", "wav", "m4a"}

func TestStats(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.mp3"), []byte("audio"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.wav"), []byte("audio"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("transcript"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.pdf"), []byte("other"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))

	stats, err := Stats(dir, testFormats, ".txt")
	require.NoError(t, err)

	assert.Equal(t, 4, stats.TotalFiles)
	assert.Equal(t, 2, stats.AudioFiles)
	assert.Equal(t, 1, stats.OutputFiles)
	assert.Equal(t, 1, stats.OtherFiles)
	assert.Equal(t, dir, stats.Path)
	assert.Greater(t, stats.TotalSizeMB, 0.0)
}

func TestStats_MissingDir(t *testing.T) {
	_, err := Stats(filepath.Join(t.TempDir(), "missing"), testFormats, ".txt")
	assert.Error(t, err)
}

func TestStaleInputs(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().Add(-10 * time.Minute)
	older := time.Now().Add(-20 * time.Minute)

	// Old audio with no output: stale.
	stalePath := filepath.Join(dir, "waiting.mp3")
	require.NoError(t, os.WriteFile(stalePath, []byte("audio"), 0o644))
	require.NoError(t, os.Chtimes(stalePath, old, old))

	// Even older audio, also without output.
	stalerPath := filepath.Join(dir, "forgotten.wav")
	require.NoError(t, os.WriteFile(stalerPath, []byte("audio"), 0o644))
	require.NoError(t, os.Chtimes(stalerPath, older, older))

	// Old audio whose transcript exists: the processor handled it.
	donePath := filepath.Join(dir, "done.mp3")
	require.NoError(t, os.WriteFile(donePath, []byte("audio"), 0o644))
	require.NoError(t, os.Chtimes(donePath, old, old))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "done.txt"), []byte("text"), 0o644))

	// Fresh audio: not yet stale.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fresh.mp3"), []byte("audio"), 0o644))

	stale, err := StaleInputs(dir, testFormats, ".txt", 5*time.Minute)
	require.NoError(t, err)

	require.Len(t, stale, 2)
	// Oldest first.
	assert.Equal(t, "forgotten.wav", stale[0].Filename)
	assert.Equal(t, "waiting.mp3", stale[1].Filename)
	assert.Greater(t, stale[0].AgeMinutes, stale[1].AgeMinutes)
}

func TestStaleInputs_EmptyDir(t *testing.T) {
	stale, err := StaleInputs(t.TempDir(), testFormats, ".txt", time.Minute)
	require.NoError(t, err)
	assert.Empty(t, stale)
}
