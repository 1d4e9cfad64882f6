package watcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/anon-design/macwhisper-transcription-api/internal/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResults struct {
	mu          sync.Mutex
	completions map[string]string
	timeouts    map[string]string
}

func newFakeResults() *fakeResults {
	return &fakeResults{
		completions: make(map[string]string),
		timeouts:    make(map[string]string),
	}
}

func (f *fakeResults) Complete(jobID, text string) {
	f.mu.Lock()
	f.completions[jobID] = text
	f.mu.Unlock()
}

func (f *fakeResults) Timeout(jobID, reason string) {
	f.mu.Lock()
	f.timeouts[jobID] = reason
	f.mu.Unlock()
}

func (f *fakeResults) completed(jobID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	text, ok := f.completions[jobID]
	return text, ok
}

func (f *fakeResults) timedOut(jobID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reason, ok := f.timeouts[jobID]
	return reason, ok
}

type fakeHealth struct {
	mu   sync.Mutex
	errs []error
}

func (f *fakeHealth) ReportSystemic(err error) {
	f.mu.Lock()
	f.errs = append(f.errs, err)
	f.mu.Unlock()
}

func (f *fakeHealth) reported() []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]error, len(f.errs))
	copy(out, f.errs)
	return out
}

func newTestCorrelator(t *testing.T, dir string) (*Correlator, *job.Store, *fakeResults, *fakeHealth) {
	t.Helper()

	store := job.NewStore()
	results := newFakeResults()
	health := &fakeHealth{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	c := NewCorrelator(Config{
		Dir:          dir,
		PollInterval: 10 * time.Millisecond,
	}, store, results, health, logger)

	return c, store, results, health
}

// startProcessing registers a job and moves it to processing with the given
// deadline, mirroring what dispatch does.
func startProcessing(t *testing.T, store *job.Store, filename string, deadline time.Time) string {
	t.Helper()

	j := store.Create(filename, "/tmp/"+filename, "mp3", 1024)
	now := time.Now()
	_, err := store.Update(j.ID, func(j *job.Job) error {
		j.Status = job.StatusProcessing
		j.StartedAt = &now
		j.Deadline = deadline
		return nil
	})
	require.NoError(t, err)
	return j.ID
}

func TestPoll_CompletesAfterStableSize(t *testing.T) {
	dir := t.TempDir()
	c, store, results, _ := newTestCorrelator(t, dir)

	id := startProcessing(t, store, "talk.mp3", time.Now().Add(time.Hour))

	output := filepath.Join(dir, id+"_talk.txt")
	require.NoError(t, os.WriteFile(output, []byte("  the transcript  \n"), 0o644))

	// First sighting records the size, nothing is reported yet.
	c.Poll()
	_, done := results.completed(id)
	assert.False(t, done)

	// Second poll sees the same size and reports the trimmed text.
	c.Poll()
	text, done := results.completed(id)
	require.True(t, done)
	assert.Equal(t, "the transcript", text)
}

func TestPoll_GrowingFileIsNotComplete(t *testing.T) {
	dir := t.TempDir()
	c, store, results, _ := newTestCorrelator(t, dir)

	id := startProcessing(t, store, "talk.mp3", time.Now().Add(time.Hour))
	output := filepath.Join(dir, id+"_talk.txt")

	require.NoError(t, os.WriteFile(output, []byte("partial"), 0o644))
	c.Poll()

	// The processor is still writing.
	require.NoError(t, os.WriteFile(output, []byte("partial plus more"), 0o644))
	c.Poll()

	_, done := results.completed(id)
	assert.False(t, done)

	// Size settles; next poll completes.
	c.Poll()
	text, done := results.completed(id)
	require.True(t, done)
	assert.Equal(t, "partial plus more", text)
}

func TestPoll_EmptyFileNeverCompletes(t *testing.T) {
	dir := t.TempDir()
	c, store, results, _ := newTestCorrelator(t, dir)

	id := startProcessing(t, store, "talk.mp3", time.Now().Add(time.Hour))
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+"_talk.txt"), nil, 0o644))

	for i := 0; i < 4; i++ {
		c.Poll()
	}

	_, done := results.completed(id)
	assert.False(t, done)
}

func TestPoll_DeadlineExpiryReportsTimeout(t *testing.T) {
	dir := t.TempDir()
	c, store, results, _ := newTestCorrelator(t, dir)

	id := startProcessing(t, store, "talk.mp3", time.Now().Add(-time.Second))

	c.Poll()

	reason, ok := results.timedOut(id)
	require.True(t, ok)
	assert.Contains(t, reason, "no output artifact within")
}

func TestPoll_PresentOutputSuppressesTimeout(t *testing.T) {
	dir := t.TempDir()
	c, store, results, _ := newTestCorrelator(t, dir)

	// Deadline already passed, but an artifact exists: the job is finishing,
	// not stuck, so the stability check wins over the deadline.
	id := startProcessing(t, store, "talk.mp3", time.Now().Add(-time.Second))
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+"_talk.txt"), []byte("text"), 0o644))

	c.Poll()
	c.Poll()

	_, timedOut := results.timedOut(id)
	assert.False(t, timedOut)

	text, done := results.completed(id)
	require.True(t, done)
	assert.Equal(t, "text", text)
}

func TestPoll_UnreadableDirEscalatesSystemic(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "vanished")
	c, store, results, health := newTestCorrelator(t, dir)

	id := startProcessing(t, store, "talk.mp3", time.Now().Add(-time.Second))

	c.Poll()

	reported := health.reported()
	require.Len(t, reported, 1)
	var sysErr *job.SystemicError
	assert.True(t, errors.As(reported[0], &sysErr))

	// Systemic failure, not a per-job outcome.
	_, timedOut := results.timedOut(id)
	assert.False(t, timedOut)
}

func TestPoll_OrphanFlaggedOnce(t *testing.T) {
	dir := t.TempDir()
	c, _, results, _ := newTestCorrelator(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "mystery.txt"), []byte("whose?"), 0o644))

	c.Poll()
	c.Poll()

	// Orphans never become completions or timeouts.
	assert.Empty(t, results.completions)
	assert.Empty(t, results.timeouts)
	assert.True(t, c.orphansSeen["mystery.txt"])
}

func TestPoll_RelocatesOrphans(t *testing.T) {
	dir := t.TempDir()
	store := job.NewStore()
	results := newFakeResults()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	c := NewCorrelator(Config{
		Dir:             dir,
		PollInterval:    10 * time.Millisecond,
		RelocateOrphans: true,
	}, store, results, &fakeHealth{}, logger)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "mystery.txt"), []byte("whose?"), 0o644))

	c.Poll()

	assert.NoFileExists(t, filepath.Join(dir, "mystery.txt"))
	assert.FileExists(t, filepath.Join(dir, "orphaned", "mystery.txt"))
}

func TestPoll_OutputForTrackedJobIsNotOrphan(t *testing.T) {
	dir := t.TempDir()
	c, store, _, _ := newTestCorrelator(t, dir)

	// Job exists but is already completed; its lingering output is known,
	// not orphaned.
	j := store.Create("talk.mp3", "/tmp/talk.mp3", "mp3", 1)
	_, err := store.Update(j.ID, func(jb *job.Job) error {
		jb.Status = job.StatusCompleted
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, j.ID+"_talk.txt"), []byte("text"), 0o644))

	c.Poll()

	assert.False(t, c.orphansSeen[j.ID+"_talk.txt"])
}

func TestRun_PollsOnInterval(t *testing.T) {
	dir := t.TempDir()
	c, store, results, _ := newTestCorrelator(t, dir)

	id := startProcessing(t, store, "talk.mp3", time.Now().Add(time.Hour))
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+"_talk.txt"), []byte("text"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Run(ctx)
	defer c.Stop()

	require.Eventually(t, func() bool {
		_, done := results.completed(id)
		return done
	}, 2*time.Second, 10*time.Millisecond)
}
