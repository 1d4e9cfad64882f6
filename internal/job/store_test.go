package job

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_CreateAndGet(t *testing.T) {
	s := NewStore()

	created := s.Create("meeting.mp3", "/tmp/upload-1.mp3", "mp3", 2048)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, StatusPending, created.Status)
	assert.Equal(t, "meeting.mp3", created.OriginalFilename)
	assert.WithinDuration(t, time.Now(), created.CreatedAt, time.Second)

	got, err := s.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, int64(2048), got.SizeBytes)
}

func TestStore_GetUnknown(t *testing.T) {
	s := NewStore()

	_, err := s.Get("no-such-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SnapshotsAreIndependent(t *testing.T) {
	s := NewStore()
	j := s.Create("a.mp3", "/tmp/a.mp3", "mp3", 1)

	snap, err := s.Get(j.ID)
	require.NoError(t, err)

	// Mutating a snapshot must not leak into the store.
	snap.Status = StatusFailed
	snap.Error = "scribbled on"

	fresh, err := s.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, fresh.Status)
	assert.Empty(t, fresh.Error)
}

func TestStore_Update(t *testing.T) {
	s := NewStore()
	j := s.Create("a.mp3", "/tmp/a.mp3", "mp3", 1)

	now := time.Now()
	snap, err := s.Update(j.ID, func(j *Job) error {
		j.Status = StatusProcessing
		j.StartedAt = &now
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, snap.Status)
	require.NotNil(t, snap.StartedAt)

	stored, err := s.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, stored.Status)
}

func TestStore_UpdateErrorLeavesJobUntouched(t *testing.T) {
	s := NewStore()
	j := s.Create("a.mp3", "/tmp/a.mp3", "mp3", 1)

	boom := errors.New("wrong state")
	_, err := s.Update(j.ID, func(j *Job) error {
		j.Status = StatusCompleted
		j.Error = "half applied"
		return boom
	})
	assert.ErrorIs(t, err, boom)

	stored, err := s.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
	assert.Empty(t, stored.Error)
}

func TestStore_UpdateUnknown(t *testing.T) {
	s := NewStore()

	_, err := s.Update("no-such-id", func(j *Job) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ConcurrentUpdatesAreAtomic(t *testing.T) {
	s := NewStore()
	j := s.Create("a.mp3", "/tmp/a.mp3", "mp3", 1)

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(j.ID, func(j *Job) error {
				j.RetryCount++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := s.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, writers, stored.RetryCount)
}

func TestStore_ListByStatus(t *testing.T) {
	s := NewStore()
	a := s.Create("a.mp3", "/tmp/a.mp3", "mp3", 1)
	b := s.Create("b.mp3", "/tmp/b.mp3", "mp3", 1)
	s.Create("c.mp3", "/tmp/c.mp3", "mp3", 1)

	for _, id := range []string{a.ID, b.ID} {
		_, err := s.Update(id, func(j *Job) error {
			j.Status = StatusProcessing
			return nil
		})
		require.NoError(t, err)
	}

	assert.Len(t, s.List(), 3)
	assert.Len(t, s.List(StatusProcessing), 2)
	assert.Len(t, s.List(StatusPending), 1)
	assert.Len(t, s.List(StatusCompleted), 0)
	assert.Len(t, s.List(StatusPending, StatusProcessing), 3)
}

func TestStore_CountsIncludeAllStatuses(t *testing.T) {
	s := NewStore()
	counts := s.Counts()

	for _, st := range []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusTimeout} {
		n, ok := counts[st]
		assert.True(t, ok, "missing status %s", st)
		assert.Zero(t, n)
	}

	s.Create("a.mp3", "/tmp/a.mp3", "mp3", 1)
	assert.Equal(t, 1, s.Counts()[StatusPending])
}

func TestStore_ActiveCount(t *testing.T) {
	s := NewStore()
	a := s.Create("a.mp3", "/tmp/a.mp3", "mp3", 1)
	s.Create("b.mp3", "/tmp/b.mp3", "mp3", 1)

	assert.Equal(t, 2, s.ActiveCount())

	_, err := s.Update(a.ID, func(j *Job) error {
		j.Status = StatusCompleted
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1, s.ActiveCount())
}

func TestStore_Sweep(t *testing.T) {
	s := NewStore()

	old := s.Create("old.mp3", "/tmp/old.mp3", "mp3", 1)
	_, err := s.Update(old.ID, func(j *Job) error {
		j.Status = StatusCompleted
		j.CreatedAt = time.Now().Add(-2 * time.Hour)
		return nil
	})
	require.NoError(t, err)

	// Old but still in flight, must survive the sweep.
	active := s.Create("active.mp3", "/tmp/active.mp3", "mp3", 1)
	_, err = s.Update(active.ID, func(j *Job) error {
		j.Status = StatusProcessing
		j.CreatedAt = time.Now().Add(-2 * time.Hour)
		return nil
	})
	require.NoError(t, err)

	recent := s.Create("recent.mp3", "/tmp/recent.mp3", "mp3", 1)
	_, err = s.Update(recent.ID, func(j *Job) error {
		j.Status = StatusFailed
		return nil
	})
	require.NoError(t, err)

	removed := s.Sweep(time.Hour)
	assert.Equal(t, 1, removed)

	_, err = s.Get(old.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Get(active.ID)
	assert.NoError(t, err)

	_, err = s.Get(recent.ID)
	assert.NoError(t, err)
}

func TestJob_Clone(t *testing.T) {
	started := time.Now().Add(-time.Minute)
	completed := time.Now()
	j := &Job{
		ID:          "id-1",
		Status:      StatusCompleted,
		StartedAt:   &started,
		CompletedAt: &completed,
		Result:      &Result{Text: "hello", Words: 1},
	}

	c := j.Clone()
	c.Result.Text = "changed"
	*c.StartedAt = c.StartedAt.Add(time.Hour)

	assert.Equal(t, "hello", j.Result.Text)
	assert.Equal(t, started, *j.StartedAt)
}

func TestJob_ProcessingTime(t *testing.T) {
	j := &Job{}
	assert.Zero(t, j.ProcessingTime())

	started := time.Now().Add(-90 * time.Second)
	completed := time.Now()
	j.StartedAt = &started
	j.CompletedAt = &completed

	assert.InDelta(t, 90, j.ProcessingTime().Seconds(), 1)
}

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.False(t, StatusTimeout.Terminal())
}
