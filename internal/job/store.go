package job

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the in-memory job registry. It is the single source of truth for
// job state; every mutation funnels through Update under the store lock, so
// read-modify-write sequences (status transitions, retry resets) are atomic
// with respect to concurrent callers.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewStore creates an empty registry.
func NewStore() *Store {
	return &Store{
		jobs: make(map[string]*Job),
	}
}

// Create registers a new pending job and returns a snapshot of it.
func (s *Store) Create(originalFilename, uploadPath, format string, sizeBytes int64) *Job {
	j := &Job{
		ID:               uuid.New().String(),
		OriginalFilename: originalFilename,
		UploadPath:       uploadPath,
		Format:           format,
		SizeBytes:        sizeBytes,
		Status:           StatusPending,
		CreatedAt:        time.Now(),
	}

	s.mu.Lock()
	s.jobs[j.ID] = j
	s.mu.Unlock()

	return j.Clone()
}

// Get returns a snapshot of the job, or ErrNotFound.
func (s *Store) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

// Update applies mutate to the job under the store lock and returns the
// resulting snapshot. If mutate returns an error, no change is applied.
// Returns ErrNotFound for unknown IDs.
func (s *Store) Update(id string, mutate func(*Job) error) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}

	scratch := j.Clone()
	if err := mutate(scratch); err != nil {
		return nil, err
	}
	s.jobs[id] = scratch

	return scratch.Clone(), nil
}

// Delete removes a job from the registry.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
}

// List returns snapshots of the jobs matching any of the given statuses,
// or all jobs when no status is given. Order is unspecified.
func (s *Store) List(statuses ...Status) []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if len(statuses) == 0 {
			out = append(out, j.Clone())
			continue
		}
		for _, st := range statuses {
			if j.Status == st {
				out = append(out, j.Clone())
				break
			}
		}
	}
	return out
}

// Counts returns the number of jobs per status, with every status present.
func (s *Store) Counts() map[Status]int {
	counts := map[Status]int{
		StatusPending:    0,
		StatusProcessing: 0,
		StatusCompleted:  0,
		StatusFailed:     0,
		StatusTimeout:    0,
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, j := range s.jobs {
		counts[j.Status]++
	}
	return counts
}

// ActiveCount is the number of jobs occupying queue capacity, i.e. those not
// yet in a terminal or exhausted-timeout state.
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, j := range s.jobs {
		if j.Status == StatusPending || j.Status == StatusProcessing {
			n++
		}
	}
	return n
}

// Len is the total number of tracked jobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Sweep drops finished jobs older than retention and returns how many were
// removed. Pending and processing jobs are never swept.
func (s *Store) Sweep(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, j := range s.jobs {
		if j.Status == StatusPending || j.Status == StatusProcessing {
			continue
		}
		if j.CreatedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}
