// Package queue implements the job orchestration core: bounded admission,
// concurrency-limited dispatch into the watched folder, and the lifecycle
// transitions proposed by the result correlator and the watchdog.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/anon-design/macwhisper-transcription-api/internal/job"
)

// Config holds queue manager configuration.
type Config struct {
	WatchedDir        string
	MaxQueueSize      int
	MaxConcurrent     int
	MaxRetries        int
	RetryBackoffBase  time.Duration
	AwaitPollInterval time.Duration
	KeepFiles         bool
	ArchiveDir        string
	ModelName         string
}

// Notifier receives terminal job snapshots. Implementations must not block
// the caller; the manager invokes them fire-and-forget.
type Notifier interface {
	JobFinished(j *job.Job)
}

// Manager owns all job state transitions. Request handlers talk to it only
// through Submit, AwaitResult and the store; the correlator and watchdog
// propose outcomes through Complete and Timeout.
type Manager struct {
	cfg      Config
	store    *job.Store
	timeouts job.TimeoutModel
	logger   *slog.Logger

	notifiers []Notifier

	// admit serializes the capacity check against job creation so two
	// concurrent submits cannot both squeeze past the bound.
	admit   sync.Mutex
	pending chan string
	slots   chan struct{}

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewManager creates a manager over the given store and timeout model.
func NewManager(cfg Config, store *job.Store, timeouts job.TimeoutModel, logger *slog.Logger, notifiers ...Notifier) *Manager {
	return &Manager{
		cfg:       cfg,
		store:     store,
		timeouts:  timeouts,
		logger:    logger,
		notifiers: notifiers,
		pending:   make(chan string, cfg.MaxQueueSize),
		slots:     make(chan struct{}, cfg.MaxConcurrent),
		stopChan:  make(chan struct{}),
	}
}

// AddNotifier registers an additional notifier. Must be called before Start.
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Start launches the dispatch loop. The watched folder is created if absent.
func (m *Manager) Start(ctx context.Context) error {
	if err := os.MkdirAll(m.cfg.WatchedDir, 0o755); err != nil {
		return fmt.Errorf("create watched folder: %w", err)
	}

	m.wg.Add(1)
	go m.dispatchLoop(ctx)

	m.logger.Info("queue manager started",
		slog.Int("max_queue_size", m.cfg.MaxQueueSize),
		slog.Int("max_concurrent", m.cfg.MaxConcurrent),
		slog.Int("max_retries", m.cfg.MaxRetries),
	)
	return nil
}

// Stop halts the dispatch loop and waits for it to drain.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
	m.wg.Wait()
}

// Submit admits a new job. It never blocks beyond the capacity check and
// returns job.ErrQueueFull when pending+processing jobs are at the bound.
func (m *Manager) Submit(originalFilename, uploadPath, format string, sizeBytes int64) (string, error) {
	m.admit.Lock()
	if m.store.ActiveCount() >= m.cfg.MaxQueueSize {
		m.admit.Unlock()
		m.logger.Error("queue full, rejecting submission",
			slog.String("filename", originalFilename),
			slog.Int("max_queue_size", m.cfg.MaxQueueSize),
		)
		return "", job.ErrQueueFull
	}
	j := m.store.Create(originalFilename, uploadPath, format, sizeBytes)
	m.admit.Unlock()

	// Capacity was reserved under admit, so this send cannot block.
	m.pending <- j.ID

	m.logger.Info("job created and queued",
		slog.String("job_id", j.ID),
		slog.String("filename", originalFilename),
		slog.Int64("size_bytes", sizeBytes),
	)
	return j.ID, nil
}

// DeadlineFor returns the processing window the timeout model grants an
// input of the given size.
func (m *Manager) DeadlineFor(sizeBytes int64) time.Duration {
	return m.timeouts.Compute(sizeBytes)
}

// AwaitResult blocks the caller until the job leaves pending/processing, the
// caller's wait window elapses, or ctx is cancelled. Abandoning the wait
// leaves the job untouched; it continues toward completion or timeout on its
// own and stays queryable.
func (m *Manager) AwaitResult(ctx context.Context, jobID string, wait time.Duration) (*job.Job, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	ticker := time.NewTicker(m.cfg.AwaitPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, job.ErrAwaitTimeout
		case <-ticker.C:
			snap, err := m.store.Get(jobID)
			if err != nil {
				return nil, err
			}
			if snap.Status != job.StatusPending && snap.Status != job.StatusProcessing {
				return snap, nil
			}
		}
	}
}

// Stats summarizes queue occupancy for the /queue endpoint.
type Stats struct {
	QueueSize      int                `json:"queue_size"`
	TotalJobs      int                `json:"total_jobs"`
	MaxQueueSize   int                `json:"max_queue_size"`
	MaxConcurrent  int                `json:"max_concurrent_jobs"`
	StatusCounts   map[job.Status]int `json:"status_counts"`
	OccupiedSlots  int                `json:"occupied_slots"`
	PendingInQueue int                `json:"pending_in_queue"`
}

// Stats returns a point-in-time occupancy summary.
func (m *Manager) Stats() Stats {
	return Stats{
		QueueSize:      m.store.ActiveCount(),
		TotalJobs:      m.store.Len(),
		MaxQueueSize:   m.cfg.MaxQueueSize,
		MaxConcurrent:  m.cfg.MaxConcurrent,
		StatusCounts:   m.store.Counts(),
		OccupiedSlots:  len(m.slots),
		PendingInQueue: len(m.pending),
	}
}

func (m *Manager) notify(snap *job.Job) {
	for _, n := range m.notifiers {
		go n.JobFinished(snap)
	}
}
