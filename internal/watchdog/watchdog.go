// Package watchdog is the periodic reconciliation loop: it force-times-out
// jobs stuck beyond any plausible per-file deadline, tracks external
// processor health across sweeps, and requests throttled restarts when the
// processor stops making progress.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/anon-design/macwhisper-transcription-api/internal/job"
)

// ErrRestartThrottled is returned when the rolling-window restart budget
// is exhausted.
var ErrRestartThrottled = errors.New("restart throttled")

// Jobs is the slice of the queue manager the watchdog drives.
type Jobs interface {
	Timeout(jobID, reason string)
	ForceFail(jobID, reason string) error
}

// ProcessController restarts and probes the external processor.
type ProcessController interface {
	Alive(ctx context.Context) (bool, int)
	Restart(ctx context.Context) error
}

// Config holds watchdog configuration. The windows are operational tuning
// carried over from production, not protocol constants.
type Config struct {
	Interval         time.Duration
	StuckCeiling     time.Duration
	FailureThreshold int
	MaxRestarts      int
	RestartWindow    time.Duration
	StaleInputAge    time.Duration
	WatchedDir       string
	AudioFormats     []string
	OutputExt        string
}

// Watchdog sweeps job and processor state on a fixed period, independent of
// request traffic.
type Watchdog struct {
	cfg        Config
	store      *job.Store
	jobs       Jobs
	controller ProcessController
	logger     *slog.Logger

	staleInputs func() ([]StaleInput, error)

	mu                  sync.Mutex
	consecutiveFailures int
	restartTimes        []time.Time
	restartCount        int
	lastSuccess         *time.Time
	systemicErr         error

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// StaleInput mirrors watcher.StaleInput; redeclared locally so the probe
// can be stubbed in tests without importing the watcher.
type StaleInput struct {
	Filename   string
	AgeMinutes float64
}

// New creates a watchdog. staleInputs probes the watched folder for audio
// files that have waited too long for output.
func New(cfg Config, store *job.Store, jobs Jobs, controller ProcessController,
	staleInputs func() ([]StaleInput, error), logger *slog.Logger) *Watchdog {
	return &Watchdog{
		cfg:         cfg,
		store:       store,
		jobs:        jobs,
		controller:  controller,
		staleInputs: staleInputs,
		logger:      logger,
		stopChan:    make(chan struct{}),
	}
}

// Run sweeps every cfg.Interval until ctx is cancelled or Stop is called.
func (w *Watchdog) Run(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()

		w.logger.Info("watchdog started",
			slog.Duration("interval", w.cfg.Interval),
			slog.Duration("stuck_ceiling", w.cfg.StuckCeiling),
		)

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopChan:
				return
			case <-ticker.C:
				w.Sweep(ctx)
			}
		}
	}()
}

// Stop halts the sweep loop.
func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
}

// Sweep runs one reconciliation pass: stuck-job detection, then processor
// health. Exported so tests and operators can trigger it directly.
func (w *Watchdog) Sweep(ctx context.Context) {
	w.sweepStuck()
	w.checkProcessorHealth(ctx)
}

// sweepStuck force-times-out jobs processing beyond the absolute ceiling.
// The ceiling is larger than any single job's deadline, so this only fires
// when the correlator itself stalled.
func (w *Watchdog) sweepStuck() {
	for _, j := range w.store.List(job.StatusProcessing) {
		if j.StartedAt == nil {
			continue
		}
		elapsed := time.Since(*j.StartedAt)
		if elapsed <= w.cfg.StuckCeiling {
			continue
		}
		w.logger.Warn("job stuck in processing, forcing timeout",
			slog.String("job_id", j.ID),
			slog.Duration("elapsed", elapsed.Round(time.Second)),
		)
		w.jobs.Timeout(j.ID, fmt.Sprintf("stuck in processing for %.1f minutes", elapsed.Minutes()))
	}
}

func (w *Watchdog) checkProcessorHealth(ctx context.Context) {
	healthy, reason := w.probeHealth(ctx)

	w.mu.Lock()
	if healthy {
		w.consecutiveFailures = 0
		w.mu.Unlock()
		return
	}
	w.consecutiveFailures++
	failures := w.consecutiveFailures
	w.mu.Unlock()

	w.logger.Warn("processor health check failed",
		slog.Int("consecutive_failures", failures),
		slog.String("reason", reason),
	)

	if failures < w.cfg.FailureThreshold {
		return
	}

	if !w.CanRestart() {
		w.logger.Error("processor unhealthy but restart throttled",
			slog.Int("consecutive_failures", failures),
			slog.Int("restarts_in_window", w.restartsInWindow()),
		)
		return
	}

	if err := w.restart(ctx); err != nil {
		w.logger.Error("processor restart failed",
			slog.String("error", err.Error()),
		)
		return
	}

	w.mu.Lock()
	w.consecutiveFailures = 0
	w.mu.Unlock()
}

// probeHealth returns false with a reason when the processor shows no sign
// of making progress: the process is gone, the watched folder broke, or
// input files have been waiting past the stale age.
func (w *Watchdog) probeHealth(ctx context.Context) (bool, string) {
	w.mu.Lock()
	sysErr := w.systemicErr
	w.systemicErr = nil
	w.mu.Unlock()

	if sysErr != nil {
		return false, sysErr.Error()
	}

	if alive, _ := w.controller.Alive(ctx); !alive {
		return false, "processor not running"
	}

	if w.staleInputs != nil {
		stale, err := w.staleInputs()
		if err != nil {
			return false, fmt.Sprintf("stale input probe failed: %v", err)
		}
		for _, f := range stale {
			return false, fmt.Sprintf("input %s waiting for %.1f minutes", f.Filename, f.AgeMinutes)
		}
	}
	return true, "ok"
}

// ReportSystemic records a watched-folder failure escalated by the
// correlator; it counts against the next health check.
func (w *Watchdog) ReportSystemic(err error) {
	w.mu.Lock()
	w.systemicErr = err
	w.mu.Unlock()
}

// JobFinished makes the watchdog a queue notifier: a completed job proves
// the processor is making progress.
func (w *Watchdog) JobFinished(j *job.Job) {
	if j.Status != job.StatusCompleted {
		return
	}
	now := time.Now()
	w.mu.Lock()
	w.lastSuccess = &now
	w.consecutiveFailures = 0
	w.mu.Unlock()
}

// CanRestart reports whether the rolling-window restart budget allows
// another attempt.
func (w *Watchdog) CanRestart() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneRestartsLocked()
	return len(w.restartTimes) < w.cfg.MaxRestarts
}

// RequestRestart is the operator entry point. It honors the same throttle
// as the automatic path and returns how many restarts the window has seen.
func (w *Watchdog) RequestRestart(ctx context.Context) (int, error) {
	if !w.CanRestart() {
		return w.restartsInWindow(), fmt.Errorf("%w: %d restarts in the last %s",
			ErrRestartThrottled, w.restartsInWindow(), w.cfg.RestartWindow)
	}
	if err := w.restart(ctx); err != nil {
		return w.restartsInWindow(), err
	}
	return w.restartsInWindow(), nil
}

func (w *Watchdog) restart(ctx context.Context) error {
	if err := w.controller.Restart(ctx); err != nil {
		return err
	}
	w.mu.Lock()
	w.restartTimes = append(w.restartTimes, time.Now())
	w.restartCount++
	w.mu.Unlock()
	return nil
}

func (w *Watchdog) restartsInWindow() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneRestartsLocked()
	return len(w.restartTimes)
}

func (w *Watchdog) pruneRestartsLocked() {
	cutoff := time.Now().Add(-w.cfg.RestartWindow)
	kept := w.restartTimes[:0]
	for _, t := range w.restartTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.restartTimes = kept
}

// Snapshot reports watchdog counters for health endpoints.
type Snapshot struct {
	ConsecutiveFailures int        `json:"consecutive_failures"`
	RestartCount        int        `json:"restart_count"`
	RestartsInWindow    int        `json:"restarts_in_window"`
	LastSuccess         *time.Time `json:"last_successful_transcription,omitempty"`
}

// Snapshot returns the current counters.
func (w *Watchdog) Snapshot() Snapshot {
	in := w.restartsInWindow()

	w.mu.Lock()
	defer w.mu.Unlock()
	return Snapshot{
		ConsecutiveFailures: w.consecutiveFailures,
		RestartCount:        w.restartCount,
		RestartsInWindow:    in,
		LastSuccess:         w.lastSuccess,
	}
}

// CleanedJob describes one job force-failed by CleanupStuck.
type CleanedJob struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason"`
}

// CleanupStuck is the operator override of the periodic sweep: it
// force-fails jobs stuck past the ceiling or carrying inconsistent
// timestamps, regardless of retry budget.
func (w *Watchdog) CleanupStuck() []CleanedJob {
	var cleaned []CleanedJob

	for _, j := range w.store.List(job.StatusProcessing, job.StatusPending, job.StatusTimeout) {
		reason := ""

		if j.Status == job.StatusProcessing && j.StartedAt != nil {
			if elapsed := time.Since(*j.StartedAt); elapsed > w.cfg.StuckCeiling {
				reason = fmt.Sprintf("stuck in processing for %.1f minutes", elapsed.Minutes())
			}
		}
		if j.StartedAt != nil && j.CompletedAt != nil && j.CompletedAt.Before(*j.StartedAt) {
			reason = "invalid timestamps (negative processing time)"
		}

		if reason == "" {
			continue
		}
		if err := w.jobs.ForceFail(j.ID, "cleaned by admin: "+reason); err != nil {
			continue
		}
		cleaned = append(cleaned, CleanedJob{JobID: j.ID, Reason: reason})
	}
	return cleaned
}
