package queue

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anon-design/macwhisper-transcription-api/internal/job"
)

// errNotProcessing rejects an outcome proposed for a job that already left
// processing; the competing proposer (correlator vs watchdog) won.
var errNotProcessing = errors.New("job not in processing state")

// Complete is called by the result correlator once a stable output artifact
// has been matched to the job. It transitions processing → completed,
// releases the job's concurrency slot and cleans up watched-folder files.
func (m *Manager) Complete(jobID, text string) {
	finished := time.Now()

	snap, err := m.store.Update(jobID, func(j *job.Job) error {
		if j.Status != job.StatusProcessing {
			return errNotProcessing
		}
		j.Status = job.StatusCompleted
		j.CompletedAt = &finished
		j.Result = m.buildResult(j, text)
		return nil
	})
	if err != nil {
		m.logger.Warn("completion proposal ignored",
			slog.String("job_id", jobID),
			slog.String("reason", err.Error()),
		)
		return
	}

	<-m.slots

	m.logger.Info("job completed",
		slog.String("job_id", jobID),
		slog.Int("words", snap.Result.Words),
		slog.Duration("processing_time", snap.ProcessingTime()),
	)

	m.cleanupArtifacts(snap)
	m.notify(snap)
}

// Timeout is called by the correlator when the job's deadline elapsed with
// no artifact, and by the watchdog for stuck jobs. The slot is released
// before any retry so another job can proceed; retried jobs re-enter
// admission after an exponential backoff with started_at reset.
func (m *Manager) Timeout(jobID, reason string) {
	now := time.Now()

	snap, err := m.store.Update(jobID, func(j *job.Job) error {
		if j.Status != job.StatusProcessing {
			return errNotProcessing
		}
		j.Status = job.StatusTimeout
		j.CompletedAt = &now
		j.Error = reason
		return nil
	})
	if err != nil {
		return
	}

	<-m.slots

	if snap.RetryCount < m.cfg.MaxRetries {
		backoff := m.cfg.RetryBackoffBase << snap.RetryCount
		m.logger.Warn("job timed out, scheduling retry",
			slog.String("job_id", jobID),
			slog.String("reason", reason),
			slog.Int("retry_count", snap.RetryCount+1),
			slog.Duration("backoff", backoff),
		)
		m.scheduleRetry(jobID, backoff)
		return
	}

	final, err := m.store.Update(jobID, func(j *job.Job) error {
		if j.Status != job.StatusTimeout {
			return errNotProcessing
		}
		j.Status = job.StatusFailed
		j.Error = fmt.Sprintf("%v after %d attempts: %s",
			job.ErrProcessingTimeout, j.RetryCount+1, reason)
		return nil
	})
	if err != nil {
		return
	}

	m.logger.Error("job exhausted all retries",
		slog.String("job_id", jobID),
		slog.Int("retry_count", final.RetryCount),
		slog.Int("max_retries", m.cfg.MaxRetries),
	)

	m.cleanupArtifacts(final)
	m.notify(final)
}

// scheduleRetry re-admits a timed-out job after the backoff window. The
// timestamps are cleared up front so no stale started_at can survive into
// the next attempt.
func (m *Manager) scheduleRetry(jobID string, backoff time.Duration) {
	_, err := m.store.Update(jobID, func(j *job.Job) error {
		if j.Status != job.StatusTimeout {
			return errNotProcessing
		}
		j.Status = job.StatusPending
		j.RetryCount++
		j.StartedAt = nil
		j.CompletedAt = nil
		j.Deadline = time.Time{}
		j.Error = ""
		return nil
	})
	if err != nil {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		timer := time.NewTimer(backoff)
		defer timer.Stop()

		select {
		case <-m.stopChan:
			return
		case <-timer.C:
		}

		select {
		case m.pending <- jobID:
		default:
			// Queue filled up during the backoff window. Reject loudly
			// rather than block the retry goroutine forever.
			m.failJob(jobID, "queue full at retry re-admission")
		}
	}()
}

// ForceFail transitions a job to failed from any non-terminal state,
// releasing its slot when it was processing. Used by the admin cleanup
// endpoint for jobs the watchdog has not yet caught.
func (m *Manager) ForceFail(jobID, reason string) error {
	now := time.Now()
	wasProcessing := false

	snap, err := m.store.Update(jobID, func(j *job.Job) error {
		if j.Status.Terminal() {
			return fmt.Errorf("job already %s", j.Status)
		}
		wasProcessing = j.Status == job.StatusProcessing
		j.Status = job.StatusFailed
		j.CompletedAt = &now
		j.Error = reason
		return nil
	})
	if err != nil {
		return err
	}

	if wasProcessing {
		<-m.slots
	}

	m.logger.Warn("job force-failed",
		slog.String("job_id", jobID),
		slog.String("reason", reason),
	)

	m.cleanupArtifacts(snap)
	m.notify(snap)
	return nil
}

func (m *Manager) failJob(jobID, reason string) {
	now := time.Now()

	snap, err := m.store.Update(jobID, func(j *job.Job) error {
		if j.Status.Terminal() {
			return fmt.Errorf("job already %s", j.Status)
		}
		j.Status = job.StatusFailed
		j.CompletedAt = &now
		j.Error = reason
		return nil
	})
	if err != nil {
		return
	}

	m.cleanupArtifacts(snap)
	m.notify(snap)
}

// buildResult assembles the transcription result and its metrics the way the
// upstream consumers expect them.
func (m *Manager) buildResult(j *job.Job, text string) *job.Result {
	processing := 0.0
	if j.StartedAt != nil && j.CompletedAt != nil {
		processing = j.CompletedAt.Sub(*j.StartedAt).Seconds()
	}

	duration := job.EstimateDuration(j.Format, j.SizeMB())
	rtf := 0.0
	if duration > 0 {
		rtf = processing / duration
	}

	return &job.Result{
		Text:           text,
		Words:          len(strings.Fields(text)),
		ProcessingTime: processing,
		AudioDuration:  duration,
		RTF:            rtf,
		Format:         j.Format,
		FileSizeMB:     j.SizeMB(),
		Model:          m.cfg.ModelName,
	}
}

// cleanupArtifacts removes a terminal job's upload and its watched-folder
// files, or relocates the watched files when the deployment keeps them.
func (m *Manager) cleanupArtifacts(j *job.Job) {
	if j.UploadPath != "" {
		if err := os.Remove(j.UploadPath); err != nil && !os.IsNotExist(err) {
			m.logger.Warn("failed to remove upload",
				slog.String("job_id", j.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	entries, err := os.ReadDir(m.cfg.WatchedDir)
	if err != nil {
		m.logger.Warn("failed to list watched folder for cleanup",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.Contains(entry.Name(), j.ID) {
			continue
		}
		path := filepath.Join(m.cfg.WatchedDir, entry.Name())

		if m.cfg.KeepFiles && m.cfg.ArchiveDir != "" {
			if err := os.MkdirAll(m.cfg.ArchiveDir, 0o755); err == nil {
				if err := os.Rename(path, filepath.Join(m.cfg.ArchiveDir, entry.Name())); err == nil {
					continue
				}
			}
		}
		if err := os.Remove(path); err != nil {
			m.logger.Warn("failed to clean watched file",
				slog.String("job_id", j.ID),
				slog.String("file", entry.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
}
