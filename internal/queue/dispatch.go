package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/anon-design/macwhisper-transcription-api/internal/job"
)

// errSkipDispatch aborts a dispatch for a job that already left pending
// (force-failed or swept while waiting for a slot).
var errSkipDispatch = errors.New("job no longer pending")

// dispatchLoop pulls job IDs in submission order and blocks only on slot
// acquisition, never on anything a submitter could observe.
func (m *Manager) dispatchLoop(ctx context.Context) {
	defer m.wg.Done()

	for {
		var jobID string
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case jobID = <-m.pending:
		}

		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case m.slots <- struct{}{}:
		}

		if err := m.startJob(jobID); err != nil {
			<-m.slots
			if !errors.Is(err, errSkipDispatch) {
				m.logger.Error("dispatch failed",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// startJob transitions pending → processing and hands the artifact to the
// external processor's watched folder under a collision-free name.
func (m *Manager) startJob(jobID string) error {
	now := time.Now()

	snap, err := m.store.Update(jobID, func(j *job.Job) error {
		if j.Status != job.StatusPending {
			return errSkipDispatch
		}
		j.Status = job.StatusProcessing
		j.StartedAt = &now
		j.Deadline = now.Add(m.timeouts.Compute(j.SizeBytes))
		return nil
	})
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			return errSkipDispatch
		}
		return err
	}

	if err := m.copyToWatchedFolder(snap); err != nil {
		m.failJob(jobID, fmt.Sprintf("failed to hand artifact to processor: %v", err))
		return err
	}

	m.logger.Info("job dispatched to watched folder",
		slog.String("job_id", snap.ID),
		slog.String("filename", snap.OriginalFilename),
		slog.Int("retry_count", snap.RetryCount),
		slog.Duration("timeout", snap.Deadline.Sub(now)),
	)
	return nil
}

// copyToWatchedFolder places the upload in the watched folder as
// {job_id}_{original_basename}; the embedded ID is what survives the round
// trip through the external processor.
func (m *Manager) copyToWatchedFolder(j *job.Job) error {
	src, err := os.Open(j.UploadPath)
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	dest := filepath.Join(m.cfg.WatchedDir, ArtifactName(j.ID, j.OriginalFilename))
	dst, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create watched file: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dest)
		return fmt.Errorf("copy to watched folder: %w", err)
	}
	return dst.Close()
}

// ArtifactName builds the watched-folder input filename for a job. The
// output artifact uses the same stem with the transcript extension.
func ArtifactName(jobID, originalFilename string) string {
	return fmt.Sprintf("%s_%s", jobID, filepath.Base(originalFilename))
}
