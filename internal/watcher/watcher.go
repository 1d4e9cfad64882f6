// Package watcher correlates output artifacts dropped by the external
// processor back to the jobs that produced them. The processor offers no
// callback or completion marker, so correlation is a fixed-interval poll of
// the shared folder with a size-stability heuristic.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/anon-design/macwhisper-transcription-api/internal/job"
)

// Results receives per-job outcome proposals. The correlator never mutates
// job state itself; the queue manager owns every transition.
type Results interface {
	Complete(jobID, text string)
	Timeout(jobID, reason string)
}

// Health receives systemic failures of the watched folder itself.
type Health interface {
	ReportSystemic(err error)
}

// Config holds correlator configuration.
type Config struct {
	Dir             string
	OutputExt       string
	PollInterval    time.Duration
	RelocateOrphans bool
}

// Correlator polls the watched folder and reports completions, deadline
// expiries and orphaned artifacts.
type Correlator struct {
	cfg     Config
	store   *job.Store
	results Results
	health  Health
	logger  *slog.Logger

	// lastSizes tracks output sizes between polls; an artifact only counts
	// as complete once its size is non-zero and unchanged across two
	// consecutive polls, since the processor gives no write-done signal.
	lastSizes   map[string]int64
	orphansSeen map[string]bool

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewCorrelator creates a correlator over the given store.
func NewCorrelator(cfg Config, store *job.Store, results Results, health Health, logger *slog.Logger) *Correlator {
	if cfg.OutputExt == "" {
		cfg.OutputExt = ".txt"
	}
	return &Correlator{
		cfg:         cfg,
		store:       store,
		results:     results,
		health:      health,
		logger:      logger,
		lastSizes:   make(map[string]int64),
		orphansSeen: make(map[string]bool),
		stopChan:    make(chan struct{}),
	}
}

// Run polls on the configured interval until ctx is cancelled or Stop is
// called. Runs in a background goroutine, never on request paths.
func (c *Correlator) Run(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.cfg.PollInterval)
		defer ticker.Stop()

		c.logger.Info("result correlator started",
			slog.String("dir", c.cfg.Dir),
			slog.Duration("poll_interval", c.cfg.PollInterval),
		)

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopChan:
				return
			case <-ticker.C:
				c.Poll()
			}
		}
	}()
}

// Stop halts the poll loop.
func (c *Correlator) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.wg.Wait()
}

// Poll performs one correlation pass. Exported so tests can drive the
// correlator without timers.
func (c *Correlator) Poll() {
	entries, err := os.ReadDir(c.cfg.Dir)
	if err != nil {
		// An unreadable watched folder means every in-flight job is blind,
		// not late. Escalate instead of letting deadlines pick them off.
		c.logger.Error("watched folder unreadable",
			slog.String("dir", c.cfg.Dir),
			slog.String("error", err.Error()),
		)
		c.health.ReportSystemic(job.NewSystemicError(err))
		return
	}

	outputs := make([]os.DirEntry, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), c.cfg.OutputExt) {
			outputs = append(outputs, entry)
		}
	}

	processing := c.store.List(job.StatusProcessing)
	matched := make(map[string]bool, len(outputs))

	for _, j := range processing {
		entry := findOutput(outputs, j.ID)
		if entry != nil {
			matched[entry.Name()] = true
			c.checkStable(j.ID, entry)
			continue
		}

		if !j.Deadline.IsZero() && time.Now().After(j.Deadline) {
			delete(c.lastSizes, j.ID)
			c.results.Timeout(j.ID, fmt.Sprintf(
				"no output artifact within %s", j.Deadline.Sub(*j.StartedAt).Round(time.Second)))
		}
	}

	c.flagOrphans(outputs, matched)
	c.pruneSizes(processing)
}

// checkStable promotes an artifact to completed only after two consecutive
// polls observe the same non-zero size.
func (c *Correlator) checkStable(jobID string, entry os.DirEntry) {
	info, err := entry.Info()
	if err != nil {
		return
	}

	size := info.Size()
	if size > 0 && size == c.lastSizes[jobID] {
		path := filepath.Join(c.cfg.Dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			c.logger.Error("failed to read transcript",
				slog.String("job_id", jobID),
				slog.String("file", entry.Name()),
				slog.String("error", err.Error()),
			)
			return
		}
		delete(c.lastSizes, jobID)
		c.results.Complete(jobID, strings.TrimSpace(string(data)))
		return
	}
	c.lastSizes[jobID] = size
}

// flagOrphans reports output artifacts that match no tracked job: the
// processor produced output for a job already swept, or for input it found
// without API mediation. They never block the poll loop or touch job state.
func (c *Correlator) flagOrphans(outputs []os.DirEntry, matched map[string]bool) {
	all := c.store.List()

	for _, entry := range outputs {
		if matched[entry.Name()] || c.orphansSeen[entry.Name()] {
			continue
		}

		known := false
		for _, j := range all {
			if strings.Contains(entry.Name(), j.ID) {
				known = true
				break
			}
		}
		if known {
			continue
		}

		c.orphansSeen[entry.Name()] = true
		c.logger.Warn("orphaned output artifact",
			slog.String("file", entry.Name()),
		)

		if c.cfg.RelocateOrphans {
			orphanDir := filepath.Join(c.cfg.Dir, "orphaned")
			if err := os.MkdirAll(orphanDir, 0o755); err == nil {
				src := filepath.Join(c.cfg.Dir, entry.Name())
				if err := os.Rename(src, filepath.Join(orphanDir, entry.Name())); err != nil {
					c.logger.Warn("failed to relocate orphan",
						slog.String("file", entry.Name()),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}
}

// pruneSizes drops stability entries for jobs no longer processing.
func (c *Correlator) pruneSizes(processing []*job.Job) {
	active := make(map[string]bool, len(processing))
	for _, j := range processing {
		active[j.ID] = true
	}
	for id := range c.lastSizes {
		if !active[id] {
			delete(c.lastSizes, id)
		}
	}
}

func findOutput(outputs []os.DirEntry, jobID string) os.DirEntry {
	for _, entry := range outputs {
		if strings.Contains(entry.Name(), jobID) {
			return entry
		}
	}
	return nil
}
