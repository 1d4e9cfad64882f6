package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/anon-design/macwhisper-transcription-api/internal/api/dto"
	"github.com/anon-design/macwhisper-transcription-api/internal/job"
	"github.com/anon-design/macwhisper-transcription-api/internal/watcher"
	"github.com/gin-gonic/gin"
)

// Health handles GET /health
// Composes processor liveness, queue occupancy, watched-folder contents
// and watchdog counters into one report. Always 200; the status field
// carries the verdict.
func (h *TranscriptionHandler) Health(c *gin.Context) {
	probeCtx, cancel := context.WithTimeout(c.Request.Context(), aliveProbeTimeout)
	alive, pid := h.processor.Alive(probeCtx)
	cancel()

	snap := h.watchdog.Snapshot()

	status := "healthy"
	switch {
	case !alive && snap.ConsecutiveFailures >= h.config.Watchdog.FailureThreshold:
		status = "unhealthy"
	case !alive:
		status = "degraded"
	}

	folder := dto.FolderDTO{Dir: h.config.Watcher.Dir}
	if stats, err := watcher.Stats(h.config.Watcher.Dir, h.config.Validation.Formats, h.config.Watcher.OutputExt); err == nil {
		folder.AudioFiles = stats.AudioFiles
		folder.OutputFiles = stats.OutputFiles
	} else {
		h.logger.Warn("Failed to stat watched folder", slog.String("error", err.Error()))
	}
	if stale, err := watcher.StaleInputs(h.config.Watcher.Dir, h.config.Validation.Formats,
		h.config.Watcher.OutputExt, h.config.Watchdog.StaleInputAge); err == nil {
		for _, s := range stale {
			folder.StaleInputs = append(folder.StaleInputs, s.Filename)
		}
		if len(stale) > 0 && status == "healthy" {
			status = "degraded"
		}
	}

	counts := make(map[string]int)
	for s, n := range h.store.Counts() {
		counts[string(s)] = n
	}

	wd := dto.WatchdogDTO{
		ConsecutiveFailures: snap.ConsecutiveFailures,
		RestartCount:        snap.RestartCount,
		RestartsInWindow:    snap.RestartsInWindow,
	}
	if snap.LastSuccess != nil {
		wd.LastSuccess = snap.LastSuccess.Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, dto.HealthResponse{
		Status:         status,
		Service:        h.config.App.Name,
		Version:        h.config.App.Version,
		ProcessorAlive: alive,
		ProcessorPID:   pid,
		QueueSize:      counts[string(job.StatusPending)],
		Processing:     counts[string(job.StatusProcessing)],
		StatusCounts:   counts,
		WatchedFolder:  folder,
		Watchdog:       wd,
		Limits: dto.LimitsDTO{
			MaxFileSizeMB:  h.config.Validation.MaxFileSizeMB,
			MaxDurationMin: h.config.Validation.MaxDuration.Minutes(),
			Formats:        h.config.Validation.Formats,
		},
	})
}

// RateLimit handles GET /rate-limit
// Reports the caller's usage in the current window without consuming it.
func (h *TranscriptionHandler) RateLimit(c *gin.Context) {
	ip := c.ClientIP()
	usage := h.limiter.Stats(ip)

	c.JSON(http.StatusOK, dto.RateLimitResponse{
		Limit:         usage.Limit,
		Remaining:     usage.Remaining,
		Used:          usage.Used,
		WindowSeconds: usage.WindowSeconds,
		ResetSeconds:  h.limiter.RetryAfter(ip).Seconds(),
	})
}
