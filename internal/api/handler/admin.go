package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/anon-design/macwhisper-transcription-api/internal/api/dto"
	"github.com/anon-design/macwhisper-transcription-api/internal/watchdog"
	"github.com/gin-gonic/gin"
)

// CleanupStuck handles POST /admin/cleanup-stuck
// Force-fails jobs stuck past the ceiling or carrying broken timestamps.
func (h *TranscriptionHandler) CleanupStuck(c *gin.Context) {
	cleaned := h.watchdog.CleanupStuck()

	out := make([]dto.CleanedJobDTO, len(cleaned))
	for i, cj := range cleaned {
		out[i] = dto.CleanedJobDTO{JobID: cj.JobID, Reason: cj.Reason}
	}

	h.logger.Info("Stuck job cleanup requested", slog.Int("cleaned", len(out)))
	c.JSON(http.StatusOK, dto.CleanupResponse{
		Cleaned: out,
		Count:   len(out),
	})
}

// RestartProcessor handles POST /admin/restart-processor
// Requests a processor restart through the same throttle the watchdog uses.
func (h *TranscriptionHandler) RestartProcessor(c *gin.Context) {
	inWindow, err := h.watchdog.RequestRestart(c.Request.Context())
	if err != nil {
		if errors.Is(err, watchdog.ErrRestartThrottled) {
			h.logger.Warn("Restart request throttled", slog.Int("restarts_in_window", inWindow))
			c.JSON(http.StatusTooManyRequests, dto.RestartResponse{
				Restarted:        false,
				Message:          err.Error(),
				RestartsInWindow: inWindow,
				MaxRestarts:      h.config.Watchdog.MaxRestarts,
			})
			return
		}
		h.logger.Error("Restart failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, dto.RestartResponse{
			Restarted:        false,
			Message:          err.Error(),
			RestartsInWindow: inWindow,
			MaxRestarts:      h.config.Watchdog.MaxRestarts,
		})
		return
	}

	h.logger.Info("Processor restarted on request", slog.Int("restarts_in_window", inWindow))
	c.JSON(http.StatusOK, dto.RestartResponse{
		Restarted:        true,
		Message:          fmt.Sprintf("%s restarted", h.config.Processor.AppName),
		RestartsInWindow: inWindow,
		MaxRestarts:      h.config.Watchdog.MaxRestarts,
	})
}
