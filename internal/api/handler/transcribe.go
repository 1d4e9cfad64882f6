package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/anon-design/macwhisper-transcription-api/internal/api/dto"
	"github.com/anon-design/macwhisper-transcription-api/internal/job"
	"github.com/anon-design/macwhisper-transcription-api/internal/validate"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	aliveProbeTimeout = 5 * time.Second

	// awaitGrace is added on top of the per-job deadline when a caller
	// asks to wait for the result, covering queue wait and retry backoff.
	awaitGrace = 30 * time.Second
)

// Transcribe handles POST /transcribe
// Accepts an audio upload and either returns the job id immediately or,
// with ?wait=true, blocks until the job finishes.
func (h *TranscriptionHandler) Transcribe(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		h.logger.Error("Missing upload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Missing 'file' field in multipart form",
		})
		return
	}

	probeCtx, cancel := context.WithTimeout(c.Request.Context(), aliveProbeTimeout)
	alive, _ := h.processor.Alive(probeCtx)
	cancel()
	if !alive {
		h.logger.Error("Upload rejected, processor not running",
			slog.String("filename", file.Filename),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": fmt.Sprintf("%s is not running", h.config.Processor.AppName),
		})
		return
	}

	if err := os.MkdirAll(h.config.Server.UploadDir, 0o755); err != nil {
		h.logger.Error("Failed to create upload dir", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store upload",
		})
		return
	}

	uploadPath := filepath.Join(h.config.Server.UploadDir,
		uuid.New().String()+filepath.Ext(file.Filename))
	if err := c.SaveUploadedFile(file, uploadPath); err != nil {
		h.logger.Error("Failed to save upload", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store upload",
		})
		return
	}

	info, err := h.validator.File(uploadPath, file.Filename)
	if err != nil {
		os.Remove(uploadPath)
		if errors.Is(err, validate.ErrInvalid) {
			h.logger.Warn("Upload rejected",
				slog.String("filename", file.Filename),
				slog.String("reason", err.Error()),
			)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to inspect upload", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to inspect upload",
		})
		return
	}

	jobID, err := h.manager.Submit(file.Filename, uploadPath, info.Format, info.SizeBytes)
	if err != nil {
		os.Remove(uploadPath)
		if errors.Is(err, job.ErrQueueFull) {
			h.logger.Warn("Queue full, rejecting upload",
				slog.String("filename", file.Filename),
			)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "Queue is full, try again later",
			})
			return
		}
		h.logger.Error("Failed to enqueue job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to enqueue job",
		})
		return
	}

	deadline := h.manager.DeadlineFor(info.SizeBytes)
	h.logger.Info("Job accepted",
		slog.String("job_id", jobID),
		slog.String("filename", file.Filename),
		slog.Float64("size_mb", info.SizeMB),
		slog.Duration("deadline", deadline),
	)

	if c.Query("wait") == "true" {
		h.awaitAndRespond(c, jobID, deadline+awaitGrace)
		return
	}

	c.JSON(http.StatusAccepted, dto.TranscribeAcceptedResponse{
		JobID:     jobID,
		Status:    string(job.StatusPending),
		Message:   "Job queued for transcription",
		TimeoutS:  deadline.Seconds(),
		StatusURL: "/job/" + jobID,
	})
}

// awaitAndRespond blocks until the job leaves the active states, then maps
// the terminal status onto an HTTP status code.
func (h *TranscriptionHandler) awaitAndRespond(c *gin.Context, jobID string, wait time.Duration) {
	snap, err := h.manager.AwaitResult(c.Request.Context(), jobID, wait)
	if err != nil {
		switch {
		case errors.Is(err, job.ErrAwaitTimeout):
			c.JSON(http.StatusGatewayTimeout, gin.H{
				"error":  "Timed out waiting for transcription result",
				"job_id": jobID,
			})
		case errors.Is(err, context.Canceled):
			// Client went away, the job keeps running.
			c.Abort()
		default:
			h.logger.Error("Await failed",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":  "Failed to await result",
				"job_id": jobID,
			})
		}
		return
	}

	c.JSON(statusCodeFor(snap.Status), dto.NewJobDTO(snap))
}

// statusCodeFor maps a job status onto the HTTP status used for both
// synchronous waits and status polls.
func statusCodeFor(status job.Status) int {
	switch status {
	case job.StatusFailed:
		return http.StatusInternalServerError
	case job.StatusTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusOK
	}
}
