package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/anon-design/macwhisper-transcription-api/internal/api/dto"
	"github.com/anon-design/macwhisper-transcription-api/internal/job"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 500
)

// GetJob handles GET /job/:job_id
// Returns the current snapshot of a job. Terminal failure states carry
// the matching HTTP status so pollers can branch on the code alone.
func (h *TranscriptionHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	snap, err := h.store.Get(jobID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":  "Job not found",
				"job_id": jobID,
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(statusCodeFor(snap.Status), dto.NewJobDTO(snap))
}

// History handles GET /jobs/history
// Lists known jobs newest first, capped at maxHistoryLimit.
func (h *TranscriptionHandler) History(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = parsed
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	jobs := h.store.List()
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}

	out := make([]dto.JobDTO, len(jobs))
	for i, j := range jobs {
		out[i] = dto.NewJobDTO(j)
	}

	c.JSON(http.StatusOK, dto.HistoryResponse{
		Jobs:  out,
		Count: len(out),
	})
}

// Queue handles GET /queue
// Reports queue occupancy and per-status counts.
func (h *TranscriptionHandler) Queue(c *gin.Context) {
	stats := h.manager.Stats()

	counts := make(map[string]int, len(stats.StatusCounts))
	for status, n := range stats.StatusCounts {
		counts[string(status)] = n
	}

	c.JSON(http.StatusOK, dto.QueueResponse{
		QueueSize:     stats.QueueSize,
		MaxQueueSize:  stats.MaxQueueSize,
		Processing:    stats.OccupiedSlots,
		MaxConcurrent: stats.MaxConcurrent,
		StatusCounts:  counts,
	})
}
