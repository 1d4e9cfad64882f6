package dto

import (
	"time"

	"github.com/anon-design/macwhisper-transcription-api/internal/job"
)

// JobDTO is the wire representation of a transcription job
type JobDTO struct {
	JobID            string      `json:"job_id"`
	OriginalFilename string      `json:"original_filename"`
	Format           string      `json:"format"`
	FileSizeMB       float64     `json:"file_size_mb"`
	Status           string      `json:"status"`
	RetryCount       int         `json:"retry_count"`
	CreatedAt        string      `json:"created_at"`
	StartedAt        string      `json:"started_at,omitempty"`
	CompletedAt      string      `json:"completed_at,omitempty"`
	Result           *job.Result `json:"result,omitempty"`
	Error            string      `json:"error,omitempty"`
}

// NewJobDTO converts a job snapshot into its wire representation
func NewJobDTO(j *job.Job) JobDTO {
	dto := JobDTO{
		JobID:            j.ID,
		OriginalFilename: j.OriginalFilename,
		Format:           j.Format,
		FileSizeMB:       j.SizeMB(),
		Status:           string(j.Status),
		RetryCount:       j.RetryCount,
		CreatedAt:        j.CreatedAt.Format(time.RFC3339),
		Result:           j.Result,
		Error:            j.Error,
	}
	if j.StartedAt != nil {
		dto.StartedAt = j.StartedAt.Format(time.RFC3339)
	}
	if j.CompletedAt != nil {
		dto.CompletedAt = j.CompletedAt.Format(time.RFC3339)
	}
	return dto
}

// TranscribeAcceptedResponse is returned for asynchronous submissions
type TranscribeAcceptedResponse struct {
	JobID     string  `json:"job_id"`
	Status    string  `json:"status"`
	Message   string  `json:"message"`
	TimeoutS  float64 `json:"timeout_seconds"`
	StatusURL string  `json:"status_url"`
}

// HistoryResponse lists finished and in-flight jobs, newest first
type HistoryResponse struct {
	Jobs  []JobDTO `json:"jobs"`
	Count int      `json:"count"`
}

// QueueResponse reports queue occupancy and per-status counts
type QueueResponse struct {
	QueueSize     int            `json:"queue_size"`
	MaxQueueSize  int            `json:"max_queue_size"`
	Processing    int            `json:"processing"`
	MaxConcurrent int            `json:"max_concurrent"`
	StatusCounts  map[string]int `json:"status_counts"`
}

// HealthResponse is the composite health report
type HealthResponse struct {
	Status          string         `json:"status"`
	Service         string         `json:"service"`
	Version         string         `json:"version"`
	ProcessorAlive  bool           `json:"processor_alive"`
	ProcessorPID    int            `json:"processor_pid,omitempty"`
	QueueSize       int            `json:"queue_size"`
	Processing      int            `json:"processing"`
	StatusCounts    map[string]int `json:"status_counts"`
	WatchedFolder   FolderDTO      `json:"watched_folder"`
	Watchdog        WatchdogDTO    `json:"watchdog"`
	Limits          LimitsDTO      `json:"limits"`
}

// FolderDTO summarizes watched-folder contents
type FolderDTO struct {
	Dir         string   `json:"dir"`
	AudioFiles  int      `json:"audio_files"`
	OutputFiles int      `json:"output_files"`
	StaleInputs []string `json:"stale_inputs,omitempty"`
}

// WatchdogDTO exposes the recovery loop's counters
type WatchdogDTO struct {
	ConsecutiveFailures int    `json:"consecutive_failures"`
	RestartCount        int    `json:"restart_count"`
	RestartsInWindow    int    `json:"restarts_in_window"`
	LastSuccess         string `json:"last_success,omitempty"`
}

// LimitsDTO reports the operative upload constraints
type LimitsDTO struct {
	MaxFileSizeMB  float64  `json:"max_file_size_mb"`
	MaxDurationMin float64  `json:"max_duration_minutes"`
	Formats        []string `json:"supported_formats"`
}

// RateLimitResponse reports the caller's current rate limit usage
type RateLimitResponse struct {
	Limit         int     `json:"limit"`
	Remaining     int     `json:"remaining"`
	Used          int     `json:"used"`
	WindowSeconds float64 `json:"window_seconds"`
	ResetSeconds  float64 `json:"reset_seconds"`
}

// CleanupResponse reports jobs force-failed by the stuck-job cleanup
type CleanupResponse struct {
	Cleaned []CleanedJobDTO `json:"cleaned"`
	Count   int             `json:"count"`
}

// CleanedJobDTO identifies one force-failed job
type CleanedJobDTO struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason"`
}

// RestartResponse reports the outcome of an operator-requested restart
type RestartResponse struct {
	Restarted        bool   `json:"restarted"`
	Message          string `json:"message"`
	RestartsInWindow int    `json:"restarts_in_window"`
	MaxRestarts      int    `json:"max_restarts"`
}
