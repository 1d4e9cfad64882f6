package job

import "time"

// Status is the lifecycle state of a transcription job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusTimeout    Status = "timeout"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Result holds the transcription output and its metrics.
type Result struct {
	Text           string  `json:"text"`
	Words          int     `json:"words"`
	ProcessingTime float64 `json:"processing_time"`
	AudioDuration  float64 `json:"audio_duration"`
	RTF            float64 `json:"rtf"`
	Format         string  `json:"format"`
	FileSizeMB     float64 `json:"file_size_mb"`
	Model          string  `json:"model"`
}

// Job is one transcription request and its lifecycle record.
//
// StartedAt and CompletedAt are nil until set; both are reset on retry so a
// fresh attempt can never derive a negative duration from stale timestamps.
type Job struct {
	ID               string `json:"job_id"`
	OriginalFilename string `json:"original_filename"`
	UploadPath       string `json:"-"`
	Format           string `json:"format"`
	SizeBytes        int64  `json:"size_bytes"`

	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RetryCount  int        `json:"retry_count"`
	Deadline    time.Time  `json:"-"`

	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// SizeMB is the input size in megabytes.
func (j *Job) SizeMB() float64 {
	return float64(j.SizeBytes) / (1024 * 1024)
}

// Age is the time elapsed since the job was created.
func (j *Job) Age() time.Duration {
	return time.Since(j.CreatedAt)
}

// ProcessingTime returns the duration of the last processing attempt, or zero
// when the job has not completed an attempt.
func (j *Job) ProcessingTime() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

// EstimateDuration guesses audio length in seconds from file size. Lossless
// formats pack far fewer minutes per megabyte than lossy ones.
func EstimateDuration(format string, sizeMB float64) float64 {
	switch format {
	case "wav", "flac":
		return sizeMB * 10
	default:
		return sizeMB * 60
	}
}

// Clone returns an independent snapshot of the job.
func (j *Job) Clone() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.Result != nil {
		r := *j.Result
		c.Result = &r
	}
	return &c
}
