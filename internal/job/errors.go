package job

import "errors"

var (
	// ErrNotFound is returned when a job ID is unknown or already swept.
	ErrNotFound = errors.New("job not found")

	// ErrQueueFull is returned when admission would exceed the queue bound.
	ErrQueueFull = errors.New("transcription queue is full")

	// ErrAwaitTimeout is returned when a synchronous caller's deadline elapses
	// before the job leaves pending/processing. The job itself is untouched
	// and may still complete; this is the caller's timeout, not the job's.
	ErrAwaitTimeout = errors.New("timed out waiting for result")

	// ErrProcessingTimeout is recorded on a job whose deadline elapsed with
	// no output artifact.
	ErrProcessingTimeout = errors.New("processing deadline exceeded")
)

// SystemicError wraps failures of the watched directory itself (unreadable,
// unmounted). These are escalated to the watchdog rather than being treated
// as per-job outcomes.
type SystemicError struct {
	Err error
}

func (e *SystemicError) Error() string {
	return "watched folder failure: " + e.Err.Error()
}

func (e *SystemicError) Unwrap() error {
	return e.Err
}

// NewSystemicError wraps err as a systemic watched-folder failure.
func NewSystemicError(err error) error {
	return &SystemicError{Err: err}
}
