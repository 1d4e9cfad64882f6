package job

import "time"

// TimeoutModel maps an input size to the processing window the job is
// allowed before the watcher reports a timeout.
//
// The upstream caller of this service applies the same formula with its own
// constants; deployments must configure this service's window to expire
// first so the caller can fail over instead of receiving a late answer.
type TimeoutModel struct {
	Base  time.Duration
	PerMB time.Duration
	Min   time.Duration
	Max   time.Duration
}

// Compute returns clamp(Base + sizeMB*PerMB, Min, Max). Pure and
// deterministic; monotonically non-decreasing in size.
func (m TimeoutModel) Compute(sizeBytes int64) time.Duration {
	sizeMB := float64(sizeBytes) / (1024 * 1024)
	d := m.Base + time.Duration(sizeMB*float64(m.PerMB))

	if d < m.Min {
		return m.Min
	}
	if d > m.Max {
		return m.Max
	}
	return d
}
