// Package events publishes job lifecycle events to RabbitMQ so downstream
// systems can react to finished transcriptions without polling the API.
// Publishing is best effort and never blocks the job pipeline.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/anon-design/macwhisper-transcription-api/internal/job"
	"github.com/anon-design/macwhisper-transcription-api/shared/rabbitmq"
)

const publishTimeout = 5 * time.Second

// JobEvent is the wire format of a lifecycle event.
type JobEvent struct {
	JobID            string  `json:"job_id"`
	OriginalFilename string  `json:"original_filename"`
	Status           string  `json:"status"`
	RetryCount       int     `json:"retry_count"`
	FileSizeMB       float64 `json:"file_size_mb"`
	ProcessingTime   float64 `json:"processing_time,omitempty"`
	Words            int     `json:"words,omitempty"`
	Error            string  `json:"error,omitempty"`
	EmittedAt        string  `json:"emitted_at"`
}

// Publisher emits terminal job snapshots to the lifecycle exchange.
type Publisher struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// NewPublisher creates a publisher on top of an established client.
func NewPublisher(client *rabbitmq.Client, logger *slog.Logger) *Publisher {
	return &Publisher{
		client: client,
		logger: logger,
	}
}

// JobFinished publishes a terminal snapshot. Failures are logged and
// dropped; the event stream is not part of the job contract.
func (p *Publisher) JobFinished(j *job.Job) {
	if !j.Status.Terminal() {
		return
	}

	event := JobEvent{
		JobID:            j.ID,
		OriginalFilename: j.OriginalFilename,
		Status:           string(j.Status),
		RetryCount:       j.RetryCount,
		FileSizeMB:       j.SizeMB(),
		Error:            j.Error,
		EmittedAt:        time.Now().UTC().Format(time.RFC3339),
	}
	if j.Result != nil {
		event.ProcessingTime = j.Result.ProcessingTime
		event.Words = j.Result.Words
	}

	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal job event",
			slog.String("job_id", j.ID),
			slog.Any("error", err),
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	routingKey := "job." + string(j.Status)
	if err := p.client.Publish(ctx, routingKey, body, "application/json"); err != nil {
		p.logger.Error("Failed to publish job event",
			slog.String("job_id", j.ID),
			slog.String("routing_key", routingKey),
			slog.Any("error", err),
		)
	}
}
