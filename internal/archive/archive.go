// Package archive persists finished jobs to PostgreSQL so history survives
// process restarts. The in-memory store stays authoritative; the archive is
// a write-behind sink and is never read on the request path.
package archive

import (
	"context"
	"log/slog"
	"time"

	"github.com/anon-design/macwhisper-transcription-api/internal/job"
	"github.com/anon-design/macwhisper-transcription-api/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

const writeTimeout = 5 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS transcription_history (
	job_id            TEXT PRIMARY KEY,
	original_filename TEXT NOT NULL,
	format            TEXT NOT NULL,
	size_bytes        BIGINT NOT NULL,
	status            TEXT NOT NULL,
	retry_count       INT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	started_at        TIMESTAMPTZ,
	completed_at      TIMESTAMPTZ,
	text              TEXT,
	processing_time   DOUBLE PRECISION,
	error             TEXT
)`

// Sink writes terminal job snapshots to the history table.
type Sink struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewSink creates the sink and ensures the history table exists.
func NewSink(pg *postgresql.Client, logger *slog.Logger) (*Sink, error) {
	s := &Sink{
		db:     pg.GetDB(),
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return nil, err
	}

	return s, nil
}

type historyRow struct {
	JobID            string     `db:"job_id"`
	OriginalFilename string     `db:"original_filename"`
	Format           string     `db:"format"`
	SizeBytes        int64      `db:"size_bytes"`
	Status           string     `db:"status"`
	RetryCount       int        `db:"retry_count"`
	CreatedAt        time.Time  `db:"created_at"`
	StartedAt        *time.Time `db:"started_at"`
	CompletedAt      *time.Time `db:"completed_at"`
	Text             *string    `db:"text"`
	ProcessingTime   *float64   `db:"processing_time"`
	Error            *string    `db:"error"`
}

// JobFinished archives a terminal snapshot.
func (s *Sink) JobFinished(j *job.Job) {
	if !j.Status.Terminal() {
		return
	}

	row := historyRow{
		JobID:            j.ID,
		OriginalFilename: j.OriginalFilename,
		Format:           j.Format,
		SizeBytes:        j.SizeBytes,
		Status:           string(j.Status),
		RetryCount:       j.RetryCount,
		CreatedAt:        j.CreatedAt,
		StartedAt:        j.StartedAt,
		CompletedAt:      j.CompletedAt,
	}
	if j.Result != nil {
		row.Text = &j.Result.Text
		row.ProcessingTime = &j.Result.ProcessingTime
	}
	if j.Error != "" {
		row.Error = &j.Error
	}

	query := `
		INSERT INTO transcription_history (
			job_id, original_filename, format, size_bytes, status,
			retry_count, created_at, started_at, completed_at,
			text, processing_time, error
		) VALUES (
			:job_id, :original_filename, :format, :size_bytes, :status,
			:retry_count, :created_at, :started_at, :completed_at,
			:text, :processing_time, :error
		)
		ON CONFLICT (job_id) DO UPDATE SET
			status          = EXCLUDED.status,
			retry_count     = EXCLUDED.retry_count,
			started_at      = EXCLUDED.started_at,
			completed_at    = EXCLUDED.completed_at,
			text            = EXCLUDED.text,
			processing_time = EXCLUDED.processing_time,
			error           = EXCLUDED.error
	`

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		s.logger.Error("Failed to archive job",
			slog.String("job_id", j.ID),
			slog.String("status", string(j.Status)),
			slog.Any("error", err),
		)
		return
	}

	s.logger.Debug("Job archived",
		slog.String("job_id", j.ID),
		slog.String("status", string(j.Status)),
	)
}
