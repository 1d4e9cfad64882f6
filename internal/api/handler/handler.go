package handler

import (
	"log/slog"

	"github.com/anon-design/macwhisper-transcription-api/internal/config"
	"github.com/anon-design/macwhisper-transcription-api/internal/job"
	"github.com/anon-design/macwhisper-transcription-api/internal/processor"
	"github.com/anon-design/macwhisper-transcription-api/internal/queue"
	"github.com/anon-design/macwhisper-transcription-api/internal/ratelimit"
	"github.com/anon-design/macwhisper-transcription-api/internal/validate"
	"github.com/anon-design/macwhisper-transcription-api/internal/watchdog"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Config    *config.Config
	Store     *job.Store
	Manager   *queue.Manager
	Validator *validate.Validator
	Processor *processor.Controller
	Watchdog  *watchdog.Watchdog
	Limiter   *ratelimit.Limiter
}

// TranscriptionHandler handles transcription-related HTTP requests
type TranscriptionHandler struct {
	logger    *slog.Logger
	config    *config.Config
	store     *job.Store
	manager   *queue.Manager
	validator *validate.Validator
	processor *processor.Controller
	watchdog  *watchdog.Watchdog
	limiter   *ratelimit.Limiter
}

// NewTranscriptionHandler creates a new TranscriptionHandler instance
func NewTranscriptionHandler(deps *Dependencies) *TranscriptionHandler {
	return &TranscriptionHandler{
		logger:    deps.Logger,
		config:    deps.Config,
		store:     deps.Store,
		manager:   deps.Manager,
		validator: deps.Validator,
		processor: deps.Processor,
		watchdog:  deps.Watchdog,
		limiter:   deps.Limiter,
	}
}
