package router

import (
	"github.com/anon-design/macwhisper-transcription-api/internal/api/handler"
	"github.com/anon-design/macwhisper-transcription-api/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())
	r.Use(ratelimit.Middleware(deps.Limiter, deps.Logger))

	h := handler.NewTranscriptionHandler(deps)

	// Transcription
	r.POST("/transcribe", h.Transcribe)
	r.GET("/job/:job_id", h.GetJob)
	r.GET("/jobs/history", h.History)
	r.GET("/queue", h.Queue)

	// Observability
	r.GET("/health", h.Health)
	r.GET("/rate-limit", h.RateLimit)

	// Operator endpoints
	admin := r.Group("/admin")
	{
		admin.POST("/cleanup-stuck", h.CleanupStuck)
		admin.POST("/restart-processor", h.RestartProcessor)
	}

	return r
}
