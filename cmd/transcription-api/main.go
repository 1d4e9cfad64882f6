package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anon-design/macwhisper-transcription-api/internal/api/handler"
	"github.com/anon-design/macwhisper-transcription-api/internal/api/router"
	"github.com/anon-design/macwhisper-transcription-api/internal/archive"
	"github.com/anon-design/macwhisper-transcription-api/internal/config"
	"github.com/anon-design/macwhisper-transcription-api/internal/events"
	"github.com/anon-design/macwhisper-transcription-api/internal/job"
	"github.com/anon-design/macwhisper-transcription-api/internal/processor"
	"github.com/anon-design/macwhisper-transcription-api/internal/queue"
	"github.com/anon-design/macwhisper-transcription-api/internal/ratelimit"
	"github.com/anon-design/macwhisper-transcription-api/internal/validate"
	"github.com/anon-design/macwhisper-transcription-api/internal/watchdog"
	"github.com/anon-design/macwhisper-transcription-api/internal/watcher"
	"github.com/anon-design/macwhisper-transcription-api/shared/logger"
	"github.com/anon-design/macwhisper-transcription-api/shared/postgresql"
	"github.com/anon-design/macwhisper-transcription-api/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("TRANSCRIPTION_API_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting transcription API",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	store := job.NewStore()

	controller := processor.NewController(processor.Config{
		AppName:    cfg.Processor.AppName,
		QuitWait:   cfg.Processor.QuitWait,
		LaunchWait: cfg.Processor.LaunchWait,
	}, appLogger.Logger)

	// Optional sinks for terminal job snapshots
	var notifiers []queue.Notifier

	var dbClient *postgresql.Client
	if cfg.Archive.Enabled {
		dbClient, err = initPostgreSQL(&cfg.Archive, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize archive database: %w", err)
		}
		sink, err := archive.NewSink(dbClient, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize archive sink: %w", err)
		}
		notifiers = append(notifiers, sink)
		appLogger.Info("Job archive enabled")
	}

	var rabbitClient *rabbitmq.Client
	if cfg.Events.Enabled {
		rabbitClient, err = initRabbitMQ(&cfg.Events, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize event publisher: %w", err)
		}
		notifiers = append(notifiers, events.NewPublisher(rabbitClient, appLogger.Logger))
		appLogger.Info("Lifecycle events enabled",
			slog.String("exchange", cfg.Events.Exchange),
		)
	}

	manager := queue.NewManager(queue.Config{
		WatchedDir:        cfg.Watcher.Dir,
		MaxQueueSize:      cfg.Queue.MaxSize,
		MaxConcurrent:     cfg.Queue.MaxConcurrent,
		MaxRetries:        cfg.Queue.MaxRetries,
		RetryBackoffBase:  cfg.Queue.RetryBackoff,
		AwaitPollInterval: cfg.Queue.AwaitPollInterval,
		KeepFiles:         cfg.Watcher.KeepFiles,
		ArchiveDir:        cfg.Watcher.ArchiveDir,
		ModelName:         cfg.Processor.ModelName,
	}, store, job.TimeoutModel{
		Base:  cfg.Timeouts.Base,
		PerMB: cfg.Timeouts.PerMB,
		Min:   cfg.Timeouts.Min,
		Max:   cfg.Timeouts.Max,
	}, appLogger.Logger, notifiers...)

	staleInputs := func() ([]watchdog.StaleInput, error) {
		stale, err := watcher.StaleInputs(cfg.Watcher.Dir, cfg.Validation.Formats,
			cfg.Watcher.OutputExt, cfg.Watchdog.StaleInputAge)
		if err != nil {
			return nil, err
		}
		out := make([]watchdog.StaleInput, len(stale))
		for i, s := range stale {
			out[i] = watchdog.StaleInput{Filename: s.Filename, AgeMinutes: s.AgeMinutes}
		}
		return out, nil
	}

	dog := watchdog.New(watchdog.Config{
		Interval:         cfg.Watchdog.Interval,
		StuckCeiling:     cfg.Watchdog.StuckCeiling,
		FailureThreshold: cfg.Watchdog.FailureThreshold,
		MaxRestarts:      cfg.Watchdog.MaxRestarts,
		RestartWindow:    cfg.Watchdog.RestartWindow,
		StaleInputAge:    cfg.Watchdog.StaleInputAge,
		WatchedDir:       cfg.Watcher.Dir,
		AudioFormats:     cfg.Validation.Formats,
		OutputExt:        cfg.Watcher.OutputExt,
	}, store, manager, controller, staleInputs, appLogger.Logger)
	manager.AddNotifier(dog)

	correlator := watcher.NewCorrelator(watcher.Config{
		Dir:             cfg.Watcher.Dir,
		OutputExt:       cfg.Watcher.OutputExt,
		PollInterval:    cfg.Watcher.PollInterval,
		RelocateOrphans: cfg.Watcher.RelocateOrphans,
	}, store, manager, dog, appLogger.Logger)

	limiter := ratelimit.NewLimiter(cfg.RateLimit.PerWindow, cfg.RateLimit.Window)

	validator := validate.New(validate.Config{
		MaxFileSizeMB: cfg.Validation.MaxFileSizeMB,
		MaxDuration:   cfg.Validation.MaxDuration,
		Formats:       cfg.Validation.Formats,
	})

	// Start background loops
	ctx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start queue manager: %w", err)
	}
	correlator.Run(ctx)
	dog.Run(ctx)

	retentionDone := make(chan struct{})
	go runRetentionSweep(ctx, store, cfg.Retention, appLogger.Logger, retentionDone)

	// Initialize router
	r := initRouter(cfg, appLogger.Logger, store, manager, validator, controller, dog, limiter)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("Transcription API is running",
		slog.String("address", addr),
		slog.String("watched_folder", cfg.Watcher.Dir),
		slog.String("processor", cfg.Processor.AppName),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
	}

	// Stop background loops after the server so in-flight waits see
	// final state.
	cancelBackground()
	correlator.Stop()
	dog.Stop()
	manager.Stop()
	<-retentionDone

	if dbClient != nil {
		dbClient.Close()
	}
	if rabbitClient != nil {
		rabbitClient.Close()
	}

	appLogger.Info("Shutdown complete")
	return nil
}

// runRetentionSweep drops finished jobs past the retention TTL so the
// in-memory store stays bounded.
func runRetentionSweep(ctx context.Context, store *job.Store, cfg config.RetentionConfig,
	logger *slog.Logger, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := store.Sweep(cfg.TTL); removed > 0 {
				logger.Info("Retention sweep removed finished jobs",
					slog.Int("removed", removed),
					slog.Duration("ttl", cfg.TTL),
				)
			}
		}
	}
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the archive database client
func initPostgreSQL(cfg *config.ArchiveConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the lifecycle event client
func initRabbitMQ(cfg *config.EventsConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:          cfg.Host,
		Port:          cfg.Port,
		User:          cfg.User,
		Password:      cfg.Password,
		VHost:         cfg.VHost,
		Exchange:      cfg.Exchange,
		RoutingKey:    cfg.RoutingKey,
		RetryAttempts: cfg.RetryAttempts,
		RetryInterval: cfg.RetryInterval,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, store *job.Store, manager *queue.Manager,
	validator *validate.Validator, controller *processor.Controller, dog *watchdog.Watchdog,
	limiter *ratelimit.Limiter) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	handlerDeps := &handler.Dependencies{
		Logger:    logger,
		Config:    cfg,
		Store:     store,
		Manager:   manager,
		Validator: validator,
		Processor: controller,
		Watchdog:  dog,
		Limiter:   limiter,
	}

	return router.SetupRouter(handlerDeps)
}
