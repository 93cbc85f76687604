package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/exerceo/internal/auth"
	"github.com/ternarybob/exerceo/internal/common"
	"github.com/ternarybob/exerceo/internal/events"
	"github.com/ternarybob/exerceo/internal/handlers"
	"github.com/ternarybob/exerceo/internal/interfaces"
	"github.com/ternarybob/exerceo/internal/jobs"
	"github.com/ternarybob/exerceo/internal/metrics"
	"github.com/ternarybob/exerceo/internal/providers"
	"github.com/ternarybob/exerceo/internal/queue"
	"github.com/ternarybob/exerceo/internal/scheduler"
	"github.com/ternarybob/exerceo/internal/storage"
	"github.com/ternarybob/exerceo/internal/trainers"
	"github.com/ternarybob/exerceo/internal/worker"
)

// App holds all application components and dependencies. The same
// composition serves both binaries; service.role decides which trainer
// adapters the registry carries.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Job engine
	Store    interfaces.JobStore
	Queue    *queue.PriorityQueue
	Hub      *events.Hub
	Registry *trainers.Registry
	Manager  *jobs.Manager
	Pool     *worker.Pool
	Sweeper  *scheduler.Sweeper

	// Observability (nil collector when metrics are disabled)
	Metrics *metrics.Collector

	// Providers
	Feedback *providers.FeedbackBuffer
	Search   interfaces.SearchProvider

	// Authentication gate
	Gate *auth.Gate

	// HTTP handlers
	APIHandler      *handlers.APIHandler
	JobHandler      *handlers.JobHandler
	WSHandler       *handlers.WebSocketHandler
	FeedbackHandler *handlers.FeedbackHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize job store
	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Initialize services
	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Initialize handlers
	app.initHandlers()

	// Start the worker pool AFTER everything it touches is wired.
	app.Pool.Start()

	if err := app.Sweeper.Start(); err != nil {
		logger.Warn().Err(err).Msg("Failed to start retention sweeper")
	}

	// Log initialization summary
	logger.Info().
		Str("role", cfg.Service.Role).
		Str("trainers", fmt.Sprintf("%v", app.Registry.Kinds())).
		Int("workers", cfg.Jobs.Workers).
		Int("queue_depth", cfg.Jobs.QueueDepth).
		Str("auth_mode", app.Gate.Mode()).
		Bool("metrics_enabled", cfg.Metrics.Enabled).
		Msg("Application initialization complete")

	return app, nil
}

// initStorage initializes the job store backend selected by config
func (a *App) initStorage() error {
	store, err := storage.NewJobStore(a.Logger, a.Config)
	if err != nil {
		return err
	}

	a.Store = store
	a.Logger.Debug().
		Str("storage", a.Config.Storage.Type).
		Str("path", a.Config.Storage.Path).
		Msg("Job store initialized")
	return nil
}

// initServices initializes the job engine in dependency order:
// gate -> queue -> hub -> metrics -> providers -> registry -> manager ->
// pool -> sweeper. The manager owns all job-state writes; the pool and the
// request surface only call into it.
func (a *App) initServices() error {
	a.Gate = auth.NewGate(a.Config, a.Logger)

	a.Queue = queue.New(a.Config.Jobs.QueueDepth, a.Logger)
	a.Hub = events.NewHub(a.Config.Events.SubscriberBuffer, a.Config.Events.MaxSubscribers, a.Logger)

	if a.Config.Metrics.Enabled {
		a.Metrics = metrics.NewCollector()
		a.Logger.Debug().Msg("Metrics collector initialized")
	}

	// The feedback buffer exists on both services: the endpoint accepts
	// items everywhere, only the training service drains them.
	a.Feedback = providers.NewFeedbackBuffer(a.Config.Feedback.BufferSize, a.Logger)

	var err error
	switch a.Config.Service.Role {
	case common.RoleTraining:
		a.Registry, err = trainers.NewTrainingRegistry(a.Logger, a.Config, a.Feedback)
	case common.RoleDataset:
		a.Search = providers.NewSearchProvider(a.Logger, a.Config)
		a.Registry, err = trainers.NewDatasetRegistry(a.Logger, a.Config, a.Search)
	default:
		return fmt.Errorf("unsupported service role: %s", a.Config.Service.Role)
	}
	if err != nil {
		return fmt.Errorf("failed to build trainer registry: %w", err)
	}

	a.Manager = jobs.NewManager(a.Store, a.Queue, a.Hub, a.Registry, a.Metrics, a.Config.Jobs, a.Logger)
	a.Pool = worker.NewPool(a.Manager, a.Queue, a.Registry, a.Config.Jobs.Workers, a.Logger)
	a.Sweeper = scheduler.NewSweeper(a.Store, a.Config.Jobs.GetRetainTerminalFor(), a.Logger)

	return nil
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Config, a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.Manager, a.Gate, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.Manager, a.Gate, a.Config, a.Logger)
	a.FeedbackHandler = handlers.NewFeedbackHandler(a.Feedback, a.Gate, a.Logger)
}

// Close drains and closes all application resources. Order matters: the
// sweeper stops first, then intake stops and running jobs are signalled so
// the pool can settle, and the store closes last so every terminal
// transition is recorded.
func (a *App) Close() error {
	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}

	if a.Manager != nil {
		a.Manager.Drain()
	}

	if a.Pool != nil {
		// Drained jobs are force failed after the grace window, which
		// releases their workers; the margin covers that unwinding.
		ctx, cancel := context.WithTimeout(context.Background(), a.Config.Jobs.GetCancelGraceTimeout()+5*time.Second)
		defer cancel()
		if err := a.Pool.Stop(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Worker pool did not settle before deadline")
		}
	}

	if a.Manager != nil {
		a.Manager.Close()
	}

	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			return fmt.Errorf("failed to close job store: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
