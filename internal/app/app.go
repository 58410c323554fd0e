package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/rewind/internal/auditapi"
	"github.com/ternarybob/rewind/internal/common"
	"github.com/ternarybob/rewind/internal/handlers"
	"github.com/ternarybob/rewind/internal/interfaces"
	"github.com/ternarybob/rewind/internal/observability"
	"github.com/ternarybob/rewind/internal/services/events"
	"github.com/ternarybob/rewind/internal/services/poller"
	"github.com/ternarybob/rewind/internal/services/replay"
	"github.com/ternarybob/rewind/internal/services/window"
	"github.com/ternarybob/rewind/internal/storage"
)

// defaultProgressInterval paces coalesced load_progress events when no
// websocket throttle is configured for them
const defaultProgressInterval = 250 * time.Millisecond

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	ctx            context.Context
	cancelCtx      context.CancelFunc
	StorageManager interfaces.StorageManager
	APIClient      *auditapi.Client

	// Event-driven services
	EventService interfaces.EventService
	Progress     *events.ProgressAggregator

	// Replay
	Window  *window.Manager
	Session *replay.Session
	Poller  *poller.Service

	// HTTP handlers
	APIHandler      *handlers.APIHandler
	JobHandler      *handlers.JobHandler
	SessionHandler  *handlers.SessionHandler
	PollerHandler   *handlers.PollerHandler
	WSHandler       *handlers.WebSocketHandler
	EventSubscriber *handlers.EventSubscriber
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		Config:    cfg,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	if cfg.Metrics.Enabled {
		observability.InitMetrics()
	}

	app.initDatabase()

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	if cfg.Poll.Enabled {
		if err := app.Poller.Start(cfg.Poll.Schedule); err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to start update poller: %w", err)
		}
	}

	logger.Info().
		Str("api", cfg.API.BaseURL).
		Bool("cache_enabled", app.StorageManager.IsAvailable()).
		Bool("poll_enabled", cfg.Poll.Enabled).
		Bool("metrics_enabled", cfg.Metrics.Enabled).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the local cache store. An unusable store leaves
// the app running every job straight from the remote API.
func (a *App) initDatabase() {
	a.StorageManager = storage.NewStorageManager(a.Logger, a.Config)

	if a.StorageManager.IsAvailable() {
		a.Logger.Debug().
			Str("storage", "badger").
			Str("path", a.Config.Storage.Badger.Path).
			Bool("in_memory", a.Config.Storage.Badger.InMemory).
			Msg("Storage layer initialized")
	} else {
		a.Logger.Warn().Msg("Local cache unavailable - jobs will be browsed from the remote API only")
	}
}

func (a *App) initServices() error {
	a.APIClient = auditapi.NewClient(
		auditapi.WithBaseURL(a.Config.API.BaseURL),
		auditapi.WithTimeout(a.Config.APITimeout()),
		auditapi.WithRateLimit(a.Config.API.RateLimit),
		auditapi.WithLogger(a.Logger),
	)

	a.EventService = events.NewService(a.Logger)
	if err := events.SubscribeLoggerToAllEvents(a.EventService, a.Logger); err != nil {
		return fmt.Errorf("failed to subscribe event logger: %w", err)
	}

	interval := defaultProgressInterval
	if raw, ok := a.Config.WebSocket.ThrottleIntervals[string(interfaces.EventLoadProgress)]; ok {
		interval = parseDuration(raw, defaultProgressInterval)
	}
	a.Progress = events.NewProgressAggregator(interval, a.EventService, a.Logger)
	a.Progress.StartPeriodicFlush(a.ctx)

	a.Window = window.NewManager(a.APIClient, a.StorageManager, &a.Config.Cache, a.Logger,
		window.WithEventService(a.EventService),
		window.WithProgressSink(a.Progress.Record),
	)

	session, err := replay.NewSession(a.Window, a.APIClient, &a.Config.Graph, a.Logger,
		replay.WithEventService(a.EventService),
	)
	if err != nil {
		return fmt.Errorf("failed to create replay session: %w", err)
	}
	a.Session = session

	a.Poller = poller.NewService(a.Session, a.Logger, a.Config.APITimeout())

	a.Logger.Debug().
		Str("session_id", a.Session.ID()).
		Dur("progress_interval", interval).
		Msg("Replay services initialized")
	return nil
}

func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.StorageManager, a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.APIClient, a.Session, a.StorageManager, a.Logger)
	a.SessionHandler = handlers.NewSessionHandler(a.Session, a.Logger)
	a.PollerHandler = handlers.NewPollerHandler(a.Poller, a.Logger)

	a.WSHandler = handlers.NewWebSocketHandler(a.Session, a.Logger)
	a.EventSubscriber = handlers.NewEventSubscriber(a.WSHandler, a.EventService, a.Logger, &a.Config.WebSocket)
}

// Close shuts the app down in reverse dependency order
func (a *App) Close() error {
	if a.Poller != nil {
		if err := a.Poller.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop update poller")
		}
	}

	// Cancels the progress flusher, which flushes once more on the way out
	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	if a.Window != nil {
		a.Window.Close()
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
