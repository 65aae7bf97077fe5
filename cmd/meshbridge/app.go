package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"meshbridge/internal/api"
	"meshbridge/internal/bus"
	"meshbridge/internal/config"
	"meshbridge/internal/constants"
	"meshbridge/internal/filter"
	"meshbridge/internal/link"
	"meshbridge/internal/logger"
	"meshbridge/internal/router"
	"meshbridge/internal/storage"
	"meshbridge/internal/tracker"
	"meshbridge/internal/transport"
	"meshbridge/pkg/health"
	"meshbridge/pkg/metrics"
)

type App struct {
	config *config.Config
	logger logger.Logger

	store      *storage.Store
	tracker    *tracker.Tracker
	filter     *filter.Engine
	registry   *link.Registry
	gateways   []*transport.GatewayLink
	dispatcher *router.Dispatcher
	router     *router.Router
	bus        *bus.Bus
	server     *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		config: cfg,
		logger: log,
	}
}

func (a *App) Initialize(ctx context.Context) error {
	metrics.RegisterRouterMetrics()
	metrics.RegisterCircuitBreakerMetrics()
	metrics.RegisterAPIMetrics()

	if err := a.initStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := a.initCore(); err != nil {
		return fmt.Errorf("failed to initialize routing core: %w", err)
	}

	if err := a.initBus(); err != nil {
		return fmt.Errorf("failed to initialize bus: %w", err)
	}

	a.initServer()

	if a.store != nil {
		if err := a.store.LogEvent(ctx, "startup", "", "", nil); err != nil {
			a.logger.Warnw("Failed to log startup event", "error", err)
		}
	}
	return nil
}

func (a *App) initStorage() error {
	if !a.config.Database.Enabled {
		a.logger.Info("Persistence disabled, running without database")
		return nil
	}

	metrics.RegisterStorageMetrics()

	store, err := storage.New(a.config.Database.Postgres, a.config.Database.RetentionDays, a.logger)
	if err != nil {
		return err
	}

	if a.config.Database.RunMigrations {
		if err := store.RunMigrations(a.logger); err != nil {
			store.Close()
			return err
		}
	}

	a.store = store
	return nil
}

func (a *App) initCore() error {
	tracking := a.config.Bridge.MessageTracking
	a.tracker = tracker.New(
		time.Duration(tracking.MaxAgeMinutes)*time.Minute,
		tracking.MaxMessages,
		a.logger,
	)

	engine, err := filter.NewEngine(a.config.Filtering, a.logger)
	if err != nil {
		return err
	}
	a.filter = engine

	a.dispatcher = router.NewDispatcher(a.config.Events.BufferSize, a.logger)
	if a.store != nil {
		a.dispatcher.AddSink(storage.NewEventSink(a.store))
	}

	a.registry = link.NewRegistry()
	a.router = router.New(a.tracker, a.filter, a.registry, a.dispatcher, a.logger, constants.DefaultSendTimeout)

	for _, lc := range a.config.Bridge.Links {
		gw := transport.NewGatewayLink(lc, a.router, a.logger)
		gw.OnStateChange = a.logLinkState
		a.gateways = append(a.gateways, gw)

		if a.config.CircuitBreaker.Enabled {
			a.registry.Register(link.WithBreaker(gw, a.config.CircuitBreaker))
		} else {
			a.registry.Register(gw)
		}
	}

	return nil
}

func (a *App) initBus() error {
	if !a.config.Bus.Enabled {
		return nil
	}

	metrics.RegisterBusMetrics()

	a.bus = bus.New(a.config.Bus, a.router, a.logger)
	a.dispatcher.AddSink(bus.NewEventSink(a.bus))
	return nil
}

func (a *App) initServer() {
	checks := health.NewCheckerRegistry()
	checks.Register(health.NewLinksChecker(a.registry.Count))
	if a.store != nil {
		checks.Register(health.NewPostgreSQLChecker(a.store.DB()))
	}

	handlers := &api.Handlers{
		Tracker:  a.tracker,
		Filter:   a.filter,
		Router:   a.router,
		Registry: a.registry,
		Store:    a.store,
	}

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.Server.Port),
		Handler: api.NewRouter(a.config, handlers, checks, a.logger),
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// The dispatcher outlives group cancellation so queued events still
	// reach their sinks during the shutdown drain.
	a.dispatcher.Start(context.Background())

	g.Go(func() error {
		a.tracker.StartSweeper(gctx, constants.TrackerSweepInterval)
		return nil
	})

	for _, gw := range a.gateways {
		gw := gw
		g.Go(func() error {
			return gw.Run(gctx)
		})
	}

	if a.bus != nil {
		g.Go(func() error {
			return a.bus.ConsumeCommands(gctx)
		})
	}

	if a.store != nil {
		g.Go(func() error {
			a.store.StartRetentionTask(gctx, constants.CleanupInterval)
			return nil
		})
	}

	if a.store != nil || a.bus != nil {
		g.Go(func() error {
			a.flushStats(gctx)
			return nil
		})
	}

	g.Go(func() error {
		a.logger.InfowCtx(gctx, "Server listening", "port", a.config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown()
	})

	return g.Wait()
}

// flushStats periodically persists per-link counters and publishes them
// to the stats topic when the bus is up.
func (a *App) flushStats(ctx context.Context) {
	ticker := time.NewTicker(constants.StatsFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			snapshot := a.router.LinkStatsSnapshot()

			if a.store != nil {
				for name, s := range snapshot {
					rec := storage.LinkStatsRecord{
						Link:        name,
						Received:    s.Received,
						Sent:        s.Sent,
						SendErrors:  s.SendErrors,
						CollectedAt: now,
					}
					if err := a.store.RecordLinkStats(ctx, rec); err != nil {
						a.logger.Errorw("Failed to persist link statistics", "link", name, "error", err)
					}
				}
			}

			if a.bus != nil {
				if err := a.bus.PublishStats(ctx, snapshot); err != nil {
					a.logger.Errorw("Failed to publish link statistics", "error", err)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// logLinkState records link connect/disconnect transitions in the bridge
// event log when persistence is enabled.
func (a *App) logLinkState(ctx context.Context, name, state string) {
	if a.store == nil {
		return
	}
	if err := a.store.LogEvent(ctx, "link_"+state, "", name, nil); err != nil {
		a.logger.Warnw("Failed to log link event", "link", name, "error", err)
	}
}

func (a *App) Shutdown() error {
	a.logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}

	// Drain pending outcome events before the sinks go away.
	a.dispatcher.Close()

	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("bus shutdown error: %w", err))
		}
	}

	if a.store != nil {
		if err := a.store.LogEvent(shutdownCtx, "shutdown", "", "", nil); err != nil {
			a.logger.Warnw("Failed to log shutdown event", "error", err)
		}
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database shutdown error: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	a.logger.Info("Shutdown complete")
	return nil
}
