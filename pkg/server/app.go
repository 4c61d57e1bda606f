package server

import (
	"context"
	"os/signal"
	"syscall"

	internalrepo "CryptoAgent/internal/repository"
	"CryptoAgent/internal/surface"
	"CryptoAgent/internal/usecase"
	pkgcache "CryptoAgent/pkg/cache"
	"CryptoAgent/pkg/config"
	xhttp "CryptoAgent/pkg/http"
	applogger "CryptoAgent/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	httpServer *xhttp.Server
	dashboard  *usecase.Dashboard
	hub        *surface.Hub
	publisher  internalrepo.ClosablePublisher
	store      pkgcache.Service
}

// New creates a new App instance with all dependencies. store may be nil when caching is off.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	httpServer *xhttp.Server,
	dashboard *usecase.Dashboard,
	hub *surface.Hub,
	publisher internalrepo.ClosablePublisher,
	store pkgcache.Service,
) *App {
	return &App{
		cfg:        cfg,
		log:        log,
		httpServer: httpServer,
		dashboard:  dashboard,
		hub:        hub,
		publisher:  publisher,
		store:      store,
	}
}

// Run starts the HTTP server and blocks until SIGINT/SIGTERM or ctx is done.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}
	a.log.Info("chart panel service started",
		applogger.String("env", a.cfg.Environment),
		applogger.String("analysis", a.cfg.Analysis.BaseURL),
		applogger.String("cache", a.cfg.Cache.Backend),
		applogger.Bool("kafka", a.cfg.Kafka.Enabled),
	)

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	return a.shutdown()
}

// shutdown stops intake first, then panels and viewers, then infrastructure clients.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	// Viewers hold hijacked connections that echo's Shutdown does not wait for.
	a.hub.Close()
	if err := a.httpServer.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	a.dashboard.Close()

	if err := a.publisher.Close(); err != nil {
		a.log.Warn("render publisher close error", applogger.Error(err))
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("cache close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
