// Package app wires storage, record store, series engines and the HTTP server
// together and controls their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"purchasedash/config"
	"purchasedash/internal/cache"
	"purchasedash/internal/dashboard"
	"purchasedash/internal/observability"
	"purchasedash/internal/records"
	"purchasedash/internal/server"
	"purchasedash/internal/storage"
)

// App represents the main application with all its dependencies.
type App struct {
	config  *config.Config
	storage storage.Storage
	store   records.Store
	service *dashboard.Service
	server  *server.Server

	stopSweeper chan struct{}
	sweeperDone chan struct{}

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the options for creating an App.
type Config struct {
	// AppConfig is the loaded configuration.
	AppConfig *config.Config

	// Registerer receives the Prometheus collectors. Defaults to
	// prometheus.DefaultRegisterer, which the /metrics endpoint serves.
	Registerer prometheus.Registerer
}

// New opens storage and builds every component. The caller must call Shutdown.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}
	appCfg := cfg.AppConfig

	st, err := storage.New(ctx, appCfg.Storage.Backend())
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	store, err := records.NewStore(ctx, st)
	if err != nil {
		return nil, closeOnError(fmt.Errorf("failed to initialize record store: %w", err), st.Close)
	}

	var metrics *observability.Metrics
	if appCfg.Metrics.Enabled {
		reg := cfg.Registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		metrics = observability.NewMetrics(reg)
	}

	service, err := dashboard.New(store, dashboard.Options{
		Cache: cache.Options{
			TTL:        appCfg.Analytics.CacheTTL,
			MaxEntries: appCfg.Analytics.CacheMaxEntries,
		},
		MaxMonthsBack: appCfg.Analytics.MaxMonths,
		Metrics:       metrics,
		Pinger:        st.Ping,
	})
	if err != nil {
		return nil, closeOnError(fmt.Errorf("failed to initialize dashboard: %w", err), store.Close, st.Close)
	}

	app := &App{
		config:  appCfg,
		storage: st,
		store:   store,
		service: service,
	}

	if appCfg.Analytics.CacheTTL > 0 {
		app.stopSweeper = make(chan struct{})
		app.sweeperDone = make(chan struct{})
		interval := min(appCfg.Analytics.CacheTTL, cache.DefaultSweepInterval)
		go func() {
			defer close(app.sweeperDone)
			cache.RunSweeper(app.stopSweeper, interval, service.Caches()...)
		}()
	}

	app.server = server.New(service, &server.Config{
		MasterKey:       appCfg.Server.MasterKey,
		MetricsEnabled:  appCfg.Metrics.Enabled,
		MetricsEndpoint: appCfg.Metrics.Endpoint,
		SwaggerEnabled:  appCfg.Server.SwaggerEnabled,
		BodyLimit:       appCfg.Server.BodyLimit,
		DefaultMonths:   appCfg.Analytics.DefaultMonths,
	})

	app.logStartupInfo()
	return app, nil
}

// Service returns the dashboard service.
func (a *App) Service() *dashboard.Service {
	return a.service
}

// Handler returns the HTTP handler, for tests and embedding.
func (a *App) Handler() http.Handler {
	return a.server
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server, the cache sweeper, the record store and the
// storage connection, in that order. Every step runs even if an earlier one
// fails; failures are joined. Calls after the first are no-ops.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	if a.stopSweeper != nil {
		close(a.stopSweeper)
		select {
		case <-a.sweeperDone:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("cache sweeper: %w", ctx.Err()))
		}
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Error("record store close error", "error", err)
			errs = append(errs, fmt.Errorf("record store close: %w", err))
		}
	}

	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			slog.Error("storage close error", "error", err)
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("application shutdown complete")
	return nil
}

func (a *App) logStartupInfo() {
	cfg := a.config

	if cfg.Server.MasterKey == "" {
		slog.Warn("PURCHASEDASH_MASTER_KEY not set - API is unauthenticated",
			"recommendation", "set PURCHASEDASH_MASTER_KEY to require a bearer token")
	} else {
		slog.Info("authentication enabled", "mode", "master_key")
	}

	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}

	if cfg.Server.SwaggerEnabled {
		slog.Info("swagger UI enabled", "path", "/swagger/index.html")
	}

	slog.Info("storage configured", "type", cfg.Storage.Type)
	slog.Info("analytics configured",
		"collections", a.service.Collections(),
		"default_months", cfg.Analytics.DefaultMonths,
		"max_months", cfg.Analytics.MaxMonths,
		"cache_ttl", cfg.Analytics.CacheTTL,
		"cache_max_entries", cfg.Analytics.CacheMaxEntries,
	)
}

func closeOnError(err error, closers ...func() error) error {
	var closeErrs []error
	for _, c := range closers {
		if cerr := c(); cerr != nil {
			closeErrs = append(closeErrs, cerr)
		}
	}
	if len(closeErrs) > 0 {
		return fmt.Errorf("%w (also: close error: %v)", err, errors.Join(closeErrs...))
	}
	return err
}
