// Package livemonitor is the CCE server lifecycle.
//
// The cce command constructs an App and either runs it as a long-lived
// server or runs a single update cycle:
//
//	app, err := livemonitor.New(
//	    livemonitor.WithVersion(version),
//	    livemonitor.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph is one-way: livemonitor (root) imports internal/*, and
// internal/* never imports the root package.
package livemonitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/api"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/cce"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/config"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/mcp"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/ratelimit"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/refdata"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/server"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/service/query"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/storage"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/storage/memstore"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/storage/sqlite"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/telemetry"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/migrations"
)

// App is the CCE server lifecycle. Construct with New(), run with Run() or
// RunOnce(). App has no public fields; use New() options to configure it.
type App struct {
	cfg          config.Config
	store        cce.Store
	closeStore   func()
	ref          *refdata.Source // nil without reference data
	engine       *cce.Engine
	srv          *server.Server
	broker       *server.Broker
	limiter      ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string

	cancel    context.CancelFunc
	bg        sync.WaitGroup
	closeOnce sync.Once
}

// New initialises the CCE. It opens the store (running migrations), loads
// reference data, wires the engine and the HTTP/MCP surfaces, and returns a
// ready-to-run App. It does NOT start any goroutines or accept HTTP
// connections; call Run() or RunOnce().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := resolveConfig(o)
	if err != nil {
		return nil, err
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("cce starting", "version", version, "port", cfg.Port, "store", cfg.StoreDriver)

	ctx := context.Background()

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, telemetry.Options{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Open the store.
	st, err := openStore(ctx, cfg, o.store, logger)
	if err != nil {
		_ = otelShutdown(ctx)
		return nil, err
	}

	// Reference data. A nil *Source must not become a non-nil interface.
	var ref cce.ReferenceData
	var src *refdata.Source
	if cfg.ReferenceDataPath != "" {
		src, err = refdata.Open(cfg.ReferenceDataPath, logger)
		if err != nil {
			st.close()
			_ = otelShutdown(ctx)
			return nil, fmt.Errorf("reference data: %w", err)
		}
		ref = src
	} else {
		logger.Warn("reference data: none configured (REFERENCE_DATA_PATH), alliance and front phases will report errors")
	}

	// Tick event broker. Without a cross-process feed, ticks from this
	// process are published directly.
	broker := server.NewBroker(st.notifier, logger, storage.ChannelTicks)
	engineOpts := []cce.EngineOption{cce.WithLogger(logger)}
	if broker.HasSource() {
		logger.Info("tick events: relaying from postgres notifications")
	} else {
		logger.Info("tick events: local ticks only")
		engineOpts = append(engineOpts, cce.WithTickHook(publishTick(broker, logger)))
	}
	for _, h := range o.tickHooks {
		engineOpts = append(engineOpts, cce.WithTickHook(h))
	}

	engine, err := cce.NewEngine(st.store, ref, cfg.CCE, engineOpts...)
	if err != nil {
		st.close()
		_ = otelShutdown(ctx)
		return nil, err
	}

	queries := query.New(st.store)

	// MCP server.
	mcpSrv := mcp.New(queries, logger, version)

	// Manual cycle rate limiter.
	var limiter ratelimit.Limiter
	if cfg.CycleRatePerMinute > 0 {
		limiter = ratelimit.NewTokenBucket(cfg.CycleRatePerMinute, cfg.CycleRateBurst)
		logger.Info("cycle rate limiting: enabled",
			"per_minute", cfg.CycleRatePerMinute, "burst", cfg.CycleRateBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("cycle rate limiting: disabled")
	}

	// Create HTTP server.
	srv := server.New(server.ServerConfig{
		Query:               queries,
		Engine:              engine,
		Store:               st.store,
		Logger:              logger,
		Broker:              broker,
		MCPServer:           mcpSrv.MCPServer(),
		CycleLimiter:        limiter,
		OpenAPISpec:         api.OpenAPISpec,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		StoreDriver:         st.driver,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	return &App{
		cfg:          cfg,
		store:        st.store,
		closeStore:   st.close,
		ref:          src,
		engine:       engine,
		srv:          srv,
		broker:       broker,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Handler returns the root HTTP handler, for tests and embedding.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// RunOnce runs a single update cycle and returns its result. It starts no
// background goroutines. Call Close when done.
func (a *App) RunOnce(ctx context.Context, opts cce.RunOptions) (*cce.TickResult, error) {
	return a.engine.RunUpdateCycle(ctx, opts)
}

// Run starts the tick loop, the reference data watcher, the tick event
// broker and the HTTP server, then blocks until ctx is cancelled or a fatal
// server error occurs. On return, Shutdown has been called; callers should
// not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	a.bg.Go(func() { a.broker.Start(ctx) })
	if a.ref != nil {
		a.bg.Go(func() {
			if err := a.ref.Watch(ctx); err != nil {
				a.logger.Warn("refdata: watcher stopped", "error", err)
			}
		})
	}
	a.bg.Go(func() { a.tickLoop(ctx) })

	// Start HTTP server.
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Block until signal or server error.
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		a.logger.Error("http server failed", "error", runErr)
	}

	if err := a.Shutdown(context.Background()); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown stops accepting HTTP requests and drains in-flight ones, stops
// the background loops (letting a running tick finish its current phase),
// then releases the store, limiter and OTEL provider.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("cce shutting down")

	httpCtx, httpCancel := context.WithTimeout(ctx, a.cfg.ShutdownTimeout)
	defer httpCancel()
	var shutdownErr error
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
		shutdownErr = fmt.Errorf("http shutdown: %w", err)
	}

	if a.cancel != nil {
		a.cancel()
	}
	done := make(chan struct{})
	go func() {
		a.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-httpCtx.Done():
		a.logger.Warn("background loops did not stop before the shutdown deadline")
	}

	a.Close()
	a.logger.Info("cce stopped")
	return shutdownErr
}

// Close releases the store, limiter and OTEL provider without touching the
// HTTP server. Safe to call more than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if err := a.limiter.Close(); err != nil {
			a.logger.Warn("limiter close", "error", err)
		}
		if err := a.otelShutdown(context.Background()); err != nil {
			a.logger.Warn("telemetry shutdown", "error", err)
		}
		a.closeStore()
	})
}

// tickLoop runs one cycle immediately, then every UpdateInterval.
func (a *App) tickLoop(ctx context.Context) {
	a.runTick(ctx)

	ticker := time.NewTicker(a.cfg.CCE.UpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runTick(ctx)
		}
	}
}

func (a *App) runTick(ctx context.Context) {
	res, err := a.engine.RunUpdateCycle(ctx, cce.RunOptions{})
	switch {
	case errors.Is(err, cce.ErrTickInProgress):
		a.logger.Info("tick skipped: another cycle holds the lock")
	case err != nil:
		a.logger.Error("tick failed to start", "error", err)
	case res.Disabled:
		a.logger.Debug("tick skipped", "reason", res.Reason)
	}
}

// Migrate applies the embedded schema for the configured store and exits.
// The memory store has nothing to migrate.
func Migrate(ctx context.Context, opts ...Option) error {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := resolveConfig(o)
	if err != nil {
		return err
	}
	cfg.SkipEmbeddedMigrations = false
	st, err := openStore(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	st.close()
	logger.Info("migrations complete", "store", st.driver)
	return nil
}

// resolveConfig loads configuration (env vars, or WithConfig), applies
// option overrides, and validates the result.
func resolveConfig(o resolvedOptions) (config.Config, error) {
	var cfg config.Config
	if o.cfg != nil {
		cfg = *o.cfg
	} else {
		// Load .env file if present (non-fatal; production won't have one).
		_ = godotenv.Load()
		loaded, err := config.Load()
		if err != nil {
			return config.Config{}, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.storeDriver != "" {
		cfg.StoreDriver = o.storeDriver
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.notifyURL != "" {
		cfg.NotifyURL = o.notifyURL
	}
	if o.sqlitePath != "" {
		cfg.SQLitePath = o.sqlitePath
	}
	if o.refDataPath != "" {
		cfg.ReferenceDataPath = o.refDataPath
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// storeHandle is an open store plus what the App needs to manage it.
type storeHandle struct {
	store    cce.Store
	notifier server.NotificationSource // nil without LISTEN/NOTIFY
	driver   string
	close    func()
}

func openStore(ctx context.Context, cfg config.Config, injected cce.Store, logger *slog.Logger) (storeHandle, error) {
	if injected != nil {
		return storeHandle{store: injected, driver: "external", close: func() {}}, nil
	}

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		db, err := storage.New(ctx, cfg.DatabaseURL, cfg.NotifyURL, logger)
		if err != nil {
			return storeHandle{}, fmt.Errorf("storage: %w", err)
		}
		if cfg.SkipEmbeddedMigrations {
			logger.Info("embedded migrations skipped by config")
		} else if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			db.Close(ctx)
			return storeHandle{}, fmt.Errorf("migrations: %w", err)
		}
		db.RegisterMetrics()
		h := storeHandle{store: db, driver: config.DriverPostgres, close: func() { db.Close(context.Background()) }}
		if cfg.NotifyURL != "" {
			h.notifier = db
		}
		return h, nil

	case config.DriverSQLite:
		// The lock must outlive the longest possible tick.
		s, err := sqlite.Open(cfg.SQLitePath, 2*cfg.CCE.TickTimeout, logger)
		if err != nil {
			return storeHandle{}, fmt.Errorf("storage: %w", err)
		}
		return storeHandle{store: s, driver: config.DriverSQLite, close: func() {
			if err := s.Close(); err != nil {
				logger.Warn("sqlite: close", "error", err)
			}
		}}, nil

	case config.DriverMemory:
		logger.Warn("storage: in-memory store, state is lost on exit")
		return storeHandle{store: memstore.New(), driver: config.DriverMemory, close: func() {}}, nil
	}
	return storeHandle{}, fmt.Errorf("storage: unknown driver %q", cfg.StoreDriver)
}

// publishTick forwards completed cycles to SSE subscribers.
func publishTick(b *server.Broker, logger *slog.Logger) func(*cce.TickResult) {
	return func(res *cce.TickResult) {
		payload, err := res.Summary()
		if err != nil {
			logger.Warn("tick events: encode summary", "error", err)
			return
		}
		b.Publish(server.TickEvent, payload)
	}
}
