// Package runtime provides the Gateway struct and its lifecycle: loading
// configuration, building the action routes, serving them and reloading them
// when the configuration changes.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tjfontaine/actiongate/internal/core/ports"
	"github.com/tjfontaine/actiongate/internal/pkg/config"
	"github.com/tjfontaine/actiongate/internal/router"
	"github.com/tjfontaine/actiongate/internal/server"
	"github.com/tjfontaine/actiongate/internal/storage/memory"
	"github.com/tjfontaine/actiongate/internal/storage/sqlite"
	"github.com/tjfontaine/actiongate/internal/telemetry"
)

// Gateway is the main entry point for running the action gateway. It can be
// embedded in larger applications or run standalone.
type Gateway struct {
	// Dependencies (injected via options)
	config ports.ConfigProvider
	store  ports.ReportStore
	logger *slog.Logger

	// Internal state
	cfg            *config.Config
	router         *router.Router
	server         *server.Server
	serveErr       chan error
	shutdownTracer func(context.Context) error

	// Lifecycle management
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	mu      sync.RWMutex
}

// New creates a new Gateway with the given options.
func New(opts ...Option) (*Gateway, error) {
	gw := &Gateway{
		logger: slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(gw); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if gw.config == nil {
		return nil, fmt.Errorf("config provider required (use WithFileConfig or WithConfigProvider)")
	}
	return gw, nil
}

// Start loads the configuration, builds the routes and starts serving in
// the background. Configuration changes are applied without a restart.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started {
		return errors.New("gateway already started")
	}

	cfg, err := g.config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(telemetry.Options{ServiceName: cfg.Telemetry.ServiceName}, g.logger)
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		g.shutdownTracer = shutdown
	}

	if g.store == nil {
		store, err := openStore(cfg.Storage)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		g.store = store
	}

	table, err := g.build(cfg)
	if err != nil {
		return fmt.Errorf("build routes: %w", err)
	}
	g.router = router.New(table)
	g.cfg = cfg

	g.server = server.New(server.Options{
		Port:        cfg.Server.Port,
		ContextPath: cfg.Server.ContextPath,
		Timeout:     cfg.Server.Timeout,
		RateLimit: server.RateLimitConfig{
			RequestsPerSecond: cfg.Server.RateLimit.RequestsPerSecond,
			Burst:             cfg.Server.RateLimit.Burst,
		},
		ServiceName: cfg.Telemetry.ServiceName,
	}, g.router, g.logger)

	g.serveErr = make(chan error, 1)
	go func(s *server.Server) {
		if err := s.Start(); err != nil {
			g.logger.Error("server error", slog.String("error", err.Error()))
			g.serveErr <- err
		}
		close(g.serveErr)
	}(g.server)

	g.ctx, g.cancel = context.WithCancel(ctx)
	if err := g.config.Watch(g.ctx, g.onConfigChange); err != nil {
		g.logger.Warn("config watch unavailable, reload disabled", slog.String("error", err.Error()))
	}

	g.started = true
	g.logger.Info("gateway started",
		slog.Int("port", cfg.Server.Port),
		slog.String("context_path", cfg.Server.ContextPath),
		slog.Int("actions", len(table.Actions())))
	return nil
}

// Done is closed when the server stops. It yields the serve error, if any.
func (g *Gateway) Done() <-chan error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.serveErr
}

// Handler returns the action routes without the server middleware.
func (g *Gateway) Handler() *router.Router {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.router
}

// Shutdown gracefully stops the gateway.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("shutting down gateway")

	if g.cancel != nil {
		g.cancel()
	}

	var errs []error
	if g.server != nil {
		if err := g.server.Shutdown(ctx); err != nil {
			g.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if g.store != nil {
		if err := g.store.Close(); err != nil {
			g.logger.Error("failed to close storage", slog.String("error", err.Error()))
		}
	}

	if g.config != nil {
		if err := g.config.Close(); err != nil {
			g.logger.Error("failed to close config", slog.String("error", err.Error()))
		}
	}

	if g.shutdownTracer != nil {
		if err := g.shutdownTracer(ctx); err != nil {
			g.logger.Error("failed to flush traces", slog.String("error", err.Error()))
		}
	}

	g.started = false
	g.logger.Info("gateway shutdown complete")
	return errors.Join(errs...)
}

func (g *Gateway) onConfigChange(cfg *config.Config) {
	g.logger.Info("config changed, reloading")
	if err := g.reload(cfg); err != nil {
		g.logger.Error("failed to reload, keeping previous routes", slog.String("error", err.Error()))
	}
}

// reload rebuilds the routes from cfg and swaps them in. Server, storage
// and telemetry settings only take effect on restart.
func (g *Gateway) reload(cfg *config.Config) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.router == nil {
		return errors.New("gateway not started")
	}

	table, err := g.build(cfg)
	if err != nil {
		return err
	}
	g.router.Swap(table)

	if g.cfg != nil && (g.cfg.Server != cfg.Server || g.cfg.Storage != cfg.Storage || g.cfg.Telemetry != cfg.Telemetry) {
		g.logger.Warn("server, storage and telemetry settings changed; restart to apply them")
	}
	g.cfg = cfg

	g.logger.Info("reload complete", slog.Int("actions", len(table.Actions())))
	return nil
}

func (g *Gateway) build(cfg *config.Config) (*router.Table, error) {
	registry := NewRegistry(RegistryDeps{
		Store:     g.store,
		Forwarder: forwarderFor(cfg.Reports.Forward),
		Logger:    g.logger,
	})
	return BuildTable(cfg, registry, g.logger)
}

func openStore(cfg config.StorageConfig) (ports.ReportStore, error) {
	switch cfg.Type {
	case "sqlite":
		store, err := sqlite.New(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "memory", "":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
