package runtime

import (
	"log/slog"

	"github.com/tjfontaine/actiongate/internal/bind"
	"github.com/tjfontaine/actiongate/internal/core/ports"
	"github.com/tjfontaine/actiongate/internal/csp"
	"github.com/tjfontaine/actiongate/internal/factory"
	"github.com/tjfontaine/actiongate/internal/interceptor"
	"github.com/tjfontaine/actiongate/internal/pkg/config"
	"github.com/tjfontaine/actiongate/internal/result"
	"github.com/tjfontaine/actiongate/internal/router"
	"github.com/tjfontaine/actiongate/internal/storage/memory"
)

// RegistryDeps are the collaborators shared by the beans of one registry.
type RegistryDeps struct {
	Store ports.ReportStore
	// Forwarder is optional.
	Forwarder *csp.Forwarder
	Logger    *slog.Logger
}

// NewRegistry returns a registry with every built-in bean type: results,
// the CSP interceptor and its settings, the report actions and the
// general-purpose interceptors.
func NewRegistry(deps RegistryDeps) *factory.Registry {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := factory.NewRegistry()
	result.RegisterBuiltins(r)
	csp.RegisterBuiltins(r, logger)
	csp.RegisterReportActions(r, csp.ReportDeps{
		Store:     deps.Store,
		Forwarder: deps.Forwarder,
		Logger:    logger,
	})
	interceptor.RegisterBuiltins(r, bind.New(bind.WithLogger(logger)), logger)
	return r
}

// BuildTable builds the routing table for cfg on top of registry.
func BuildTable(cfg *config.Config, registry *factory.Registry, logger *slog.Logger) (*router.Table, error) {
	return router.Build(cfg, router.Options{
		Objects:     registry,
		Results:     result.NewFactory(registry, result.WithLogger(logger)),
		ContextPath: cfg.Server.ContextPath,
		Logger:      logger,
	})
}

// Check builds every configured interceptor, action and result mapping
// without serving anything. It reports every problem it finds.
func Check(cfg *config.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	store := memory.New()
	defer store.Close()

	registry := NewRegistry(RegistryDeps{Store: store, Logger: logger})
	_, err := BuildTable(cfg, registry, logger)
	return err
}

func forwarderFor(cfg config.ForwardConfig) *csp.Forwarder {
	if cfg.URL == "" {
		return nil
	}
	return csp.NewForwarder(csp.ForwarderConfig{
		URL:          cfg.URL,
		Timeout:      cfg.Timeout,
		Retries:      cfg.Retries,
		Headers:      cfg.Headers,
		AllowPrivate: cfg.AllowPrivate,
	})
}
