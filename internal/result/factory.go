// Package result builds ports.Result values from result descriptors and
// provides the built-in result types.
package result

import (
	"fmt"
	"log/slog"

	"github.com/tjfontaine/actiongate/internal/bind"
	"github.com/tjfontaine/actiongate/internal/core/domain"
	"github.com/tjfontaine/actiongate/internal/core/ports"
)

// Factory resolves result descriptors into ready-to-execute results.
type Factory struct {
	objects ports.ObjectFactory
	binder  *bind.Binder
	logger  *slog.Logger
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithBinder overrides the binder used to apply descriptor parameters.
func WithBinder(b *bind.Binder) FactoryOption {
	return func(f *Factory) {
		f.binder = b
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = logger
	}
}

// NewFactory creates a result factory backed by objects.
func NewFactory(objects ports.ObjectFactory, opts ...FactoryOption) *Factory {
	f := &Factory{
		objects: objects,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.binder == nil {
		f.binder = bind.New(bind.WithLogger(f.logger))
	}
	return f
}

// BuildResult instantiates the descriptor's type, binds its parameters and
// returns it as a ports.Result.
//
// A descriptor without a type yields (nil, nil): nothing should render.
// Errors from the object factory are returned unmodified. A bean that
// satisfies neither ports.Result nor ports.LegacyResult is a
// *domain.ConfigurationError.
func (f *Factory) BuildResult(cfg domain.ResultConfig, extra map[string]any) (ports.Result, error) {
	if cfg.Type == "" {
		return nil, nil
	}

	bean, err := f.objects.BuildBean(cfg.Type, extra)
	if err != nil {
		return nil, err
	}

	if cfg.Params.Len() > 0 {
		if err := f.binder.Bind(bean, extra, cfg.Params); err != nil {
			return nil, fmt.Errorf("bind parameters for %s: %w", cfg, err)
		}
	}

	switch r := bean.(type) {
	case ports.Result:
		return r, nil
	case ports.LegacyResult:
		return Adapt(r), nil
	}

	return nil, domain.NewConfigurationError(cfg.Type, "does not implement Result").
		WithSource(cfg.String())
}

// Ensure Factory implements the interface.
var _ ports.ResultFactory = (*Factory)(nil)
