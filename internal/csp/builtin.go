package csp

import (
	"log/slog"
	"reflect"
	"time"

	"github.com/tjfontaine/actiongate/internal/core/ports"
	"github.com/tjfontaine/actiongate/internal/factory"
)

// Bean types registered by this package.
const (
	DefaultSettingsType = "csp.default"
	InterceptorType     = "csp"
	ReportActionType    = "csp.report"
	ListActionType      = "csp.reports"
)

// RegisterBuiltins registers the default settings and the interceptor.
// Interceptors resolve their default settings type from r.
func RegisterBuiltins(r *factory.Registry, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if !r.IsRegistered(DefaultSettingsType) {
		r.RegisterFactory(factory.BeanFactory{
			Type:        DefaultSettingsType,
			Description: "Strict nonce-based Content-Security-Policy",
			Produces:    reflect.TypeOf(&DefaultSettings{}),
			Create:      func(map[string]any) (any, error) { return NewDefaultSettings(), nil },
		})
	}
	if !r.IsRegistered(InterceptorType) {
		r.RegisterFactory(factory.BeanFactory{
			Type:        InterceptorType,
			Description: "Adds a Content-Security-Policy header before the result renders",
			Produces:    reflect.TypeOf(&Interceptor{}),
			Create: func(map[string]any) (any, error) {
				return NewInterceptor(r, WithLogger(logger)), nil
			},
		})
	}
}

// ReportDeps are the collaborators of the report actions.
type ReportDeps struct {
	Store     ports.ReportStore
	Forwarder *Forwarder // optional
	Logger    *slog.Logger
}

// RegisterReportActions registers the report receiver and listing actions.
func RegisterReportActions(r *factory.Registry, deps ReportDeps) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if !r.IsRegistered(ReportActionType) {
		r.RegisterFactory(factory.BeanFactory{
			Type:        ReportActionType,
			Description: "Receives and stores CSP violation reports",
			Produces:    reflect.TypeOf(&ReportAction{}),
			Create: func(map[string]any) (any, error) {
				return &ReportAction{
					store:     deps.Store,
					forwarder: deps.Forwarder,
					logger:    logger,
					now:       time.Now,
				}, nil
			},
		})
	}
	if !r.IsRegistered(ListActionType) {
		r.RegisterFactory(factory.BeanFactory{
			Type:        ListActionType,
			Description: "Lists stored CSP violation reports",
			Produces:    reflect.TypeOf(&ListReportsAction{}),
			Create: func(map[string]any) (any, error) {
				return &ListReportsAction{store: deps.Store}, nil
			},
		})
	}
}

var (
	_ ports.CSPSettings = (*DefaultSettings)(nil)
	_ BeanSource        = (*factory.Registry)(nil)
)
