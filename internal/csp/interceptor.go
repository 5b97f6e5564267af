package csp

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"reflect"
	"strings"

	"github.com/tjfontaine/actiongate/internal/core/domain"
	"github.com/tjfontaine/actiongate/internal/core/ports"
)

// BeanSource is the part of the bean registry the interceptor needs to
// resolve its default settings type.
type BeanSource interface {
	ports.ObjectFactory
	IsRegistered(typeName string) bool
	Implements(typeName string, iface reflect.Type) (bool, error)
}

var settingsType = reflect.TypeOf((*ports.CSPSettings)(nil)).Elem()

// Interceptor resolves the policy for each request and registers a hook
// that writes it right before the result renders.
//
// Interceptor configuration is set through the setters, normally by the
// strict binder when the interceptor stack is built. It must not be changed
// once the interceptor serves requests.
type Interceptor struct {
	objects BeanSource
	logger  *slog.Logger

	enforcingMode         bool
	reportURI             string
	reportTo              string
	prependServletContext bool
	defaultSettingsType   string
}

// InterceptorOption configures an Interceptor.
type InterceptorOption func(*Interceptor)

// WithLogger sets the logger used for policy resolution traces.
func WithLogger(logger *slog.Logger) InterceptorOption {
	return func(i *Interceptor) {
		i.logger = logger
	}
}

// NewInterceptor creates an interceptor resolving default settings from objects.
func NewInterceptor(objects BeanSource, opts ...InterceptorOption) *Interceptor {
	i := &Interceptor{
		objects:               objects,
		logger:                slog.Default(),
		prependServletContext: true,
		defaultSettingsType:   DefaultSettingsType,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// SetEnforcingMode enables the enforcing header. Report-only is the default.
func (i *Interceptor) SetEnforcingMode(enforcing bool) {
	i.enforcingMode = enforcing
}

// SetReportURI validates and sets where violation reports are sent. The URI
// must be absolute or start with "/".
func (i *Interceptor) SetReportURI(uri string) error {
	if err := ValidateReportURI(uri); err != nil {
		return err
	}
	i.reportURI = uri
	return nil
}

// SetReportTo sets the report group. It only takes effect with a report URI.
func (i *Interceptor) SetReportTo(group string) {
	i.reportTo = group
}

// SetPrependServletContext controls whether the request's context path is
// prepended to a root-relative report URI. Enabled by default.
func (i *Interceptor) SetPrependServletContext(prepend bool) {
	i.prependServletContext = prepend
}

// SetDefaultSettingsType sets the bean type used when the action does not
// supply its own settings.
func (i *Interceptor) SetDefaultSettingsType(typeName string) {
	i.defaultSettingsType = typeName
}

// ReportURI returns the configured report URI.
func (i *Interceptor) ReportURI() string {
	return i.reportURI
}

// Validate checks that the default settings type is registered and produces
// ports.CSPSettings.
func (i *Interceptor) Validate() error {
	if i.objects == nil || !i.objects.IsRegistered(i.defaultSettingsType) {
		return domain.NewConfigurationError(i.defaultSettingsType, "default CSP settings type must be a registered type").
			WithSource("csp interceptor defaultSettingsType")
	}
	ok, err := i.objects.Implements(i.defaultSettingsType, settingsType)
	if err != nil {
		return fmt.Errorf("check default CSP settings type: %w", err)
	}
	if !ok {
		return domain.NewConfigurationError(i.defaultSettingsType, "default CSP settings type must implement CSPSettings").
			WithSource("csp interceptor defaultSettingsType")
	}
	return nil
}

// Intercept resolves and configures the policy, queues the header hook and
// continues the chain.
func (i *Interceptor) Intercept(ctx context.Context, inv ports.ActionInvocation) (string, error) {
	settings, err := i.resolve(inv)
	if err != nil {
		return "", err
	}
	i.apply(inv, settings)
	return inv.Invoke(ctx)
}

func (i *Interceptor) resolve(inv ports.ActionInvocation) (ports.CSPSettings, error) {
	action := inv.Action()
	if aware, ok := action.(ports.CSPSettingsAware); ok {
		if settings := aware.CSPSettings(); settings != nil {
			i.logger.Debug("using CSP settings provided by the action",
				slog.String("action", inv.Config().Name))
			return settings, nil
		}
	}

	i.logger.Debug("using default CSP settings",
		slog.String("action", inv.Config().Name),
		slog.String("type", i.defaultSettingsType))

	if err := i.Validate(); err != nil {
		return nil, err
	}
	bean, err := i.objects.BuildBean(i.defaultSettingsType, inv.Context().Values)
	if err != nil {
		return nil, err
	}
	settings, ok := bean.(ports.CSPSettings)
	if !ok {
		return nil, domain.NewConfigurationError(i.defaultSettingsType, "default CSP settings type must implement CSPSettings").
			WithSource("csp interceptor defaultSettingsType")
	}
	return settings, nil
}

func (i *Interceptor) apply(inv ports.ActionInvocation, settings ports.CSPSettings) {
	ac := inv.Context()

	settings.SetEnforcingMode(i.enforcingMode)

	if i.reportURI != "" {
		reportURI := i.reportURI
		if i.prependServletContext && ac.ContextPath != "" && isRootRelative(reportURI) {
			reportURI = strings.TrimSuffix(ac.ContextPath, "/") + reportURI
		}
		settings.SetReportURI(reportURI)

		if i.reportTo != "" {
			settings.SetReportTo(i.reportTo)
		}
	}

	r, w := ac.Request, ac.Response
	inv.AddPreResultListener(func() {
		if w == nil {
			return
		}
		i.logger.Debug("applying CSP header", slog.Any("settings", settings))
		settings.AddHeaders(r, w)
		if n, ok := settings.(interface{ Nonce() string }); ok && ac.Values != nil {
			ac.Values[NonceKey] = n.Nonce()
		}
	})
}

// ValidateReportURI accepts absolute URIs and root-relative paths.
func ValidateReportURI(uri string) error {
	u, err := url.Parse(uri)
	if err == nil && strings.ContainsAny(uri, " \t\r\n\"<>\\^`{|}") {
		err = fmt.Errorf("illegal character in %q", uri)
	}
	if err != nil {
		return &domain.ArgumentError{
			Field:   "reportUri",
			Value:   uri,
			Message: "could not parse configured report URI for CSP interceptor",
			Err:     err,
		}
	}
	if !u.IsAbs() && !strings.HasPrefix(uri, "/") {
		return &domain.ArgumentError{
			Field:   "reportUri",
			Value:   uri,
			Message: "report URI is not relative to the root, set a report URI that starts with /",
		}
	}
	return nil
}

func isRootRelative(uri string) bool {
	return strings.HasPrefix(uri, "/") && !strings.HasPrefix(uri, "//")
}

// Ensure Interceptor implements the interface.
var _ ports.Interceptor = (*Interceptor)(nil)
