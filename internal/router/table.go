package router

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/actiongate/internal/bind"
	"github.com/tjfontaine/actiongate/internal/core/domain"
	"github.com/tjfontaine/actiongate/internal/core/ports"
	"github.com/tjfontaine/actiongate/internal/factory"
	"github.com/tjfontaine/actiongate/internal/interceptor"
	"github.com/tjfontaine/actiongate/internal/invocation"
	"github.com/tjfontaine/actiongate/internal/pkg/config"
	"github.com/tjfontaine/actiongate/internal/server"
)

// RequestIDKey is the action context value holding the request ID.
const RequestIDKey = "requestId"

// Options are the collaborators a routing table is built with.
type Options struct {
	Objects *factory.Registry
	Results ports.ResultFactory
	// Binder applies action params. Defaults to a tolerant binder.
	Binder *bind.Binder
	// StrictBinder applies interceptor params at build time so bad values
	// fail the build. Defaults to a strict binder.
	StrictBinder *bind.Binder
	ContextPath  string
	Logger       *slog.Logger
}

// Table is the immutable set of routes built from one configuration.
type Table struct {
	mux          *chi.Mux
	objects      *factory.Registry
	results      ports.ResultFactory
	binder       *bind.Binder
	contextPath  string
	logger       *slog.Logger
	interceptors map[string]ports.Interceptor
	actions      []domain.ActionConfig
}

type validator interface {
	Validate() error
}

var (
	actionType       = factory.TypeOf[ports.Action]()
	resultType       = factory.TypeOf[ports.Result]()
	legacyResultType = factory.TypeOf[ports.LegacyResult]()
)

// Build instantiates the configured interceptors, checks every action and
// result type against the registry and registers one route per action.
// All problems are reported together.
func Build(cfg *config.Config, opts Options) (*Table, error) {
	if opts.Objects == nil {
		return nil, errors.New("router: object factory is required")
	}
	if opts.Results == nil {
		return nil, errors.New("router: result factory is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	binder := opts.Binder
	if binder == nil {
		binder = bind.New(bind.WithLogger(logger))
	}
	strict := opts.StrictBinder
	if strict == nil {
		strict = bind.New(bind.WithStrict(), bind.WithLogger(logger))
	}

	t := &Table{
		mux:          chi.NewRouter(),
		objects:      opts.Objects,
		results:      opts.Results,
		binder:       binder,
		contextPath:  strings.TrimSuffix(opts.ContextPath, "/"),
		logger:       logger,
		interceptors: make(map[string]ports.Interceptor, len(cfg.Interceptors)),
	}

	var errs []error
	for i, ic := range cfg.Interceptors {
		it, err := t.buildInterceptor(i, ic, strict)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		t.interceptors[ic.Name] = it
	}

	for i, ac := range cfg.Actions {
		action := ac.Domain(i)
		if err := t.checkAction(i, action); err != nil {
			errs = append(errs, err)
			continue
		}

		stack := make([]invocation.NamedInterceptor, 0, len(action.Interceptors))
		for _, name := range action.Interceptors {
			it, ok := t.interceptors[name]
			if !ok {
				// Missing because it failed to build (reported above) or
				// was never declared.
				continue
			}
			stack = append(stack, invocation.NamedInterceptor{Name: name, Interceptor: it})
		}

		t.mux.Method(action.Method, action.Path, t.serve(action, stack))
		t.actions = append(t.actions, action)
		logger.Debug("registered action",
			slog.String("action", action.Name),
			slog.String("method", action.Method),
			slog.String("path", action.Path),
			slog.Int("interceptors", len(stack)))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Table) buildInterceptor(i int, ic config.InterceptorConfig, strict *bind.Binder) (ports.Interceptor, error) {
	source := fmt.Sprintf("interceptors[%d] (%s)", i, ic.Name)

	bean, err := t.objects.BuildBean(ic.Type, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	if params := config.Params(ic.Params); params.Len() > 0 {
		if err := strict.Bind(bean, nil, params); err != nil {
			return nil, fmt.Errorf("%s: %w", source, err)
		}
	}

	it, ok := bean.(ports.Interceptor)
	if !ok {
		return nil, domain.NewConfigurationError(ic.Type, "does not implement Interceptor").WithSource(source)
	}
	if v, ok := bean.(validator); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", source, err)
		}
	}
	return it, nil
}

func (t *Table) checkAction(i int, action domain.ActionConfig) error {
	source := fmt.Sprintf("actions[%d] (%s)", i, action.Name)

	var errs []error
	ok, err := t.objects.Implements(action.Type, actionType)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("%s: %w", source, err))
	case !ok:
		errs = append(errs, domain.NewConfigurationError(action.Type, "does not implement Action").WithSource(source))
	}

	for _, rc := range action.Results {
		if rc.Type == "" {
			continue
		}
		isResult, err := t.objects.Implements(rc.Type, resultType)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rc.Location, err))
			continue
		}
		isLegacy, _ := t.objects.Implements(rc.Type, legacyResultType)
		if !isResult && !isLegacy {
			errs = append(errs, domain.NewConfigurationError(rc.Type, "does not implement Result").WithSource(rc.String()))
		}
	}
	return errors.Join(errs...)
}

// Actions returns the action configurations served by the table.
func (t *Table) Actions() []domain.ActionConfig {
	return t.actions
}

// Interceptor returns the configured interceptor instance with the given
// name.
func (t *Table) Interceptor(name string) (ports.Interceptor, bool) {
	it, ok := t.interceptors[name]
	return it, ok
}

func (t *Table) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.mux.ServeHTTP(w, r)
}

func (t *Table) serve(action domain.ActionConfig, stack []invocation.NamedInterceptor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		server.AddLogField(ctx, "action", action.Name)

		values := map[string]any{
			interceptor.PathParamsKey: pathParams(r),
			RequestIDKey:              server.GetRequestID(ctx),
		}

		bean, err := t.objects.BuildBean(action.Type, values)
		if err != nil {
			t.fail(w, r, action, err)
			return
		}
		if action.Params.Len() > 0 {
			if err := t.binder.Bind(bean, values, action.Params); err != nil {
				t.fail(w, r, action, err)
				return
			}
		}

		tw := &trackingWriter{ResponseWriter: w}
		inv := invocation.New(invocation.Config{
			Action:       bean,
			ActionConfig: action,
			Context: &ports.ActionContext{
				Request:     r,
				Response:    tw,
				ContextPath: t.contextPath,
				Values:      values,
			},
			Interceptors: stack,
			Results:      t.results,
			Logger:       t.logger,
		})

		code, err := inv.Invoke(ctx)
		server.AddLogField(ctx, "result", code)
		if err != nil {
			if tw.wrote {
				// Part of the response is already out; only log.
				server.AddError(ctx, err)
				t.logError(r, action, err)
				return
			}
			t.fail(tw, r, action, err)
		}
	}
}

func (t *Table) fail(w http.ResponseWriter, r *http.Request, action domain.ActionConfig, err error) {
	server.AddError(r.Context(), err)
	t.logError(r, action, err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func (t *Table) logError(r *http.Request, action domain.ActionConfig, err error) {
	msg := "action failed"
	switch {
	case domain.IsConfigurationError(err):
		msg = "action misconfigured"
	case invocation.IsResultNotFound(err):
		msg = "no result mapped for code"
	}
	t.logger.ErrorContext(r.Context(), msg,
		slog.String("action", action.Name),
		slog.String("error", err.Error()))
}

// pathParams returns the URL parameters of the matched route. The mount
// wildcard is left out.
func pathParams(r *http.Request) map[string]string {
	params := make(map[string]string)
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return params
	}
	for i, k := range rctx.URLParams.Keys {
		if i >= len(rctx.URLParams.Values) {
			break
		}
		v := rctx.URLParams.Values[i]
		if k == "*" && v == "" {
			continue
		}
		params[k] = v
	}
	return params
}

// trackingWriter records whether anything reached the client.
type trackingWriter struct {
	http.ResponseWriter
	wrote bool
}

func (w *trackingWriter) WriteHeader(code int) {
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *trackingWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}

func (w *trackingWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		w.wrote = true
		f.Flush()
	}
}

func (w *trackingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
