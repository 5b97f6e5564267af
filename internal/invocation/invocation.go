// Package invocation runs one request through an action's interceptor stack,
// the action itself and the result selected by the returned code.
package invocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/actiongate/internal/core/domain"
	"github.com/tjfontaine/actiongate/internal/core/ports"
)

const tracerName = "github.com/tjfontaine/actiongate/internal/invocation"

// ErrAlreadyExecuted is returned when Invoke is called after the result has
// already been executed.
var ErrAlreadyExecuted = errors.New("invocation: result already executed")

// NamedInterceptor pairs an interceptor with the name it was configured under.
type NamedInterceptor struct {
	Name        string
	Interceptor ports.Interceptor
}

// Config holds everything needed to create an Invocation.
type Config struct {
	Action       any
	ActionConfig domain.ActionConfig
	Context      *ports.ActionContext
	Interceptors []NamedInterceptor
	Results      ports.ResultFactory
	Logger       *slog.Logger
}

// Invocation is a single pass through the pipeline. It is not safe for
// concurrent use and must not be reused across requests.
type Invocation struct {
	action       any
	cfg          domain.ActionConfig
	ac           *ports.ActionContext
	interceptors []NamedInterceptor
	results      ports.ResultFactory
	logger       *slog.Logger
	tracer       trace.Tracer

	next       int
	executed   bool
	resultCode string
	listeners  []func()
}

// New creates an invocation.
func New(cfg Config) *Invocation {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ac := cfg.Context
	if ac == nil {
		ac = &ports.ActionContext{}
	}
	if ac.Values == nil {
		ac.Values = make(map[string]any)
	}
	if aware, ok := cfg.Action.(ports.ActionContextAware); ok {
		aware.SetActionContext(ac)
	}

	return &Invocation{
		action:       cfg.Action,
		cfg:          cfg.ActionConfig,
		ac:           ac,
		interceptors: cfg.Interceptors,
		results:      cfg.Results,
		logger:       logger,
		tracer:       otel.Tracer(tracerName),
	}
}

// Action returns the action bean.
func (i *Invocation) Action() any {
	return i.action
}

// Config returns the action configuration.
func (i *Invocation) Config() domain.ActionConfig {
	return i.cfg
}

// Context returns the request-scoped state.
func (i *Invocation) Context() *ports.ActionContext {
	return i.ac
}

// ResultCode returns the code that selected (or will select) the result.
func (i *Invocation) ResultCode() string {
	return i.resultCode
}

// Executed reports whether the result stage has run.
func (i *Invocation) Executed() bool {
	return i.executed
}

// AddPreResultListener queues fn to run once, right before the result renders.
func (i *Invocation) AddPreResultListener(fn func()) {
	if fn == nil {
		return
	}
	i.listeners = append(i.listeners, fn)
}

// Invoke runs the next interceptor, or the action once the stack is
// exhausted. Whichever frame returns first without an error triggers the
// result stage: pre-result listeners, then the result mapped to the code.
// An error from any frame aborts the pass without rendering.
func (i *Invocation) Invoke(ctx context.Context) (string, error) {
	if i.executed {
		return i.resultCode, ErrAlreadyExecuted
	}

	var code string
	var err error
	if i.next < len(i.interceptors) {
		ic := i.interceptors[i.next]
		i.next++
		code, err = i.intercept(ctx, ic)
	} else {
		code, err = i.invokeAction(ctx)
	}
	if err != nil {
		return "", err
	}

	// An inner frame may already have rendered.
	if i.executed {
		return i.resultCode, nil
	}

	i.resultCode = code
	i.executed = true
	i.firePreResultListeners()
	if err := i.executeResult(ctx); err != nil {
		return code, err
	}
	return code, nil
}

func (i *Invocation) intercept(ctx context.Context, ic NamedInterceptor) (string, error) {
	ctx, span := i.tracer.Start(ctx, "interceptor "+ic.Name,
		trace.WithAttributes(attribute.String("actiongate.action", i.cfg.Name)))
	defer span.End()

	code, err := ic.Interceptor.Intercept(ctx, i)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return code, err
}

func (i *Invocation) invokeAction(ctx context.Context) (string, error) {
	action, ok := i.action.(ports.Action)
	if !ok {
		return "", domain.NewConfigurationError(i.cfg.Type, "does not implement Action").
			WithSource(fmt.Sprintf("action %q", i.cfg.Name))
	}

	ctx, span := i.tracer.Start(ctx, "action "+i.cfg.Name)
	defer span.End()

	code, err := action.Execute(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("action %s: %w", i.cfg.Name, err)
	}
	span.SetAttributes(attribute.String("actiongate.result_code", code))
	return code, nil
}

func (i *Invocation) firePreResultListeners() {
	listeners := i.listeners
	i.listeners = nil
	for _, fn := range listeners {
		fn()
	}
}

func (i *Invocation) executeResult(ctx context.Context) error {
	if i.resultCode == domain.ResultNone {
		return nil
	}

	rc, ok := i.cfg.Result(i.resultCode)
	if !ok {
		return &ResultNotFoundError{Action: i.cfg.Name, Code: i.resultCode}
	}
	if i.results == nil {
		return errors.New("invocation: no result factory configured")
	}

	result, err := i.results.BuildResult(rc, i.ac.Values)
	if err != nil {
		return fmt.Errorf("build result %q for action %s: %w", i.resultCode, i.cfg.Name, err)
	}
	if result == nil {
		i.logger.Debug("result renders nothing",
			slog.String("action", i.cfg.Name),
			slog.String("code", i.resultCode))
		return nil
	}

	ctx, span := i.tracer.Start(ctx, "result "+i.resultCode,
		trace.WithAttributes(attribute.String("actiongate.result_type", rc.Type)))
	defer span.End()

	if err := result.Execute(ctx, i); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("execute result %q for action %s: %w", i.resultCode, i.cfg.Name, err)
	}
	return nil
}

// ResultNotFoundError is returned when an action or interceptor returns a
// code that has no configured result.
type ResultNotFoundError struct {
	Action string
	Code   string
}

func (e *ResultNotFoundError) Error() string {
	return fmt.Sprintf("no result defined for action %s and result code %q", e.Action, e.Code)
}

// IsResultNotFound returns true if err is a ResultNotFoundError.
func IsResultNotFound(err error) bool {
	var rnf *ResultNotFoundError
	return errors.As(err, &rnf)
}

// Ensure Invocation implements the interface.
var _ ports.ActionInvocation = (*Invocation)(nil)
