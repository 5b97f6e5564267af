// Package ports defines the core interfaces for the action pipeline.
// This file contains the invocation, interceptor and result contracts plus
// the optional capabilities a bean may implement.
package ports

import (
	"context"
	"net/http"

	"github.com/tjfontaine/actiongate/internal/core/domain"
)

// ActionContext carries the request-scoped state of one invocation.
type ActionContext struct {
	// Request is the inbound HTTP request
	Request *http.Request

	// Response is where the result renders
	Response http.ResponseWriter

	// ContextPath is the path prefix the application is mounted under
	// ("" when mounted at the root)
	ContextPath string

	// Values holds request-scoped values available to results and binding
	// (action output, path parameters, request id, ...)
	Values map[string]any
}

// Action executes business logic and returns a result code.
type Action interface {
	Execute(ctx context.Context) (string, error)
}

// Interceptor wraps an invocation. It either calls inv.Invoke to continue the
// chain or returns a result code to short-circuit it.
type Interceptor interface {
	Intercept(ctx context.Context, inv ActionInvocation) (string, error)
}

// InterceptorFunc adapts a function to the Interceptor interface.
type InterceptorFunc func(ctx context.Context, inv ActionInvocation) (string, error)

// Intercept calls f(ctx, inv).
func (f InterceptorFunc) Intercept(ctx context.Context, inv ActionInvocation) (string, error) {
	return f(ctx, inv)
}

// ActionInvocation is one pass of a request through the interceptor stack,
// the action and the selected result.
type ActionInvocation interface {
	// Action returns the action bean being invoked.
	Action() any
	// Config returns the action's configuration.
	Config() domain.ActionConfig
	// Context returns the request-scoped state.
	Context() *ActionContext
	// Invoke continues the chain: the next interceptor, or the action and
	// its result once the stack is exhausted.
	Invoke(ctx context.Context) (string, error)
	// AddPreResultListener queues fn to run once, right before the result
	// renders. Listeners run in registration order.
	AddPreResultListener(fn func())
}

// Result renders the response for an invocation.
type Result interface {
	Execute(ctx context.Context, inv ActionInvocation) error
}

// LegacyResult is the narrower, request/response-only rendering contract.
// It is adapted into a Result when built from configuration.
type LegacyResult interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// ParamNameAware is implemented by beans that veto some configured
// parameters before they are bound.
type ParamNameAware interface {
	AcceptableParameterName(name, value string) bool
}

// ReflectionErrorHandler is implemented by beans that want to observe
// per-parameter binding failures instead of having them discarded.
type ReflectionErrorHandler interface {
	Handle(err error)
}

// ObjectFactory instantiates beans from a type identifier.
type ObjectFactory interface {
	BuildBean(typeName string, extra map[string]any) (any, error)
}

// ResultFactory turns a result descriptor into a Result. A nil Result with
// a nil error means the descriptor intentionally renders nothing.
type ResultFactory interface {
	BuildResult(cfg domain.ResultConfig, extra map[string]any) (Result, error)
}

// ActionContextAware is implemented by actions that need the request-scoped
// state. It is called once, before the interceptor stack runs.
type ActionContextAware interface {
	SetActionContext(ac *ActionContext)
}
