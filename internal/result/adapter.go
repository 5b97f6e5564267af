package result

import (
	"context"
	"errors"

	"github.com/tjfontaine/actiongate/internal/core/ports"
)

// legacyAdapter presents a LegacyResult as a Result. It holds no state of
// its own.
type legacyAdapter struct {
	legacy ports.LegacyResult
}

// Adapt wraps a LegacyResult so it can be executed as a Result.
func Adapt(l ports.LegacyResult) ports.Result {
	return legacyAdapter{legacy: l}
}

// Execute renders the wrapped result against the invocation's request and
// response.
func (a legacyAdapter) Execute(ctx context.Context, inv ports.ActionInvocation) error {
	ac := inv.Context()
	if ac == nil || ac.Response == nil || ac.Request == nil {
		return errors.New("legacy result: invocation has no request/response")
	}
	return a.legacy.Render(ac.Response, ac.Request.WithContext(ctx))
}

// Unwrap returns the adapted LegacyResult.
func (a legacyAdapter) Unwrap() ports.LegacyResult {
	return a.legacy
}
