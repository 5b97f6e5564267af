package interceptor

import (
	"context"
	"log/slog"
	"time"

	"github.com/tjfontaine/actiongate/internal/core/ports"
)

// Timer logs how long the rest of the chain took, including the result.
type Timer struct {
	// Threshold suppresses entries for invocations faster than it.
	Threshold time.Duration
	// Level is the slog level name ("debug", "info", "warn").
	Level string

	logger *slog.Logger
	now    func() time.Time
}

// NewTimer creates a timer logging at info level.
func NewTimer(logger *slog.Logger) *Timer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Timer{Level: "info", logger: logger, now: time.Now}
}

// Intercept implements ports.Interceptor.
func (t *Timer) Intercept(ctx context.Context, inv ports.ActionInvocation) (string, error) {
	start := t.now()
	code, err := inv.Invoke(ctx)
	elapsed := t.now().Sub(start)

	if elapsed < t.Threshold {
		return code, err
	}

	var level slog.Level
	if lerr := level.UnmarshalText([]byte(t.Level)); lerr != nil {
		level = slog.LevelInfo
	}
	attrs := []slog.Attr{
		slog.String("action", inv.Config().Name),
		slog.String("code", code),
		slog.Duration("duration", elapsed),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	t.logger.LogAttrs(ctx, level, "action executed", attrs...)
	return code, err
}

var _ ports.Interceptor = (*Timer)(nil)
