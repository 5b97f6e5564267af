package interceptor

import (
	"log/slog"
	"reflect"

	"github.com/tjfontaine/actiongate/internal/bind"
	"github.com/tjfontaine/actiongate/internal/factory"
)

// Interceptor bean types.
const (
	ParamsType = "params"
	TimerType  = "timer"
)

// RegisterBuiltins registers the params and timer interceptors. Params
// interceptors bind request values with binder.
func RegisterBuiltins(r *factory.Registry, binder *bind.Binder, logger *slog.Logger) {
	if !r.IsRegistered(ParamsType) {
		r.RegisterFactory(factory.BeanFactory{
			Type:        ParamsType,
			Description: "Binds path, query and form parameters onto the action",
			Produces:    reflect.TypeOf(&Params{}),
			Create:      func(map[string]any) (any, error) { return NewParams(binder, logger), nil },
		})
	}
	if !r.IsRegistered(TimerType) {
		r.RegisterFactory(factory.BeanFactory{
			Type:        TimerType,
			Description: "Logs the duration of the action and its result",
			Produces:    reflect.TypeOf(&Timer{}),
			Create:      func(map[string]any) (any, error) { return NewTimer(logger), nil },
		})
	}
}
