// Package factory provides the bean registry used to instantiate actions,
// results and CSP settings from the type identifiers found in configuration.
//
// # Adding a New Bean Type
//
// Packages expose an explicit registration function that calls
// Registry.RegisterFactory, wired from cmd (or tests) so that nothing is
// registered through init() side effects:
//
//	func RegisterBuiltins(r *factory.Registry) {
//	    if r.IsRegistered(JSONType) {
//	        return
//	    }
//	    r.RegisterFactory(factory.BeanFactory{
//	        Type:        JSONType,
//	        Description: "Renders a context value as JSON",
//	        Produces:    reflect.TypeOf(&JSONResult{}),
//	        Create:      func(map[string]any) (any, error) { return &JSONResult{}, nil },
//	    })
//	}
package factory

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/tjfontaine/actiongate/internal/core/ports"
)

// BeanFactory defines how to create a bean of a specific type.
type BeanFactory struct {
	// Type is the type identifier used in configuration
	// (e.g., "json", "redirect", "csp.default")
	Type string

	// Description provides a human-readable description of the bean
	Description string

	// Produces is the concrete type Create returns. It lets callers check
	// which contracts a type satisfies without instantiating it.
	// Optional: when nil, Implements has to build a throwaway instance.
	Produces reflect.Type

	// Create instantiates a new bean. extra carries the request-scoped
	// construction context and may be nil.
	Create func(extra map[string]any) (any, error)
}

// Registry holds registered bean factories. The zero value is not usable;
// create one with NewRegistry.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]BeanFactory
	list []BeanFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]BeanFactory)}
}

// RegisterFactory registers a bean factory.
// Panics if the type is empty, Create is nil, or the type is already registered.
func (r *Registry) RegisterFactory(f BeanFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f.Type == "" {
		panic("bean factory type cannot be empty")
	}
	if f.Create == nil {
		panic(fmt.Sprintf("bean factory %q must have a Create function", f.Type))
	}
	if _, exists := r.byID[f.Type]; exists {
		panic(fmt.Sprintf("bean factory %q already registered", f.Type))
	}

	r.byID[f.Type] = f
	r.list = append(r.list, f)
}

// GetFactory returns the factory for a bean type, if registered.
func (r *Registry) GetFactory(typeName string) (BeanFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.byID[typeName]
	return f, ok
}

// ListFactories returns all registered factories sorted by type.
func (r *Registry) ListFactories() []BeanFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]BeanFactory, len(r.list))
	copy(result, r.list)
	sort.Slice(result, func(i, j int) bool {
		return result[i].Type < result[j].Type
	})
	return result
}

// ListTypes returns all registered type names, sorted.
func (r *Registry) ListTypes() []string {
	factories := r.ListFactories()
	types := make([]string, len(factories))
	for i, f := range factories {
		types[i] = f.Type
	}
	return types
}

// IsRegistered returns true if a bean type is registered.
func (r *Registry) IsRegistered(typeName string) bool {
	_, ok := r.GetFactory(typeName)
	return ok
}

// Implements reports whether beans of typeName satisfy iface, which must be
// an interface type (see TypeOf). It fails if typeName is not registered.
func (r *Registry) Implements(typeName string, iface reflect.Type) (bool, error) {
	f, ok := r.GetFactory(typeName)
	if !ok {
		return false, r.unknown(typeName)
	}
	if iface == nil || iface.Kind() != reflect.Interface {
		return false, fmt.Errorf("implements check for %s: %v is not an interface type", typeName, iface)
	}

	if f.Produces != nil {
		return f.Produces.Implements(iface), nil
	}

	bean, err := f.Create(nil)
	if err != nil {
		return false, fmt.Errorf("probe bean %s: %w", typeName, err)
	}
	if bean == nil {
		return false, nil
	}
	return reflect.TypeOf(bean).Implements(iface), nil
}

// BuildBean creates a bean using the registered factory.
func (r *Registry) BuildBean(typeName string, extra map[string]any) (any, error) {
	f, ok := r.GetFactory(typeName)
	if !ok {
		return nil, r.unknown(typeName)
	}

	bean, err := f.Create(extra)
	if err != nil {
		return nil, fmt.Errorf("create bean %s: %w", typeName, err)
	}
	if bean == nil {
		return nil, fmt.Errorf("create bean %s: factory returned nil", typeName)
	}
	return bean, nil
}

func (r *Registry) unknown(typeName string) error {
	return &UnknownTypeError{Type: typeName, Registered: r.ListTypes()}
}

// UnknownTypeError is returned when a type identifier has no registered factory.
type UnknownTypeError struct {
	Type       string
	Registered []string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown bean type: %s (registered types: %v)", e.Type, e.Registered)
}

// TypeOf returns the reflect.Type of the interface T, for use with Implements.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Ensure Registry implements the interface.
var _ ports.ObjectFactory = (*Registry)(nil)
