// Package bind applies string-valued configuration parameters onto beans.
//
// Each target type gets a property table built once from its exported
// setter methods and struct fields. A setter is a pointer method named
// SetXxx taking one argument and returning nothing or an error; it backs the
// property "xxx" and wins over a field of the same name. A field is
// addressed by its `param:"name"` tag, or by its name with the first letter
// lowered (StatusCode -> statusCode). Fields tagged `param:"-"` cannot be
// bound. Values are converted with weak typing,
// so "true", "302", "1.5", "5s", "a,b,c" and "https://x/y" all land in
// fields of the matching Go type.
//
// Binding is tolerant by default: a parameter that cannot be applied is
// reported to the target's ports.ReflectionErrorHandler, if it has one, and
// otherwise dropped. WithStrict turns the first failure into the result of
// Bind instead.
package bind

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/tjfontaine/actiongate/internal/core/domain"
	"github.com/tjfontaine/actiongate/internal/core/ports"
)

// TagName is the struct tag that names a bindable property.
const TagName = "param"

// PropertySetter is implemented by beans that accept properties outside
// their struct fields (for example "headers.X-Frame-Options"). It is only
// consulted for names that do not match a field.
type PropertySetter interface {
	SetProperty(name, value string) error
}

// Binder binds parameters onto beans. It is safe for concurrent use; the
// per-type property tables are shared.
type Binder struct {
	strict bool
	logger *slog.Logger
	tables sync.Map // reflect.Type -> *propertyTable
}

// Option configures a Binder.
type Option func(*Binder)

// WithStrict makes Bind stop at, and return, the first failing parameter.
// The target's error handler is still notified.
func WithStrict() Option {
	return func(b *Binder) {
		b.strict = true
	}
}

// WithLogger sets the logger used for discarded binding errors.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Binder) {
		b.logger = logger
	}
}

// New creates a Binder.
func New(opts ...Option) *Binder {
	b := &Binder{logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Bind applies params onto target in insertion order. bindingContext
// resolves ${key} placeholders inside values and is never modified.
// In tolerant mode Bind always returns nil.
func (b *Binder) Bind(target any, bindingContext map[string]any, params domain.Params) error {
	aware, _ := target.(ports.ParamNameAware)
	handler, _ := target.(ports.ReflectionErrorHandler)

	for _, p := range params.Pairs() {
		if aware != nil && !aware.AcceptableParameterName(p.Name, p.Value) {
			continue
		}

		err := b.SetProperty(target, p.Name, ExpandPlaceholders(p.Value, bindingContext))
		if err == nil {
			continue
		}

		if handler != nil {
			handler.Handle(err)
		} else {
			b.logger.Debug("discarding parameter binding error",
				slog.String("target", fmt.Sprintf("%T", target)),
				slog.String("property", p.Name),
				slog.String("error", err.Error()))
		}
		if b.strict {
			return err
		}
	}
	return nil
}

// SetProperty converts value and stores it in the property called name.
// Failures are returned as *PropertyError.
func (b *Binder) SetProperty(target any, name, value string) error {
	v := reflect.ValueOf(target)
	if !v.IsValid() || v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return newPropertyError(target, name, value, ErrInvalidTarget, nil)
	}

	table := b.tableFor(v.Elem().Type())
	prop, ok := table.lookup(name)
	if !ok {
		if setter, ok := target.(PropertySetter); ok {
			if err := setter.SetProperty(name, value); err != nil {
				return newPropertyError(target, name, value, ErrConversion, err)
			}
			return nil
		}
		return newPropertyError(target, name, value, ErrUnknownProperty, nil)
	}

	if prop.setter >= 0 {
		arg := reflect.New(prop.argType).Elem()
		if err := convert(value, arg); err != nil {
			return newPropertyError(target, name, value, ErrConversion, err)
		}
		out := v.Method(prop.setter).Call([]reflect.Value{arg})
		if len(out) == 1 && !out[0].IsNil() {
			return newPropertyError(target, name, value, ErrSetterFailed, out[0].Interface().(error))
		}
		return nil
	}

	field, err := v.Elem().FieldByIndexErr(prop.index)
	if err != nil {
		return newPropertyError(target, name, value, ErrInvalidTarget, err)
	}
	if err := convert(value, field); err != nil {
		return newPropertyError(target, name, value, ErrConversion, err)
	}
	return nil
}

// Properties returns the bindable property names of target's type: setters
// in method-name order, then fields in declaration order.
func (b *Binder) Properties(target any) []string {
	t := reflect.TypeOf(target)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}
	table := b.tableFor(t)
	out := make([]string, len(table.order))
	copy(out, table.order)
	return out
}

func (b *Binder) tableFor(t reflect.Type) *propertyTable {
	if cached, ok := b.tables.Load(t); ok {
		return cached.(*propertyTable)
	}
	table := buildPropertyTable(t)
	actual, _ := b.tables.LoadOrStore(t, table)
	return actual.(*propertyTable)
}

type property struct {
	name    string
	index   []int
	setter  int // method index on the pointer type, -1 for fields
	argType reflect.Type
}

type propertyTable struct {
	exact map[string]property
	fold  map[string]property
	order []string
}

func (t *propertyTable) lookup(name string) (property, bool) {
	if p, ok := t.exact[name]; ok {
		return p, true
	}
	p, ok := t.fold[strings.ToLower(name)]
	return p, ok
}

func buildPropertyTable(t reflect.Type) *propertyTable {
	table := &propertyTable{
		exact: make(map[string]property),
		fold:  make(map[string]property),
	}
	add := func(p property) {
		if _, dup := table.exact[p.name]; dup {
			return
		}
		table.exact[p.name] = p
		table.fold[strings.ToLower(p.name)] = p
		table.order = append(table.order, p.name)
	}

	pt := reflect.PointerTo(t)
	for i := 0; i < pt.NumMethod(); i++ {
		m := pt.Method(i)
		if name, argType, ok := setterSignature(m); ok {
			add(property{name: name, setter: i, argType: argType})
		}
	}

	for _, f := range reflect.VisibleFields(t) {
		if f.Anonymous || !f.IsExported() {
			continue
		}
		name := f.Tag.Get(TagName)
		if name == "-" {
			continue
		}
		if name == "" {
			name = lowerFirst(f.Name)
		}
		add(property{name: name, index: f.Index, setter: -1})
	}
	return table
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// setterSignature matches func (*T) SetXxx(v V) [error].
func setterSignature(m reflect.Method) (string, reflect.Type, bool) {
	rest, ok := strings.CutPrefix(m.Name, "Set")
	if !ok || rest == "" || !unicode.IsUpper(rune(rest[0])) {
		return "", nil, false
	}
	// In is counted with the receiver.
	if m.Type.NumIn() != 2 {
		return "", nil, false
	}
	switch m.Type.NumOut() {
	case 0:
	case 1:
		if m.Type.Out(0) != errorType {
			return "", nil, false
		}
	default:
		return "", nil, false
	}
	return lowerFirst(rest), m.Type.In(1), true
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

var placeholderPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ExpandPlaceholders replaces ${key} with the value of key in values.
// Placeholders without a matching key are left untouched.
func ExpandPlaceholders(s string, values map[string]any) string {
	if len(values) == 0 || !strings.Contains(s, "${") {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		v, ok := values[key]
		if !ok || v == nil {
			return match
		}
		return fmt.Sprint(v)
	})
}

// Sentinel errors classifying a PropertyError.
var (
	ErrUnknownProperty = errors.New("unknown property")
	ErrConversion      = errors.New("value conversion failed")
	ErrInvalidTarget   = errors.New("target is not a pointer to a struct")
	ErrSetterFailed    = errors.New("setter rejected value")
)

// PropertyError reports a parameter that could not be applied.
type PropertyError struct {
	Target   string
	Property string
	Value    string
	Kind     error
	Err      error
}

func newPropertyError(target any, name, value string, kind, err error) *PropertyError {
	return &PropertyError{
		Target:   fmt.Sprintf("%T", target),
		Property: name,
		Value:    value,
		Kind:     kind,
		Err:      err,
	}
}

func (e *PropertyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("set property %q on %s to %q: %v: %v", e.Property, e.Target, e.Value, e.Kind, e.Err)
	}
	return fmt.Sprintf("set property %q on %s to %q: %v", e.Property, e.Target, e.Value, e.Kind)
}

// Unwrap exposes both the classification and the cause to errors.Is/As.
func (e *PropertyError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
