package result

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/tjfontaine/actiongate/internal/core/domain"
	"github.com/tjfontaine/actiongate/internal/core/ports"
	"github.com/tjfontaine/actiongate/internal/factory"
)

// fakeInvocation is a minimal ActionInvocation for executing results.
type fakeInvocation struct {
	ac *ports.ActionContext
}

func newFakeInvocation(r *http.Request, w http.ResponseWriter) *fakeInvocation {
	return &fakeInvocation{ac: &ports.ActionContext{Request: r, Response: w, Values: map[string]any{}}}
}

func (f *fakeInvocation) Action() any                                { return nil }
func (f *fakeInvocation) Config() domain.ActionConfig                { return domain.ActionConfig{} }
func (f *fakeInvocation) Context() *ports.ActionContext              { return f.ac }
func (f *fakeInvocation) Invoke(ctx context.Context) (string, error) { return "", nil }
func (f *fakeInvocation) AddPreResultListener(fn func())             {}

// countingFactory wraps a registry and counts BuildBean calls.
type countingFactory struct {
	*factory.Registry
	calls int
}

func (c *countingFactory) BuildBean(typeName string, extra map[string]any) (any, error) {
	c.calls++
	return c.Registry.BuildBean(typeName, extra)
}

// recordingResult implements Result and records its properties in set order.
type recordingResult struct {
	First  string
	Second string
	order  []string
}

func (r *recordingResult) SetProperty(name, value string) error {
	r.order = append(r.order, name)
	return nil
}

func (r *recordingResult) Execute(ctx context.Context, inv ports.ActionInvocation) error {
	return nil
}

// legacyOnly implements only the legacy contract.
type legacyOnly struct {
	Body string
}

func (l *legacyOnly) Render(w http.ResponseWriter, r *http.Request) error {
	_, err := w.Write([]byte("legacy:" + l.Body))
	return err
}

// notAResult implements neither contract.
type notAResult struct {
	Name string
}

func newTestFactory() (*Factory, *countingFactory) {
	reg := factory.NewRegistry()
	reg.RegisterFactory(factory.BeanFactory{
		Type:     "recording",
		Produces: reflect.TypeOf(&recordingResult{}),
		Create:   func(map[string]any) (any, error) { return &recordingResult{}, nil },
	})
	reg.RegisterFactory(factory.BeanFactory{
		Type:   "legacy",
		Create: func(map[string]any) (any, error) { return &legacyOnly{}, nil },
	})
	reg.RegisterFactory(factory.BeanFactory{
		Type:   "plain-struct",
		Create: func(map[string]any) (any, error) { return &notAResult{}, nil },
	})
	counting := &countingFactory{Registry: reg}
	return NewFactory(counting), counting
}

func TestFactory_BuildResult_NoType(t *testing.T) {
	f, objects := newTestFactory()

	r, err := f.BuildResult(domain.ResultConfig{Name: "success"}, nil)
	if err != nil {
		t.Fatalf("BuildResult() error = %v", err)
	}
	if r != nil {
		t.Errorf("expected no result, got %T", r)
	}
	if objects.calls != 0 {
		t.Errorf("expected no instantiation, got %d calls", objects.calls)
	}
}

func TestFactory_BuildResult_NativeResult(t *testing.T) {
	f, _ := newTestFactory()

	cfg := domain.ResultConfig{
		Name: "success",
		Type: "recording",
		Params: domain.NewParams(
			domain.Param{Name: "second", Value: "2"},
			domain.Param{Name: "first", Value: "1"},
			domain.Param{Name: "extra.b", Value: "x"},
			domain.Param{Name: "extra.a", Value: "y"},
		),
	}
	r, err := f.BuildResult(cfg, map[string]any{})
	if err != nil {
		t.Fatalf("BuildResult() error = %v", err)
	}

	rec, ok := r.(*recordingResult)
	if !ok {
		t.Fatalf("expected the bean itself, got %T", r)
	}
	if rec.First != "1" || rec.Second != "2" {
		t.Errorf("params not applied: %+v", rec)
	}
	if want := []string{"extra.b", "extra.a"}; !reflect.DeepEqual(rec.order, want) {
		t.Errorf("set order = %v, want %v", rec.order, want)
	}
}

func TestFactory_BuildResult_LegacyResultIsAdapted(t *testing.T) {
	f, _ := newTestFactory()

	cfg := domain.ResultConfig{
		Name:   "success",
		Type:   "legacy",
		Params: domain.NewParams(domain.Param{Name: "body", Value: "hi ${who}"}),
	}
	r, err := f.BuildResult(cfg, map[string]any{"who": "there"})
	if err != nil {
		t.Fatalf("BuildResult() error = %v", err)
	}
	if _, isLegacy := any(r).(*legacyOnly); isLegacy {
		t.Fatal("legacy bean must be wrapped")
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if err := r.Execute(context.Background(), newFakeInvocation(req, rec)); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := rec.Body.String(); got != "legacy:hi there" {
		t.Errorf("body = %q, want %q", got, "legacy:hi there")
	}
}

func TestFactory_BuildResult_NotAResult(t *testing.T) {
	f, _ := newTestFactory()

	cfg := domain.ResultConfig{Name: "error", Type: "plain-struct", Location: "actions[0].results[1]"}
	r, err := f.BuildResult(cfg, nil)
	if r != nil {
		t.Errorf("expected nil result, got %T", r)
	}
	var ce *domain.ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if ce.Type != "plain-struct" {
		t.Errorf("Type = %q, want plain-struct", ce.Type)
	}
	if !strings.Contains(err.Error(), "plain-struct") || !strings.Contains(err.Error(), "actions[0].results[1]") {
		t.Errorf("error should name the type and descriptor, got %q", err.Error())
	}
}

func TestFactory_BuildResult_InstantiationErrorPropagates(t *testing.T) {
	reg := factory.NewRegistry()
	boom := errors.New("constructor exploded")
	reg.RegisterFactory(factory.BeanFactory{
		Type:   "broken",
		Create: func(map[string]any) (any, error) { return nil, boom },
	})
	f := NewFactory(reg)

	_, err := f.BuildResult(domain.ResultConfig{Type: "broken"}, nil)
	if !errors.Is(err, boom) {
		t.Errorf("expected constructor error, got %v", err)
	}
	if domain.IsConfigurationError(err) {
		t.Error("instantiation failures must not be turned into configuration errors")
	}
}

func TestFactory_BuildResult_UnknownType(t *testing.T) {
	f, _ := newTestFactory()

	_, err := f.BuildResult(domain.ResultConfig{Type: "missing"}, nil)
	var unknown *factory.UnknownTypeError
	if !errors.As(err, &unknown) {
		t.Errorf("expected UnknownTypeError, got %v", err)
	}
}
