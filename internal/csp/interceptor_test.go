package csp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/tjfontaine/actiongate/internal/bind"
	"github.com/tjfontaine/actiongate/internal/core/domain"
	"github.com/tjfontaine/actiongate/internal/core/ports"
	"github.com/tjfontaine/actiongate/internal/factory"
)

// ============================================================================
// Test doubles
// ============================================================================

// fakeInvocation records listeners and whether the chain continued.
type fakeInvocation struct {
	action    any
	ac        *ports.ActionContext
	listeners []func()
	invoked   bool
	code      string
}

func newFakeInvocation(action any, contextPath string) *fakeInvocation {
	return &fakeInvocation{
		action: action,
		ac: &ports.ActionContext{
			Request:     httptest.NewRequest(http.MethodGet, contextPath+"/page", nil),
			Response:    httptest.NewRecorder(),
			ContextPath: contextPath,
			Values:      map[string]any{},
		},
		code: domain.ResultSuccess,
	}
}

func (f *fakeInvocation) Action() any                    { return f.action }
func (f *fakeInvocation) Config() domain.ActionConfig    { return domain.ActionConfig{Name: "page"} }
func (f *fakeInvocation) Context() *ports.ActionContext  { return f.ac }
func (f *fakeInvocation) AddPreResultListener(fn func()) { f.listeners = append(f.listeners, fn) }
func (f *fakeInvocation) Invoke(ctx context.Context) (string, error) {
	f.invoked = true
	return f.code, nil
}

// render runs the listeners the way the invocation does before a result.
func (f *fakeInvocation) render() {
	for _, fn := range f.listeners {
		fn()
	}
}

func (f *fakeInvocation) header() http.Header {
	return f.ac.Response.(*httptest.ResponseRecorder).Header()
}

// recordingSettings is a CSPSettings supplied by an action.
type recordingSettings struct {
	enforcing bool
	reportURI string
	reportTo  string
	added     int
}

func (s *recordingSettings) SetEnforcingMode(e bool) { s.enforcing = e }
func (s *recordingSettings) SetReportURI(u string)   { s.reportURI = u }
func (s *recordingSettings) SetReportTo(g string)    { s.reportTo = g }
func (s *recordingSettings) AddHeaders(r *http.Request, w http.ResponseWriter) {
	s.added++
	w.Header().Set("X-Test-Policy", s.reportURI)
}

type awareAction struct {
	settings *recordingSettings
}

func (a *awareAction) Execute(ctx context.Context) (string, error) { return domain.ResultSuccess, nil }
func (a *awareAction) CSPSettings() ports.CSPSettings              { return a.settings }

type plainAction struct{}

func (plainAction) Execute(ctx context.Context) (string, error) { return domain.ResultSuccess, nil }

type notSettings struct{}

func newRegistry(t *testing.T) (*factory.Registry, *int) {
	t.Helper()
	reg := factory.NewRegistry()
	RegisterBuiltins(reg, nil)

	created := 0
	reg.RegisterFactory(factory.BeanFactory{
		Type:     "counting",
		Produces: reflect.TypeOf(&DefaultSettings{}),
		Create: func(map[string]any) (any, error) {
			created++
			return NewDefaultSettings(), nil
		},
	})
	reg.RegisterFactory(factory.BeanFactory{
		Type:     "not-settings",
		Produces: reflect.TypeOf(&notSettings{}),
		Create:   func(map[string]any) (any, error) { return &notSettings{}, nil },
	})
	return reg, &created
}

// ============================================================================
// Report URI validation
// ============================================================================

func TestValidateReportURI(t *testing.T) {
	tests := []struct {
		uri     string
		wantErr bool
	}{
		{"http://example.com/csp-report", false},
		{"https://collector.example/r?x=1", false},
		{"/csp-report", false},
		{"csp-report", true},
		{"../csp-report", true},
		{"http://exa mple.com/csp", true},
		{"/csp report", true},
		{"/bad%zzescape", true},
		{"http://[::1", true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			err := ValidateReportURI(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateReportURI(%q) error = %v, wantErr %v", tt.uri, err, tt.wantErr)
			}
			if err != nil && !domain.IsArgumentError(err) {
				t.Errorf("expected ArgumentError, got %T", err)
			}
		})
	}
}

func TestInterceptor_SetReportURIKeepsPreviousOnError(t *testing.T) {
	ic := NewInterceptor(nil)
	if err := ic.SetReportURI("/csp-report"); err != nil {
		t.Fatalf("SetReportURI() error = %v", err)
	}
	if err := ic.SetReportURI("csp-report"); err == nil {
		t.Fatal("expected error for relative URI")
	}
	if ic.ReportURI() != "/csp-report" {
		t.Errorf("ReportURI() = %q, rejected value must not be stored", ic.ReportURI())
	}
}

func TestRejectedReportURIMessage(t *testing.T) {
	err := ValidateReportURI("csp-report")
	var ae *domain.ArgumentError
	if !errors.As(err, &ae) {
		t.Fatalf("expected ArgumentError, got %v", err)
	}
	if !strings.Contains(err.Error(), "csp-report") || !strings.Contains(err.Error(), "starts with /") {
		t.Errorf("message should name the URI and the rule, got %q", err.Error())
	}
}

// ============================================================================
// Intercept
// ============================================================================

func TestIntercept_DefaultSettingsWrittenBeforeRender(t *testing.T) {
	reg, _ := newRegistry(t)
	ic := NewInterceptor(reg)
	if err := ic.SetReportURI("/csp-report"); err != nil {
		t.Fatal(err)
	}
	ic.SetReportTo("csp-endpoint")

	inv := newFakeInvocation(plainAction{}, "")
	code, err := ic.Intercept(context.Background(), inv)
	if err != nil {
		t.Fatalf("Intercept() error = %v", err)
	}
	if code != domain.ResultSuccess || !inv.invoked {
		t.Fatalf("chain must continue, code=%q invoked=%v", code, inv.invoked)
	}
	if len(inv.listeners) != 1 {
		t.Fatalf("expected one listener, got %d", len(inv.listeners))
	}
	if got := inv.header().Get(HeaderReportOnly); got != "" {
		t.Fatalf("header written before the render checkpoint: %q", got)
	}

	inv.render()

	policy := inv.header().Get(HeaderReportOnly)
	if policy == "" {
		t.Fatalf("missing %s header", HeaderReportOnly)
	}
	if inv.header().Get(HeaderEnforcing) != "" {
		t.Error("report-only mode must not write the enforcing header")
	}
	for _, want := range []string{"object-src 'none'", "'strict-dynamic'", "base-uri 'none'", "report-uri /csp-report", "report-to csp-endpoint"} {
		if !strings.Contains(policy, want) {
			t.Errorf("policy %q missing %q", policy, want)
		}
	}
	nonce, _ := inv.ac.Values[NonceKey].(string)
	if nonce == "" || !strings.Contains(policy, "'nonce-"+nonce+"'") {
		t.Errorf("nonce %q not published or not in policy %q", nonce, policy)
	}
}

func TestIntercept_EnforcingMode(t *testing.T) {
	reg, _ := newRegistry(t)
	ic := NewInterceptor(reg)
	ic.SetEnforcingMode(true)

	inv := newFakeInvocation(plainAction{}, "")
	if _, err := ic.Intercept(context.Background(), inv); err != nil {
		t.Fatalf("Intercept() error = %v", err)
	}
	inv.render()

	policy := inv.header().Get(HeaderEnforcing)
	if policy == "" {
		t.Fatal("missing enforcing header")
	}
	if strings.Contains(policy, "report-uri") {
		t.Errorf("no report URI configured, got %q", policy)
	}
}

func TestIntercept_ReportToNeedsReportURI(t *testing.T) {
	reg, _ := newRegistry(t)
	ic := NewInterceptor(reg)
	ic.SetReportTo("group")

	settings := &recordingSettings{}
	inv := newFakeInvocation(&awareAction{settings: settings}, "")
	if _, err := ic.Intercept(context.Background(), inv); err != nil {
		t.Fatalf("Intercept() error = %v", err)
	}
	if settings.reportTo != "" {
		t.Errorf("report-to applied without a report URI: %q", settings.reportTo)
	}
}

func TestIntercept_PrependContextPath(t *testing.T) {
	tests := []struct {
		name        string
		reportURI   string
		contextPath string
		prepend     bool
		want        string
	}{
		{"enabled", "/csp-report", "/app", true, "/app/csp-report"},
		{"disabled", "/csp-report", "/app", false, "/csp-report"},
		{"root context", "/csp-report", "", true, "/csp-report"},
		{"trailing slash context", "/csp-report", "/app/", true, "/app/csp-report"},
		{"absolute untouched", "https://example.com/csp-report", "/app", true, "https://example.com/csp-report"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ic := NewInterceptor(nil)
			ic.SetPrependServletContext(tt.prepend)
			if err := ic.SetReportURI(tt.reportURI); err != nil {
				t.Fatal(err)
			}

			settings := &recordingSettings{}
			inv := newFakeInvocation(&awareAction{settings: settings}, tt.contextPath)
			if _, err := ic.Intercept(context.Background(), inv); err != nil {
				t.Fatalf("Intercept() error = %v", err)
			}
			inv.render()

			if got := inv.header().Get("X-Test-Policy"); got != tt.want {
				t.Errorf("report URI = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInterceptor_ConfiguredByParamNames(t *testing.T) {
	reg, created := newRegistry(t)
	bean, err := reg.BuildBean(InterceptorType, nil)
	if err != nil {
		t.Fatalf("BuildBean() error = %v", err)
	}

	params := domain.NewParams(
		domain.Param{Name: "enforcingMode", Value: "true"},
		domain.Param{Name: "reportUri", Value: "/csp-report"},
		domain.Param{Name: "reportTo", Value: "csp-endpoint"},
		domain.Param{Name: "prependServletContext", Value: "false"},
		domain.Param{Name: "defaultSettingsType", Value: "counting"},
	)
	if err := bind.New(bind.WithStrict()).Bind(bean, nil, params); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	ic := bean.(*Interceptor)
	if err := ic.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	inv := newFakeInvocation(plainAction{}, "/app")
	if _, err := ic.Intercept(context.Background(), inv); err != nil {
		t.Fatalf("Intercept() error = %v", err)
	}
	inv.render()

	if *created != 1 {
		t.Errorf("counting settings created %d times, want 1", *created)
	}
	if inv.header().Get(HeaderReportOnly) != "" {
		t.Error("report-only header written in enforcing mode")
	}
	policy := inv.header().Get(HeaderEnforcing)
	if !strings.HasSuffix(policy, "; report-uri /csp-report; report-to csp-endpoint") {
		t.Errorf("policy = %q, want unprefixed report-uri and report-to", policy)
	}
}

func TestIntercept_PrependContextPathIntoDefaultPolicy(t *testing.T) {
	reg, _ := newRegistry(t)
	ic := NewInterceptor(reg)
	if err := ic.SetReportURI("/csp-report"); err != nil {
		t.Fatal(err)
	}

	inv := newFakeInvocation(plainAction{}, "/app")
	if _, err := ic.Intercept(context.Background(), inv); err != nil {
		t.Fatalf("Intercept() error = %v", err)
	}
	inv.render()

	if policy := inv.header().Get(HeaderReportOnly); !strings.Contains(policy, "report-uri /app/csp-report") {
		t.Errorf("policy = %q, want report-uri /app/csp-report", policy)
	}
}

func TestIntercept_ActionSettingsSkipDefault(t *testing.T) {
	reg, created := newRegistry(t)
	ic := NewInterceptor(reg)
	ic.SetDefaultSettingsType("counting")
	ic.SetEnforcingMode(true)

	settings := &recordingSettings{}
	inv := newFakeInvocation(&awareAction{settings: settings}, "")
	if _, err := ic.Intercept(context.Background(), inv); err != nil {
		t.Fatalf("Intercept() error = %v", err)
	}
	inv.render()

	if *created != 0 {
		t.Errorf("default settings instantiated %d times", *created)
	}
	if !settings.enforcing {
		t.Error("enforcing mode must be applied to action settings")
	}
	if settings.added != 1 {
		t.Errorf("AddHeaders called %d times, want 1", settings.added)
	}
}

func TestIntercept_InvalidDefaultType(t *testing.T) {
	tests := []struct {
		name     string
		typeName string
	}{
		{"unregistered", "csp.missing"},
		{"not settings", "not-settings"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, _ := newRegistry(t)
			ic := NewInterceptor(reg)
			ic.SetDefaultSettingsType(tt.typeName)

			inv := newFakeInvocation(plainAction{}, "")
			_, err := ic.Intercept(context.Background(), inv)
			if !domain.IsConfigurationError(err) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.typeName) {
				t.Errorf("error should name the type, got %q", err.Error())
			}
			if inv.invoked {
				t.Error("invocation must not proceed")
			}
			if len(inv.listeners) != 0 {
				t.Error("no hook may be registered")
			}
			if ic.Validate() == nil {
				t.Error("Validate() should report the same problem eagerly")
			}
		})
	}
}

func TestIntercept_HookSkippedWhenNotRendered(t *testing.T) {
	settings := &recordingSettings{}
	ic := NewInterceptor(nil)

	inv := newFakeInvocation(&awareAction{settings: settings}, "")
	if _, err := ic.Intercept(context.Background(), inv); err != nil {
		t.Fatalf("Intercept() error = %v", err)
	}
	// The chain aborted: listeners never run.
	if settings.added != 0 {
		t.Errorf("AddHeaders called %d times before render", settings.added)
	}
}

// ============================================================================
// Bean wiring
// ============================================================================

func TestRegisterBuiltins(t *testing.T) {
	reg := factory.NewRegistry()
	RegisterBuiltins(reg, nil)
	RegisterBuiltins(reg, nil)

	ok, err := reg.Implements(DefaultSettingsType, factory.TypeOf[ports.CSPSettings]())
	if err != nil || !ok {
		t.Errorf("%s must implement CSPSettings (ok=%v, err=%v)", DefaultSettingsType, ok, err)
	}

	bean, err := reg.BuildBean(InterceptorType, nil)
	if err != nil {
		t.Fatalf("BuildBean(%s) error = %v", InterceptorType, err)
	}
	ic, ok := bean.(*Interceptor)
	if !ok {
		t.Fatalf("expected *Interceptor, got %T", bean)
	}
	if err := ic.Validate(); err != nil {
		t.Errorf("default interceptor must validate, got %v", err)
	}
}
