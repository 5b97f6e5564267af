package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tjfontaine/actiongate/internal/core/domain"
	"github.com/tjfontaine/actiongate/internal/pkg/config"
	"github.com/tjfontaine/actiongate/internal/storage/memory"
)

// fakeConfigProvider hands out a fixed configuration and captures the
// reload callback.
type fakeConfigProvider struct {
	cfg      *config.Config
	onChange func(*config.Config)
	closed   bool
}

func (p *fakeConfigProvider) Load(ctx context.Context) (*config.Config, error) {
	return p.cfg, nil
}

func (p *fakeConfigProvider) Watch(ctx context.Context, onChange func(*config.Config)) error {
	p.onChange = onChange
	return nil
}

func (p *fakeConfigProvider) Close() error {
	p.closed = true
	return nil
}

func reportsConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Port: 0},
		Storage: config.StorageConfig{Type: "memory"},
		Interceptors: []config.InterceptorConfig{
			{Name: "csp", Type: "csp", Params: []config.ParamConfig{
				{Name: "enforcingMode", Value: "true"},
				{Name: "reportUri", Value: "/csp-report"},
			}},
			{Name: "params", Type: "params"},
		},
		Actions: []config.ActionConfig{
			{
				Name:   "csp-report",
				Path:   "/csp-report",
				Method: "POST",
				Type:   "csp.report",
				Results: []config.ResultConfig{
					{Code: "success", Type: "httpheader", Params: []config.ParamConfig{{Name: "status", Value: "204"}}},
					{Code: "input", Type: "httpheader", Params: []config.ParamConfig{{Name: "status", Value: "400"}}},
				},
			},
			{
				Name:         "reports",
				Path:         "/reports",
				Type:         "csp.reports",
				Interceptors: []string{"csp", "params"},
				Results: []config.ResultConfig{
					{Code: "success", Type: "json", Params: []config.ParamConfig{{Name: "root", Value: "reports"}}},
				},
			},
		},
	}
}

func newTestGateway(t *testing.T, cfg *config.Config) (*Gateway, *fakeConfigProvider, *memory.Store) {
	t.Helper()
	provider := &fakeConfigProvider{cfg: cfg}
	store := memory.New()
	gw, err := New(
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithConfigProvider(provider),
		WithReportStore(store),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := gw.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		gw.Shutdown(ctx)
	})
	return gw, provider, store
}

func TestGateway_New_RequiredOptions(t *testing.T) {
	_, err := New()
	if err == nil {
		t.Fatal("Expected error without config provider")
	}
	if !strings.Contains(err.Error(), "config provider required") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestGateway_ReportRoundTrip(t *testing.T) {
	gw, _, store := newTestGateway(t, reportsConfig())
	h := gw.Handler()

	body := `{"csp-report":{"document-uri":"https://example.com/","violated-directive":"script-src","blocked-uri":"inline"}}`
	req := httptest.NewRequest(http.MethodPost, "/csp-report", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/csp-report")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("report status = %d, body %q", rec.Code, rec.Body.String())
	}
	if n, _ := store.CountReports(context.Background()); n != 1 {
		t.Fatalf("stored reports = %d, want 1", n)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports?directive=script-src", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}

	var reports []domain.ViolationReport
	if err := json.Unmarshal(rec.Body.Bytes(), &reports); err != nil {
		t.Fatalf("decode listing: %v (%s)", err, rec.Body.String())
	}
	if len(reports) != 1 || reports[0].ViolatedDirective != "script-src" {
		t.Errorf("listing = %+v", reports)
	}

	csp := rec.Header().Get("Content-Security-Policy")
	if !strings.Contains(csp, "report-uri /csp-report") {
		t.Errorf("CSP header = %q", csp)
	}
}

func TestGateway_RejectsMalformedReport(t *testing.T) {
	gw, _, store := newTestGateway(t, reportsConfig())

	req := httptest.NewRequest(http.MethodPost, "/csp-report", strings.NewReader("not json"))
	req.Header.Set("Content-Type", "application/csp-report")
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if n, _ := store.CountReports(context.Background()); n != 0 {
		t.Errorf("stored reports = %d, want 0", n)
	}
}

func TestGateway_Reload(t *testing.T) {
	gw, provider, _ := newTestGateway(t, reportsConfig())
	h := gw.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status before reload = %d, want 404", rec.Code)
	}

	next := reportsConfig()
	next.Actions = append(next.Actions, config.ActionConfig{
		Name: "ping",
		Path: "/ping",
		Type: "csp.reports",
		Results: []config.ResultConfig{
			{Code: "success", Type: "plaintext", Params: []config.ParamConfig{{Name: "text", Value: "pong"}}},
		},
	})
	provider.onChange(next)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "pong" {
		t.Errorf("after reload: status %d body %q", rec.Code, rec.Body.String())
	}
}

func TestGateway_ReloadKeepsRoutesOnError(t *testing.T) {
	gw, provider, _ := newTestGateway(t, reportsConfig())

	broken := reportsConfig()
	broken.Actions[1].Type = "no-such-action"
	provider.onChange(broken)

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, previous routes should still serve", rec.Code)
	}
}

func TestGateway_StartTwice(t *testing.T) {
	gw, _, _ := newTestGateway(t, reportsConfig())
	if err := gw.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
}

func TestGateway_Shutdown(t *testing.T) {
	provider := &fakeConfigProvider{cfg: reportsConfig()}
	gw, err := New(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))), WithConfigProvider(provider), WithMemoryStore())
	if err != nil {
		t.Fatal(err)
	}
	if err := gw.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := gw.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if !provider.closed {
		t.Error("config provider not closed")
	}
	select {
	case <-gw.Done():
	case <-time.After(5 * time.Second):
		t.Error("server did not stop")
	}
}

func TestGateway_WithFileConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 18481
storage:
  type: sqlite
  sqlite:
    path: ` + filepath.Join(dir, "reports.db") + `
actions:
  - name: reports
    path: /reports
    type: csp.reports
    results:
      - code: success
        type: json
        params:
          - name: root
            value: count
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	gw, err := New(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))), WithFileConfig(path))
	if err != nil {
		t.Fatal(err)
	}
	if err := gw.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		gw.Shutdown(ctx)
	}()

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports", nil))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "0" {
		t.Errorf("status %d body %q", rec.Code, rec.Body.String())
	}
}

// =============================================================================
// Check Tests
// =============================================================================

func TestCheck(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if err := Check(reportsConfig(), logger); err != nil {
		t.Fatalf("Check(valid) error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
		check  func(error) bool
		want   string
	}{
		{
			name:   "unknown action type",
			mutate: func(c *config.Config) { c.Actions[0].Type = "nope" },
			want:   "unknown bean type: nope",
		},
		{
			name:   "unknown result type",
			mutate: func(c *config.Config) { c.Actions[1].Results[0].Type = "nope" },
			want:   "unknown bean type: nope",
		},
		{
			name:   "result type that is not a result",
			mutate: func(c *config.Config) { c.Actions[1].Results[0].Type = "csp.default" },
			check:  domain.IsConfigurationError,
			want:   "does not implement Result",
		},
		{
			name:   "action type that is not an action",
			mutate: func(c *config.Config) { c.Actions[1].Type = "csp.default" },
			check:  domain.IsConfigurationError,
			want:   "does not implement Action",
		},
		{
			name: "bad report uri",
			mutate: func(c *config.Config) {
				c.Interceptors[0].Params[1].Value = "relative/path"
			},
			check: domain.IsArgumentError,
			want:  "reportUri",
		},
		{
			name: "bad default settings type",
			mutate: func(c *config.Config) {
				c.Interceptors[0].Params = append(c.Interceptors[0].Params,
					config.ParamConfig{Name: "defaultSettingsType", Value: "json"})
			},
			check: domain.IsConfigurationError,
			want:  "must implement CSPSettings",
		},
		{
			name:   "interceptor type that is not an interceptor",
			mutate: func(c *config.Config) { c.Interceptors[1].Type = "json" },
			check:  domain.IsConfigurationError,
			want:   "does not implement Interceptor",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := reportsConfig()
			tt.mutate(cfg)

			err := Check(cfg, logger)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want substring %q", err, tt.want)
			}
			if tt.check != nil && !tt.check(err) {
				t.Errorf("error %v has the wrong type", err)
			}
		})
	}
}
