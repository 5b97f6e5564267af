package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tjfontaine/actiongate/internal/pkg/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestProvider_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "server:\n  port: 9100\n")

	p, err := NewProvider(path)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	cfg, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if p.Current() != cfg {
		t.Error("Current() should return the loaded config")
	}
}

func TestNewProvider_EmptyPath(t *testing.T) {
	if _, err := NewProvider(""); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestProvider_WatchReloadsValidChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "server:\n  port: 9100\n")

	p, err := NewProvider(path)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	if _, err := p.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *config.Config, 4)
	if err := p.Watch(ctx, func(c *config.Config) { changes <- c }); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	// An invalid edit is skipped.
	writeFile(t, path, "server:\n  port: 0\n")
	select {
	case c := <-changes:
		t.Fatalf("invalid config delivered: %+v", c.Server)
	case <-time.After(500 * time.Millisecond):
	}
	if p.Current().Server.Port != 9100 {
		t.Errorf("previous config must stay current, port = %d", p.Current().Server.Port)
	}

	writeFile(t, path, "server:\n  port: 9200\n")
	select {
	case c := <-changes:
		if c.Server.Port != 9200 {
			t.Errorf("reloaded port = %d, want 9200", c.Server.Port)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
