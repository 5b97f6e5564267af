package csp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tjfontaine/actiongate/internal/core/domain"
	"github.com/tjfontaine/actiongate/internal/pkg/safehttp"
)

// ForwarderConfig configures a Forwarder.
type ForwarderConfig struct {
	URL     string
	Timeout time.Duration
	Retries int
	Headers map[string]string
	// AllowPrivate permits collectors on loopback or private networks.
	AllowPrivate bool
}

// Forwarder posts violation reports to an external collector as a JSON
// array.
type Forwarder struct {
	url     string
	retries int
	headers map[string]string
	client  *http.Client
}

// ForwarderOption configures a Forwarder.
type ForwarderOption func(*Forwarder)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) ForwarderOption {
	return func(f *Forwarder) {
		f.client = c
	}
}

// NewForwarder creates a forwarder. Unless AllowPrivate is set, the client
// refuses to connect to private addresses.
func NewForwarder(cfg ForwarderConfig, opts ...ForwarderOption) *Forwarder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	if !cfg.AllowPrivate {
		client.Transport = safehttp.NewTransport()
	}

	f := &Forwarder{
		url:     cfg.URL,
		retries: cfg.Retries,
		headers: cfg.Headers,
		client:  client,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Forward sends reports, retrying failed attempts up to the configured
// number of retries.
func (f *Forwarder) Forward(ctx context.Context, reports []*domain.ViolationReport) error {
	if len(reports) == 0 {
		return nil
	}
	body, err := json.Marshal(reports)
	if err != nil {
		return fmt.Errorf("marshal reports: %w", err)
	}

	var lastErr error
	attempts := f.retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = f.post(ctx, body)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("forward %d reports to %s: %w", len(reports), f.url, lastErr)
}

func (f *Forwarder) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("collector request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("collector returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
