package result

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/tjfontaine/actiongate/internal/core/ports"
	"github.com/tjfontaine/actiongate/internal/factory"
)

// Built-in result type identifiers.
const (
	JSONType       = "json"
	RedirectType   = "redirect"
	HTTPHeaderType = "httpheader"
	PlainTextType  = "plaintext"
)

// RegisterBuiltins registers the built-in result types. Already registered
// types are left alone.
func RegisterBuiltins(r *factory.Registry) {
	builtins := []factory.BeanFactory{
		{
			Type:        JSONType,
			Description: "Renders a request-scoped value as JSON",
			Produces:    reflect.TypeOf(&JSONResult{}),
			Create:      func(map[string]any) (any, error) { return NewJSONResult(), nil },
		},
		{
			Type:        RedirectType,
			Description: "Redirects to a location, relative to the context path by default",
			Produces:    reflect.TypeOf(&RedirectResult{}),
			Create:      func(map[string]any) (any, error) { return NewRedirectResult(), nil },
		},
		{
			Type:        HTTPHeaderType,
			Description: "Writes a status code and headers without a body",
			Produces:    reflect.TypeOf(&HTTPHeaderResult{}),
			Create:      func(map[string]any) (any, error) { return NewHTTPHeaderResult(), nil },
		},
		{
			Type:        PlainTextType,
			Description: "Writes a fixed text body",
			Produces:    reflect.TypeOf(&PlainTextResult{}),
			Create:      func(map[string]any) (any, error) { return NewPlainTextResult(), nil },
		},
	}
	for _, b := range builtins {
		if r.IsRegistered(b.Type) {
			continue
		}
		r.RegisterFactory(b)
	}
}

// =============================================================================
// json
// =============================================================================

// JSONResult encodes ActionContext.Values[Root] as the response body.
type JSONResult struct {
	Status      int
	ContentType string
	Root        string
	PrettyPrint bool
}

// NewJSONResult creates a JSONResult with defaults.
func NewJSONResult() *JSONResult {
	return &JSONResult{
		Status:      http.StatusOK,
		ContentType: "application/json",
		Root:        "data",
	}
}

// Handle logs parameters that could not be bound.
func (j *JSONResult) Handle(err error) {
	slog.Warn("json result: ignoring parameter", slog.String("error", err.Error()))
}

// Execute writes the JSON body.
func (j *JSONResult) Execute(ctx context.Context, inv ports.ActionInvocation) error {
	ac := inv.Context()
	var value any
	if ac.Values != nil {
		value = ac.Values[j.Root]
	}

	var body []byte
	var err error
	if j.PrettyPrint {
		body, err = json.MarshalIndent(value, "", "  ")
	} else {
		body, err = json.Marshal(value)
	}
	if err != nil {
		return fmt.Errorf("json result: encode %q: %w", j.Root, err)
	}

	ac.Response.Header().Set("Content-Type", j.ContentType)
	ac.Response.WriteHeader(j.Status)
	_, err = ac.Response.Write(body)
	return err
}

// =============================================================================
// redirect
// =============================================================================

// RedirectResult sends the client to Location.
type RedirectResult struct {
	Location           string
	Status             int
	Anchor             string
	PrependContextPath bool
}

// NewRedirectResult creates a RedirectResult with defaults.
func NewRedirectResult() *RedirectResult {
	return &RedirectResult{
		Status:             http.StatusFound,
		PrependContextPath: true,
	}
}

// Execute issues the redirect.
func (rr *RedirectResult) Execute(ctx context.Context, inv ports.ActionInvocation) error {
	if rr.Location == "" {
		return fmt.Errorf("redirect result: no location configured")
	}
	ac := inv.Context()

	location := rr.Location
	if rr.PrependContextPath && ac.ContextPath != "" &&
		strings.HasPrefix(location, "/") && !strings.HasPrefix(location, "//") {
		location = ac.ContextPath + location
	}
	if rr.Anchor != "" {
		location += "#" + rr.Anchor
	}

	http.Redirect(ac.Response, ac.Request, location, rr.Status)
	return nil
}

// =============================================================================
// httpheader
// =============================================================================

const headerParamPrefix = "headers."

// HTTPHeaderResult writes a status and headers. When Error is set, the
// response is an error with ErrorMessage as body instead.
type HTTPHeaderResult struct {
	Status       int
	Error        int
	ErrorMessage string
	Headers      map[string]string `param:"-"`
}

// NewHTTPHeaderResult creates an HTTPHeaderResult with defaults.
func NewHTTPHeaderResult() *HTTPHeaderResult {
	return &HTTPHeaderResult{
		Status:  http.StatusOK,
		Headers: make(map[string]string),
	}
}

// AcceptableParameterName rejects "headers." parameters without a header name.
func (h *HTTPHeaderResult) AcceptableParameterName(name, value string) bool {
	if strings.HasPrefix(name, headerParamPrefix) {
		return len(name) > len(headerParamPrefix)
	}
	return true
}

// SetProperty stores "headers.<Name>" parameters.
func (h *HTTPHeaderResult) SetProperty(name, value string) error {
	header, ok := strings.CutPrefix(name, headerParamPrefix)
	if !ok {
		return fmt.Errorf("unsupported property %q", name)
	}
	if h.Headers == nil {
		h.Headers = make(map[string]string)
	}
	h.Headers[http.CanonicalHeaderKey(header)] = value
	return nil
}

// Execute writes headers and status.
func (h *HTTPHeaderResult) Execute(ctx context.Context, inv ports.ActionInvocation) error {
	w := inv.Context().Response
	for k, v := range h.Headers {
		w.Header().Set(k, v)
	}
	if h.Error != 0 {
		msg := h.ErrorMessage
		if msg == "" {
			msg = http.StatusText(h.Error)
		}
		http.Error(w, msg, h.Error)
		return nil
	}
	w.WriteHeader(h.Status)
	return nil
}

// =============================================================================
// plaintext
// =============================================================================

// PlainTextResult writes Text as a text/plain body. It implements the
// legacy rendering contract and reaches the pipeline through Adapt.
type PlainTextResult struct {
	Text    string
	Charset string
	Status  int
}

// NewPlainTextResult creates a PlainTextResult with defaults.
func NewPlainTextResult() *PlainTextResult {
	return &PlainTextResult{
		Charset: "utf-8",
		Status:  http.StatusOK,
	}
}

// Render writes the body.
func (p *PlainTextResult) Render(w http.ResponseWriter, r *http.Request) error {
	contentType := "text/plain"
	if p.Charset != "" {
		contentType += "; charset=" + p.Charset
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(p.Status)
	_, err := w.Write([]byte(p.Text))
	return err
}

// Ensure built-ins implement the expected contracts.
var (
	_ ports.Result                 = (*JSONResult)(nil)
	_ ports.ReflectionErrorHandler = (*JSONResult)(nil)
	_ ports.Result                 = (*RedirectResult)(nil)
	_ ports.Result                 = (*HTTPHeaderResult)(nil)
	_ ports.ParamNameAware         = (*HTTPHeaderResult)(nil)
	_ ports.LegacyResult           = (*PlainTextResult)(nil)
)
