// Package interceptor holds the general-purpose interceptors that can be
// stacked in front of any action.
package interceptor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/tjfontaine/actiongate/internal/bind"
	"github.com/tjfontaine/actiongate/internal/core/domain"
	"github.com/tjfontaine/actiongate/internal/core/ports"
)

// PathParamsKey is the action context value holding the route's path
// parameters as a map[string]string.
const PathParamsKey = "pathParams"

const maxFormMemory = 1 << 20

// Params binds request parameters (path, query and form) onto the action.
// Request values are bound literally; ${...} placeholders are not expanded.
// Later sources win: path parameters, then query, then form.
type Params struct {
	binder   *bind.Binder
	logger   *slog.Logger
	excluded map[string]bool
}

// NewParams creates a params interceptor that binds through binder.
func NewParams(binder *bind.Binder, logger *slog.Logger) *Params {
	if binder == nil {
		binder = bind.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Params{binder: binder, logger: logger, excluded: map[string]bool{}}
}

// SetExcludeParams lists request parameter names that are never bound.
func (p *Params) SetExcludeParams(names []string) {
	p.excluded = make(map[string]bool, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			p.excluded[strings.ToLower(n)] = true
		}
	}
}

// Intercept implements ports.Interceptor.
func (p *Params) Intercept(ctx context.Context, inv ports.ActionInvocation) (string, error) {
	ac := inv.Context()
	params, err := p.collect(ac)
	if err != nil {
		return "", fmt.Errorf("read request parameters: %w", err)
	}

	if params.Len() > 0 {
		// Request values never resolve placeholders.
		if err := p.binder.Bind(inv.Action(), nil, params); err != nil {
			return "", err
		}
		p.logger.Debug("bound request parameters",
			slog.String("action", inv.Config().Name),
			slog.Any("params", params.Names()))
	}
	return inv.Invoke(ctx)
}

func (p *Params) collect(ac *ports.ActionContext) (domain.Params, error) {
	var params domain.Params

	if path, ok := ac.Values[PathParamsKey].(map[string]string); ok {
		p.add(&params, sortedPairs(path))
	}

	r := ac.Request
	if r == nil {
		return params, nil
	}
	p.add(&params, sortedValues(r.URL.Query()))

	if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
		ct := r.Header.Get("Content-Type")
		if strings.HasPrefix(ct, "application/x-www-form-urlencoded") || strings.HasPrefix(ct, "multipart/form-data") {
			if err := r.ParseMultipartForm(maxFormMemory); err != nil && err != http.ErrNotMultipart {
				return params, err
			}
			p.add(&params, sortedValues(r.PostForm))
		}
	}
	return params, nil
}

func (p *Params) add(params *domain.Params, pairs []domain.Param) {
	for _, pair := range pairs {
		if p.excluded[strings.ToLower(pair.Name)] {
			continue
		}
		params.Set(pair.Name, pair.Value)
	}
}

func sortedPairs(m map[string]string) []domain.Param {
	out := make([]domain.Param, 0, len(m))
	for k, v := range m {
		out = append(out, domain.Param{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// sortedValues joins repeated values with commas so they bind onto slices.
func sortedValues(values map[string][]string) []domain.Param {
	out := make([]domain.Param, 0, len(values))
	for k, v := range values {
		out = append(out, domain.Param{Name: k, Value: strings.Join(v, ",")})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

var _ ports.Interceptor = (*Params)(nil)
