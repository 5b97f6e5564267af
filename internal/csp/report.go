package csp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/actiongate/internal/core/domain"
	"github.com/tjfontaine/actiongate/internal/core/ports"
)

// Report content types.
const (
	ContentTypeCSPReport = "application/csp-report"
	ContentTypeReports   = "application/reports+json"
)

// Values set on the action context by the report actions.
const (
	ReportsKey = "reports"
	CountKey   = "count"
)

const maxReportBody = 64 << 10

// ErrNoReports is returned when a request carries no CSP violation report.
var ErrNoReports = errors.New("no CSP violation reports in request")

// legacyReport is the body sent for the report-uri directive.
type legacyReport struct {
	Body struct {
		DocumentURI        string `json:"document-uri"`
		Referrer           string `json:"referrer"`
		ViolatedDirective  string `json:"violated-directive"`
		EffectiveDirective string `json:"effective-directive"`
		OriginalPolicy     string `json:"original-policy"`
		BlockedURI         string `json:"blocked-uri"`
		Disposition        string `json:"disposition"`
		StatusCode         int    `json:"status-code"`
		SourceFile         string `json:"source-file"`
		LineNumber         int    `json:"line-number"`
	} `json:"csp-report"`
}

// apiReport is one entry of a Reporting API batch.
type apiReport struct {
	Type      string `json:"type"`
	URL       string `json:"url"`
	UserAgent string `json:"user_agent"`
	Body      struct {
		DocumentURL        string `json:"documentURL"`
		Referrer           string `json:"referrer"`
		EffectiveDirective string `json:"effectiveDirective"`
		OriginalPolicy     string `json:"originalPolicy"`
		BlockedURL         string `json:"blockedURL"`
		Disposition        string `json:"disposition"`
		StatusCode         int    `json:"statusCode"`
		SourceFile         string `json:"sourceFile"`
		LineNumber         int    `json:"lineNumber"`
	} `json:"body"`
}

// ParseReports normalises a report-uri or Reporting API body. Reporting API
// entries other than csp-violation are skipped.
func ParseReports(contentType string, body []byte, userAgent string, now time.Time) ([]*domain.ViolationReport, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}

	switch mediaType {
	case ContentTypeReports:
		return parseAPIReports(body, now)
	case ContentTypeCSPReport, "application/json":
		return parseLegacyReport(body, userAgent, now)
	default:
		return nil, fmt.Errorf("unsupported report content type %q", contentType)
	}
}

func parseLegacyReport(body []byte, userAgent string, now time.Time) ([]*domain.ViolationReport, error) {
	var lr legacyReport
	if err := json.Unmarshal(body, &lr); err != nil {
		return nil, fmt.Errorf("decode csp-report: %w", err)
	}
	b := lr.Body
	if b.DocumentURI == "" && b.ViolatedDirective == "" && b.EffectiveDirective == "" {
		return nil, ErrNoReports
	}

	violated := b.ViolatedDirective
	if violated == "" {
		violated = b.EffectiveDirective
	}
	return []*domain.ViolationReport{{
		ID:                 uuid.New().String(),
		DocumentURI:        b.DocumentURI,
		Referrer:           b.Referrer,
		ViolatedDirective:  violated,
		EffectiveDirective: b.EffectiveDirective,
		OriginalPolicy:     b.OriginalPolicy,
		BlockedURI:         b.BlockedURI,
		Disposition:        b.Disposition,
		StatusCode:         b.StatusCode,
		SourceFile:         b.SourceFile,
		LineNumber:         b.LineNumber,
		UserAgent:          userAgent,
		Raw:                json.RawMessage(body),
		ReceivedAt:         now,
	}}, nil
}

func parseAPIReports(body []byte, now time.Time) ([]*domain.ViolationReport, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode reports+json: %w", err)
	}

	var reports []*domain.ViolationReport
	for _, raw := range entries {
		var ar apiReport
		if err := json.Unmarshal(raw, &ar); err != nil {
			return nil, fmt.Errorf("decode reports+json entry: %w", err)
		}
		if ar.Type != "csp-violation" {
			continue
		}
		documentURL := ar.Body.DocumentURL
		if documentURL == "" {
			documentURL = ar.URL
		}
		reports = append(reports, &domain.ViolationReport{
			ID:                 uuid.New().String(),
			DocumentURI:        documentURL,
			Referrer:           ar.Body.Referrer,
			ViolatedDirective:  ar.Body.EffectiveDirective,
			EffectiveDirective: ar.Body.EffectiveDirective,
			OriginalPolicy:     ar.Body.OriginalPolicy,
			BlockedURI:         ar.Body.BlockedURL,
			Disposition:        ar.Body.Disposition,
			StatusCode:         ar.Body.StatusCode,
			SourceFile:         ar.Body.SourceFile,
			LineNumber:         ar.Body.LineNumber,
			UserAgent:          ar.UserAgent,
			Raw:                raw,
			ReceivedAt:         now,
		})
	}
	if len(reports) == 0 {
		return nil, ErrNoReports
	}
	return reports, nil
}

// ReportAction receives violation reports, stores them and optionally
// forwards them to a collector. It returns "input" for bodies that are not
// violation reports.
type ReportAction struct {
	store     ports.ReportStore
	forwarder *Forwarder
	logger    *slog.Logger
	now       func() time.Time
	ac        *ports.ActionContext
}

// SetActionContext implements ports.ActionContextAware.
func (a *ReportAction) SetActionContext(ac *ports.ActionContext) {
	a.ac = ac
}

// Execute implements ports.Action.
func (a *ReportAction) Execute(ctx context.Context) (string, error) {
	if a.ac == nil || a.ac.Request == nil {
		return "", errors.New("report action: no request")
	}
	r := a.ac.Request

	body, err := io.ReadAll(io.LimitReader(r.Body, maxReportBody+1))
	if err != nil {
		return "", fmt.Errorf("read report body: %w", err)
	}
	if len(body) > maxReportBody {
		a.logger.Warn("CSP report body too large", slog.Int("limit", maxReportBody))
		return domain.ResultInput, nil
	}

	reports, err := ParseReports(r.Header.Get("Content-Type"), body, r.UserAgent(), a.now().UTC())
	if err != nil {
		a.logger.Debug("rejected CSP report", slog.String("error", err.Error()))
		return domain.ResultInput, nil
	}

	for _, report := range reports {
		if err := a.store.SaveReport(ctx, report); err != nil {
			return "", fmt.Errorf("save report %s: %w", report.ID, err)
		}
		a.logger.Info("CSP violation",
			slog.String("report_id", report.ID),
			slog.String("document_uri", report.DocumentURI),
			slog.String("directive", report.ViolatedDirective),
			slog.String("blocked_uri", report.BlockedURI),
			slog.String("disposition", report.Disposition))
	}

	if a.forwarder != nil {
		if err := a.forwarder.Forward(ctx, reports); err != nil {
			a.logger.Warn("failed to forward CSP reports",
				slog.Int("count", len(reports)),
				slog.String("error", err.Error()))
		}
	}

	a.ac.Values[ReportsKey] = reports
	a.ac.Values[CountKey] = len(reports)
	return domain.ResultSuccess, nil
}

// ListReportsAction exposes stored reports, newest first. Limit, Offset and
// Directive are usually bound from the query string.
type ListReportsAction struct {
	Limit     int
	Offset    int
	Directive string
	// Since is an RFC 3339 timestamp.
	Since string

	store ports.ReportStore
	ac    *ports.ActionContext
}

// SetActionContext implements ports.ActionContextAware.
func (a *ListReportsAction) SetActionContext(ac *ports.ActionContext) {
	a.ac = ac
}

// Execute implements ports.Action.
func (a *ListReportsAction) Execute(ctx context.Context) (string, error) {
	opts := ports.ReportListOptions{
		Directive: a.Directive,
		Limit:     a.Limit,
		Offset:    a.Offset,
	}
	if opts.Limit <= 0 || opts.Limit > 500 {
		opts.Limit = 50
	}
	if a.Since != "" {
		since, err := time.Parse(time.RFC3339, a.Since)
		if err != nil {
			return domain.ResultInput, nil
		}
		opts.Since = since
	}

	reports, err := a.store.ListReports(ctx, opts)
	if err != nil {
		return "", fmt.Errorf("list reports: %w", err)
	}
	total, err := a.store.CountReports(ctx)
	if err != nil {
		return "", fmt.Errorf("count reports: %w", err)
	}

	if reports == nil {
		reports = []*domain.ViolationReport{}
	}
	if a.ac != nil {
		a.ac.Values[ReportsKey] = reports
		a.ac.Values[CountKey] = total
	}
	return domain.ResultSuccess, nil
}

var (
	_ ports.Action             = (*ReportAction)(nil)
	_ ports.ActionContextAware = (*ReportAction)(nil)
	_ ports.Action             = (*ListReportsAction)(nil)
)
