package domain

import (
	"encoding/json"
	"time"
)

// ViolationReport is a normalised Content-Security-Policy violation report,
// independent of whether the browser used the legacy report-uri format or
// the Reporting API.
type ViolationReport struct {
	ID                 string          `json:"id"`
	DocumentURI        string          `json:"document_uri"`
	Referrer           string          `json:"referrer,omitempty"`
	ViolatedDirective  string          `json:"violated_directive"`
	EffectiveDirective string          `json:"effective_directive,omitempty"`
	OriginalPolicy     string          `json:"original_policy,omitempty"`
	BlockedURI         string          `json:"blocked_uri,omitempty"`
	Disposition        string          `json:"disposition,omitempty"`
	StatusCode         int             `json:"status_code,omitempty"`
	SourceFile         string          `json:"source_file,omitempty"`
	LineNumber         int             `json:"line_number,omitempty"`
	UserAgent          string          `json:"user_agent,omitempty"`
	Raw                json.RawMessage `json:"raw,omitempty"`
	ReceivedAt         time.Time       `json:"received_at"`
}
