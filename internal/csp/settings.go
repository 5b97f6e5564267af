// Package csp adds a Content-Security-Policy header to action responses.
//
// The interceptor resolves a policy for each request, either supplied by the
// action (ports.CSPSettingsAware) or built from a registered default type,
// and defers writing the header until the invocation is about to render its
// result.
package csp

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

// Header names.
const (
	HeaderEnforcing  = "Content-Security-Policy"
	HeaderReportOnly = "Content-Security-Policy-Report-Only"
)

// Policy keywords.
const (
	ObjectSrc     = "object-src"
	ScriptSrc     = "script-src"
	BaseURI       = "base-uri"
	ReportURI     = "report-uri"
	ReportTo      = "report-to"
	None          = "'none'"
	StrictDynamic = "'strict-dynamic'"
	HTTP          = "http:"
	HTTPS         = "https:"
)

// NonceKey is the action context value holding the nonce of the policy
// written for the current response.
const NonceKey = "cspNonce"

const nonceBytes = 18

// DefaultSettings is the strict nonce-based policy:
//
//	object-src 'none'; script-src 'nonce-<n>' 'strict-dynamic' http: https:; base-uri 'none'
//
// A fresh nonce is generated each time the headers are added.
type DefaultSettings struct {
	enforcingMode bool
	reportURI     string
	reportTo      string
	nonce         string
}

// NewDefaultSettings returns report-only settings without a report URI.
func NewDefaultSettings() *DefaultSettings {
	return &DefaultSettings{}
}

// SetEnforcingMode switches between the enforcing and the report-only header.
func (s *DefaultSettings) SetEnforcingMode(enforcing bool) {
	s.enforcingMode = enforcing
}

// SetReportURI sets the report-uri directive.
func (s *DefaultSettings) SetReportURI(uri string) {
	s.reportURI = uri
}

// SetReportTo sets the report-to directive. It is only emitted together
// with a report URI.
func (s *DefaultSettings) SetReportTo(group string) {
	s.reportTo = group
}

// EnforcingMode reports whether the enforcing header is used.
func (s *DefaultSettings) EnforcingMode() bool {
	return s.enforcingMode
}

// Nonce returns the nonce of the last policy written, or "".
func (s *DefaultSettings) Nonce() string {
	return s.nonce
}

// AddHeaders generates a nonce and writes the policy header onto w.
func (s *DefaultSettings) AddHeaders(r *http.Request, w http.ResponseWriter) {
	s.nonce = generateNonce()
	w.Header().Set(s.HeaderName(), s.Policy())
}

// HeaderName returns the header the policy is written to.
func (s *DefaultSettings) HeaderName() string {
	if s.enforcingMode {
		return HeaderEnforcing
	}
	return HeaderReportOnly
}

// Policy formats the policy for the current nonce.
func (s *DefaultSettings) Policy() string {
	directives := []string{
		ObjectSrc + " " + None,
		strings.Join([]string{ScriptSrc, "'nonce-" + s.nonce + "'", StrictDynamic, HTTP, HTTPS}, " "),
		BaseURI + " " + None,
	}
	if s.reportURI != "" {
		directives = append(directives, ReportURI+" "+s.reportURI)
		if s.reportTo != "" {
			directives = append(directives, ReportTo+" "+s.reportTo)
		}
	}
	return strings.Join(directives, "; ")
}

func (s *DefaultSettings) String() string {
	return fmt.Sprintf("DefaultSettings{enforcing=%t, reportURI=%q, reportTo=%q}",
		s.enforcingMode, s.reportURI, s.reportTo)
}

// generateNonce relies on crypto/rand.Read, which never returns an error
// and aborts the process if the system source fails.
func generateNonce() string {
	b := make([]byte, nonceBytes)
	_, _ = rand.Read(b)
	return base64.StdEncoding.EncodeToString(b)
}
