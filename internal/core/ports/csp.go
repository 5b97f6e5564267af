package ports

import "net/http"

// CSPSettings is a per-request Content-Security-Policy configuration that
// writes its headers onto a response.
type CSPSettings interface {
	// SetEnforcingMode selects enforcing (true) or report-only (false).
	SetEnforcingMode(enforcing bool)
	// SetReportURI sets where violation reports are sent.
	SetReportURI(uri string)
	// SetReportTo sets the Reporting API group name.
	SetReportTo(group string)
	// AddHeaders writes the policy headers onto w.
	AddHeaders(r *http.Request, w http.ResponseWriter)
}

// CSPSettingsAware is implemented by actions that supply their own policy.
type CSPSettingsAware interface {
	CSPSettings() CSPSettings
}
