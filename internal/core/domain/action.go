package domain

import "fmt"

// Well-known result codes returned by actions and interceptors.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultInput   = "input"
	// ResultNone tells the invocation not to render anything.
	ResultNone = "none"
)

// ResultConfig is the declarative description of a result: the type
// identifier of the response-producing bean and the parameters bound onto it.
// It is read-only once loaded from configuration.
type ResultConfig struct {
	// Name is the result code this descriptor is mapped to (e.g. "success")
	Name string

	// Type is the bean type identifier. Empty means "render nothing".
	Type string

	// Params are bound onto the bean in order
	Params Params

	// Location is where the descriptor was declared, used in error messages
	Location string
}

// String describes the descriptor for error messages.
func (c ResultConfig) String() string {
	s := fmt.Sprintf("result %q (type %q, %d params)", c.Name, c.Type, c.Params.Len())
	if c.Location != "" {
		s += " declared at " + c.Location
	}
	return s
}

// ActionConfig maps a request path to an action bean, its interceptor stack
// and its results.
type ActionConfig struct {
	Name         string
	Path         string
	Method       string
	Type         string
	Params       Params
	Interceptors []string
	Results      map[string]ResultConfig
}

// Result returns the result descriptor for a code.
func (c ActionConfig) Result(code string) (ResultConfig, bool) {
	rc, ok := c.Results[code]
	return rc, ok
}
