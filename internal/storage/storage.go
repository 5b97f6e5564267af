// Package storage holds what the report store implementations share.
package storage

import (
	"errors"

	"github.com/tjfontaine/actiongate/internal/core/ports"
)

// ErrNotFound is wrapped by stores when a report does not exist.
var ErrNotFound = errors.New("not found")

// Re-export the store contract for implementations.
type (
	ReportStore       = ports.ReportStore
	ReportListOptions = ports.ReportListOptions
)
