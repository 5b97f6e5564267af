package ports

import (
	"context"
	"time"

	"github.com/tjfontaine/actiongate/internal/core/domain"
)

// ReportListOptions filters violation report listings.
type ReportListOptions struct {
	Directive string
	Since     time.Time
	Limit     int
	Offset    int
}

// ReportStore persists CSP violation reports.
// Implementations: SQLite (default), in-memory.
type ReportStore interface {
	SaveReport(ctx context.Context, report *domain.ViolationReport) error
	GetReport(ctx context.Context, id string) (*domain.ViolationReport, error)
	ListReports(ctx context.Context, opts ReportListOptions) ([]*domain.ViolationReport, error)
	CountReports(ctx context.Context) (int, error)
	Close() error
}
