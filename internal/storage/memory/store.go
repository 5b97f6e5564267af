// Package memory is an in-process report store for tests and development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tjfontaine/actiongate/internal/core/domain"
	"github.com/tjfontaine/actiongate/internal/storage"
)

// Store is an in-memory implementation of ReportStore
type Store struct {
	mu      sync.RWMutex
	reports map[string]*domain.ViolationReport
}

var _ storage.ReportStore = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		reports: make(map[string]*domain.ViolationReport),
	}
}

func (s *Store) SaveReport(ctx context.Context, r *domain.ViolationReport) error {
	if r.ID == "" {
		return errors.New("report id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.reports[r.ID]; exists {
		return fmt.Errorf("report %s already exists", r.ID)
	}
	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = time.Now().UTC()
	}

	stored := *r
	s.reports[r.ID] = &stored
	return nil
}

func (s *Store) GetReport(ctx context.Context, id string) (*domain.ViolationReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.reports[id]
	if !exists {
		return nil, fmt.Errorf("report %s: %w", id, storage.ErrNotFound)
	}
	out := *r
	return &out, nil
}

func (s *Store) ListReports(ctx context.Context, opts storage.ReportListOptions) ([]*domain.ViolationReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ViolationReport
	for _, r := range s.reports {
		if opts.Directive != "" && r.ViolatedDirective != opts.Directive {
			continue
		}
		if !opts.Since.IsZero() && r.ReceivedAt.Before(opts.Since) {
			continue
		}
		out := *r
		result = append(result, &out)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].ReceivedAt.Equal(result[j].ReceivedAt) {
			return result[i].ReceivedAt.After(result[j].ReceivedAt)
		}
		return result[i].ID < result[j].ID
	})

	// Simple pagination
	start := opts.Offset
	if start >= len(result) {
		return []*domain.ViolationReport{}, nil
	}

	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}

	return result[start:end], nil
}

func (s *Store) CountReports(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reports), nil
}

func (s *Store) Close() error {
	return nil
}
