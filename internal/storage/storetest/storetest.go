// Package storetest holds behaviour tests every ReportStore must pass.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/tjfontaine/actiongate/internal/core/domain"
	"github.com/tjfontaine/actiongate/internal/storage"
)

func report(id, directive string, at time.Time) *domain.ViolationReport {
	return &domain.ViolationReport{
		ID:                id,
		DocumentURI:       "https://example.com/page",
		ViolatedDirective: directive,
		BlockedURI:        "https://evil.example/x.js",
		Disposition:       "report",
		StatusCode:        200,
		LineNumber:        12,
		Raw:               json.RawMessage(`{"csp-report":{}}`),
		ReceivedAt:        at,
	}
}

// Run exercises a store created fresh for each subtest by newStore.
func Run(t *testing.T, newStore func(t *testing.T) storage.ReportStore) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("save and get", func(t *testing.T) {
		s := newStore(t)
		want := report("r-1", "script-src", base)
		if err := s.SaveReport(ctx, want); err != nil {
			t.Fatalf("SaveReport() error = %v", err)
		}

		got, err := s.GetReport(ctx, "r-1")
		if err != nil {
			t.Fatalf("GetReport() error = %v", err)
		}
		if got.DocumentURI != want.DocumentURI || got.ViolatedDirective != want.ViolatedDirective {
			t.Errorf("GetReport() = %+v", got)
		}
		if got.LineNumber != 12 || got.StatusCode != 200 {
			t.Errorf("numbers not round-tripped: %+v", got)
		}
		if !got.ReceivedAt.Equal(base) {
			t.Errorf("ReceivedAt = %v, want %v", got.ReceivedAt, base)
		}
		if string(got.Raw) != `{"csp-report":{}}` {
			t.Errorf("Raw = %s", got.Raw)
		}
	})

	t.Run("missing report", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetReport(ctx, "nope")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("GetReport() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("duplicate id", func(t *testing.T) {
		s := newStore(t)
		if err := s.SaveReport(ctx, report("dup", "script-src", base)); err != nil {
			t.Fatalf("SaveReport() error = %v", err)
		}
		if err := s.SaveReport(ctx, report("dup", "script-src", base)); err == nil {
			t.Error("expected error on duplicate id")
		}
	})

	t.Run("list filters and orders", func(t *testing.T) {
		s := newStore(t)
		for i, d := range []string{"script-src", "object-src", "script-src", "base-uri"} {
			r := report(string(rune('a'+i)), d, base.Add(time.Duration(i)*time.Minute))
			if err := s.SaveReport(ctx, r); err != nil {
				t.Fatalf("SaveReport() error = %v", err)
			}
		}

		all, err := s.ListReports(ctx, storage.ReportListOptions{})
		if err != nil {
			t.Fatalf("ListReports() error = %v", err)
		}
		if len(all) != 4 || all[0].ID != "d" || all[3].ID != "a" {
			t.Errorf("expected newest first, got %v", ids(all))
		}

		scripts, err := s.ListReports(ctx, storage.ReportListOptions{Directive: "script-src"})
		if err != nil {
			t.Fatalf("ListReports() error = %v", err)
		}
		if got := ids(scripts); len(got) != 2 || got[0] != "c" || got[1] != "a" {
			t.Errorf("directive filter = %v, want [c a]", got)
		}

		recent, err := s.ListReports(ctx, storage.ReportListOptions{Since: base.Add(2 * time.Minute)})
		if err != nil {
			t.Fatalf("ListReports() error = %v", err)
		}
		if got := ids(recent); len(got) != 2 {
			t.Errorf("since filter = %v, want 2 reports", got)
		}

		page, err := s.ListReports(ctx, storage.ReportListOptions{Limit: 2, Offset: 1})
		if err != nil {
			t.Fatalf("ListReports() error = %v", err)
		}
		if got := ids(page); len(got) != 2 || got[0] != "c" || got[1] != "b" {
			t.Errorf("page = %v, want [c b]", got)
		}

		n, err := s.CountReports(ctx)
		if err != nil {
			t.Fatalf("CountReports() error = %v", err)
		}
		if n != 4 {
			t.Errorf("CountReports() = %d, want 4", n)
		}
	})
}

func ids(reports []*domain.ViolationReport) []string {
	out := make([]string, len(reports))
	for i, r := range reports {
		out[i] = r.ID
	}
	return out
}
