// Package sqlite stores CSP violation reports in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tjfontaine/actiongate/internal/core/domain"
	"github.com/tjfontaine/actiongate/internal/core/ports"
	"github.com/tjfontaine/actiongate/internal/storage"
)

// Store is a SQLite implementation of ports.ReportStore.
type Store struct {
	db *sql.DB
}

var _ ports.ReportStore = (*Store)(nil)

// New opens (and if needed creates) the database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS csp_reports (
			id TEXT PRIMARY KEY,
			document_uri TEXT NOT NULL,
			referrer TEXT,
			violated_directive TEXT NOT NULL,
			effective_directive TEXT,
			original_policy TEXT,
			blocked_uri TEXT,
			disposition TEXT,
			status_code INTEGER,
			source_file TEXT,
			line_number INTEGER,
			user_agent TEXT,
			raw TEXT,
			received_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_csp_reports_directive ON csp_reports(violated_directive)`,
		`CREATE INDEX IF NOT EXISTS idx_csp_reports_received ON csp_reports(received_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

// SaveReport inserts a report. ReceivedAt defaults to now.
func (s *Store) SaveReport(ctx context.Context, r *domain.ViolationReport) error {
	if r.ID == "" {
		return errors.New("report id is required")
	}
	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = time.Now().UTC()
	}

	query := `INSERT INTO csp_reports (id, document_uri, referrer, violated_directive, effective_directive,
		original_policy, blocked_uri, disposition, status_code, source_file, line_number, user_agent, raw, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.DocumentURI, r.Referrer, r.ViolatedDirective, r.EffectiveDirective,
		r.OriginalPolicy, r.BlockedURI, r.Disposition, r.StatusCode, r.SourceFile, r.LineNumber,
		r.UserAgent, string(r.Raw), r.ReceivedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, document_uri, referrer, violated_directive, effective_directive,
	original_policy, blocked_uri, disposition, status_code, source_file, line_number, user_agent, raw, received_at
	FROM csp_reports`

type scanner interface {
	Scan(dest ...any) error
}

func scanReport(row scanner) (*domain.ViolationReport, error) {
	var r domain.ViolationReport
	var referrer, effective, policy, blocked, disposition, sourceFile, userAgent, raw sql.NullString
	var statusCode, lineNumber sql.NullInt64

	if err := row.Scan(&r.ID, &r.DocumentURI, &referrer, &r.ViolatedDirective, &effective,
		&policy, &blocked, &disposition, &statusCode, &sourceFile, &lineNumber, &userAgent, &raw, &r.ReceivedAt); err != nil {
		return nil, err
	}

	r.Referrer = referrer.String
	r.EffectiveDirective = effective.String
	r.OriginalPolicy = policy.String
	r.BlockedURI = blocked.String
	r.Disposition = disposition.String
	r.StatusCode = int(statusCode.Int64)
	r.SourceFile = sourceFile.String
	r.LineNumber = int(lineNumber.Int64)
	r.UserAgent = userAgent.String
	if raw.String != "" {
		r.Raw = []byte(raw.String)
	}
	return &r, nil
}

// GetReport returns a report by id.
func (s *Store) GetReport(ctx context.Context, id string) (*domain.ViolationReport, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return r, nil
}

// ListReports returns reports newest first.
func (s *Store) ListReports(ctx context.Context, opts ports.ReportListOptions) ([]*domain.ViolationReport, error) {
	var where []string
	var args []any
	if opts.Directive != "" {
		where = append(where, "violated_directive = ?")
		args = append(args, opts.Directive)
	}
	if !opts.Since.IsZero() {
		where = append(where, "received_at >= ?")
		args = append(args, opts.Since.UTC())
	}

	query := selectColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY received_at DESC, id"
	if opts.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var reports []*domain.ViolationReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// CountReports returns the number of stored reports.
func (s *Store) CountReports(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM csp_reports`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count reports: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
