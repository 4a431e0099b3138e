// Package db keeps scan run history in Postgres.
package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yourorg/secuscan/internal/model"
)

const batchSize = 100

type Store struct{ Pool *pgxpool.Pool }

func Open(ctx context.Context, url string) (*Store, error) {
	p, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: p}, nil
}

func (s *Store) Close() { s.Pool.Close() }

func (s *Store) Name() string { return "postgres" }

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.Pool.Ping(ctx)
}

// IsInsufficientPrivilege reports whether err is Postgres refusing DDL to this role.
func IsInsufficientPrivilege(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42501"
}

// Run is one row of run history.
type Run struct {
	ID           string
	Target       string
	Category     string
	Summary      model.Summary
	Warnings     int
	ReportBucket *string
	ReportKey    *string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Publish stores rep as a run.
func (s *Store) Publish(ctx context.Context, rep *model.Report) error {
	return s.SaveRun(ctx, rep)
}

// SaveRun upserts the run row and replaces its findings and warnings.
func (s *Store) SaveRun(ctx context.Context, rep *model.Report) error {
	scanners, _ := json.Marshal(rep.Scanners)
	extensions, _ := json.Marshal(rep.Extensions)
	summary, _ := json.Marshal(rep.Summary)

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
INSERT INTO scan_runs (id, target, category, scanners, extensions, summary_json, warning_count, started_at, finished_at)
VALUES ($1::uuid, $2, $3, $4::jsonb, $5::jsonb, $6::jsonb, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
  target = EXCLUDED.target,
  category = EXCLUDED.category,
  scanners = EXCLUDED.scanners,
  extensions = EXCLUDED.extensions,
  summary_json = EXCLUDED.summary_json,
  warning_count = EXCLUDED.warning_count,
  started_at = EXCLUDED.started_at,
  finished_at = EXCLUDED.finished_at`,
		rep.ID, rep.Target, rep.Category, string(scanners), string(extensions), string(summary),
		len(rep.Warnings), rep.StartedAt, rep.FinishedAt)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM scan_findings WHERE run_id=$1::uuid`, rep.ID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM scan_warnings WHERE run_id=$1::uuid`, rep.ID); err != nil {
		return err
	}

	for start := 0; start < len(rep.Findings); start += batchSize {
		end := min(start+batchSize, len(rep.Findings))
		q, args := findingsInsert(rep.ID, start, rep.Findings[start:end])
		if _, err := tx.Exec(ctx, q, args...); err != nil {
			return fmt.Errorf("batch insert findings: %w", err)
		}
	}
	if err := insertWarnings(ctx, tx, rep.ID, rep.Warnings); err != nil {
		return fmt.Errorf("insert warnings: %w", err)
	}
	return tx.Commit(ctx)
}

// findingsInsert builds one multi-value INSERT for a chunk of findings.
// offset is the position of the chunk's first finding in the run.
func findingsInsert(runID string, offset int, chunk []model.Finding) (string, []any) {
	const colCount = 8
	var sb strings.Builder
	sb.WriteString(`
INSERT INTO scan_findings (run_id, seq, scanner, kind, file, line, severity, description) VALUES `)
	args := make([]any, 0, len(chunk)*colCount)
	for i, f := range chunk {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i*colCount + 1
		sb.WriteString(fmt.Sprintf(
			"($%d::uuid, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base, base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		args = append(args,
			runID,
			offset+i,
			nullableString(f.Scanner),
			f.Kind,
			f.File,
			nullableLine(f.Line),
			string(f.Severity),
			f.Description,
		)
	}
	return sb.String(), args
}

func insertWarnings(ctx context.Context, tx pgx.Tx, runID string, warnings []model.Warning) error {
	if len(warnings) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i, w := range warnings {
		batch.Queue(`INSERT INTO scan_warnings (run_id, seq, component, message) VALUES ($1::uuid, $2, $3, $4)`,
			runID, i, w.Component, w.Message)
	}
	br := tx.SendBatch(ctx, batch)
	for range warnings {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return err
		}
	}
	return br.Close()
}

// SetReportLocation records where the archived report document lives.
func (s *Store) SetReportLocation(ctx context.Context, id, bucket, key string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE scan_runs SET report_bucket=$2, report_key=$3 WHERE id=$1::uuid`, id, bucket, key)
	return err
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.Pool.Query(ctx, `
SELECT id::text, target, category, summary_json, warning_count, report_bucket, report_key, started_at, finished_at
FROM scan_runs
ORDER BY started_at DESC, id
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Run, 0, limit)
	for rows.Next() {
		var r Run
		var summary []byte
		if err := rows.Scan(&r.ID, &r.Target, &r.Category, &summary, &r.Warnings, &r.ReportBucket, &r.ReportKey, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		if len(summary) > 0 {
			_ = json.Unmarshal(summary, &r.Summary)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// MissingRuns returns the ids from ids that have no run row yet, in input order.
func (s *Store) MissingRuns(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.Pool.Query(ctx, `SELECT id::text FROM scan_runs WHERE id::text = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	known := map[string]struct{}{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		known[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var missing []string
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func nullableString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func nullableLine(line int) *int {
	if line <= 0 {
		return nil
	}
	return &line
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS scan_runs (
  id UUID PRIMARY KEY,
  target TEXT NOT NULL,
  category TEXT NOT NULL CHECK (category IN ('Android','Web','Unknown')),
  scanners JSONB NOT NULL DEFAULT '[]'::jsonb,
  extensions JSONB NOT NULL DEFAULT '{}'::jsonb,
  summary_json JSONB,
  warning_count INTEGER NOT NULL DEFAULT 0,
  report_bucket TEXT,
  report_key TEXT,
  started_at TIMESTAMPTZ NOT NULL,
  finished_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_scan_runs_started ON scan_runs (started_at DESC);

CREATE TABLE IF NOT EXISTS scan_findings (
  id BIGSERIAL PRIMARY KEY,
  run_id UUID NOT NULL REFERENCES scan_runs(id) ON DELETE CASCADE,
  seq INTEGER NOT NULL,
  scanner TEXT,
  kind TEXT NOT NULL,
  file TEXT NOT NULL,
  line INTEGER,
  severity TEXT NOT NULL CHECK (severity IN ('LOW','MEDIUM','HIGH')),
  description TEXT NOT NULL,
  UNIQUE(run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_scan_findings_run_sev ON scan_findings (run_id, severity);

CREATE TABLE IF NOT EXISTS scan_warnings (
  id BIGSERIAL PRIMARY KEY,
  run_id UUID NOT NULL REFERENCES scan_runs(id) ON DELETE CASCADE,
  seq INTEGER NOT NULL,
  component TEXT NOT NULL,
  message TEXT NOT NULL,
  UNIQUE(run_id, seq)
);
`)
	return err
}
