package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	model "github.com/okian/starkpi/internal/domain/model"
)

// SaveRun upserts the summary of a run into etl_runs.
func (s *Store) SaveRun(ctx context.Context, r *model.RunSummary) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	var (
		verdict any
		quality any
	)
	if r.Quality != nil {
		verdict = string(r.Quality.Verdict)
		b, err := json.Marshal(r.Quality)
		if err != nil {
			return fmt.Errorf("encode quality report: %w", err)
		}
		quality = string(b)
	}

	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO etl_runs (
			run_id, trigger_source, status, started_at, finished_at,
			records_seen, accepted, duplicate, malformed, unknown_event_type, kpi_rows,
			expected_count, verdict, quality, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET
			status = excluded.status,
			finished_at = excluded.finished_at,
			records_seen = excluded.records_seen,
			accepted = excluded.accepted,
			duplicate = excluded.duplicate,
			malformed = excluded.malformed,
			unknown_event_type = excluded.unknown_event_type,
			kpi_rows = excluded.kpi_rows,
			expected_count = excluded.expected_count,
			verdict = excluded.verdict,
			quality = excluded.quality,
			error = excluded.error`,
		r.RunID, r.Trigger, string(r.Status),
		r.StartedAt.UTC().Format(tsLayout), r.FinishedAt.UTC().Format(tsLayout),
		r.RecordsSeen, r.Accepted, r.Duplicate, r.Malformed, r.UnknownEventType, r.KPIRowsRecomputed,
		nullInt(r.ExpectedCount), verdict, quality, nullString(r.Error),
	)
	observe("save_run", start)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

const runColumns = `run_id, trigger_source, status, started_at, finished_at,
	records_seen, accepted, duplicate, malformed, unknown_event_type, kpi_rows,
	expected_count, quality, error`

// Runs returns the most recent runs first.
func (s *Store) Runs(ctx context.Context, limit int) ([]model.RunSummary, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM etl_runs ORDER BY started_at DESC, run_id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("runs: %w", err)
	}
	defer rows.Close()

	var out []model.RunSummary
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("runs: %w", err)
	}
	return out, nil
}

// Run returns one run by id.
func (s *Store) Run(ctx context.Context, runID string) (model.RunSummary, error) {
	if err := s.checkOpen(); err != nil {
		return model.RunSummary{}, err
	}
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM etl_runs WHERE run_id = ?", runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RunSummary{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return r, err
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun(ctx context.Context) (model.RunSummary, error) {
	runs, err := s.Runs(ctx, 1)
	if err != nil {
		return model.RunSummary{}, err
	}
	if len(runs) == 0 {
		return model.RunSummary{}, fmt.Errorf("latest run: %w", ErrNotFound)
	}
	return runs[0], nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (model.RunSummary, error) {
	var (
		r                   model.RunSummary
		status              string
		started, finished   string
		expected            sql.NullInt64
		quality, errMessage sql.NullString
	)
	err := row.Scan(&r.RunID, &r.Trigger, &status, &started, &finished,
		&r.RecordsSeen, &r.Accepted, &r.Duplicate, &r.Malformed, &r.UnknownEventType, &r.KPIRowsRecomputed,
		&expected, &quality, &errMessage)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("scan run: %w", err)
	}
	r.Status = model.RunStatus(status)
	r.StartedAt, _ = time.Parse(tsLayout, started)
	r.FinishedAt, _ = time.Parse(tsLayout, finished)
	if expected.Valid {
		v := expected.Int64
		r.ExpectedCount = &v
	}
	if quality.Valid && quality.String != "" {
		var q model.QualityReport
		if err := json.Unmarshal([]byte(quality.String), &q); err != nil {
			return r, fmt.Errorf("decode quality report of %s: %w", r.RunID, err)
		}
		r.Quality = &q
	}
	r.Error = errMessage.String
	return r, nil
}
