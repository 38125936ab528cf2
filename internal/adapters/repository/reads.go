package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	model "github.com/okian/starkpi/internal/domain/model"
)

// foreignKeys lists every foreign-key column of the fact tables.
var foreignKeys = []struct {
	table, column, dimTable, dimKey string
}{
	{"fact_analytics", "tool_key", "dim_tools", "tool_key"},
	{"fact_analytics", "time_key", "dim_time", "time_key"},
	{"fact_analytics", "session_key", "dim_sessions", "session_key"},
	{"fact_analytics", "event_type_key", "dim_event_types", "event_type_key"},
	{"fact_daily_kpis", "tool_key", "dim_tools", "tool_key"},
}

// CountFacts counts facts dated within w. An empty window counts every fact.
func (s *Store) CountFacts(ctx context.Context, w model.Window) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	q, args := "SELECT COUNT(*) FROM fact_analytics", []any{}
	if !w.Empty() {
		q += " WHERE event_date BETWEEN ? AND ?"
		args = append(args, w.From, w.To)
	}
	var n int64
	start := time.Now()
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&n)
	observe("count_facts", start)
	if err != nil {
		return 0, fmt.Errorf("count facts: %w", err)
	}
	return n, nil
}

// OrphanedKeys reports, for every foreign-key column, how many rows point at
// a missing dimension row.
func (s *Store) OrphanedKeys(ctx context.Context) ([]model.Orphan, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer observe("orphaned_keys", start)

	out := make([]model.Orphan, 0, len(foreignKeys))
	for _, fk := range foreignKeys {
		q := fmt.Sprintf(
			"SELECT COUNT(*) FROM %s f LEFT JOIN %s d ON f.%s = d.%s WHERE d.%s IS NULL",
			fk.table, fk.dimTable, fk.column, fk.dimKey, fk.dimKey)
		var n int64
		if err := s.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
			return nil, fmt.Errorf("orphans %s.%s: %w", fk.table, fk.column, err)
		}
		out = append(out, model.Orphan{Table: fk.table, Column: fk.column, Count: n})
	}
	return out, nil
}

// FutureFacts counts facts dated within w whose timestamp is after t.
func (s *Store) FutureFacts(ctx context.Context, w model.Window, after time.Time) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM fact_analytics WHERE event_date BETWEEN ? AND ? AND event_ts > ?",
		w.From, w.To, after.UTC().Format(tsLayout)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("future facts: %w", err)
	}
	return n, nil
}

// KPIs returns KPI rows joined with their tool, ordered by date then tool.
func (s *Store) KPIs(ctx context.Context, f model.KPIFilter) ([]model.KPIView, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var (
		where []string
		args  []any
	)
	if f.From != "" {
		where = append(where, "k.date >= ?")
		args = append(args, f.From)
	}
	if f.To != "" {
		where = append(where, "k.date <= ?")
		args = append(args, f.To)
	}
	if f.ToolName != "" {
		where = append(where, "t.tool_name = ?")
		args = append(args, f.ToolName)
	}

	q := `SELECT k.kpi_key, k.date, k.tool_key, t.tool_name, COALESCE(t.tool_display_name, ''),
			k.total_events, k.total_uploads, k.total_processing, k.total_downloads, k.total_errors,
			k.page_views, k.unique_sessions, k.unique_users,
			k.conversion_rate, k.upload_to_processing_rate, k.processing_to_download_rate,
			k.avg_processing_time_ms, k.avg_file_size_bytes, k.computed_at, k.run_id
		FROM fact_daily_kpis k
		JOIN dim_tools t ON t.tool_key = k.tool_key`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY k.date, t.tool_name"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	start := time.Now()
	defer observe("kpis", start)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("kpis: %w", err)
	}
	defer rows.Close()

	var out []model.KPIView
	for rows.Next() {
		var (
			v                             model.KPIView
			conv, upProc, procDown, avgMs sql.NullFloat64
			avgSize                       sql.NullFloat64
			computedAt                    string
		)
		if err := rows.Scan(&v.KPIKey, &v.Date, &v.ToolKey, &v.ToolName, &v.ToolDisplayName,
			&v.TotalEvents, &v.TotalUploads, &v.TotalProcessing, &v.TotalDownloads, &v.TotalErrors,
			&v.PageViews, &v.UniqueSessions, &v.UniqueUsers,
			&conv, &upProc, &procDown, &avgMs, &avgSize, &computedAt, &v.RunID); err != nil {
			return nil, fmt.Errorf("scan kpi: %w", err)
		}
		v.ConversionRate = floatPtr(conv)
		v.UploadToProcessingRate = floatPtr(upProc)
		v.ProcessingToDownloadRate = floatPtr(procDown)
		v.AvgProcessingTimeMs = floatPtr(avgMs)
		v.AvgFileSizeBytes = floatPtr(avgSize)
		if ts, err := time.Parse(tsLayout, computedAt); err == nil {
			v.ComputedAt = ts
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("kpis: %w", err)
	}
	return out, nil
}

// FunnelCount is a funnel recount straight from fact_analytics.
type FunnelCount struct {
	Date           string
	ToolKey        int64
	Events         int64
	Uploads        int64
	Processing     int64
	Downloads      int64
	UniqueSessions int64
}

// RecountFunnels aggregates fact_analytics per (date, tool) without going
// through the KPI table, for verification.
func (s *Store) RecountFunnels(ctx context.Context) ([]FunnelCount, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_date, tool_key, COUNT(*),
			SUM(upload_flag), SUM(processing_flag), SUM(download_flag),
			COUNT(DISTINCT CASE WHEN session_key <> 0 THEN session_key END)
		FROM fact_analytics
		GROUP BY event_date, tool_key
		ORDER BY event_date, tool_key`)
	if err != nil {
		return nil, fmt.Errorf("recount: %w", err)
	}
	defer rows.Close()

	var out []FunnelCount
	for rows.Next() {
		var c FunnelCount
		if err := rows.Scan(&c.Date, &c.ToolKey, &c.Events, &c.Uploads, &c.Processing, &c.Downloads, &c.UniqueSessions); err != nil {
			return nil, fmt.Errorf("recount: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Tables is the list of warehouse tables reported by TableCounts.
var Tables = []string{"dim_tools", "dim_time", "dim_sessions", "dim_event_types", "fact_analytics", "fact_daily_kpis", "etl_runs"}

// TableCounts returns the row count of every warehouse table, sentinel rows
// included.
func (s *Store) TableCounts(ctx context.Context) (map[string]int64, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(Tables))
	for _, table := range Tables {
		var n int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		out[table] = n
	}
	return out, nil
}

// DimensionKey returns the surrogate key stored for naturalID.
func (s *Store) DimensionKey(ctx context.Context, entity model.Entity, naturalID string) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	d, err := lookupDimTable(entity)
	if err != nil {
		return 0, err
	}
	var key int64
	err = s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", d.key, d.table, d.natural), naturalID).Scan(&key)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%s %q: %w", entity, naturalID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("dimension key: %w", err)
	}
	return key, nil
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
