package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	model "github.com/okian/starkpi/internal/domain/model"
)

// existingIDsChunk bounds the number of bound parameters per IN query.
const existingIDsChunk = 500

// Tx is the single write transaction of a run. It satisfies the store
// interfaces of the registry, fact and aggregate packages.
type Tx struct {
	tx    *sql.Tx
	runID string
	now   func() time.Time
	done  bool
}

// RunID returns the run the transaction belongs to.
func (t *Tx) RunID() string { return t.runID }

func (t *Tx) check() error {
	if t.done {
		return ErrTxDone
	}
	return nil
}

func (t *Tx) timestamp() string { return t.now().UTC().Format(tsLayout) }

// Commit makes every write of the run visible at once.
func (t *Tx) Commit() error {
	if err := t.check(); err != nil {
		return err
	}
	t.done = true
	start := time.Now()
	err := t.tx.Commit()
	observe("commit", start)
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback discards the run's writes. It is a no-op after Commit.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// ExistingEventIDs returns the ids already present in fact_analytics.
func (t *Tx) ExistingEventIDs(ctx context.Context, ids []string) ([]string, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	var out []string
	for lo := 0; lo < len(ids); lo += existingIDsChunk {
		hi := lo + existingIDsChunk
		if hi > len(ids) {
			hi = len(ids)
		}
		chunk := ids[lo:hi]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		start := time.Now()
		rows, err := t.tx.QueryContext(ctx,
			"SELECT event_id FROM fact_analytics WHERE event_id IN ("+placeholders(len(chunk))+")", args...)
		if err != nil {
			return nil, fmt.Errorf("existing event ids: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("existing event ids: %w", err)
			}
			out = append(out, id)
		}
		err = rows.Err()
		rows.Close()
		observe("existing_event_ids", start)
		if err != nil {
			return nil, fmt.Errorf("existing event ids: %w", err)
		}
	}
	return out, nil
}

// InsertFact stores f stamped with the transaction's run id. inserted is
// false when the event id already exists.
func (t *Tx) InsertFact(ctx context.Context, f *model.Fact) (bool, error) {
	if err := t.check(); err != nil {
		return false, err
	}
	start := time.Now()
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO fact_analytics (
			event_id, tool_key, time_key, session_key, event_type_key,
			event_date, event_ts, event_class,
			upload_flag, processing_flag, download_flag, error_flag,
			file_size_bytes, processing_time_ms, user_id, url, run_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING`,
		f.EventID, f.ToolKey, f.TimeKey, f.SessionKey, f.EventTypeKey,
		f.EventDate, f.EventTS.UTC().Format(tsLayout), string(f.Class),
		boolInt(f.UploadFlag), boolInt(f.ProcessingFlag), boolInt(f.DownloadFlag), boolInt(f.ErrorFlag),
		nullInt(f.FileSizeBytes), nullInt(f.ProcessingTimeMs), nullString(f.UserID), nullString(f.URL),
		t.runID, t.timestamp(),
	)
	observe("insert_fact", start)
	if err != nil {
		return false, fmt.Errorf("insert fact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert fact: %w", err)
	}
	if n == 1 {
		f.RunID = t.runID
	}
	return n == 1, nil
}

const factColumns = `analytics_key, event_id, tool_key, time_key, session_key, event_type_key,
	event_date, event_ts, event_class, upload_flag, processing_flag, download_flag, error_flag,
	file_size_bytes, processing_time_ms, user_id, url, run_id`

// FactsForDay returns every fact of toolKey dated date. It reads through the
// (tool_key, event_date) index.
func (t *Tx) FactsForDay(ctx context.Context, date string, toolKey int64) ([]model.Fact, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer observe("facts_for_day", start)
	rows, err := t.tx.QueryContext(ctx,
		"SELECT "+factColumns+" FROM fact_analytics WHERE tool_key = ? AND event_date = ? ORDER BY analytics_key",
		toolKey, date)
	if err != nil {
		return nil, fmt.Errorf("facts for day: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// DayToolPairs returns every (date, tool) pair present in fact_analytics.
func (t *Tx) DayToolPairs(ctx context.Context) ([]model.DayTool, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	rows, err := t.tx.QueryContext(ctx,
		"SELECT DISTINCT event_date, tool_key FROM fact_analytics ORDER BY event_date, tool_key")
	if err != nil {
		return nil, fmt.Errorf("day tool pairs: %w", err)
	}
	defer rows.Close()

	var out []model.DayTool
	for rows.Next() {
		var p model.DayTool
		if err := rows.Scan(&p.Date, &p.ToolKey); err != nil {
			return nil, fmt.Errorf("day tool pairs: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ReplaceDailyKPI swaps the KPI row of (k.Date, k.ToolKey) for k.
func (t *Tx) ReplaceDailyKPI(ctx context.Context, k *model.DailyKPI) error {
	if err := t.check(); err != nil {
		return err
	}
	start := time.Now()
	defer observe("replace_kpi", start)

	if _, err := t.tx.ExecContext(ctx,
		"DELETE FROM fact_daily_kpis WHERE date = ? AND tool_key = ?", k.Date, k.ToolKey); err != nil {
		return fmt.Errorf("delete kpi: %w", err)
	}
	k.RunID = t.runID
	computedAt := k.ComputedAt
	if computedAt.IsZero() {
		computedAt = t.now()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO fact_daily_kpis (
			kpi_key, date, tool_key,
			total_events, total_uploads, total_processing, total_downloads, total_errors,
			page_views, unique_sessions, unique_users,
			conversion_rate, upload_to_processing_rate, processing_to_download_rate,
			avg_processing_time_ms, avg_file_size_bytes, computed_at, run_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		k.KPIKey, k.Date, k.ToolKey,
		k.TotalEvents, k.TotalUploads, k.TotalProcessing, k.TotalDownloads, k.TotalErrors,
		k.PageViews, k.UniqueSessions, k.UniqueUsers,
		nullFloat(k.ConversionRate), nullFloat(k.UploadToProcessingRate), nullFloat(k.ProcessingToDownloadRate),
		nullFloat(k.AvgProcessingTimeMs), nullFloat(k.AvgFileSizeBytes),
		computedAt.UTC().Format(tsLayout), k.RunID,
	)
	if err != nil {
		return fmt.Errorf("insert kpi: %w", err)
	}
	return nil
}

// DeleteAllKPIs empties fact_daily_kpis ahead of a full rebuild.
func (t *Tx) DeleteAllKPIs(ctx context.Context) (int64, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	res, err := t.tx.ExecContext(ctx, "DELETE FROM fact_daily_kpis")
	if err != nil {
		return 0, fmt.Errorf("delete kpis: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanFacts(rows rowScanner) ([]model.Fact, error) {
	var out []model.Fact
	for rows.Next() {
		var (
			f                       model.Fact
			ts, class               string
			up, proc, down, errFlag int64
			size, procMs            sql.NullInt64
			userID, url             sql.NullString
		)
		if err := rows.Scan(&f.AnalyticsKey, &f.EventID, &f.ToolKey, &f.TimeKey, &f.SessionKey, &f.EventTypeKey,
			&f.EventDate, &ts, &class, &up, &proc, &down, &errFlag,
			&size, &procMs, &userID, &url, &f.RunID); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		parsed, err := time.Parse(tsLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("scan fact %s: %w", f.EventID, err)
		}
		f.EventTS = parsed
		f.Class = model.EventClass(class)
		f.UploadFlag, f.ProcessingFlag, f.DownloadFlag, f.ErrorFlag = up != 0, proc != 0, down != 0, errFlag != 0
		if size.Valid {
			v := size.Int64
			f.FileSizeBytes = &v
		}
		if procMs.Valid {
			v := procMs.Int64
			f.ProcessingTimeMs = &v
		}
		f.UserID, f.URL = userID.String, url.String
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan facts: %w", err)
	}
	return out, nil
}

func nullInt(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullString(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
