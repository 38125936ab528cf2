package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	model "github.com/okian/starkpi/internal/domain/model"
)

// ReportTotals sums the KPI table over [from, to]. Unique sessions are
// counted from facts because per-tool distinct counts do not add up.
func (s *Store) ReportTotals(ctx context.Context, from, to string) (model.Totals, error) {
	var t model.Totals
	if err := s.checkOpen(); err != nil {
		return t, err
	}
	start := time.Now()
	defer observe("report_totals", start)

	var conv sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_events), 0), COALESCE(SUM(total_uploads), 0),
			COALESCE(SUM(total_processing), 0), COALESCE(SUM(total_downloads), 0),
			COALESCE(SUM(total_errors), 0), COALESCE(SUM(page_views), 0),
			COUNT(DISTINCT CASE WHEN tool_key <> 0 AND (total_uploads > 0 OR total_downloads > 0) THEN tool_key END),
			ROUND(AVG(conversion_rate), 1)
		FROM fact_daily_kpis WHERE date BETWEEN ? AND ?`, from, to).
		Scan(&t.Events, &t.Uploads, &t.Processing, &t.Downloads, &t.Errors, &t.PageViews, &t.ActiveTools, &conv)
	if err != nil {
		return t, fmt.Errorf("report totals: %w", err)
	}
	t.ConversionRate = floatPtr(conv)

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT session_key) FROM fact_analytics
		WHERE event_date BETWEEN ? AND ? AND session_key <> 0`, from, to).Scan(&t.UniqueSessions)
	if err != nil {
		return t, fmt.Errorf("report sessions: %w", err)
	}
	return t, nil
}

// ReportTopTools ranks tools by uploads over [from, to]. The sentinel tool
// is excluded.
func (s *Store) ReportTopTools(ctx context.Context, from, to string, limit int) ([]model.ToolRanking, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.tool_name, COALESCE(t.tool_display_name, t.tool_name), COALESCE(t.icon_name, ''),
			SUM(k.total_uploads), SUM(k.total_downloads), SUM(k.unique_sessions),
			ROUND(AVG(k.conversion_rate), 1)
		FROM fact_daily_kpis k
		JOIN dim_tools t ON t.tool_key = k.tool_key
		WHERE k.date BETWEEN ? AND ? AND k.tool_key <> 0
		GROUP BY t.tool_key
		ORDER BY SUM(k.total_uploads) DESC, COALESCE(t.sort_order, 50), t.tool_name
		LIMIT ?`, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("report top tools: %w", err)
	}
	defer rows.Close()

	var out []model.ToolRanking
	for rows.Next() {
		var (
			r    model.ToolRanking
			conv sql.NullFloat64
		)
		if err := rows.Scan(&r.ToolName, &r.DisplayName, &r.Icon, &r.Uploads, &r.Downloads, &r.Sessions, &conv); err != nil {
			return nil, fmt.Errorf("report top tools: %w", err)
		}
		r.ConversionRate = floatPtr(conv)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReportDailyTrend returns one row per day in [from, to] that has facts.
func (s *Store) ReportDailyTrend(ctx context.Context, from, to string) ([]model.DailyTrend, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.event_date, COALESCE(MAX(d.date_label), f.event_date), COUNT(*),
			SUM(f.upload_flag), SUM(f.download_flag),
			COUNT(DISTINCT CASE WHEN f.session_key <> 0 THEN f.session_key END)
		FROM fact_analytics f
		LEFT JOIN dim_time d ON d.time_key = f.time_key
		WHERE f.event_date BETWEEN ? AND ?
		GROUP BY f.event_date
		ORDER BY f.event_date`, from, to)
	if err != nil {
		return nil, fmt.Errorf("report trend: %w", err)
	}
	defer rows.Close()

	var out []model.DailyTrend
	for rows.Next() {
		var d model.DailyTrend
		if err := rows.Scan(&d.Date, &d.DateLabel, &d.Events, &d.Uploads, &d.Downloads, &d.UniqueSessions); err != nil {
			return nil, fmt.Errorf("report trend: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
