package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/okian/starkpi/internal/report"
)

const (
	defaultReportDays = 7
	maxReportDays     = 366
)

// ReportBuilder builds dashboard summaries.
type ReportBuilder interface {
	Report(ctx context.Context, from, to string) (report.Summary, error)
	ReportLastDays(ctx context.Context, n int) (report.Summary, error)
}

// ReportsHandler serves dashboard summaries.
type ReportsHandler struct {
	reports ReportBuilder
}

// NewReportsHandler creates a new reports handler.
func NewReportsHandler(reports ReportBuilder) *ReportsHandler {
	return &ReportsHandler{reports: reports}
}

// HandleSummary handles GET /reports/summary. Either from and to, or days
// (default 7), select the range.
func (h *ReportsHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		sum report.Summary
		err error
	)
	if q.Get("from") != "" || q.Get("to") != "" {
		from, to, perr := parseRange(q.Get("from"), q.Get("to"))
		if perr == nil && (from == "" || to == "") {
			perr = fmt.Errorf("%w: from and to go together", ErrBadRequest)
		}
		if perr != nil {
			writeError(w, http.StatusBadRequest, perr)
			return
		}
		sum, err = h.reports.Report(r.Context(), from, to)
	} else {
		days := defaultReportDays
		if raw := q.Get("days"); raw != "" {
			n, perr := strconv.Atoi(raw)
			if perr != nil || n <= 0 || n > maxReportDays {
				writeError(w, http.StatusBadRequest, fmt.Errorf("%w: days must be 1..%d", ErrBadRequest, maxReportDays))
				return
			}
			days = n
		}
		sum, err = h.reports.ReportLastDays(r.Context(), days)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
