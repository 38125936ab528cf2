package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/starkpi/internal/domain/model"
	"github.com/okian/starkpi/internal/domain/types"
)

const (
	defaultKPIsLimit = 1000
	maxKPIsLimit     = 10000
)

// KPIReader reads daily KPI rows.
type KPIReader interface {
	KPIs(ctx context.Context, f model.KPIFilter) ([]model.KPIView, error)
}

// KPIsHandler serves daily KPI rows.
type KPIsHandler struct {
	kpis KPIReader
}

// NewKPIsHandler creates a new KPI handler.
func NewKPIsHandler(kpis KPIReader) *KPIsHandler {
	return &KPIsHandler{kpis: kpis}
}

// HandleList handles GET /kpis?from=&to=&tool=&limit=.
func (h *KPIsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to, err := parseRange(q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit, err := parseLimit(r, defaultKPIsLimit, maxKPIsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	f := model.KPIFilter{From: from, To: to, ToolName: q.Get("tool"), Limit: limit}
	rows, err := h.kpis.KPIs(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := types.KPIList{From: from, To: to, Tool: f.ToolName, Count: len(rows), Rows: make([]types.KPIRow, len(rows))}
	for i := range rows {
		out.Rows[i] = types.KPIRowOf(&rows[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// parseRange validates optional YYYY-MM-DD bounds.
func parseRange(from, to string) (string, string, error) {
	for _, d := range []string{from, to} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			return "", "", fmt.Errorf("%w: %q", ErrInvalidDate, d)
		}
	}
	if from != "" && to != "" && from > to {
		return "", "", fmt.Errorf("%w: from %s is after to %s", ErrBadRequest, from, to)
	}
	return from, to, nil
}
