package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/okian/starkpi/internal/adapters/mq/queue"
	"github.com/okian/starkpi/internal/adapters/repository"
	"github.com/okian/starkpi/internal/domain/model"
	"github.com/okian/starkpi/internal/domain/types"
)

// Run list limits.
const (
	defaultRunsLimit = 20
	maxRunsLimit     = 500
)

// TriggerAPI names runs requested over HTTP.
const TriggerAPI = "api"

// RunsReader reads run history.
type RunsReader interface {
	Runs(ctx context.Context, limit int) ([]model.RunSummary, error)
	LatestRun(ctx context.Context) (model.RunSummary, error)
	RunByID(ctx context.Context, runID string) (model.RunSummary, error)
	Submit(ctx context.Context, trigger string) (r queue.Request, coalesced bool, err error)
}

// RunsHandler serves run history and accepts run requests.
type RunsHandler struct {
	runs RunsReader
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(runs RunsReader) *RunsHandler {
	return &RunsHandler{runs: runs}
}

// HandleList handles GET /runs?limit=N.
func (h *RunsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultRunsLimit, maxRunsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	runs, err := h.runs.Runs(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []model.RunSummary{}
	}
	writeJSON(w, http.StatusOK, types.RunList{Count: len(runs), Runs: runs})
}

// HandleLatest handles GET /runs/latest.
func (h *RunsHandler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.LatestRun(r.Context())
	h.writeRun(w, run, err)
}

// HandleGet handles GET /runs/{runID}.
func (h *RunsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.RunByID(r.Context(), chi.URLParam(r, "runID"))
	h.writeRun(w, run, err)
}

func (h *RunsHandler) writeRun(w http.ResponseWriter, run model.RunSummary, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, run)
	}
}

// HandleSubmit handles POST /runs. The run happens asynchronously; the reply
// names the queued request.
func (h *RunsHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	req, coalesced, err := h.runs.Submit(r.Context(), TriggerAPI)
	switch {
	case errors.Is(err, queue.ErrFull):
		writeError(w, http.StatusTooManyRequests, err)
		return
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusAccepted, types.RunAccepted{
		RequestID: req.ID,
		Trigger:   req.Trigger,
		Coalesced: coalesced,
		QueuedAt:  req.EnqueuedAt,
	})
}

func parseLimit(r *http.Request, def, max int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", ErrBadRequest)
	}
	if n > max {
		n = max
	}
	return n, nil
}
