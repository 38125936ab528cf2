package model

import "time"

// RunStatus is the terminal state of an ETL run.
type RunStatus string

// Run statuses.
const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Verdict classifies a completed run after the quality gate.
type Verdict string

// Quality verdicts.
const (
	VerdictClean    Verdict = "clean"
	VerdictDegraded Verdict = "degraded"
)

// Quality check names.
const (
	CheckRowCount             = "row_count"
	CheckReferentialIntegrity = "referential_integrity"
	CheckFunnelInvariant      = "funnel_invariant"
	CheckFutureDated          = "future_dated"
	CheckDateRange            = "date_range"
)

// Deviation is one itemized quality finding.
type Deviation struct {
	Check    string `json:"check"`
	Subject  string `json:"subject"`
	Expected int64  `json:"expected"`
	Actual   int64  `json:"actual"`
	Message  string `json:"message"`
}

// Window is the inclusive date range a run covered.
type Window struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Empty reports whether the window covers no dates.
func (w Window) Empty() bool { return w.From == "" && w.To == "" }

// QualityReport is the structured output of the quality gate.
type QualityReport struct {
	Verdict    Verdict     `json:"verdict"`
	Window     Window      `json:"window"`
	Deviations []Deviation `json:"deviations"`
}

// RunSummary is emitted at the end of every run, completed or failed.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Trigger    string    `json:"trigger"`
	Status     RunStatus `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	RecordsSeen       int `json:"records_seen"`
	Accepted          int `json:"accepted"`
	Duplicate         int `json:"duplicate"`
	Malformed         int `json:"malformed"`
	UnknownEventType  int `json:"unknown_event_type"`
	KPIRowsRecomputed int `json:"kpi_rows_recomputed"`

	ExpectedCount *int64         `json:"expected_count,omitempty"`
	Quality       *QualityReport `json:"quality,omitempty"`
	Error         string         `json:"error,omitempty"`
}
