// Package types contains the JSON shapes served by the HTTP API.
package types

import (
	"time"

	"github.com/okian/starkpi/internal/domain/model"
)

// KPIRow is one daily KPI row as served to clients.
type KPIRow struct {
	Date            string `json:"date"`
	Tool            string `json:"tool"`
	ToolDisplayName string `json:"tool_display_name,omitempty"`

	TotalEvents     int64 `json:"total_events"`
	TotalUploads    int64 `json:"total_uploads"`
	TotalProcessing int64 `json:"total_processing"`
	TotalDownloads  int64 `json:"total_downloads"`
	TotalErrors     int64 `json:"total_errors"`
	PageViews       int64 `json:"page_views"`
	UniqueSessions  int64 `json:"unique_sessions"`
	UniqueUsers     int64 `json:"unique_users"`

	ConversionRate           *float64 `json:"conversion_rate"`
	UploadToProcessingRate   *float64 `json:"upload_to_processing_rate"`
	ProcessingToDownloadRate *float64 `json:"processing_to_download_rate"`
	AvgProcessingTimeMs      *float64 `json:"avg_processing_time_ms"`
	AvgFileSizeBytes         *float64 `json:"avg_file_size_bytes"`

	ComputedAt time.Time `json:"computed_at"`
	RunID      string    `json:"run_id"`
}

// KPIRowOf converts a stored KPI row.
func KPIRowOf(v *model.KPIView) KPIRow {
	return KPIRow{
		Date:                     v.Date,
		Tool:                     v.ToolName,
		ToolDisplayName:          v.ToolDisplayName,
		TotalEvents:              v.TotalEvents,
		TotalUploads:             v.TotalUploads,
		TotalProcessing:          v.TotalProcessing,
		TotalDownloads:           v.TotalDownloads,
		TotalErrors:              v.TotalErrors,
		PageViews:                v.PageViews,
		UniqueSessions:           v.UniqueSessions,
		UniqueUsers:              v.UniqueUsers,
		ConversionRate:           v.ConversionRate,
		UploadToProcessingRate:   v.UploadToProcessingRate,
		ProcessingToDownloadRate: v.ProcessingToDownloadRate,
		AvgProcessingTimeMs:      v.AvgProcessingTimeMs,
		AvgFileSizeBytes:         v.AvgFileSizeBytes,
		ComputedAt:               v.ComputedAt,
		RunID:                    v.RunID,
	}
}

// KPIList is the body of GET /kpis.
type KPIList struct {
	From  string   `json:"from,omitempty"`
	To    string   `json:"to,omitempty"`
	Tool  string   `json:"tool,omitempty"`
	Count int      `json:"count"`
	Rows  []KPIRow `json:"rows"`
}

// RunList is the body of GET /runs.
type RunList struct {
	Count int                `json:"count"`
	Runs  []model.RunSummary `json:"runs"`
}

// RunAccepted is the body of POST /runs.
type RunAccepted struct {
	RequestID string    `json:"request_id"`
	Trigger   string    `json:"trigger"`
	Coalesced bool      `json:"coalesced"`
	QueuedAt  time.Time `json:"queued_at"`
}

// Stats describes the warehouse and the runner.
type Stats struct {
	Started     bool              `json:"started"`
	Tables      map[string]int64  `json:"tables"`
	LastRun     *model.RunSummary `json:"last_run,omitempty"`
	QueueLength int               `json:"queue_length"`
	Schedule    string            `json:"schedule,omitempty"`
	NextRun     *time.Time        `json:"next_run,omitempty"`
}

// Health is the body of GET /healthz.
type Health struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
