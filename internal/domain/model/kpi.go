package model

import "time"

// DayTool identifies one daily KPI row.
type DayTool struct {
	Date    string // YYYY-MM-DD in the warehouse zone
	ToolKey int64
}

// DailyKPI is one row of fact_daily_kpis. Rates are nil when their
// denominator is zero.
type DailyKPI struct {
	KPIKey  string
	Date    string
	ToolKey int64

	TotalEvents     int64
	TotalUploads    int64
	TotalProcessing int64
	TotalDownloads  int64
	TotalErrors     int64
	PageViews       int64
	UniqueSessions  int64
	UniqueUsers     int64

	// ConversionRate is downloads/uploads as a percentage.
	ConversionRate           *float64
	UploadToProcessingRate   *float64
	ProcessingToDownloadRate *float64
	AvgProcessingTimeMs      *float64
	AvgFileSizeBytes         *float64

	ComputedAt time.Time
	RunID      string
}

// KPIFilter narrows KPI reads. Empty fields are unbounded.
type KPIFilter struct {
	From     string
	To       string
	ToolName string
	Limit    int
}

// KPIView is a KPI row joined with its tool's natural identifier.
type KPIView struct {
	DailyKPI
	ToolName        string
	ToolDisplayName string
}
