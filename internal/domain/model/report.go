package model

// Totals are platform-wide sums over a date range.
type Totals struct {
	Events         int64    `json:"events"`
	Uploads        int64    `json:"uploads"`
	Processing     int64    `json:"processing"`
	Downloads      int64    `json:"downloads"`
	Errors         int64    `json:"errors"`
	PageViews      int64    `json:"page_views"`
	UniqueSessions int64    `json:"unique_sessions"`
	ActiveTools    int64    `json:"active_tools"`
	ConversionRate *float64 `json:"conversion_rate"`
}

// ToolRanking is one row of the top tools report.
type ToolRanking struct {
	ToolName       string   `json:"tool"`
	DisplayName    string   `json:"display_name"`
	Icon           string   `json:"icon,omitempty"`
	Uploads        int64    `json:"uploads"`
	Downloads      int64    `json:"downloads"`
	Sessions       int64    `json:"sessions"`
	ConversionRate *float64 `json:"conversion_rate"`
}

// DailyTrend is one day of the trend report.
type DailyTrend struct {
	Date           string `json:"date"`
	DateLabel      string `json:"date_label"`
	Events         int64  `json:"events"`
	Uploads        int64  `json:"uploads"`
	Downloads      int64  `json:"downloads"`
	UniqueSessions int64  `json:"unique_sessions"`
}
