// Package model contains domain models passed between layers.
package model

import "time"

// Event is a raw record that survived validation. Timestamp keeps the
// offset it was parsed with; conversion to the warehouse zone happens when
// the time bucket is derived.
type Event struct {
	EventID      string // natural event identifier, used for deduplication
	EventType    string // event-type natural identifier
	ToolName     string // tool natural identifier, may be empty
	ToolCategory string
	SessionID    string // session natural identifier, may be empty
	UserID       string
	URL          string
	Timestamp    time.Time
	Properties   map[string]any
}

// KeySet holds the surrogate keys resolved for one event, plus the canonical
// time bucket the event fell into.
type KeySet struct {
	ToolKey      int64
	TimeKey      int64
	SessionKey   int64
	EventTypeKey int64

	// Date is the canonical-zone calendar date (YYYY-MM-DD).
	Date string
	// Hour is the canonical-zone hour of day.
	Hour int
	// Canonical is the event timestamp converted to the warehouse zone.
	Canonical time.Time
}

// EventClass is the funnel classification derived from the event type.
type EventClass string

// Known event classes.
const (
	ClassPageView   EventClass = "page_view"
	ClassUpload     EventClass = "upload"
	ClassProcessing EventClass = "processing"
	ClassDownload   EventClass = "download"
	ClassSessionEnd EventClass = "session_end"
	ClassError      EventClass = "error"
	ClassOther      EventClass = "other"
)

// Fact is one row of fact_analytics.
type Fact struct {
	AnalyticsKey int64
	EventID      string

	ToolKey      int64
	TimeKey      int64
	SessionKey   int64
	EventTypeKey int64

	EventDate string
	EventTS   time.Time
	Class     EventClass

	UploadFlag     bool
	ProcessingFlag bool
	DownloadFlag   bool
	ErrorFlag      bool

	FileSizeBytes    *int64
	ProcessingTimeMs *int64

	UserID string
	URL    string
	RunID  string
}

// FactCounts is what the fact loader reports for one batch.
type FactCounts struct {
	Accepted         int
	Duplicate        int
	UnknownEventType int
}
