// Package catalog holds the fixed reference data the loaders attach to
// dimension rows and the event-type to funnel-class lookup.
package catalog

import (
	"strings"
	"unicode"

	model "github.com/okian/starkpi/internal/domain/model"
)

// Known event-type natural identifiers.
const (
	EventPageView       = "page_view"
	EventFileUpload     = "file_upload_started"
	EventProcessing     = "processing_started"
	EventFileDownloaded = "file_downloaded"
	EventSessionEnd     = "session_end"
	EventError          = "error_occurred"
)

// CategoryOther is the event category assigned to unknown event types.
const CategoryOther = "Other"

// EventType describes one entry of the event-type catalog.
type EventType struct {
	Name         string
	Class        model.EventClass
	Category     string
	Description  string
	IsConversion bool
	Weight       float64
	DisplayName  string
	Icon         string
	Color        string
}

var eventTypes = map[string]EventType{
	EventPageView: {
		Name: EventPageView, Class: model.ClassPageView, Category: "Navigation",
		Description: "User viewed a page", Weight: 1.0,
		DisplayName: "Page View", Icon: "eye", Color: "#3B82F6",
	},
	EventFileUpload: {
		Name: EventFileUpload, Class: model.ClassUpload, Category: "Engagement",
		Description: "User uploaded a file", IsConversion: true, Weight: 3.0,
		DisplayName: "File Upload", Icon: "upload", Color: "#10B981",
	},
	EventProcessing: {
		Name: EventProcessing, Class: model.ClassProcessing, Category: "Action",
		Description: "File processing started", IsConversion: true, Weight: 2.0,
		DisplayName: "Processing Started", Icon: "cog", Color: "#F59E0B",
	},
	EventFileDownloaded: {
		Name: EventFileDownloaded, Class: model.ClassDownload, Category: "Conversion",
		Description: "User downloaded processed file", IsConversion: true, Weight: 5.0,
		DisplayName: "File Downloaded", Icon: "download", Color: "#EF4444",
	},
	EventSessionEnd: {
		Name: EventSessionEnd, Class: model.ClassSessionEnd, Category: "Session",
		Description: "User session ended", Weight: 0.5,
		DisplayName: "Session End", Icon: "logout", Color: "#6B7280",
	},
	EventError: {
		Name: EventError, Class: model.ClassError, Category: "Error",
		Description: "An error occurred", Weight: -1.0,
		DisplayName: "Error", Icon: "exclamation", Color: "#DC2626",
	},
}

// LookupEventType returns the catalog entry for name. Unknown names get a
// generic entry with class other and category Other; ok is false for them.
func LookupEventType(name string) (EventType, bool) {
	if et, ok := eventTypes[name]; ok {
		return et, true
	}
	return EventType{
		Name:        name,
		Class:       model.ClassOther,
		Category:    CategoryOther,
		Description: "Unrecognized event type",
		Weight:      0,
		DisplayName: DisplayName(name),
		Icon:        "question",
		Color:       "#9CA3AF",
	}, false
}

// Flags is the fixed classification of an event type into funnel stages.
type Flags struct {
	Upload     bool
	Processing bool
	Download   bool
	Error      bool
}

// Classify returns the funnel class and flags for an event type and whether
// the type is known.
func Classify(eventType string) (model.EventClass, Flags, bool) {
	et, known := LookupEventType(eventType)
	f := Flags{
		Upload:     et.Class == model.ClassUpload,
		Processing: et.Class == model.ClassProcessing,
		Download:   et.Class == model.ClassDownload,
		Error:      et.Class == model.ClassError,
	}
	return et.Class, f, known
}

// Attributes returns the dimension attributes for the event type row.
func (et EventType) Attributes() model.Attributes {
	return model.Attributes{
		"event_category":      et.Category,
		"event_description":   et.Description,
		"is_conversion_event": et.IsConversion,
		"event_weight":        et.Weight,
		"display_name":        et.DisplayName,
		"icon_class":          et.Icon,
		"color_code":          et.Color,
	}
}

// EventTypes returns the known event-type names.
func EventTypes() []string {
	return []string{EventPageView, EventFileUpload, EventProcessing, EventFileDownloaded, EventSessionEnd, EventError}
}

// DisplayName turns a natural identifier such as "page_remover" into
// "Page Remover".
func DisplayName(id string) string {
	words := strings.FieldsFunc(id, func(r rune) bool { return r == '_' || r == '-' || unicode.IsSpace(r) })
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
