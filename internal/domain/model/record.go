package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RawRecord is one loosely-structured row as handed over by the extraction
// layer. Only EventID and Timestamp are required.
type RawRecord struct {
	EventID      string          `json:"event_id"`
	EventType    string          `json:"event_type"`
	ToolName     string          `json:"tool_name"`
	ToolCategory string          `json:"tool_category"`
	SessionID    string          `json:"session_id"`
	UserID       string          `json:"user_id"`
	URL          string          `json:"url"`
	Timestamp    string          `json:"timestamp"`
	Properties   json.RawMessage `json:"properties,omitempty"`
}

// timestampLayouts are tried in order. Layouts without an offset are read in
// the source zone passed to ParseRecord.
var timestampLayouts = []struct {
	layout string
	zoned  bool
}{
	{time.RFC3339Nano, true},
	{"2006-01-02T15:04:05.999999999Z0700", true},
	{"2006-01-02T15:04:05.999999999Z07", true},
	{"2006-01-02 15:04:05.999999999Z07:00", true},
	{"2006-01-02 15:04:05.999999999Z0700", true},
	{"2006-01-02 15:04:05.999999999Z07", true},
	{"2006-01-02T15:04:05.999999999", false},
	{"2006-01-02 15:04:05.999999999", false},
}

// ParseTimestamp parses a source timestamp. Values without an explicit offset
// are interpreted in sourceLoc.
func ParseTimestamp(raw string, sourceLoc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: empty timestamp", ErrMalformedRecord)
	}
	if sourceLoc == nil {
		sourceLoc = time.UTC
	}
	for _, l := range timestampLayouts {
		var (
			ts  time.Time
			err error
		)
		if l.zoned {
			ts, err = time.Parse(l.layout, raw)
		} else {
			ts, err = time.ParseInLocation(l.layout, raw, sourceLoc)
		}
		if err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparseable timestamp %q", ErrMalformedRecord, raw)
}

// ParseRecord validates a raw record and converts it into an Event. It fails
// with ErrMalformedRecord when the event id is missing or the timestamp
// cannot be parsed. Unreadable properties are dropped, not fatal.
func ParseRecord(r *RawRecord, sourceLoc *time.Location) (Event, error) {
	id := strings.TrimSpace(r.EventID)
	if id == "" {
		return Event{}, fmt.Errorf("%w: missing event_id", ErrMalformedRecord)
	}
	ts, err := ParseTimestamp(r.Timestamp, sourceLoc)
	if err != nil {
		return Event{}, fmt.Errorf("event %s: %w", id, err)
	}
	return Event{
		EventID:      id,
		EventType:    strings.TrimSpace(r.EventType),
		ToolName:     strings.TrimSpace(r.ToolName),
		ToolCategory: strings.TrimSpace(r.ToolCategory),
		SessionID:    strings.TrimSpace(r.SessionID),
		UserID:       strings.TrimSpace(r.UserID),
		URL:          r.URL,
		Timestamp:    ts,
		Properties:   decodeProperties(r.Properties),
	}, nil
}

// decodeProperties accepts either a JSON object or a JSON string holding an
// object. The source has been seen to emit python-style single quotes inside
// the string form.
func decodeProperties(raw json.RawMessage) map[string]any {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]any{}
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return map[string]any{}
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return map[string]any{}
		}
		props := map[string]any{}
		if err := json.Unmarshal([]byte(s), &props); err == nil {
			return props
		}
		props = map[string]any{}
		if err := json.Unmarshal([]byte(strings.ReplaceAll(s, "'", `"`)), &props); err == nil {
			return props
		}
		return map[string]any{}
	}

	props := map[string]any{}
	if err := json.Unmarshal(raw, &props); err != nil {
		return map[string]any{}
	}
	return props
}

// StringProp returns a string property or "".
func (e *Event) StringProp(key string) string {
	if v, ok := e.Properties[key].(string); ok {
		return v
	}
	return ""
}

// IntProp returns a numeric property as int64. JSON numbers arrive as
// float64; numeric strings are accepted too.
func (e *Event) IntProp(key string) (int64, bool) {
	switch v := e.Properties[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}
