// Package source extracts raw event batches from upstream systems.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/okian/starkpi/internal/domain/model"
)

// Sentinel errors.
var (
	ErrUnexpectedStatus = errors.New("unexpected response status")
	ErrInvalidPayload   = errors.New("invalid payload")
)

// Batch is one extraction: the records in source order plus the number of
// records the source claims to hold, when it says.
type Batch struct {
	Records       []model.RawRecord
	ExpectedCount *int64
}

// Source produces batches of raw records.
type Source interface {
	Extract(ctx context.Context) (Batch, error)
}

// Func adapts a function to Source.
type Func func(ctx context.Context) (Batch, error)

// Extract calls f.
func (f Func) Extract(ctx context.Context) (Batch, error) { return f(ctx) }

// Static returns a Source that always yields records.
func Static(records []model.RawRecord, expected *int64) Source {
	return Func(func(context.Context) (Batch, error) {
		out := make([]model.RawRecord, len(records))
		copy(out, records)
		return Batch{Records: out, ExpectedCount: expected}, nil
	})
}

// decodeRecord reads one JSON object into a RawRecord. Upstream rows are not
// strictly typed: ids may be numbers and any field may be null.
func decodeRecord(raw json.RawMessage) (model.RawRecord, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return model.RawRecord{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	r := model.RawRecord{
		EventID:      scalar(fields["event_id"]),
		EventType:    scalar(fields["event_type"]),
		ToolName:     scalar(fields["tool_name"]),
		ToolCategory: scalar(fields["tool_category"]),
		SessionID:    scalar(fields["session_id"]),
		UserID:       scalar(fields["user_id"]),
		URL:          scalar(fields["url"]),
		Timestamp:    scalar(fields["timestamp"]),
		Properties:   fields["properties"],
	}
	if r.EventID == "" {
		r.EventID = scalar(fields["id"])
	}
	if r.Timestamp == "" {
		r.Timestamp = scalar(fields["created_at"])
	}
	return r, nil
}

// scalar renders a JSON scalar as a string. Objects, arrays and null are "".
func scalar(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	case 't', 'f':
		if b, err := strconv.ParseBool(string(raw)); err == nil {
			return strconv.FormatBool(b)
		}
	case 'n', '{', '[':
		return ""
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			return n.String()
		}
	}
	return ""
}

// decodeArray reads a JSON array of records.
func decodeArray(data []byte) ([]model.RawRecord, error) {
	var rows []json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	out := make([]model.RawRecord, 0, len(rows))
	for i, row := range rows {
		r, err := decodeRecord(row)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}
