package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/okian/starkpi/internal/domain/model"
	"github.com/okian/starkpi/pkg/metrics"
)

// File reads a batch from a local file. Three layouts are accepted: a JSON
// array of records, an object {"records": [...], "expected_count": n}, or
// newline-delimited JSON with one record per line.
type File struct {
	path string
}

// NewFile returns a source reading path on every Extract.
func NewFile(path string) *File {
	return &File{path: path}
}

// Extract reads and decodes the file.
func (f *File) Extract(ctx context.Context) (Batch, error) {
	start := time.Now()
	defer func() {
		metrics.RecordExtractLatency(float64(time.Since(start).Milliseconds()))
	}()

	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		metrics.RecordExtractError("file")
		return Batch{}, fmt.Errorf("read %s: %w", f.path, err)
	}
	b, err := DecodeBatch(data)
	if err != nil {
		metrics.RecordExtractError("payload")
		return Batch{}, fmt.Errorf("decode %s: %w", f.path, err)
	}
	metrics.RecordExtractRecords(len(b.Records))
	return b, nil
}

// DecodeBatch decodes any of the layouts File accepts.
func DecodeBatch(data []byte) (Batch, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Batch{}, nil
	}

	switch trimmed[0] {
	case '[':
		records, err := decodeArray(trimmed)
		if err != nil {
			return Batch{}, err
		}
		return Batch{Records: records}, nil
	case '{':
		var envelope struct {
			Records       json.RawMessage `json:"records"`
			ExpectedCount *int64          `json:"expected_count"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err == nil && len(envelope.Records) > 0 {
			records, err := decodeArray(envelope.Records)
			if err != nil {
				return Batch{}, err
			}
			return Batch{Records: records, ExpectedCount: envelope.ExpectedCount}, nil
		}
		return decodeLines(trimmed)
	default:
		return Batch{}, fmt.Errorf("%w: expected a JSON array, object or NDJSON", ErrInvalidPayload)
	}
}

func decodeLines(data []byte) (Batch, error) {
	var out []model.RawRecord
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		r, err := decodeRecord(append(json.RawMessage(nil), text...))
		if err != nil {
			return Batch{}, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return Batch{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return Batch{Records: out}, nil
}
