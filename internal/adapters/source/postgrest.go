package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/okian/starkpi/internal/domain/model"
	"github.com/okian/starkpi/pkg/logger"
	"github.com/okian/starkpi/pkg/metrics"
)

// Defaults for the PostgREST source.
const (
	DefaultTable    = "analytics_events"
	DefaultPageSize = 1000

	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	maxBodyBytes      = 64 << 20
)

// PostgREST pages through one table of a PostgREST endpoint (Supabase's
// /rest/v1 API). Pages are ordered by timestamp then event id so offsets
// stay stable while the table grows at the tail.
type PostgREST struct {
	baseURL    string
	apiKey     string
	table      string
	pageSize   int
	maxRetries uint64
	since      time.Time
	dayZone    *time.Location
	client     *http.Client
	backoff    func() backoff.BackOff
	logger     logger.Logger
}

// PostgRESTOption configures a PostgREST source.
type PostgRESTOption func(*PostgREST)

// WithTable sets the source table.
func WithTable(table string) PostgRESTOption {
	return func(p *PostgREST) {
		if table != "" {
			p.table = table
		}
	}
}

// WithPageSize sets the number of rows requested per page.
func WithPageSize(n int) PostgRESTOption {
	return func(p *PostgREST) {
		if n > 0 {
			p.pageSize = n
		}
	}
}

// WithMaxRetries bounds the retries of each page request.
func WithMaxRetries(n int) PostgRESTOption {
	return func(p *PostgREST) {
		if n >= 0 {
			p.maxRetries = uint64(n)
		}
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) PostgRESTOption {
	return func(p *PostgREST) {
		if d > 0 {
			p.client.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) PostgRESTOption {
	return func(p *PostgREST) {
		if c != nil {
			p.client = c
		}
	}
}

// WithSince limits extraction to rows on or after the day containing t.
// The bound is moved back to midnight in the warehouse zone so the total
// the endpoint reports covers whole warehouse dates.
func WithSince(t time.Time) PostgRESTOption {
	return func(p *PostgREST) { p.since = t }
}

// WithDayZone sets the zone whose midnight the since bound is aligned to.
// It must match the warehouse's canonical zone. Defaults to UTC.
func WithDayZone(loc *time.Location) PostgRESTOption {
	return func(p *PostgREST) {
		if loc != nil {
			p.dayZone = loc
		}
	}
}

// DayStart returns midnight, in loc, of the day containing t.
func DayStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// WithBackOff sets the retry schedule factory.
func WithBackOff(fn func() backoff.BackOff) PostgRESTOption {
	return func(p *PostgREST) {
		if fn != nil {
			p.backoff = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) PostgRESTOption {
	return func(p *PostgREST) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPostgREST returns a source reading from baseURL (the project URL, without
// /rest/v1) authenticated with apiKey.
func NewPostgREST(baseURL, apiKey string, opts ...PostgRESTOption) *PostgREST {
	p := &PostgREST{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		table:      DefaultTable,
		pageSize:   DefaultPageSize,
		maxRetries: defaultMaxRetries,
		dayZone:    time.UTC,
		client:     &http.Client{Timeout: defaultTimeout},
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxElapsedTime = 2 * time.Minute
			return b
		},
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Extract reads every page of the table. The expected count comes from the
// Content-Range total of the first page.
func (p *PostgREST) Extract(ctx context.Context) (Batch, error) {
	start := time.Now()
	defer func() {
		metrics.RecordExtractLatency(float64(time.Since(start).Milliseconds()))
	}()

	var batch Batch
	for offset := 0; ; offset += p.pageSize {
		records, total, err := p.fetchPage(ctx, offset, offset == 0)
		if err != nil {
			return Batch{}, err
		}
		if offset == 0 {
			batch.ExpectedCount = total
		}
		batch.Records = append(batch.Records, records...)
		if len(records) < p.pageSize {
			break
		}
	}

	metrics.RecordExtractRecords(len(batch.Records))
	fields := []logger.Field{
		logger.String("table", p.table),
		logger.Int("records", len(batch.Records)),
		logger.Duration("took", time.Since(start)),
	}
	if batch.ExpectedCount != nil {
		fields = append(fields, logger.Int64("expected", *batch.ExpectedCount))
	}
	p.logger.Info(ctx, "extracted batch", fields...)
	return batch, nil
}

func (p *PostgREST) pageURL(offset int) string {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("order", "timestamp.asc,event_id.asc")
	q.Set("limit", strconv.Itoa(p.pageSize))
	q.Set("offset", strconv.Itoa(offset))
	if !p.since.IsZero() {
		q.Set("timestamp", "gte."+DayStart(p.since, p.dayZone).UTC().Format(time.RFC3339Nano))
	}
	return fmt.Sprintf("%s/rest/v1/%s?%s", p.baseURL, url.PathEscape(p.table), q.Encode())
}

func (p *PostgREST) fetchPage(ctx context.Context, offset int, count bool) ([]model.RawRecord, *int64, error) {
	var (
		records []model.RawRecord
		total   *int64
		attempt int
	)
	op := func() error {
		attempt++
		if attempt > 1 {
			metrics.RecordExtractRetry()
		}
		var err error
		records, total, err = p.doPage(ctx, offset, count)
		if err != nil {
			p.logger.Warn(ctx, "page request failed",
				logger.Int("offset", offset),
				logger.Int("attempt", attempt),
				logger.Error(err),
			)
		}
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(p.backoff(), p.maxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return nil, nil, fmt.Errorf("extract %s offset %d: %w", p.table, offset, err)
	}
	return records, total, nil
}

// doPage performs one request. Client errors are permanent; transport
// errors and 5xx are retried.
func (p *PostgREST) doPage(ctx context.Context, offset int, count bool) ([]model.RawRecord, *int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.pageURL(offset), nil)
	if err != nil {
		return nil, nil, backoff.Permanent(err)
	}
	req.Header.Set("apikey", p.apiKey)
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "application/json")
	if count {
		req.Header.Set("Prefer", "count=exact")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		metrics.RecordExtractError("transport")
		if ctx.Err() != nil {
			return nil, nil, backoff.Permanent(ctx.Err())
		}
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		metrics.RecordExtractError("transport")
		return nil, nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(truncate(string(body), 200)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			metrics.RecordExtractError("client_status")
			return nil, nil, backoff.Permanent(err)
		}
		metrics.RecordExtractError("server_status")
		return nil, nil, err
	}

	records, err := decodeArray(body)
	if err != nil {
		metrics.RecordExtractError("payload")
		return nil, nil, backoff.Permanent(err)
	}

	var total *int64
	if count {
		total = parseContentRangeTotal(resp.Header.Get("Content-Range"))
	}
	return records, total, nil
}

// parseContentRangeTotal reads the total from "0-999/5234" or "*/0". An
// unknown total ("0-9/*") yields nil.
func parseContentRangeTotal(v string) *int64 {
	i := strings.LastIndexByte(v, '/')
	if i < 0 {
		return nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v[i+1:]), 10, 64)
	if err != nil || n < 0 {
		return nil
	}
	return &n
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
