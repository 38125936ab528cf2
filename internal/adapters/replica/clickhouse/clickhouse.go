// Package clickhouse mirrors daily KPI rows into ClickHouse for dashboards
// that query a columnar store. The SQLite warehouse stays the system of
// record; the mirror is best effort.
package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/cenkalti/backoff/v4"
	"github.com/okian/starkpi/internal/domain/model"
	"github.com/okian/starkpi/pkg/logger"
	"github.com/okian/starkpi/pkg/metrics"
)

const (
	defaultTable        = "daily_kpis"
	defaultDialTimeout  = 10 * time.Second
	defaultMaxRetries   = 3
	defaultMaxOpenConns = 4
)

// ErrNoAddr is returned by Connect when no address is configured.
var ErrNoAddr = errors.New("clickhouse address not configured")

// Config holds connection parameters.
type Config struct {
	Addr        string
	Database    string
	Username    string
	Password    string
	DialTimeout time.Duration
	MaxRetries  int
}

// Connect opens and pings a connection, retrying with exponential backoff.
func Connect(ctx context.Context, cfg Config) (driver.Conn, error) {
	if cfg.Addr == "" {
		return nil, ErrNoAddr
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Username == "" {
		cfg.Username = "default"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	opts := &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:      cfg.DialTimeout,
		MaxOpenConns:     defaultMaxOpenConns,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	}

	var conn driver.Conn
	op := func() error {
		c, err := clickhouse.Open(opts)
		if err != nil {
			return err
		}
		if err := c.Ping(ctx); err != nil {
			_ = c.Close()
			return err
		}
		conn = c
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(cfg.MaxRetries-1)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("connect to clickhouse at %s: %w", cfg.Addr, err)
	}
	return conn, nil
}

// Publisher writes KPI rows into a ReplacingMergeTree keyed by (date, tool).
// Rows carry a version so the newest recomputation wins on merge.
type Publisher struct {
	conn   driver.Conn
	table  string
	logger logger.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithTable overrides the target table name.
func WithTable(name string) Option {
	return func(p *Publisher) {
		if name != "" {
			p.table = name
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// New returns a Publisher over conn.
func New(conn driver.Conn, opts ...Option) *Publisher {
	p := &Publisher{conn: conn, table: defaultTable, logger: logger.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// InitSchema creates the target table if it does not exist.
func (p *Publisher) InitSchema(ctx context.Context) error {
	if err := p.conn.Exec(ctx, createTableDDL(p.table)); err != nil {
		return fmt.Errorf("creating table %s: %w", p.table, err)
	}
	return nil
}

func createTableDDL(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			date Date,
			tool_key Int64,
			tool_name String,
			tool_display_name String,
			total_events Int64,
			total_uploads Int64,
			total_processing Int64,
			total_downloads Int64,
			total_errors Int64,
			page_views Int64,
			unique_sessions Int64,
			unique_users Int64,
			conversion_rate Nullable(Float64),
			upload_to_processing_rate Nullable(Float64),
			processing_to_download_rate Nullable(Float64),
			avg_processing_time_ms Nullable(Float64),
			avg_file_size_bytes Nullable(Float64),
			run_id String,
			computed_at DateTime64(3),
			version UInt64
		) ENGINE = ReplacingMergeTree(version)
		ORDER BY (date, tool_name)`, table)
}

// Publish appends rows in one batch.
func (p *Publisher) Publish(ctx context.Context, rows []model.KPIView) (err error) {
	defer func() { metrics.RecordReplicaPublish(len(rows), err) }()
	if len(rows) == 0 {
		return nil
	}

	batch, err := p.conn.PrepareBatch(ctx, "INSERT INTO "+p.table)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for i := range rows {
		values, err := rowValues(&rows[i])
		if err != nil {
			_ = batch.Abort()
			return err
		}
		if err := batch.Append(values...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append kpi %s: %w", rows[i].KPIKey, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	p.logger.Debug(ctx, "kpi rows mirrored", logger.Int("rows", len(rows)), logger.String("table", p.table))
	return nil
}

// Close closes the connection.
func (p *Publisher) Close() error { return p.conn.Close() }

// rowValues lays a KPI row out in table column order.
func rowValues(v *model.KPIView) ([]any, error) {
	date, err := time.Parse("2006-01-02", v.Date)
	if err != nil {
		return nil, fmt.Errorf("kpi %s: bad date: %w", v.KPIKey, err)
	}
	computed := v.ComputedAt.UTC()
	return []any{
		date,
		v.ToolKey,
		v.ToolName,
		v.ToolDisplayName,
		v.TotalEvents,
		v.TotalUploads,
		v.TotalProcessing,
		v.TotalDownloads,
		v.TotalErrors,
		v.PageViews,
		v.UniqueSessions,
		v.UniqueUsers,
		v.ConversionRate,
		v.UploadToProcessingRate,
		v.ProcessingToDownloadRate,
		v.AvgProcessingTimeMs,
		v.AvgFileSizeBytes,
		v.RunID,
		computed,
		uint64(computed.UnixMilli()),
	}, nil
}
