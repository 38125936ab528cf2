// Package repository is the SQLite-backed star-schema warehouse.
package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/okian/starkpi/pkg/logger"
	"github.com/okian/starkpi/pkg/metrics"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// tsLayout is the fixed-width UTC layout of every stored timestamp, so that
// string comparison matches time order.
const tsLayout = "2006-01-02T15:04:05.000000Z"

// Store is the warehouse. Writes go through a Tx obtained from Begin; reads
// are methods on Store.
type Store struct {
	db          *sql.DB
	path        string
	busyTimeout time.Duration
	lockPoll    time.Duration
	now         func() time.Time
	logger      logger.Logger

	runLock *runLock

	closeOnce sync.Once
	closed    bool
	mu        sync.RWMutex
}

// Open opens (creating if needed) the warehouse at path and applies pending
// migrations.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:        path,
		busyTimeout: 5 * time.Second,
		lockPoll:    50 * time.Millisecond,
		now:         time.Now,
		logger:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s.db = db

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	s.runLock = newRunLock(path+".lock", s.lockPoll)
	s.logger.Info(ctx, "warehouse opened", logger.String("path", path))
	return s, nil
}

// dsn enables foreign keys, WAL and a busy timeout on every pooled
// connection. Write transactions take the database lock up front.
func (s *Store) dsn() string {
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		s.path, s.busyTimeout.Milliseconds())
}

func (s *Store) migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	drv, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("preparing migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return fmt.Errorf("preparing migrations: %w", err)
	}
	// m.Close would close s.db through the driver; only the source is released.
	defer src.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Close closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		err = s.db.Close()
	})
	return err
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Begin starts the write transaction of a run. Rows written through the
// returned Tx are stamped with runID.
func (s *Store) Begin(ctx context.Context, runID string) (*Tx, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	observe("begin", start)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Tx{tx: tx, runID: runID, now: s.now}, nil
}

// Lock serializes runs across goroutines and processes. It waits at most
// wait and returns ErrLocked when the lock stays held. The returned function
// releases the lock.
func (s *Store) Lock(ctx context.Context, wait time.Duration) (func() error, error) {
	start := time.Now()
	unlock, err := s.runLock.acquire(ctx, wait)
	metrics.RecordLockWait(float64(time.Since(start).Milliseconds()))
	if err != nil {
		if errors.Is(err, ErrLocked) {
			metrics.RecordLockContention()
		}
		return nil, err
	}
	return unlock, nil
}

func (s *Store) timestamp() string { return s.now().UTC().Format(tsLayout) }

// observe records the latency of a warehouse operation.
func observe(op string, start time.Time) {
	metrics.RecordRepositoryQueryLatency(op, float64(time.Since(start).Microseconds())/1000)
}

// boolInt stores booleans the way SQLite expects them.
func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
