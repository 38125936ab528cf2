package service

import (
	"time"

	"github.com/okian/starkpi/internal/adapters/source"
	"github.com/okian/starkpi/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithSource sets where Run extracts batches from.
func WithSource(src source.Source) Option {
	return func(s *Service) {
		s.source = src
	}
}

// WithReplica mirrors recomputed KPI rows after every committed run.
func WithReplica(r Replica) Option {
	return func(s *Service) {
		s.replica = r
	}
}

// WithCanonicalLocation sets the warehouse zone for time buckets.
func WithCanonicalLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.canonicalLoc = loc
		}
	}
}

// WithSourceLocation sets the zone of source timestamps without an offset.
func WithSourceLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.sourceLoc = loc
		}
	}
}

// WithLockWait bounds how long a run waits for the warehouse lock.
func WithLockWait(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.lockWait = d
		}
	}
}

// WithDownloadsTolerance sets the funnel slack of the quality gate.
func WithDownloadsTolerance(n int64) Option {
	return func(s *Service) {
		if n >= 0 {
			s.downloadsTolerance = n
		}
	}
}

// WithFutureSkew sets the clock skew the quality gate allows.
func WithFutureSkew(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.futureSkew = d
		}
	}
}

// WithSchedule sets the cron spec used by Start. Empty disables it.
func WithSchedule(spec string) Option {
	return func(s *Service) {
		s.schedule = spec
	}
}

// WithQueueSize sets the capacity of the run request queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides how run ids are minted.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}
