// Package schedule submits run requests on a cron schedule.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/okian/starkpi/internal/adapters/mq/queue"
	"github.com/okian/starkpi/pkg/logger"
	"github.com/robfig/cron/v3"
)

// Trigger is the trigger name of scheduled requests.
const Trigger = "schedule"

// Submitter accepts run requests.
type Submitter interface {
	Submit(ctx context.Context, r queue.Request) (queue.Request, bool, error)
}

// Scheduler fires run requests on a standard five-field cron spec or a
// descriptor such as "@hourly" or "@every 15m".
type Scheduler struct {
	cron   *cron.Cron
	spec   string
	entry  cron.EntryID
	submit Submitter
	loc    *time.Location
	logger logger.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLocation sets the zone the spec is evaluated in. Default UTC.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// New validates spec and prepares the scheduler. Nothing fires until Start.
func New(spec string, submit Submitter, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{spec: spec, submit: submit, loc: time.UTC, logger: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	s.cron = cron.New(cron.WithLocation(s.loc))
	id, err := s.cron.AddFunc(spec, s.fire)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

func (s *Scheduler) fire() {
	ctx := context.Background()
	r := queue.Request{ID: uuid.NewString(), Trigger: Trigger, EnqueuedAt: time.Now()}
	queued, coalesced, err := s.submit.Submit(ctx, r)
	if err != nil {
		s.logger.Warn(ctx, "scheduled run not queued", logger.Error(err))
		return
	}
	s.logger.Info(ctx, "scheduled run queued",
		logger.String("request_id", queued.ID),
		logger.Bool("coalesced", coalesced),
		logger.Time("next", s.Next()),
	)
}

// Start begins firing in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info(context.Background(), "scheduler started",
		logger.String("spec", s.spec),
		logger.Time("next", s.Next()),
	)
}

// Stop stops firing and waits for a submission in progress, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the next activation time, zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Spec returns the schedule expression.
func (s *Scheduler) Spec() string { return s.spec }
