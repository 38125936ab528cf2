package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// runLock is held for the whole of a run: a channel semaphore for callers in
// this process and an advisory file lock for other processes sharing the
// database file.
type runLock struct {
	path string
	poll time.Duration
	sem  chan struct{}
}

func newRunLock(path string, poll time.Duration) *runLock {
	return &runLock{path: path, poll: poll, sem: make(chan struct{}, 1)}
}

func (l *runLock) acquire(ctx context.Context, wait time.Duration) (func() error, error) {
	waitCtx := ctx
	if wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}

	if wait > 0 {
		select {
		case l.sem <- struct{}{}:
		case <-waitCtx.Done():
			return nil, l.waitErr(ctx)
		}
	} else {
		select {
		case l.sem <- struct{}{}:
		default:
			return nil, ErrLocked
		}
	}

	fl := flock.New(l.path)
	var (
		ok  bool
		err error
	)
	if wait > 0 {
		ok, err = fl.TryLockContext(waitCtx, l.poll)
	} else {
		ok, err = fl.TryLock()
	}
	if !ok {
		<-l.sem
		if err == nil || errors.Is(err, context.DeadlineExceeded) {
			return nil, l.waitErr(ctx)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("lock %s: %w", l.path, err)
	}

	released := false
	return func() error {
		if released {
			return nil
		}
		released = true
		defer func() { <-l.sem }()
		return fl.Unlock()
	}, nil
}

// waitErr distinguishes a caller cancellation from an exhausted wait.
func (l *runLock) waitErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrLocked, l.path)
}
