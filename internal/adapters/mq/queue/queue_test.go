package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	got, coalesced, err := q.Submit(ctx, Request{ID: "r1", Trigger: "api"})
	if err != nil || coalesced {
		t.Fatalf("expected submit to queue, got coalesced=%v err=%v", coalesced, err)
	}
	if got.EnqueuedAt.IsZero() {
		t.Error("expected enqueue time to be stamped")
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	r := <-q.Dequeue(ctx)
	if r.ID != "r1" {
		t.Errorf("expected r1, got %v", r.ID)
	}
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_Coalescing(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(4))
	ctx := context.Background()

	if _, _, err := q.Submit(ctx, Request{ID: "r1", Trigger: "schedule"}); err != nil {
		t.Fatal(err)
	}
	got, coalesced, err := q.Submit(ctx, Request{ID: "r2", Trigger: "schedule"})
	if err != nil {
		t.Fatal(err)
	}
	if !coalesced || got.ID != "r1" {
		t.Errorf("expected r2 to merge into r1, got %s coalesced=%v", got.ID, coalesced)
	}
	if _, coalesced, _ := q.Submit(ctx, Request{ID: "r3", Trigger: "api"}); coalesced {
		t.Error("a different trigger must not coalesce")
	}
	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}

	ch := q.Dequeue(ctx)
	if r := <-ch; r.ID != "r1" {
		t.Errorf("expected r1, got %s", r.ID)
	}
	// r1 is in flight, so the next schedule tick queues again.
	deadline := time.After(time.Second)
	for {
		got, coalesced, err = q.Submit(ctx, Request{ID: "r4", Trigger: "schedule"})
		if err != nil {
			t.Fatal(err)
		}
		if !coalesced {
			break
		}
		select {
		case <-deadline:
			t.Fatal("pending request was never released")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if got.ID != "r4" {
		t.Errorf("expected r4 to be queued, got %s", got.ID)
	}
}

func TestInMemoryQueue_WithoutCoalescing(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2), WithCoalescing(false))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, coalesced, err := q.Submit(ctx, Request{ID: fmt.Sprint(i), Trigger: "api"}); err != nil || coalesced {
			t.Fatalf("submit %d: coalesced=%v err=%v", i, coalesced, err)
		}
	}
	if _, _, err := q.Submit(ctx, Request{ID: "x", Trigger: "api"}); !errors.Is(err, ErrFull) {
		t.Errorf("expected ErrFull, got %v", err)
	}
}

func TestInMemoryQueue_ConcurrentAccess(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(100), WithCoalescing(false))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const producers, perProducer = 10, 10
	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				r := Request{ID: fmt.Sprintf("r%d_%d", id, j), Trigger: "api"}
				for {
					if _, _, err := q.Submit(ctx, r); err == nil {
						break
					}
					time.Sleep(time.Millisecond)
				}
			}
		}(i)
	}

	var seen atomic.Int64
	ch := q.Dequeue(ctx)
	done := make(chan struct{})
	go func() {
		for range ch {
			if seen.Add(1) == producers*perProducer {
				close(done)
				return
			}
		}
	}()
	wg.Wait()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("consumed %d of %d requests", seen.Load(), producers*perProducer)
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	if _, _, err := q.Submit(ctx, Request{ID: "r1", Trigger: "api"}); err != nil {
		t.Fatal(err)
	}
	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}
	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}
	if _, _, err := q.Submit(ctx, Request{ID: "r2", Trigger: "cli"}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	ch := q.Dequeue(ctx)
	if r, ok := <-ch; !ok || r.ID != "r1" {
		t.Errorf("expected queued request to drain, got %v %v", r, ok)
	}
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected dequeue channel to be closed")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("expected dequeue channel to be closed within timeout")
	}

	if err := q.Close(); err != nil {
		t.Errorf("expected second close to succeed, got error: %v", err)
	}
}
