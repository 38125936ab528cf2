package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/okian/starkpi/internal/adapters/mq/queue"
	. "github.com/smartystreets/goconvey/convey"
)

type recorder struct {
	mu  sync.Mutex
	got []queue.Request
}

func (r *recorder) Submit(_ context.Context, req queue.Request) (queue.Request, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, req)
	return req, false, nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func TestScheduler(t *testing.T) {
	Convey("Given a scheduler", t, func() {
		rec := &recorder{}

		Convey("An invalid spec is rejected", func() {
			_, err := New("every tuesday", rec)
			So(err, ShouldNotBeNil)
		})

		Convey("Standard specs and descriptors are accepted", func() {
			for _, spec := range []string{"*/15 * * * *", "@hourly", "@every 1m"} {
				s, err := New(spec, rec)
				So(err, ShouldBeNil)
				So(s.Spec(), ShouldEqual, spec)
			}
		})

		Convey("Firing submits a scheduled request", func() {
			s, err := New("@every 1h", rec)
			So(err, ShouldBeNil)
			s.fire()
			So(rec.count(), ShouldEqual, 1)
			So(rec.got[0].Trigger, ShouldEqual, Trigger)
			So(rec.got[0].ID, ShouldNotBeEmpty)
		})

		Convey("A started scheduler reports its next activation and stops", func() {
			s, err := New("@every 1h", rec)
			So(err, ShouldBeNil)
			s.Start()
			So(s.Next().After(time.Now()), ShouldBeTrue)

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			So(s.Stop(ctx), ShouldBeNil)
		})
	})
}
