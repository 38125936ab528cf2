package report

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/starkpi/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeStore struct {
	totals model.Totals
	top    []model.ToolRanking
	trend  []model.DailyTrend
	err    error
	limit  int
}

func (f *fakeStore) ReportTotals(context.Context, string, string) (model.Totals, error) {
	return f.totals, f.err
}

func (f *fakeStore) ReportTopTools(_ context.Context, _, _ string, limit int) ([]model.ToolRanking, error) {
	f.limit = limit
	return f.top, nil
}

func (f *fakeStore) ReportDailyTrend(context.Context, string, string) ([]model.DailyTrend, error) {
	return f.trend, nil
}

func TestBuilder(t *testing.T) {
	Convey("Given a builder at a fixed time", t, func() {
		now := time.Date(2025, 7, 26, 1, 0, 0, 0, time.UTC)
		rate := 66.7
		store := &fakeStore{
			totals: model.Totals{Uploads: 6, Downloads: 4, ConversionRate: &rate},
			top:    []model.ToolRanking{{ToolName: "merge", DisplayName: "Merge", Uploads: 6, Downloads: 4, ConversionRate: &rate}},
			trend:  []model.DailyTrend{{Date: "2025-07-25", DateLabel: "Jul 25, 2025", Events: 15}},
		}
		b := New(store, WithClock(func() time.Time { return now }), WithTopN(3))

		Convey("LastDays counts today", func() {
			from, to := b.LastDays(7)
			So(from, ShouldEqual, "2025-07-20")
			So(to, ShouldEqual, "2025-07-26")
		})

		Convey("LastDays follows the warehouse zone", func() {
			la, err := time.LoadLocation("America/Los_Angeles")
			So(err, ShouldBeNil)
			from, to := New(store, WithClock(func() time.Time { return now }), WithLocation(la)).LastDays(1)
			So(from, ShouldEqual, "2025-07-25")
			So(to, ShouldEqual, "2025-07-25")
		})

		Convey("Build collects every section", func() {
			s, err := b.Build(context.Background(), "2025-07-20", "2025-07-26")
			So(err, ShouldBeNil)
			So(store.limit, ShouldEqual, 3)
			So(s.Totals.Uploads, ShouldEqual, 6)
			So(s.TopTools, ShouldHaveLength, 1)
			So(s.Trend, ShouldHaveLength, 1)
			So(s.GeneratedAt, ShouldEqual, now)

			Convey("And renders as text", func() {
				var buf bytes.Buffer
				So(Render(&buf, &s), ShouldBeNil)
				out := buf.String()
				So(out, ShouldContainSubstring, "Report 2025-07-20 .. 2025-07-26")
				So(out, ShouldContainSubstring, "Merge")
				So(out, ShouldContainSubstring, "66.7%")
				So(out, ShouldContainSubstring, "Jul 25, 2025")
			})
		})

		Convey("Empty sections are empty lists", func() {
			store.top, store.trend = nil, nil
			s, err := b.Build(context.Background(), "2025-07-20", "2025-07-26")
			So(err, ShouldBeNil)
			So(s.TopTools, ShouldNotBeNil)
			So(s.Trend, ShouldNotBeNil)
		})

		Convey("Store failures and inverted ranges are errors", func() {
			_, err := b.Build(context.Background(), "2025-07-27", "2025-07-26")
			So(err, ShouldNotBeNil)

			store.err = errors.New("disk")
			_, err = b.Build(context.Background(), "2025-07-20", "2025-07-26")
			So(err, ShouldNotBeNil)
		})
	})
}

func TestPercent(t *testing.T) {
	Convey("Rates render compactly", t, func() {
		v := 100.0
		w := 66.7
		So(percent(nil), ShouldEqual, "-")
		So(percent(&v), ShouldEqual, "100%")
		So(percent(&w), ShouldEqual, "66.7%")
	})
}
