package quality_test

import (
	"context"
	"errors"
	"testing"
	"time"

	model "github.com/okian/starkpi/internal/domain/model"
	"github.com/okian/starkpi/internal/domain/quality"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeStore struct {
	count    int64
	orphans  []model.Orphan
	kpis     []model.KPIView
	future   int64
	countErr error
	gotAfter time.Time
}

func (f *fakeStore) CountFacts(context.Context, model.Window) (int64, error) {
	return f.count, f.countErr
}

func (f *fakeStore) OrphanedKeys(context.Context) ([]model.Orphan, error) { return f.orphans, nil }

func (f *fakeStore) KPIs(context.Context, model.KPIFilter) ([]model.KPIView, error) {
	return f.kpis, nil
}

func (f *fakeStore) FutureFacts(_ context.Context, _ model.Window, after time.Time) (int64, error) {
	f.gotAfter = after
	return f.future, nil
}

func kpi(tool string, uploads, downloads int64) model.KPIView {
	return model.KPIView{
		DailyKPI: model.DailyKPI{Date: "2025-07-25", TotalUploads: uploads, TotalDownloads: downloads},
		ToolName: tool,
	}
}

func TestGate(t *testing.T) {
	Convey("Given a quality gate", t, func() {
		ctx := context.Background()
		start := time.Date(2025, 7, 26, 0, 0, 0, 0, time.UTC)
		window := model.Window{From: "2025-07-25", To: "2025-07-25"}

		Convey("When everything is consistent", func() {
			store := &fakeStore{count: 15, kpis: []model.KPIView{kpi("merge-pdf", 6, 4)}}
			expected := int64(15)
			report, err := quality.New(store).Check(ctx, quality.Request{Window: window, Expected: &expected, RunStart: start})

			Convey("Then the verdict is clean", func() {
				So(err, ShouldBeNil)
				So(report.Verdict, ShouldEqual, model.VerdictClean)
				So(report.Deviations, ShouldBeEmpty)
				So(store.gotAfter, ShouldHappenOnOrAfter, start)
			})
		})

		Convey("When the row count differs from the hint", func() {
			expected := int64(20)
			report, _ := quality.New(&fakeStore{count: 15}).Check(ctx, quality.Request{Window: window, Expected: &expected})

			Convey("Then a row_count deviation is reported", func() {
				So(report.Verdict, ShouldEqual, model.VerdictDegraded)
				So(report.Deviations, ShouldHaveLength, 1)
				d := report.Deviations[0]
				So(d.Check, ShouldEqual, model.CheckRowCount)
				So(d.Expected, ShouldEqual, 20)
				So(d.Actual, ShouldEqual, 15)
			})
		})

		Convey("When orphaned keys exist", func() {
			store := &fakeStore{orphans: []model.Orphan{
				{Table: "fact_analytics", Column: "tool_key", Count: 2},
				{Table: "fact_analytics", Column: "time_key", Count: 0},
			}}
			report, _ := quality.New(store).Check(ctx, quality.Request{Window: window})

			Convey("Then one deviation per affected column is reported", func() {
				So(report.Deviations, ShouldHaveLength, 1)
				So(report.Deviations[0].Check, ShouldEqual, model.CheckReferentialIntegrity)
				So(report.Deviations[0].Subject, ShouldEqual, "fact_analytics.tool_key")
			})
		})

		Convey("When downloads exceed uploads", func() {
			store := &fakeStore{kpis: []model.KPIView{kpi("split", 2, 3), kpi("merge", 5, 5)}}

			Convey("Then the funnel invariant fires beyond the tolerance only", func() {
				report, _ := quality.New(store).Check(ctx, quality.Request{Window: window})
				So(report.Deviations, ShouldHaveLength, 1)
				So(report.Deviations[0].Check, ShouldEqual, model.CheckFunnelInvariant)
				So(report.Deviations[0].Subject, ShouldEqual, "2025-07-25/split")

				tolerant, _ := quality.New(store, quality.WithDownloadsTolerance(1)).Check(ctx, quality.Request{Window: window})
				So(tolerant.Verdict, ShouldEqual, model.VerdictClean)
			})
		})

		Convey("When facts are dated in the future", func() {
			store := &fakeStore{future: 3}
			report, _ := quality.New(store, quality.WithFutureSkew(time.Minute)).Check(ctx, quality.Request{Window: window, RunStart: start})

			Convey("Then a future_dated deviation is reported", func() {
				So(report.Deviations, ShouldHaveLength, 1)
				So(report.Deviations[0].Check, ShouldEqual, model.CheckFutureDated)
				So(store.gotAfter.Equal(start.Add(time.Minute)), ShouldBeTrue)
			})
		})

		Convey("When the window is inverted", func() {
			report, _ := quality.New(&fakeStore{}).Check(ctx, quality.Request{Window: model.Window{From: "2025-07-26", To: "2025-07-25"}})

			Convey("Then a date_range deviation is reported", func() {
				So(report.Deviations[0].Check, ShouldEqual, model.CheckDateRange)
			})
		})

		Convey("When the window is empty", func() {
			expected := int64(0)
			report, err := quality.New(&fakeStore{count: 99, future: 9}).Check(ctx, quality.Request{Expected: &expected, RunStart: start})

			Convey("Then window checks are skipped and the verdict is clean", func() {
				So(err, ShouldBeNil)
				So(report.Verdict, ShouldEqual, model.VerdictClean)
			})
		})

		Convey("When a check cannot run", func() {
			expected := int64(1)
			_, err := quality.New(&fakeStore{countErr: errors.New("closed")}).Check(ctx, quality.Request{Window: window, Expected: &expected})

			Convey("Then the error is returned", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}
