package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	model "github.com/okian/starkpi/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warehouse.db")
	s, err := Open(context.Background(), path, WithLockPollInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func insertFact(ctx context.Context, tx *Tx, id string, toolKey int64, date string) (bool, error) {
	return tx.InsertFact(ctx, &model.Fact{
		EventID:    id,
		ToolKey:    toolKey,
		EventDate:  date,
		EventTS:    time.Date(2025, 7, 25, 14, 30, 0, 0, time.UTC),
		Class:      model.ClassUpload,
		UploadFlag: true,
	})
}

func TestStoreSchema(t *testing.T) {
	Convey("Given a fresh warehouse", t, func() {
		ctx := context.Background()
		s, path := openTemp(t)

		Convey("Every dimension carries its sentinel row", func() {
			for _, e := range model.Entities {
				key, err := s.DimensionKey(ctx, e, model.UnknownNaturalID)
				So(err, ShouldBeNil)
				So(key, ShouldEqual, model.UnknownKey)
			}
		})

		Convey("An unknown natural id is reported as not found", func() {
			_, err := s.DimensionKey(ctx, model.EntityTool, "missing")
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		})

		Convey("Reopening applies no migration twice and keeps keys", func() {
			tx, err := s.Begin(ctx, "run-1")
			So(err, ShouldBeNil)
			key, err := tx.NextSurrogateKey(ctx, model.EntityTool)
			So(err, ShouldBeNil)
			So(key, ShouldEqual, 1)
			So(tx.InsertDimension(ctx, model.EntityTool, key, "merge", model.Attributes{"tool_category": "pdf"}), ShouldBeNil)
			So(tx.Commit(), ShouldBeNil)
			So(s.Close(), ShouldBeNil)

			again, err := Open(ctx, path)
			So(err, ShouldBeNil)
			defer again.Close()

			got, err := again.DimensionKey(ctx, model.EntityTool, "merge")
			So(err, ShouldBeNil)
			So(got, ShouldEqual, key)

			tx, err = again.Begin(ctx, "run-2")
			So(err, ShouldBeNil)
			defer tx.Rollback()
			next, err := tx.NextSurrogateKey(ctx, model.EntityTool)
			So(err, ShouldBeNil)
			So(next, ShouldEqual, 2)

			_, attrs, found, err := tx.LookupDimension(ctx, model.EntityTool, "merge")
			So(err, ShouldBeNil)
			So(found, ShouldBeTrue)
			So(attrs["tool_category"], ShouldEqual, "pdf")
		})

		Convey("A closed store refuses work", func() {
			So(s.Close(), ShouldBeNil)
			So(s.Close(), ShouldBeNil)
			_, err := s.Begin(ctx, "run")
			So(errors.Is(err, ErrClosed), ShouldBeTrue)
		})
	})
}

func TestDimensions(t *testing.T) {
	Convey("Given an open transaction", t, func() {
		ctx := context.Background()
		s, _ := openTemp(t)
		tx, err := s.Begin(ctx, "run-1")
		So(err, ShouldBeNil)
		Reset(func() { _ = tx.Rollback() })

		Convey("Attributes round-trip by column kind and NULLs are omitted", func() {
			So(tx.InsertDimension(ctx, model.EntityTime, 7, "2025-07-25_14", model.Attributes{
				"date":       "2025-07-25",
				"hour":       int64(14),
				"is_weekend": false,
			}), ShouldBeNil)
			key, attrs, found, err := tx.LookupDimension(ctx, model.EntityTime, "2025-07-25_14")
			So(err, ShouldBeNil)
			So(found, ShouldBeTrue)
			So(key, ShouldEqual, 7)
			So(attrs["date"], ShouldEqual, "2025-07-25")
			So(attrs["hour"], ShouldEqual, int64(14))
			So(attrs["is_weekend"], ShouldEqual, false)
			_, ok := attrs["quarter"]
			So(ok, ShouldBeFalse)
		})

		Convey("Updating a missing key fails with ErrNotFound", func() {
			err := tx.UpdateDimension(ctx, model.EntityTool, 42, model.Attributes{"tool_category": "x"})
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		})

		Convey("An unknown entity is rejected", func() {
			_, err := tx.NextSurrogateKey(ctx, model.Entity("planet"))
			So(err, ShouldNotBeNil)
		})
	})
}

func TestFacts(t *testing.T) {
	Convey("Given a warehouse with one tool", t, func() {
		ctx := context.Background()
		s, _ := openTemp(t)
		tx, err := s.Begin(ctx, "run-1")
		So(err, ShouldBeNil)
		So(tx.InsertDimension(ctx, model.EntityTool, 1, "merge", nil), ShouldBeNil)

		Convey("A second insert of the same event id is ignored", func() {
			ok, err := insertFact(ctx, tx, "e1", 1, "2025-07-25")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			ok, err = insertFact(ctx, tx, "e1", 1, "2025-07-25")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)

			ids, err := tx.ExistingEventIDs(ctx, []string{"e1", "e2"})
			So(err, ShouldBeNil)
			So(ids, ShouldResemble, []string{"e1"})

			facts, err := tx.FactsForDay(ctx, "2025-07-25", 1)
			So(err, ShouldBeNil)
			So(facts, ShouldHaveLength, 1)
			So(facts[0].RunID, ShouldEqual, "run-1")
			So(facts[0].UploadFlag, ShouldBeTrue)
			So(facts[0].FileSizeBytes, ShouldBeNil)
			So(tx.Commit(), ShouldBeNil)
		})

		Convey("Facts must reference existing dimension rows", func() {
			_, err := insertFact(ctx, tx, "e9", 99, "2025-07-25")
			So(err, ShouldNotBeNil)
			So(tx.Rollback(), ShouldBeNil)
		})

		Convey("A rolled back run leaves nothing behind", func() {
			_, err := insertFact(ctx, tx, "e1", 1, "2025-07-25")
			So(err, ShouldBeNil)
			So(tx.Rollback(), ShouldBeNil)
			So(tx.Commit(), ShouldEqual, ErrTxDone)

			counts, err := s.TableCounts(ctx)
			So(err, ShouldBeNil)
			So(counts["fact_analytics"], ShouldEqual, 0)
			So(counts["dim_tools"], ShouldEqual, 1)
		})

		Convey("Window reads see committed facts", func() {
			_, err := insertFact(ctx, tx, "e1", 1, "2025-07-25")
			So(err, ShouldBeNil)
			_, err = insertFact(ctx, tx, "e2", 1, "2025-07-26")
			So(err, ShouldBeNil)
			So(tx.Commit(), ShouldBeNil)

			n, err := s.CountFacts(ctx, model.Window{From: "2025-07-25", To: "2025-07-25"})
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)

			all, err := s.CountFacts(ctx, model.Window{})
			So(err, ShouldBeNil)
			So(all, ShouldEqual, 2)

			future, err := s.FutureFacts(ctx, model.Window{From: "2025-07-25", To: "2025-07-26"},
				time.Date(2025, 7, 25, 14, 0, 0, 0, time.UTC))
			So(err, ShouldBeNil)
			So(future, ShouldEqual, 2)

			recount, err := s.RecountFunnels(ctx)
			So(err, ShouldBeNil)
			So(recount, ShouldHaveLength, 2)
			So(recount[0].Uploads, ShouldEqual, 1)
			So(recount[0].UniqueSessions, ShouldEqual, 0)
		})
	})
}

func TestDailyKPIs(t *testing.T) {
	Convey("Given a committed KPI row", t, func() {
		ctx := context.Background()
		s, _ := openTemp(t)
		tx, err := s.Begin(ctx, "run-1")
		So(err, ShouldBeNil)
		So(tx.InsertDimension(ctx, model.EntityTool, 1, "merge", model.Attributes{"tool_display_name": "Merge"}), ShouldBeNil)
		rate := 66.7
		So(tx.ReplaceDailyKPI(ctx, &model.DailyKPI{
			KPIKey: "2025-07-25_1", Date: "2025-07-25", ToolKey: 1,
			TotalUploads: 6, TotalDownloads: 4, ConversionRate: &rate,
		}), ShouldBeNil)
		So(tx.Commit(), ShouldBeNil)

		Convey("Replacing the same day and tool keeps one row", func() {
			tx, err := s.Begin(ctx, "run-2")
			So(err, ShouldBeNil)
			So(tx.ReplaceDailyKPI(ctx, &model.DailyKPI{
				KPIKey: "2025-07-25_1", Date: "2025-07-25", ToolKey: 1, TotalUploads: 7,
			}), ShouldBeNil)
			So(tx.Commit(), ShouldBeNil)

			rows, err := s.KPIs(ctx, model.KPIFilter{})
			So(err, ShouldBeNil)
			So(rows, ShouldHaveLength, 1)
			So(rows[0].TotalUploads, ShouldEqual, 7)
			So(rows[0].ConversionRate, ShouldBeNil)
			So(rows[0].RunID, ShouldEqual, "run-2")
			So(rows[0].ToolName, ShouldEqual, "merge")
		})

		Convey("Reads filter by tool and date", func() {
			rows, err := s.KPIs(ctx, model.KPIFilter{ToolName: "merge", From: "2025-07-25", To: "2025-07-25"})
			So(err, ShouldBeNil)
			So(rows, ShouldHaveLength, 1)
			So(*rows[0].ConversionRate, ShouldAlmostEqual, 66.7)
			So(rows[0].ToolDisplayName, ShouldEqual, "Merge")

			rows, err = s.KPIs(ctx, model.KPIFilter{ToolName: "split"})
			So(err, ShouldBeNil)
			So(rows, ShouldBeEmpty)
		})

		Convey("A rate outside [0,100] is rejected", func() {
			tx, err := s.Begin(ctx, "run-2")
			So(err, ShouldBeNil)
			defer tx.Rollback()
			bad := 120.0
			err = tx.ReplaceDailyKPI(ctx, &model.DailyKPI{
				KPIKey: "2025-07-26_1", Date: "2025-07-26", ToolKey: 1, ConversionRate: &bad,
			})
			So(err, ShouldNotBeNil)
		})

		Convey("Reports summarize the KPI table", func() {
			totals, err := s.ReportTotals(ctx, "2025-07-01", "2025-07-31")
			So(err, ShouldBeNil)
			So(totals.Uploads, ShouldEqual, 6)
			So(totals.Downloads, ShouldEqual, 4)
			So(totals.ActiveTools, ShouldEqual, 1)

			top, err := s.ReportTopTools(ctx, "2025-07-01", "2025-07-31", 5)
			So(err, ShouldBeNil)
			So(top, ShouldHaveLength, 1)
			So(top[0].ToolName, ShouldEqual, "merge")
		})
	})
}

func TestOrphanedKeys(t *testing.T) {
	Convey("Given a fact written with foreign keys disabled", t, func() {
		ctx := context.Background()
		s, _ := openTemp(t)

		conn, err := s.db.Conn(ctx)
		So(err, ShouldBeNil)
		_, err = conn.ExecContext(ctx, "PRAGMA foreign_keys = OFF")
		So(err, ShouldBeNil)
		_, err = conn.ExecContext(ctx, `INSERT INTO fact_analytics
			(event_id, tool_key, time_key, session_key, event_type_key, event_date, event_ts, event_class, run_id, created_at)
			VALUES ('e1', 77, 0, 0, 0, '2025-07-25', '2025-07-25T14:30:00.000000Z', 'other', 'r', 'now')`)
		So(err, ShouldBeNil)
		_, err = conn.ExecContext(ctx, "PRAGMA foreign_keys = ON")
		So(err, ShouldBeNil)
		So(conn.Close(), ShouldBeNil)

		Convey("The scan reports the dangling tool key", func() {
			orphans, err := s.OrphanedKeys(ctx)
			So(err, ShouldBeNil)
			So(orphans, ShouldHaveLength, 5)
			var dangling []model.Orphan
			for _, o := range orphans {
				if o.Count > 0 {
					dangling = append(dangling, o)
				}
			}
			So(dangling, ShouldResemble, []model.Orphan{{Table: "fact_analytics", Column: "tool_key", Count: 1}})
		})
	})
}

func TestRuns(t *testing.T) {
	Convey("Given an empty run history", t, func() {
		ctx := context.Background()
		s, _ := openTemp(t)

		Convey("LatestRun reports not found", func() {
			_, err := s.LatestRun(ctx)
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		})

		Convey("Saved runs come back newest first with their quality report", func() {
			start := time.Date(2025, 7, 25, 10, 0, 0, 0, time.UTC)
			expected := int64(10)
			first := &model.RunSummary{
				RunID: "a", Trigger: "manual", Status: model.RunCompleted,
				StartedAt: start, FinishedAt: start.Add(time.Second),
				RecordsSeen: 10, Accepted: 10, ExpectedCount: &expected,
				Quality: &model.QualityReport{Verdict: model.VerdictClean, Window: model.Window{From: "2025-07-25", To: "2025-07-25"}},
			}
			second := &model.RunSummary{
				RunID: "b", Trigger: "schedule", Status: model.RunFailed,
				StartedAt: start.Add(time.Hour), FinishedAt: start.Add(time.Hour),
				Error: "boom",
			}
			So(s.SaveRun(ctx, first), ShouldBeNil)
			So(s.SaveRun(ctx, second), ShouldBeNil)

			runs, err := s.Runs(ctx, 10)
			So(err, ShouldBeNil)
			So(runs, ShouldHaveLength, 2)
			So(runs[0].RunID, ShouldEqual, "b")
			So(runs[0].Error, ShouldEqual, "boom")
			So(runs[0].Quality, ShouldBeNil)

			got, err := s.Run(ctx, "a")
			So(err, ShouldBeNil)
			So(got.StartedAt.Equal(start), ShouldBeTrue)
			So(*got.ExpectedCount, ShouldEqual, 10)
			So(got.Quality.Verdict, ShouldEqual, model.VerdictClean)
			So(got.Quality.Window.From, ShouldEqual, "2025-07-25")

			first.Accepted = 9
			So(s.SaveRun(ctx, first), ShouldBeNil)
			got, err = s.Run(ctx, "a")
			So(err, ShouldBeNil)
			So(got.Accepted, ShouldEqual, 9)

			_, err = s.Run(ctx, "zzz")
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestRunLock(t *testing.T) {
	Convey("Given a held run lock", t, func() {
		ctx := context.Background()
		s, path := openTemp(t)
		unlock, err := s.Lock(ctx, 0)
		So(err, ShouldBeNil)

		Convey("A second caller in the same process is refused", func() {
			_, err := s.Lock(ctx, 20*time.Millisecond)
			So(errors.Is(err, ErrLocked), ShouldBeTrue)
			So(unlock(), ShouldBeNil)
		})

		Convey("Another handle on the same file is refused", func() {
			other, err := Open(ctx, path, WithLockPollInterval(5*time.Millisecond))
			So(err, ShouldBeNil)
			defer other.Close()
			_, err = other.Lock(ctx, 20*time.Millisecond)
			So(errors.Is(err, ErrLocked), ShouldBeTrue)

			So(unlock(), ShouldBeNil)
			again, err := other.Lock(ctx, 0)
			So(err, ShouldBeNil)
			So(again(), ShouldBeNil)
		})

		Convey("Releasing twice is harmless", func() {
			So(unlock(), ShouldBeNil)
			So(unlock(), ShouldBeNil)
			again, err := s.Lock(ctx, 0)
			So(err, ShouldBeNil)
			So(again(), ShouldBeNil)
		})
	})
}
