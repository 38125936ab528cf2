package testevents

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/starkpi/internal/domain/catalog"
	"github.com/okian/starkpi/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestGenerateSession(t *testing.T) {
	Convey("Given a generated session", t, func() {
		day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
		s := generateSession(day, "merge")

		Convey("Then it starts with a page view or an upload and ends the session", func() {
			So(len(s.records), ShouldBeGreaterThanOrEqualTo, 2)
			So(s.records[len(s.records)-1].EventType, ShouldEqual, catalog.EventSessionEnd)
		})

		Convey("Then the funnel narrows", func() {
			So(s.funnel.Uploads, ShouldEqual, 1)
			So(s.funnel.Processing, ShouldBeLessThanOrEqualTo, s.funnel.Uploads)
			So(s.funnel.Downloads, ShouldBeLessThanOrEqualTo, s.funnel.Processing)
			So(s.funnel.Events, ShouldEqual, len(s.records))
		})

		Convey("Then every record stays on the session's day and tool", func() {
			So(s.date, ShouldEqual, "2024-01-10")
			sessionID := s.records[0].SessionID
			for _, r := range s.records {
				So(r.ToolName, ShouldEqual, "merge")
				So(r.SessionID, ShouldEqual, sessionID)
				ts, err := time.Parse(time.RFC3339, r.Timestamp)
				So(err, ShouldBeNil)
				So(ts.Format(time.DateOnly), ShouldEqual, "2024-01-10")
			}
		})
	})
}

func TestGenerateBatch(t *testing.T) {
	Convey("Given a generator config", t, func() {
		So(logger.Init(logger.WithWriter(io.Discard)), ShouldBeNil)
		ctx := context.Background()
		cfg := &Config{Sessions: 50, Days: 3, Tools: []string{"merge", "split"}, Workers: 4}
		stats := &Stats{}

		Convey("When a batch is generated", func() {
			b, err := generateBatch(ctx, cfg, stats)
			So(err, ShouldBeNil)

			Convey("Then the expected counts cover every record and session", func() {
				var events, sessions int64
				for k, f := range b.Expected {
					So(k.Tool, ShouldBeIn, cfg.Tools)
					events += f.Events
					sessions += f.Sessions
				}
				So(events, ShouldEqual, len(b.Records))
				So(sessions, ShouldEqual, 50)
				So(stats.SessionsGenerated, ShouldEqual, 50)
				So(stats.EventsGenerated, ShouldEqual, len(b.Records))
			})
		})

		Convey("When the config is empty", func() {
			_, err := generateBatch(ctx, &Config{Workers: 1}, stats)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestRun(t *testing.T) {
	Convey("Given a small load test", t, func() {
		So(logger.Init(logger.WithWriter(io.Discard)), ShouldBeNil)
		dir := t.TempDir()
		cfg := &Config{
			DBPath:     filepath.Join(dir, "warehouse.db"),
			Sessions:   40,
			Days:       2,
			Tools:      []string{"merge", "split", "compress"},
			Workers:    3,
			OutputFile: filepath.Join(dir, "out", "batch.ndjson"),
		}

		Convey("Then both loads verify and the batch is saved", func() {
			So(Run(context.Background(), cfg), ShouldBeNil)
			info, err := os.Stat(cfg.OutputFile)
			So(err, ShouldBeNil)
			So(info.Size(), ShouldBeGreaterThan, 0)
		})

		Convey("Then a temporary warehouse works too", func() {
			cfg.DBPath = ""
			cfg.OutputFile = ""
			So(Run(context.Background(), cfg), ShouldBeNil)
		})
	})
}
