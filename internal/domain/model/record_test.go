package model_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	model "github.com/okian/starkpi/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestParseRecord(t *testing.T) {
	convey.Convey("Given raw records from the extraction layer", t, func() {
		convey.Convey("When the record is complete", func() {
			raw := &model.RawRecord{
				EventID:    " evt-1 ",
				EventType:  "file_upload_started",
				ToolName:   "merge-pdf",
				SessionID:  "sess-1",
				Timestamp:  "2025-07-25T14:30:00Z",
				Properties: json.RawMessage(`{"file_size": 2048, "language": "en"}`),
			}
			ev, err := model.ParseRecord(raw, time.UTC)

			convey.Convey("Then it should be converted with trimmed identifiers", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(ev.EventID, convey.ShouldEqual, "evt-1")
				convey.So(ev.ToolName, convey.ShouldEqual, "merge-pdf")
				convey.So(ev.Timestamp.Equal(time.Date(2025, 7, 25, 14, 30, 0, 0, time.UTC)), convey.ShouldBeTrue)
				size, ok := ev.IntProp("file_size")
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(size, convey.ShouldEqual, 2048)
				convey.So(ev.StringProp("language"), convey.ShouldEqual, "en")
			})
		})

		convey.Convey("When the event id is missing", func() {
			_, err := model.ParseRecord(&model.RawRecord{Timestamp: "2025-07-25T14:30:00Z"}, time.UTC)

			convey.Convey("Then it should be rejected as malformed", func() {
				convey.So(errors.Is(err, model.ErrMalformedRecord), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the timestamp cannot be parsed", func() {
			_, err := model.ParseRecord(&model.RawRecord{EventID: "evt-2", Timestamp: "yesterday"}, time.UTC)

			convey.Convey("Then it should be rejected as malformed", func() {
				convey.So(errors.Is(err, model.ErrMalformedRecord), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When properties arrive as a python-quoted string", func() {
			raw := &model.RawRecord{
				EventID:    "evt-3",
				Timestamp:  "2025-07-25 14:30:00",
				Properties: json.RawMessage(`"{'user_agent': 'Mozilla/5.0 (iPhone)', 'processing_time_ms': 350}"`),
			}
			ev, err := model.ParseRecord(raw, time.UTC)

			convey.Convey("Then they should still be decoded", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(ev.StringProp("user_agent"), convey.ShouldEqual, "Mozilla/5.0 (iPhone)")
				ms, ok := ev.IntProp("processing_time_ms")
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(ms, convey.ShouldEqual, 350)
			})
		})

		convey.Convey("When properties are garbage", func() {
			raw := &model.RawRecord{EventID: "evt-4", Timestamp: "2025-07-25T14:30:00Z", Properties: json.RawMessage(`"not json"`)}
			ev, err := model.ParseRecord(raw, time.UTC)

			convey.Convey("Then the record is kept with empty properties", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(ev.Properties, convey.ShouldBeEmpty)
			})
		})
	})
}

func TestParseTimestamp(t *testing.T) {
	convey.Convey("Given timestamps in different raw zones", t, func() {
		berlin := time.FixedZone("CEST", 2*60*60)

		convey.Convey("When an offset is present", func() {
			a, errA := model.ParseTimestamp("2025-07-25T14:30:00Z", berlin)
			b, errB := model.ParseTimestamp("2025-07-25T16:30:00+02:00", time.UTC)

			convey.Convey("Then both denote the same instant regardless of the source zone", func() {
				convey.So(errA, convey.ShouldBeNil)
				convey.So(errB, convey.ShouldBeNil)
				convey.So(a.Equal(b), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When no offset is present", func() {
			ts, err := model.ParseTimestamp("2025-07-25 16:30:00.123456", berlin)

			convey.Convey("Then the source zone is applied", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(ts.UTC().Hour(), convey.ShouldEqual, 14)
			})
		})

		convey.Convey("When the value is a postgres short offset", func() {
			ts, err := model.ParseTimestamp("2025-07-25 16:30:00+02", time.UTC)

			convey.Convey("Then it should parse", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(ts.UTC().Hour(), convey.ShouldEqual, 14)
			})
		})

		convey.Convey("When the offset has minutes but no colon", func() {
			a, errA := model.ParseTimestamp("2025-07-25T10:00:00+0530", time.UTC)
			b, errB := model.ParseTimestamp("2025-07-25 10:00:00.5+0530", time.UTC)

			convey.Convey("Then both forms parse with the half-hour offset", func() {
				convey.So(errA, convey.ShouldBeNil)
				convey.So(errB, convey.ShouldBeNil)
				convey.So(a.Equal(time.Date(2025, 7, 25, 4, 30, 0, 0, time.UTC)), convey.ShouldBeTrue)
				convey.So(b.Sub(a), convey.ShouldEqual, 500*time.Millisecond)
			})
		})
	})
}

func TestAttributesEqual(t *testing.T) {
	convey.Convey("Given two attribute sets", t, func() {
		a := model.Attributes{"category": "pdf", "sort_order": 1}

		convey.Convey("Then equality is by value", func() {
			convey.So(a.Equal(model.Attributes{"category": "pdf", "sort_order": 1}), convey.ShouldBeTrue)
			convey.So(a.Equal(model.Attributes{"category": "pdf", "sort_order": 2}), convey.ShouldBeFalse)
			convey.So(a.Equal(model.Attributes{"category": "pdf"}), convey.ShouldBeFalse)
		})
	})
}
