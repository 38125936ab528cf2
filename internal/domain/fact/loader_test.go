package fact_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/starkpi/internal/domain/fact"
	model "github.com/okian/starkpi/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type memFacts struct {
	facts   map[string]model.Fact
	order   []string
	failOn  string
	queries int
}

func (m *memFacts) ExistingEventIDs(_ context.Context, ids []string) ([]string, error) {
	m.queries++
	var out []string
	for _, id := range ids {
		if _, ok := m.facts[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *memFacts) InsertFact(_ context.Context, f *model.Fact) (bool, error) {
	if f.EventID == m.failOn {
		return false, errors.New("constraint failed")
	}
	if _, ok := m.facts[f.EventID]; ok {
		return false, nil
	}
	m.facts[f.EventID] = *f
	m.order = append(m.order, f.EventID)
	return true, nil
}

func batch(types ...string) ([]model.Event, []model.KeySet) {
	ts := time.Date(2025, 7, 25, 14, 0, 0, 0, time.UTC)
	events := make([]model.Event, len(types))
	keys := make([]model.KeySet, len(types))
	for i, typ := range types {
		events[i] = model.Event{EventID: "evt-" + string(rune('a'+i)), EventType: typ, Timestamp: ts}
		keys[i] = model.KeySet{ToolKey: 1, TimeKey: 1, SessionKey: 1, EventTypeKey: int64(i + 1), Date: "2025-07-25"}
	}
	return events, keys
}

func TestLoad(t *testing.T) {
	Convey("Given a fact loader and an empty fact table", t, func() {
		ctx := context.Background()
		store := &memFacts{facts: map[string]model.Fact{}}
		loader := fact.NewLoader()

		Convey("When a batch of known and unknown event types is loaded", func() {
			events, keys := batch("file_upload_started", "processing_started", "file_downloaded", "error_occurred", "page_view", "button_clicked")
			counts, err := loader.Load(ctx, store, events, keys)

			Convey("Then every event becomes a flagged fact", func() {
				So(err, ShouldBeNil)
				So(counts, ShouldResemble, model.FactCounts{Accepted: 6, UnknownEventType: 1})
				So(store.facts["evt-a"].UploadFlag, ShouldBeTrue)
				So(store.facts["evt-b"].ProcessingFlag, ShouldBeTrue)
				So(store.facts["evt-c"].DownloadFlag, ShouldBeTrue)
				So(store.facts["evt-d"].ErrorFlag, ShouldBeTrue)
				pv := store.facts["evt-e"]
				So(pv.UploadFlag || pv.ProcessingFlag || pv.DownloadFlag || pv.ErrorFlag, ShouldBeFalse)
				So(store.facts["evt-f"].Class, ShouldEqual, model.ClassOther)
				So(store.facts["evt-a"].EventDate, ShouldEqual, "2025-07-25")
			})
		})

		Convey("When the same batch is loaded twice", func() {
			events, keys := batch("file_upload_started", "file_downloaded")
			_, _ = loader.Load(ctx, store, events, keys)
			counts, err := loader.Load(ctx, store, events, keys)

			Convey("Then the second load only counts duplicates", func() {
				So(err, ShouldBeNil)
				So(counts, ShouldResemble, model.FactCounts{Duplicate: 2})
				So(store.facts, ShouldHaveLength, 2)
			})
		})

		Convey("When an id repeats inside one batch", func() {
			events, keys := batch("file_upload_started", "file_upload_started")
			events[1].EventID = events[0].EventID
			counts, _ := loader.Load(ctx, store, events, keys)

			Convey("Then only the first occurrence is stored", func() {
				So(counts.Accepted, ShouldEqual, 1)
				So(counts.Duplicate, ShouldEqual, 1)
				So(store.facts[events[0].EventID].EventTypeKey, ShouldEqual, 1)
			})
		})

		Convey("When the store rejects a row", func() {
			events, keys := batch("page_view", "page_view")
			store.failOn = events[1].EventID
			_, err := loader.Load(ctx, store, events, keys)

			Convey("Then the error is returned", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "constraint failed")
			})
		})

		Convey("When events and key sets are misaligned", func() {
			events, keys := batch("page_view", "page_view")
			_, err := loader.Load(ctx, store, events, keys[:1])

			Convey("Then ErrKeyMismatch is returned", func() {
				So(errors.Is(err, fact.ErrKeyMismatch), ShouldBeTrue)
			})
		})

		Convey("When the batch is empty", func() {
			counts, err := loader.Load(ctx, store, nil, nil)

			Convey("Then nothing is queried", func() {
				So(err, ShouldBeNil)
				So(counts, ShouldResemble, model.FactCounts{})
				So(store.queries, ShouldEqual, 0)
			})
		})
	})
}

func TestBuild(t *testing.T) {
	Convey("Given an event with measurement properties", t, func() {
		ev := &model.Event{
			EventID: "e1", EventType: "processing_started",
			Timestamp:  time.Date(2025, 7, 25, 16, 0, 0, 0, time.FixedZone("CEST", 2*60*60)),
			Properties: map[string]any{"file_size": float64(1024), "processing_time_ms": "420"},
		}
		f := fact.Build(ev, model.KeySet{Date: "2025-07-25"})

		Convey("Then sizes and durations are carried and the timestamp is UTC", func() {
			So(*f.FileSizeBytes, ShouldEqual, 1024)
			So(*f.ProcessingTimeMs, ShouldEqual, 420)
			So(f.EventTS.Location(), ShouldEqual, time.UTC)
			So(f.EventTS.Hour(), ShouldEqual, 14)
		})
	})
}
