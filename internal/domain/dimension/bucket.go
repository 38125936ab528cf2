package dimension

import (
	"fmt"
	"time"

	model "github.com/okian/starkpi/internal/domain/model"
)

// DateLayout is the layout of dates stored in the warehouse.
const DateLayout = "2006-01-02"

// TimestampLayout is the fixed-width UTC layout used for stored timestamps.
// Fixed width keeps string comparison consistent with time order.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Bucket is the hourly time bucket an event falls into, in the canonical
// zone.
type Bucket struct {
	NaturalID string // YYYY-MM-DD_HH
	Date      string
	Hour      int
	Start     time.Time // bucket start in the canonical zone
	Canonical time.Time // the event timestamp in the canonical zone
}

// BucketOf converts ts to loc and truncates it to the hour. Instants that are
// equal map to the same bucket whatever offset they were recorded with.
func BucketOf(ts time.Time, loc *time.Location) Bucket {
	if loc == nil {
		loc = time.UTC
	}
	c := ts.In(loc)
	start := time.Date(c.Year(), c.Month(), c.Day(), c.Hour(), 0, 0, 0, loc)
	date := c.Format(DateLayout)
	return Bucket{
		NaturalID: fmt.Sprintf("%s_%02d", date, c.Hour()),
		Date:      date,
		Hour:      c.Hour(),
		Start:     start,
		Canonical: c,
	}
}

// Attributes returns the dim_time attributes for the bucket.
func (b Bucket) Attributes() model.Attributes {
	day := time.Date(b.Start.Year(), b.Start.Month(), b.Start.Day(), 0, 0, 0, 0, b.Start.Location())
	// Monday is 0.
	dow := (int(day.Weekday()) + 6) % 7
	weekStart := day.AddDate(0, 0, -dow)
	monthStart := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, day.Location())

	return model.Attributes{
		"date":        b.Date,
		"hour":        int64(b.Hour),
		"year":        int64(day.Year()),
		"month":       int64(day.Month()),
		"day":         int64(day.Day()),
		"day_of_week": int64(dow),
		"day_name":    day.Weekday().String(),
		"month_name":  day.Month().String(),
		"quarter":     int64((int(day.Month())-1)/3 + 1),
		"is_weekend":  dow >= 5,
		"date_label":  day.Format("Jan 02, 2006"),
		"week_start":  weekStart.Format(DateLayout),
		"month_start": monthStart.Format(DateLayout),
	}
}
