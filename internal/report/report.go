// Package report builds read-only dashboard summaries from the warehouse:
// platform totals, the top tools and a daily trend.
package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/okian/starkpi/internal/domain/dimension"
	"github.com/okian/starkpi/internal/domain/model"
)

const defaultTopN = 10

// Store is the read side the builder needs.
type Store interface {
	ReportTotals(ctx context.Context, from, to string) (model.Totals, error)
	ReportTopTools(ctx context.Context, from, to string, limit int) ([]model.ToolRanking, error)
	ReportDailyTrend(ctx context.Context, from, to string) ([]model.DailyTrend, error)
}

// Summary is one rendered report.
type Summary struct {
	From        string              `json:"from"`
	To          string              `json:"to"`
	GeneratedAt time.Time           `json:"generated_at"`
	Totals      model.Totals        `json:"totals"`
	TopTools    []model.ToolRanking `json:"top_tools"`
	Trend       []model.DailyTrend  `json:"trend"`
}

// Builder assembles summaries.
type Builder struct {
	store Store
	topN  int
	loc   *time.Location
	now   func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithTopN sets how many tools the ranking lists.
func WithTopN(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.topN = n
		}
	}
}

// WithLocation sets the warehouse zone used to resolve relative ranges.
func WithLocation(loc *time.Location) Option {
	return func(b *Builder) {
		if loc != nil {
			b.loc = loc
		}
	}
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates a Builder.
func New(store Store, opts ...Option) *Builder {
	b := &Builder{store: store, topN: defaultTopN, loc: time.UTC, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// LastDays returns the inclusive date range of the n days ending today.
func (b *Builder) LastDays(n int) (from, to string) {
	if n < 1 {
		n = 1
	}
	today := b.now().In(b.loc)
	return today.AddDate(0, 0, -(n - 1)).Format(dimension.DateLayout), today.Format(dimension.DateLayout)
}

// Build reads the report over [from, to].
func (b *Builder) Build(ctx context.Context, from, to string) (Summary, error) {
	if from > to {
		return Summary{}, fmt.Errorf("report range %s..%s is inverted", from, to)
	}
	s := Summary{From: from, To: to, GeneratedAt: b.now().UTC()}

	var err error
	if s.Totals, err = b.store.ReportTotals(ctx, from, to); err != nil {
		return Summary{}, err
	}
	if s.TopTools, err = b.store.ReportTopTools(ctx, from, to, b.topN); err != nil {
		return Summary{}, err
	}
	if s.Trend, err = b.store.ReportDailyTrend(ctx, from, to); err != nil {
		return Summary{}, err
	}
	if s.TopTools == nil {
		s.TopTools = []model.ToolRanking{}
	}
	if s.Trend == nil {
		s.Trend = []model.DailyTrend{}
	}
	return s, nil
}

// Render writes s as aligned plain-text tables.
func Render(w io.Writer, s *Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	t := s.Totals

	fmt.Fprintf(tw, "Report %s .. %s\n\n", s.From, s.To)
	fmt.Fprintf(tw, "Events\tUploads\tProcessing\tDownloads\tErrors\tSessions\tConversion\n")
	fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%d\t%s\n\n",
		t.Events, t.Uploads, t.Processing, t.Downloads, t.Errors, t.UniqueSessions, percent(t.ConversionRate))

	if len(s.TopTools) > 0 {
		fmt.Fprintf(tw, "Tool\tUploads\tDownloads\tSessions\tConversion\n")
		for _, r := range s.TopTools {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", r.DisplayName, r.Uploads, r.Downloads, r.Sessions, percent(r.ConversionRate))
		}
		fmt.Fprintln(tw)
	}

	if len(s.Trend) > 0 {
		fmt.Fprintf(tw, "Day\tEvents\tUploads\tDownloads\tSessions\n")
		for _, d := range s.Trend {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", d.DateLabel, d.Events, d.Uploads, d.Downloads, d.UniqueSessions)
		}
	}
	return tw.Flush()
}

func percent(v *float64) string {
	if v == nil {
		return "-"
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.1f", *v), "0"), ".") + "%"
}
