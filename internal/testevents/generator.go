package testevents

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/okian/starkpi/internal/domain/catalog"
	"github.com/okian/starkpi/internal/domain/model"
	"github.com/okian/starkpi/pkg/logger"
)

// Constants for session layout.
const (
	sessionStartHours = 20 // sessions start before 20:00 so they stay on one day
	stepGap           = 90 * time.Second
	userChance        = 50
)

// randIntn returns a random int in [0, n) using crypto/rand.
func randIntn(n int) int {
	if n <= 1 {
		return 0
	}
	v, _ := rand.Int(rand.Reader, big.NewInt(int64(n)))
	return int(v.Int64())
}

// chance reports true with the given percent probability.
func chance(percent int) bool {
	return randIntn(PercentageMultiplier) < percent
}

// session is one generated visit: its records and where they land.
type session struct {
	date    string
	tool    string
	records []model.RawRecord
	funnel  Funnel
}

// generateBatch creates config.Sessions sessions spread over config.Days
// days ending yesterday (UTC).
func generateBatch(ctx context.Context, config *Config, stats *Stats) (*Batch, error) {
	logger.Get().Info(ctx, "generating sessions",
		logger.Int("sessions", config.Sessions),
		logger.Int("days", config.Days),
		logger.Int("tools", len(config.Tools)))

	if config.Sessions <= 0 || config.Days <= 0 || len(config.Tools) == 0 {
		return nil, fmt.Errorf("sessions, days and tools must all be positive")
	}
	lastDay := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -1)

	type sessionResult struct {
		index   int
		session session
		err     error
	}

	resultChan := make(chan sessionResult, config.Workers*WorkerChannelMultiplier)

	// Use worker pool for session generation
	workerCount := max(1, min(config.Workers, config.Sessions))
	perWorker := config.Sessions / workerCount

	for worker := 0; worker < workerCount; worker++ {
		start := worker * perWorker
		end := start + perWorker
		if worker == workerCount-1 {
			end = config.Sessions // Last worker gets remaining sessions
		}

		go func(start, end int) {
			for i := start; i < end; i++ {
				select {
				case <-ctx.Done():
					resultChan <- sessionResult{index: i, err: ctx.Err()}
					return
				default:
					day := lastDay.AddDate(0, 0, -randIntn(config.Days))
					tool := config.Tools[randIntn(len(config.Tools))]
					resultChan <- sessionResult{index: i, session: generateSession(day, tool)}
				}
			}
		}(start, end)
	}

	// Collect results
	sessions := make([]session, config.Sessions)
	for i := 0; i < config.Sessions; i++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled during generation: %w", ctx.Err())
		case result := <-resultChan:
			if result.err != nil {
				return nil, fmt.Errorf("failed to generate session %d: %w", result.index, result.err)
			}
			sessions[result.index] = result.session
		}
	}

	batch := &Batch{Expected: make(map[key]*Funnel)}
	for _, s := range sessions {
		batch.Records = append(batch.Records, s.records...)
		k := key{Date: s.date, Tool: s.tool}
		f, ok := batch.Expected[k]
		if !ok {
			f = &Funnel{}
			batch.Expected[k] = f
		}
		f.Events += s.funnel.Events
		f.PageViews += s.funnel.PageViews
		f.Uploads += s.funnel.Uploads
		f.Processing += s.funnel.Processing
		f.Downloads += s.funnel.Downloads
		f.Sessions += s.funnel.Sessions
	}

	stats.SessionsGenerated = len(sessions)
	stats.EventsGenerated = len(batch.Records)
	logger.Get().Info(ctx, "generated batch",
		logger.Int("records", len(batch.Records)),
		logger.Int("pairs", len(batch.Expected)))
	return batch, nil
}

// generateSession walks one visitor through the funnel: an optional page
// view, an upload, then processing and a download with falling odds.
func generateSession(day time.Time, tool string) session {
	sessionID := uuid.NewString()
	var userID string
	if chance(userChance) {
		userID = uuid.NewString()
	}
	ts := day.Add(time.Duration(randIntn(sessionStartHours*3600)) * time.Second)

	s := session{date: day.Format(time.DateOnly), tool: tool}
	s.funnel.Sessions = 1
	emit := func(eventType string) {
		s.records = append(s.records, model.RawRecord{
			EventID:   uuid.NewString(),
			EventType: eventType,
			ToolName:  tool,
			SessionID: sessionID,
			UserID:    userID,
			URL:       "https://example.com/" + tool,
			Timestamp: ts.Format(time.RFC3339),
		})
		s.funnel.Events++
		ts = ts.Add(stepGap)
	}

	if chance(PageViewChance) {
		emit(catalog.EventPageView)
		s.funnel.PageViews++
	}
	emit(catalog.EventFileUpload)
	s.funnel.Uploads++
	if chance(ProcessingChance) {
		emit(catalog.EventProcessing)
		s.funnel.Processing++
		if chance(DownloadChance) {
			emit(catalog.EventFileDownloaded)
			s.funnel.Downloads++
		}
	}
	emit(catalog.EventSessionEnd)
	return s
}
