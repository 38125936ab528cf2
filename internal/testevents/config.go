package testevents

import (
	"time"

	"github.com/okian/starkpi/internal/domain/model"
)

// Config holds configuration for the load test
type Config struct {
	DBPath     string   // Warehouse file; empty means a temporary one
	Sessions   int      // Number of sessions to generate
	Days       int      // Days the sessions are spread over
	Tools      []string // Tool names sessions pick from
	Workers    int      // Number of concurrent generator workers
	OutputFile string   // NDJSON file for the generated batch
	LogFile    string   // Log file for test output
	Verbose    bool     // Print the report after loading
}

// Funnel counts what the generator emitted for one (date, tool) pair.
type Funnel struct {
	Events     int64
	PageViews  int64
	Uploads    int64
	Processing int64
	Downloads  int64
	Sessions   int64
}

// key identifies a Funnel by date and tool name.
type key struct {
	Date string
	Tool string
}

// Batch is a generated set of records with the counts the warehouse
// should end up with.
type Batch struct {
	Records  []model.RawRecord
	Expected map[key]*Funnel
}

// Stats holds test statistics
type Stats struct {
	SessionsGenerated int
	EventsGenerated   int
	FirstAccepted     int
	FirstDuplicate    int
	SecondAccepted    int
	SecondDuplicate   int
	KPIRows           int
	StartTime         time.Time
	EndTime           time.Time
	Duration          time.Duration
}
