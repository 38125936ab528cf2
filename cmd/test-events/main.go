package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/okian/starkpi/internal/testevents"
)

// Default configuration constants.
const (
	defaultSessions    = 5000
	defaultDays        = 7
	defaultTools       = "merge,split,compress,convert,rotate"
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTestTimeout = 10 * time.Minute
)

func main() {
	var (
		dbPath     = flag.String("db", "", "Warehouse file (default: temporary)")
		sessions   = flag.Int("sessions", defaultSessions, "Number of sessions to generate")
		days       = flag.Int("days", defaultDays, "Days the sessions are spread over")
		tools      = flag.String("tools", defaultTools, "Comma-separated tool names")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent generator workers")
		outputFile = flag.String("output", "", "Write the generated batch as NDJSON")
		logFile    = flag.String("log", "", "Log file for test output (default: test_log_TIMESTAMP.log)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		testevents.ShowHelp()
		return
	}

	// Setup logging
	closer, err := testevents.SetupLogging(*logFile, *verbose)
	if err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer closer.Close()

	// Create context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	defer cancel()

	config := &testevents.Config{
		DBPath:     *dbPath,
		Sessions:   *sessions,
		Days:       *days,
		Tools:      strings.Split(*tools, ","),
		Workers:    *workers,
		OutputFile: *outputFile,
		LogFile:    *logFile,
		Verbose:    *verbose,
	}

	// Run the test
	if err := testevents.Run(ctx, config); err != nil {
		os.Stderr.WriteString("Test failed: " + err.Error() + "\n")
		cancel()
		closer.Close()
		os.Exit(1)
	}
}
