package testevents

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/okian/starkpi/pkg/logger"
)

// File permission constants.
const (
	logFilePermission = 0600
)

// SetupLogging configures logging to both console and file.
// If logFile is empty, a timestamped filename is generated.
func SetupLogging(logFile string, verbose bool) (io.Closer, error) {
	if logFile == "" {
		timestamp := time.Now().Format("20060102_150405")
		logFile = "test_log_" + timestamp + ".log"
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	level := "info"
	if verbose {
		level = "debug"
	}
	if err := logger.Init(
		logger.WithWriter(io.MultiWriter(os.Stderr, file)),
		logger.WithLevel(level),
	); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return file, nil
}

// ShowHelp prints usage information for the load test tool.
func ShowHelp() {
	os.Stdout.WriteString(`starkpi load test
=================

Generates funnel sessions, loads them twice into a warehouse and checks
that the second load only finds duplicates and that every daily KPI row
matches both the generated counts and a recount of the fact table.

Usage:
  go run ./cmd/test-events [options]

Options:
  -db string
        Warehouse file (default: a temporary file removed afterwards)
  -sessions int
        Number of sessions to generate (default 5000)
  -days int
        Days the sessions are spread over, ending yesterday (default 7)
  -tools string
        Comma-separated tool names (default "merge,split,compress,convert,rotate")
  -workers int
        Number of concurrent generator workers (default CPU cores * 2)
  -output string
        Write the generated batch as NDJSON for 'starkpi load'
  -log string
        Log file for test output (default: test_log_TIMESTAMP.log)
  -verbose
        Debug logging and a printed report
  -help
        Show this help message

Examples:
  go run ./cmd/test-events -sessions 20000 -days 30
  go run ./cmd/test-events -output batch.ndjson && starkpi load -f batch.ndjson
`)
}
