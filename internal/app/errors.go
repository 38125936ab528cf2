package service

import "errors"

// Sentinel errors returned by the service.
var (
	// ErrRunFailed wraps every error that aborted a run. The run's writes
	// were rolled back.
	ErrRunFailed = errors.New("run failed")
	// ErrLocked means another run held the warehouse lock for the whole
	// allowed wait.
	ErrLocked = errors.New("another run is in progress")
	// ErrNoSource is returned by Run when no source is configured.
	ErrNoSource = errors.New("no source configured")
	// ErrNotStarted is returned by Submit before Start.
	ErrNotStarted = errors.New("service not started")
)
