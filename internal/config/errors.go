package config

import "errors"

var (
	// ErrInvalidConfig wraps every problem Validate finds.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrLoadConfig wraps file and environment read failures.
	ErrLoadConfig = errors.New("load config failed")
	// ErrUnknownTimezone is returned when a zone name is not in the tz database.
	ErrUnknownTimezone = errors.New("unknown timezone")
)
