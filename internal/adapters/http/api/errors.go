package api

import "errors"

// Sentinel kinds for API errors.
var (
	ErrBadRequest  = errors.New("bad request")
	ErrInvalidDate = errors.New("dates must be YYYY-MM-DD")
)
