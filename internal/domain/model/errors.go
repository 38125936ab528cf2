package model

import "errors"

// Sentinel kinds for model errors.
var (
	ErrMalformedRecord = errors.New("malformed record")
)
