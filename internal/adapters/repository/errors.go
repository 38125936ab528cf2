package repository

import "errors"

// Sentinel kinds for warehouse errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrUnknownEntity = errors.New("unknown dimension entity")
	ErrLocked        = errors.New("warehouse is locked by another run")
	ErrClosed        = errors.New("store is closed")
	ErrTxDone        = errors.New("transaction already finished")
)
