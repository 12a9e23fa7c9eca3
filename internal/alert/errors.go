package alert

import "errors"

var (
	// ErrInvalidTrigger is returned for malformed trigger definitions. Invalid
	// triggers are never persisted.
	ErrInvalidTrigger = errors.New("invalid trigger")
	// ErrStaleSample is returned when a sample is older than the oldest
	// retained sample for its (host, key). The window is left unchanged.
	ErrStaleSample = errors.New("stale sample")
	// ErrDuplicateActive is returned when opening an alert for a trigger that
	// already has an active one.
	ErrDuplicateActive = errors.New("trigger already has an active alert")
	// ErrNotFound is returned for unknown trigger or alert ids.
	ErrNotFound = errors.New("not found")
)
