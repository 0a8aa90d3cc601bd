package engine

import "errors"

var (
	// ErrRunNotFound is returned when a run has no persisted records.
	ErrRunNotFound = errors.New("run not found")

	// ErrRecordNotFound is returned when an execution record does not exist.
	ErrRecordNotFound = errors.New("execution record not found")
)
