package track

import "errors"

var (
	// ErrAlreadyRunning is returned by Start when the processor's loop is
	// already active.
	ErrAlreadyRunning = errors.New("track: processor already running")
	// ErrNotRunning is returned by Stop when the processor was never
	// started, or has already stopped.
	ErrNotRunning = errors.New("track: processor not running")
)
