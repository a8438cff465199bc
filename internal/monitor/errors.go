package monitor

import "errors"

var (
	// ErrConnectionFailed is returned by Start when the private connection cannot be opened.
	ErrConnectionFailed = errors.New("overdue monitor: connection failed")
	// ErrQueryFailed wraps a failed check. It is logged, never returned to callers.
	ErrQueryFailed = errors.New("overdue monitor: query failed")
	// ErrAlreadyRunning is returned by Start while a worker is live.
	ErrAlreadyRunning = errors.New("overdue monitor: already running")
	// ErrInvalidStateTransition reports lifecycle misuse, e.g. stopping an idle monitor.
	ErrInvalidStateTransition = errors.New("overdue monitor: invalid state transition")
	// ErrInvalidConfig is returned by New for unusable intervals or policies.
	ErrInvalidConfig = errors.New("overdue monitor: invalid config")
)
