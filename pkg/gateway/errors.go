// Copyright 2025-2026 Aiku AI

package gateway

import "errors"

// ErrNotReady is returned when an operation requires a ready connection.
// It is an expected outcome, not a fault.
var ErrNotReady = errors.New("connection is not ready")

// ErrAlreadyRunning is returned by Start when the supervisor already owns a
// live connection handle.
var ErrAlreadyRunning = errors.New("supervisor is already running")

// SendError wraps a per-call failure reported by the network client while
// sending a message. It does not affect the connection state.
type SendError struct {
	Err error
}

func (e *SendError) Error() string {
	return "send failed: " + e.Err.Error()
}

func (e *SendError) Unwrap() error {
	return e.Err
}
