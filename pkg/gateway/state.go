// Copyright 2025-2026 Aiku AI

package gateway

import "time"

// Status is the lifecycle state of the gateway's network connection.
type Status string

const (
	// StatusDisconnected is the initial state, and the state after an
	// external disconnect signal while ready.
	StatusDisconnected Status = "disconnected"
	// StatusInitializing means the network client has been constructed and
	// is establishing its connection.
	StatusInitializing Status = "initializing"
	// StatusAwaitingCredential means the network emitted an onboarding token
	// that an operator has to consume; the rendered artifact is available
	// only in this state.
	StatusAwaitingCredential Status = "awaiting_credential"
	// StatusCredentialVerified means the network accepted a credential but
	// has not yet reported the connection as fully operational.
	StatusCredentialVerified Status = "credential_verified"
	// StatusReady is the steady operating state. The liveness timer runs
	// only while in this state.
	StatusReady Status = "ready"
	// StatusFaulted is terminal; reaching it triggers process exit.
	StatusFaulted Status = "faulted"
)

// StatusSnapshot is a point-in-time copy of the connection state, safe to
// read from any goroutine.
type StatusSnapshot struct {
	Status           Status    `json:"status"`
	LoadProgress     int       `json:"load_progress"`
	ClientID         string    `json:"client_id"`
	LastTransitionAt time.Time `json:"last_transition_at"`
}
