// Copyright 2025-2026 Aiku AI

package gateway

// Event is a lifecycle event emitted by a NetworkClient. The supervisor
// consumes events in the order the client emits them.
type Event interface {
	eventName() string
}

// OnboardingTokenEvent carries a fresh onboarding token that has to be
// presented to an operator (rendered as the credential artifact). Clients
// may emit it repeatedly while the token keeps rotating.
type OnboardingTokenEvent struct {
	Token string
}

// AuthenticatedEvent signals that the network accepted a credential. The
// payload is the opaque session blob to persist for the next process start.
type AuthenticatedEvent struct {
	Credential []byte
}

// CredentialRefreshEvent carries an updated session blob for an already
// authenticated connection. It does not change the connection state.
type CredentialRefreshEvent struct {
	Credential []byte
}

// ReadyEvent is the network's own fully-operational signal. Nothing else
// is allowed to move the connection into StatusReady.
type ReadyEvent struct{}

// LoadingProgressEvent reports connection setup progress as a percentage.
// Informational only; it never triggers a transition.
type LoadingProgressEvent struct {
	Percent int
	Stage   string
}

// DisconnectedEvent signals that the connection dropped.
type DisconnectedEvent struct {
	Reason string
}

// AuthFailureEvent signals an unrecoverable authentication failure.
type AuthFailureEvent struct {
	Reason string
}

func (OnboardingTokenEvent) eventName() string   { return "onboarding_token" }
func (AuthenticatedEvent) eventName() string     { return "authenticated" }
func (CredentialRefreshEvent) eventName() string { return "credential_refresh" }
func (ReadyEvent) eventName() string             { return "ready" }
func (LoadingProgressEvent) eventName() string   { return "loading_progress" }
func (DisconnectedEvent) eventName() string      { return "disconnected" }
func (AuthFailureEvent) eventName() string       { return "auth_failure" }
