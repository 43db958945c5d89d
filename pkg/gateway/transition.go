// Copyright 2025-2026 Aiku AI
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gateway

// effects describes the side effects the supervisor must apply after a
// transition. The transition function itself never touches supervisor
// state; it only reports what has to happen.
type effects struct {
	// setArtifact replaces the credential artifact when hasArtifact is true.
	setArtifact string
	hasArtifact bool
	// clearArtifact removes the credential artifact.
	clearArtifact bool
	// persistCredential is the session blob to write through the credential
	// store, nil when nothing has to be persisted.
	persistCredential []byte
	// startLiveness and stopLiveness control the periodic liveness timer.
	startLiveness bool
	stopLiveness  bool
	// fatal marks the event as fatal to the process. The supervisor tears
	// the client down and exits unless a manual stop is in progress.
	fatal       bool
	fatalReason string
}

// transition maps (current status, event) to (next status, effects). The
// bool result is false when the event is not meaningful in the current
// state; such events are logged and dropped, never acted on. In particular
// a ReadyEvent is only honored from StatusCredentialVerified, so the
// connection can never become ready without a verified credential.
func transition(cur Status, ev Event) (Status, effects, bool) {
	switch e := ev.(type) {
	case OnboardingTokenEvent:
		if cur == StatusInitializing || cur == StatusAwaitingCredential {
			return StatusAwaitingCredential, effects{setArtifact: e.Token, hasArtifact: true}, true
		}

	case AuthenticatedEvent:
		if cur == StatusInitializing || cur == StatusAwaitingCredential {
			return StatusCredentialVerified, effects{clearArtifact: true, persistCredential: e.Credential}, true
		}

	case CredentialRefreshEvent:
		if cur == StatusCredentialVerified || cur == StatusReady {
			return cur, effects{persistCredential: e.Credential}, true
		}

	case ReadyEvent:
		if cur == StatusCredentialVerified {
			return StatusReady, effects{startLiveness: true}, true
		}

	case LoadingProgressEvent:
		// Recorded by the supervisor for diagnostics, no transition.
		return cur, effects{}, true

	case DisconnectedEvent:
		if cur == StatusReady {
			return StatusDisconnected, effects{
				stopLiveness:  true,
				clearArtifact: true,
				fatal:         true,
				fatalReason:   e.Reason,
			}, true
		}
		// A disconnect before the connection was ever ready means
		// initialization failed.
		return StatusFaulted, effects{
			stopLiveness:  true,
			clearArtifact: true,
			fatal:         true,
			fatalReason:   e.Reason,
		}, true

	case AuthFailureEvent:
		return StatusFaulted, effects{
			stopLiveness:  true,
			clearArtifact: true,
			fatal:         true,
			fatalReason:   e.Reason,
		}, true
	}

	return cur, effects{}, false
}
