// Copyright 2025-2026 Aiku AI
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package gateway contains the connection core of chatgate: the lifecycle
// state machine for a single long-lived, authenticated chat-network
// connection, and the facade the HTTP layer talks to.
//
// # Core Types
//
// [Supervisor] owns the one [NetworkClient] handle for a client identity.
// It consumes the client's lifecycle events on a single goroutine, drives
// the state machine through a pure transition function, runs periodic
// liveness checks while the connection is ready, and persists credential
// payloads through a [credstore.Store].
//
// [Facade] is the stable surface consumed by the HTTP adapter: status
// snapshots, the onboarding credential artifact, message sending,
// operator-requested restarts and diagnostics.
//
// [SessionDir] validates the on-disk area the network client uses for its
// own cache and profile data, and performs age-based eviction when an
// administrator explicitly asks for it.
//
// # Recovery Policy
//
// Authentication failures, disconnects and liveness failures are fatal to
// the process: the supervisor tears the client down with a bounded timeout
// and exits non-zero. An external process supervisor is expected to restart
// the gateway; there are no in-process reconnect loops. The only internal
// retry is the optional, bounded readiness confirmation probe.
package gateway
