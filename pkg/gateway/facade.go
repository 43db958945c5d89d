// Copyright 2025-2026 Aiku AI
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/jsontime"

	"github.com/aiku/chatgate/pkg/credstore"
)

// Receipt acknowledges an accepted message: an opaque network message id
// and the server-reported timestamp.
type Receipt struct {
	MessageID string             `json:"message_id"`
	Timestamp jsontime.UnixMilli `json:"timestamp"`
}

// DiagnosticsReport aggregates read-only operational state.
type DiagnosticsReport struct {
	StatusSnapshot
	LivenessActive     bool                   `json:"liveness_active"`
	SessionPath        string                 `json:"session_path"`
	SessionDirWritable bool                   `json:"session_dir_writable"`
	Credentials        []credstore.RecordInfo `json:"credentials"`
}

// Facade is the stable synchronous-read / asynchronous-command surface the
// HTTP adapter consumes. It never formats human-facing strings; callers map
// its structured outcomes to responses.
type Facade struct {
	sup    *Supervisor
	store  credstore.Store
	dir    *SessionDir
	suffix string
	log    zerolog.Logger
}

// NewFacade wires the facade over the supervisor and its collaborators.
// suffix is the network addressing suffix appended to bare recipients, may
// be empty to disable normalization.
func NewFacade(sup *Supervisor, store credstore.Store, dir *SessionDir, suffix string, log zerolog.Logger) *Facade {
	return &Facade{
		sup:    sup,
		store:  store,
		dir:    dir,
		suffix: suffix,
		log:    log.With().Str("component", "facade").Logger(),
	}
}

// Status returns the current connection snapshot. Never blocks.
func (f *Facade) Status() StatusSnapshot {
	return f.sup.Snapshot()
}

// CredentialArtifact returns the onboarding artifact. The bool is false
// whenever the connection is not awaiting a credential; this is a normal
// outcome, not an error.
func (f *Facade) CredentialArtifact() (string, bool) {
	return f.sup.CredentialArtifact()
}

// SendMessage normalizes the recipient and delivers the message through
// the supervisor. Returns ErrNotReady unless the connection is ready.
func (f *Facade) SendMessage(ctx context.Context, recipient, body string) (*Receipt, error) {
	if recipient == "" {
		return nil, &SendError{Err: fmt.Errorf("recipient is empty")}
	}
	recipient = f.normalizeRecipient(recipient)
	res, err := f.sup.Send(ctx, recipient, body)
	if err != nil {
		return nil, err
	}
	return &Receipt{
		MessageID: res.MessageID,
		Timestamp: jsontime.UM(res.Timestamp),
	}, nil
}

// normalizeRecipient appends the network addressing suffix when the
// recipient does not already carry one.
func (f *Facade) normalizeRecipient(recipient string) string {
	if f.suffix == "" || strings.Contains(recipient, "@") {
		return recipient
	}
	return recipient + f.suffix
}

// RequestRestart triggers the deliberate fatal-exit path and returns
// immediately. The external process supervisor restarts the gateway.
func (f *Facade) RequestRestart() {
	f.sup.Restart()
}

// Diagnostics aggregates state, credential-store contents and session
// directory writability. Read-only.
func (f *Facade) Diagnostics(ctx context.Context) (*DiagnosticsReport, error) {
	creds, err := f.store.List(ctx)
	if err != nil {
		f.log.Warn().Err(err).Msg("Credential listing failed")
		creds = nil
	}
	return &DiagnosticsReport{
		StatusSnapshot:     f.sup.Snapshot(),
		LivenessActive:     f.sup.livenessActive(),
		SessionPath:        f.dir.Path(),
		SessionDirWritable: f.dir.Writable(),
		Credentials:        creds,
	}, nil
}

// EvictSessionFiles removes session files older than maxAge. Administrative
// operation; never invoked automatically.
func (f *Facade) EvictSessionFiles(_ context.Context, maxAge time.Duration) (int, error) {
	return f.dir.Evict(maxAge)
}
