// Copyright 2025-2026 Aiku AI
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package credstore persists opaque authentication-session blobs keyed by
// client identity. Two backends exist: a local file store (one JSON file
// per identity) and a remote postgres table. The backend is chosen once at
// startup; there is no per-call fallback switching.
package credstore

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotFound reports that no usable credential exists for an identity.
// Backend errors during Load are logged and mapped to ErrNotFound so the
// caller falls back to the onboarding flow instead of failing.
var ErrNotFound = errors.New("credential not found")

// Record is a persisted credential.
type Record struct {
	ClientID  string    `json:"client_id"`
	Payload   []byte    `json:"payload"`
	UpdatedAt time.Time `json:"updated_at"`
	// Active is a soft-delete flag: logout flips it to false, retention
	// sweeps hard-delete inactive records past the age threshold.
	Active bool `json:"active"`
}

// RecordInfo describes a stored record without exposing its payload.
type RecordInfo struct {
	ClientID  string    `json:"client_id"`
	UpdatedAt time.Time `json:"updated_at"`
	Active    bool      `json:"active"`
	Size      int       `json:"size"`
}

// Store is the credential persistence contract.
type Store interface {
	// Load returns the active record for clientID, or ErrNotFound.
	Load(ctx context.Context, clientID string) (*Record, error)
	// Save upserts the payload for clientID and marks it active.
	Save(ctx context.Context, clientID string, payload []byte) error
	// Delete soft-deletes the record for clientID.
	Delete(ctx context.Context, clientID string) error
	// Sweep hard-deletes inactive records older than maxAge and returns
	// how many were removed. Meant for periodic external invocation.
	Sweep(ctx context.Context, maxAge time.Duration) (int, error)
	// List describes all stored records for diagnostics.
	List(ctx context.Context) ([]RecordInfo, error)
	Close() error
}

// Config selects and parameterizes the store backend.
type Config struct {
	Backend    string // "file" or "postgres"
	Path       string // file backend directory, also used for fallback copies
	RemoteURL  string // postgres connection URL
	RemoteKey  string // access key merged into RemoteURL
	Production bool
}

// Open builds the primary store and, when the primary is remote, a local
// fallback store for credential copies the remote failed to accept.
//
// Outside production the file backend is used exclusively. In production
// with the postgres backend selected, a remote initialization failure is
// logged and the gateway continues with file-backend semantics for the
// rest of the process lifetime.
func Open(cfg Config, log zerolog.Logger) (primary, fallback Store, err error) {
	fileStore, err := NewFile(cfg.Path, log)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Production || cfg.Backend != "postgres" {
		return fileStore, nil, nil
	}

	pg, err := NewPostgres(cfg.RemoteURL, cfg.RemoteKey, log)
	if err != nil {
		log.Error().Err(err).Msg("Remote credential backend unavailable, using local backend for this process")
		return fileStore, nil, nil
	}
	return pg, fileStore, nil
}
