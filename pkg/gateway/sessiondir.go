// Copyright 2025-2026 Aiku AI

package gateway

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/random"
)

// SessionDir owns the on-disk area the network client uses for its cache
// and profile data. It validates writability at startup and supports
// age-based eviction of stale artifacts.
//
// Eviction is opt-in and never runs automatically: deleting session
// artifacts that are merely old forces spurious re-authentication, so it
// only happens on an explicit administrative call.
type SessionDir struct {
	path string
	log  zerolog.Logger
}

func NewSessionDir(path string, log zerolog.Logger) *SessionDir {
	return &SessionDir{
		path: path,
		log:  log.With().Str("component", "sessiondir").Logger(),
	}
}

// Path returns the managed directory.
func (d *SessionDir) Path() string {
	return d.path
}

// Ensure creates the directory if absent and verifies write permission via
// a scratch-file probe. Failure is fatal to initialization; the supervisor
// must not come up with an unwritable session area.
func (d *SessionDir) Ensure() error {
	if d.path == "" {
		return fmt.Errorf("session path is empty")
	}
	if err := os.MkdirAll(d.path, 0o755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	probe := filepath.Join(d.path, ".probe-"+random.String(8))
	if err := os.WriteFile(probe, []byte("probe"), 0o600); err != nil {
		return fmt.Errorf("session directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		d.log.Warn().Err(err).Str("probe", probe).Msg("Failed to remove probe file")
	}
	return nil
}

// Writable reports whether the directory currently accepts writes.
func (d *SessionDir) Writable() bool {
	return d.Ensure() == nil
}

// Evict removes regular files older than maxAge and returns how many were
// deleted. Subdirectories are left alone.
func (d *SessionDir) Evict(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return 0, fmt.Errorf("failed to read session directory: %w", err)
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		full := filepath.Join(d.path, entry.Name())
		if err := os.Remove(full); err != nil {
			d.log.Warn().Err(err).Str("file", full).Msg("Failed to evict session file")
			continue
		}
		removed++
	}
	if removed > 0 {
		d.log.Info().Int("removed", removed).Dur("max_age", maxAge).Msg("Evicted stale session files")
	}
	return removed, nil
}
