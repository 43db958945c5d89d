// Copyright 2025-2026 Aiku AI

package credstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// FileStore keeps one JSON file per client identity under a directory.
type FileStore struct {
	dir string
	log zerolog.Logger
}

var _ Store = (*FileStore)(nil)

// NewFile creates the directory if needed and returns a file-backed store.
func NewFile(dir string, log zerolog.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("credential directory is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create credential directory: %w", err)
	}
	return &FileStore{
		dir: dir,
		log: log.With().Str("component", "credstore").Str("backend", "file").Logger(),
	}, nil
}

func (f *FileStore) path(clientID string) string {
	// Client IDs come from configuration, but never trust them as path
	// components.
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, clientID)
	return filepath.Join(f.dir, safe+".json")
}

func (f *FileStore) Load(_ context.Context, clientID string) (*Record, error) {
	raw, err := os.ReadFile(f.path(clientID))
	if err != nil {
		if !os.IsNotExist(err) {
			f.log.Error().Err(err).Str("client_id", clientID).Msg("Credential read failed")
		}
		return nil, ErrNotFound
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		f.log.Error().Err(err).Str("client_id", clientID).Msg("Credential file is corrupt")
		return nil, ErrNotFound
	}
	if !rec.Active {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (f *FileStore) Save(_ context.Context, clientID string, payload []byte) error {
	rec := Record{
		ClientID:  clientID,
		Payload:   payload,
		UpdatedAt: time.Now().UTC(),
		Active:    true,
	}
	raw, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}
	return f.writeAtomic(f.path(clientID), raw)
}

func (f *FileStore) Delete(ctx context.Context, clientID string) error {
	raw, err := os.ReadFile(f.path(clientID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read credential: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		// Corrupt file, remove it outright.
		return os.Remove(f.path(clientID))
	}
	rec.Active = false
	rec.UpdatedAt = time.Now().UTC()
	out, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}
	return f.writeAtomic(f.path(clientID), out)
}

func (f *FileStore) Sweep(_ context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read credential directory: %w", err)
	}
	cutoff := time.Now().UTC().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		full := filepath.Join(f.dir, entry.Name())
		raw, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		if rec.Active || rec.UpdatedAt.After(cutoff) {
			continue
		}
		if err := os.Remove(full); err != nil {
			f.log.Warn().Err(err).Str("file", full).Msg("Sweep failed to remove credential file")
			continue
		}
		removed++
	}
	return removed, nil
}

func (f *FileStore) List(_ context.Context) ([]RecordInfo, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read credential directory: %w", err)
	}
	infos := make([]RecordInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(f.dir, entry.Name()))
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		infos = append(infos, RecordInfo{
			ClientID:  rec.ClientID,
			UpdatedAt: rec.UpdatedAt,
			Active:    rec.Active,
			Size:      len(rec.Payload),
		})
	}
	return infos, nil
}

func (f *FileStore) Close() error {
	return nil
}

// writeAtomic writes via a temp file and rename so a crash mid-write never
// leaves a truncated credential behind.
func (f *FileStore) writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credential: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace credential: %w", err)
	}
	return nil
}
