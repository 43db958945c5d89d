// Copyright 2025-2026 Aiku AI

package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

const credentialsSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	client_id  TEXT PRIMARY KEY,
	payload    BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	active     BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE INDEX IF NOT EXISTS credentials_active_idx ON credentials (active, updated_at);
`

// PostgresStore keeps one row per client identity in a remote table.
// Upserts are last-write-wins; concurrency control is the backend's job.
type PostgresStore struct {
	db  *sql.DB
	log zerolog.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgres connects to the remote backend and ensures the schema. key,
// when non-empty, replaces the password in the connection URL.
func NewPostgres(remoteURL, key string, log zerolog.Logger) (*PostgresStore, error) {
	dsn, err := buildDSN(remoteURL, key)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote credential backend: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("remote credential backend unreachable: %w", err)
	}
	if _, err := db.ExecContext(ctx, credentialsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ensure credentials schema: %w", err)
	}
	return &PostgresStore{
		db:  db,
		log: log.With().Str("component", "credstore").Str("backend", "postgres").Logger(),
	}, nil
}

// buildDSN merges the access key into the connection URL as the password.
func buildDSN(remoteURL, key string) (string, error) {
	if remoteURL == "" {
		return "", fmt.Errorf("remote URL is empty")
	}
	if key == "" {
		return remoteURL, nil
	}
	u, err := url.Parse(remoteURL)
	if err != nil {
		return "", fmt.Errorf("invalid remote URL: %w", err)
	}
	user := ""
	if u.User != nil {
		user = u.User.Username()
	}
	u.User = url.UserPassword(user, key)
	return u.String(), nil
}

func (p *PostgresStore) Load(ctx context.Context, clientID string) (*Record, error) {
	rec := &Record{ClientID: clientID}
	err := p.db.QueryRowContext(ctx,
		`SELECT payload, updated_at, active FROM credentials WHERE client_id = $1`,
		clientID,
	).Scan(&rec.Payload, &rec.UpdatedAt, &rec.Active)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			p.log.Error().Err(err).Str("client_id", clientID).Msg("Credential query failed")
		}
		return nil, ErrNotFound
	}
	if !rec.Active {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (p *PostgresStore) Save(ctx context.Context, clientID string, payload []byte) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO credentials (client_id, payload, updated_at, active)
		 VALUES ($1, $2, NOW(), TRUE)
		 ON CONFLICT (client_id)
		 DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW(), active = TRUE`,
		clientID, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, clientID string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE credentials SET active = FALSE, updated_at = NOW() WHERE client_id = $1`,
		clientID,
	)
	if err != nil {
		return fmt.Errorf("failed to soft-delete credential: %w", err)
	}
	return nil
}

func (p *PostgresStore) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE active = FALSE AND updated_at < $1`,
		time.Now().UTC().Add(-maxAge),
	)
	if err != nil {
		return 0, fmt.Errorf("credential sweep failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("credential sweep result unavailable: %w", err)
	}
	return int(n), nil
}

func (p *PostgresStore) List(ctx context.Context) ([]RecordInfo, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT client_id, updated_at, active, OCTET_LENGTH(payload) FROM credentials ORDER BY client_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()
	var infos []RecordInfo
	for rows.Next() {
		var info RecordInfo
		if err := rows.Scan(&info.ClientID, &info.UpdatedAt, &info.Active, &info.Size); err != nil {
			return nil, fmt.Errorf("failed to scan credential row: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}
