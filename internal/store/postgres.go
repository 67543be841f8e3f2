package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/agora/internal/models"
)

const identityColumns = `name, kind, joined_at, last_active_at, muted_until, message_count`

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool
// and makes sure the identities table exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS identities (
			lname          TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			kind           TEXT NOT NULL,
			joined_at      TIMESTAMPTZ NOT NULL,
			last_active_at TIMESTAMPTZ NOT NULL,
			muted_until    TIMESTAMPTZ,
			message_count  BIGINT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_identities_last_active ON identities(last_active_at);
	`)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanIdentity(row pgx.Row) (*models.Identity, error) {
	id := &models.Identity{}
	var kind string
	err := row.Scan(
		&id.Name,
		&kind,
		&id.JoinedAt,
		&id.LastActiveAt,
		&id.MutedUntil,
		&id.MessageCount,
	)
	if err != nil {
		return nil, err
	}
	id.Kind = models.SenderKind(kind)
	return id, nil
}

// UpsertIdentity creates or refreshes an identity.
func (s *PostgresStore) UpsertIdentity(ctx context.Context, name string, kind models.SenderKind, at time.Time) (*models.Identity, bool, error) {
	var created bool
	id := &models.Identity{}
	var k string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO identities (lname, name, kind, joined_at, last_active_at)
		VALUES (lower($1), $1, $2, $3, $3)
		ON CONFLICT (lname) DO UPDATE SET last_active_at = EXCLUDED.last_active_at
		RETURNING `+identityColumns+`, (xmax = 0)
	`, name, string(kind), at).Scan(
		&id.Name,
		&k,
		&id.JoinedAt,
		&id.LastActiveAt,
		&id.MutedUntil,
		&id.MessageCount,
		&created,
	)
	if err != nil {
		return nil, false, err
	}
	id.Kind = models.SenderKind(k)
	return id, created, nil
}

// GetIdentity retrieves an identity by name.
func (s *PostgresStore) GetIdentity(ctx context.Context, name string) (*models.Identity, error) {
	id, err := scanIdentity(s.pool.QueryRow(ctx, `
		SELECT `+identityColumns+` FROM identities WHERE lname = lower($1)
	`, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return id, nil
}

// ListIdentities returns all identities in join order.
func (s *PostgresStore) ListIdentities(ctx context.Context) ([]models.Identity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+identityColumns+` FROM identities ORDER BY joined_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	identities := []models.Identity{}
	for rows.Next() {
		id, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		identities = append(identities, *id)
	}
	return identities, rows.Err()
}

// TouchIdentity increments the message count and updates activity.
func (s *PostgresStore) TouchIdentity(ctx context.Context, name string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE identities
		SET message_count = message_count + 1, last_active_at = $2
		WHERE lname = lower($1)
	`, name, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetMute sets or clears the mute expiry.
func (s *PostgresStore) SetMute(ctx context.Context, name string, until *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE identities SET muted_until = $2 WHERE lname = lower($1)
	`, name, until)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteIdentity removes an identity.
func (s *PostgresStore) DeleteIdentity(ctx context.Context, name string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM identities WHERE lname = lower($1)`, name)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteInactive removes identities idle since before.
func (s *PostgresStore) DeleteInactive(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		DELETE FROM identities WHERE last_active_at < $1 RETURNING name
	`, before)
	if err != nil {
		return nil, err
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return names, nil
}
