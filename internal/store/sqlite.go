package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/agora/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/agora.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/agora.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS identities (
		lname TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		joined_at DATETIME NOT NULL,
		last_active_at DATETIME NOT NULL,
		muted_until DATETIME,
		message_count INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_identities_last_active ON identities(last_active_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteIdentity(row rowScanner) (*models.Identity, error) {
	id := &models.Identity{}
	var kind string
	var muted sql.NullTime
	err := row.Scan(
		&id.Name,
		&kind,
		&id.JoinedAt,
		&id.LastActiveAt,
		&muted,
		&id.MessageCount,
	)
	if err != nil {
		return nil, err
	}
	id.Kind = models.SenderKind(kind)
	if muted.Valid {
		t := muted.Time
		id.MutedUntil = &t
	}
	return id, nil
}

// UpsertIdentity creates or refreshes an identity.
func (s *SQLiteStore) UpsertIdentity(ctx context.Context, name string, kind models.SenderKind, at time.Time) (*models.Identity, bool, error) {
	at = at.UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO identities (lname, name, kind, joined_at, last_active_at, message_count)
		VALUES (lower(?), ?, ?, ?, ?, 0)
	`, name, name, string(kind), at, at)
	if err != nil {
		return nil, false, err
	}
	n, _ := res.RowsAffected()
	created := n > 0

	if !created {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE identities SET last_active_at = ? WHERE lname = lower(?)
		`, at, name); err != nil {
			return nil, false, err
		}
	}

	id, err := s.GetIdentity(ctx, name)
	if err != nil {
		return nil, false, err
	}
	return id, created, nil
}

// GetIdentity retrieves an identity by name.
func (s *SQLiteStore) GetIdentity(ctx context.Context, name string) (*models.Identity, error) {
	id, err := scanSQLiteIdentity(s.db.QueryRowContext(ctx, `
		SELECT `+identityColumns+` FROM identities WHERE lname = lower(?)
	`, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return id, nil
}

// ListIdentities returns all identities in join order.
func (s *SQLiteStore) ListIdentities(ctx context.Context) ([]models.Identity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+identityColumns+` FROM identities ORDER BY joined_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	identities := []models.Identity{}
	for rows.Next() {
		id, err := scanSQLiteIdentity(rows)
		if err != nil {
			return nil, err
		}
		identities = append(identities, *id)
	}
	return identities, rows.Err()
}

// TouchIdentity increments the message count and updates activity.
func (s *SQLiteStore) TouchIdentity(ctx context.Context, name string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE identities
		SET message_count = message_count + 1, last_active_at = ?
		WHERE lname = lower(?)
	`, at.UTC(), name)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// SetMute sets or clears the mute expiry.
func (s *SQLiteStore) SetMute(ctx context.Context, name string, until *time.Time) error {
	var v any
	if until != nil {
		v = until.UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE identities SET muted_until = ? WHERE lname = lower(?)
	`, v, name)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// DeleteIdentity removes an identity.
func (s *SQLiteStore) DeleteIdentity(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM identities WHERE lname = lower(?)`, name)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteInactive removes identities idle since before.
func (s *SQLiteStore) DeleteInactive(ctx context.Context, before time.Time) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT name FROM identities WHERE last_active_at < ? ORDER BY name
	`, before.UTC())
	if err != nil {
		return nil, err
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM identities WHERE last_active_at < ?`, before.UTC()); err != nil {
		return nil, err
	}
	return names, tx.Commit()
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
