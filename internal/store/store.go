package store

import (
	"context"
	"errors"
	"time"

	"github.com/eldtechnologies/agora/internal/models"
)

// ErrNotFound is returned when an update targets a record that does not exist.
var ErrNotFound = errors.New("store: not found")

// IdentityStore defines persistent storage of room participants.
// PostgresStore, SQLiteStore and MemoryStore implement this interface.
type IdentityStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// UpsertIdentity creates name on first join and refreshes its activity
	// on later joins. created reports whether a new record was made.
	UpsertIdentity(ctx context.Context, name string, kind models.SenderKind, at time.Time) (identity *models.Identity, created bool, err error)
	GetIdentity(ctx context.Context, name string) (*models.Identity, error)
	ListIdentities(ctx context.Context) ([]models.Identity, error)
	// TouchIdentity records a posted message: bumps last activity and the message count.
	TouchIdentity(ctx context.Context, name string, at time.Time) error
	SetMute(ctx context.Context, name string, until *time.Time) error
	DeleteIdentity(ctx context.Context, name string) (bool, error)
	// DeleteInactive removes identities idle since before and returns their names.
	DeleteInactive(ctx context.Context, before time.Time) ([]string, error)
}

// LiveStore defines storage for the message log and session tokens.
// RedisStore and MemoryStore implement this interface.
type LiveStore interface {
	Close() error
	Ping(ctx context.Context) error

	// AddMessage assigns ID and Timestamp when unset and appends msg.
	AddMessage(ctx context.Context, msg *models.Message) error
	// GetRecentMessages returns up to limit of the newest messages with a
	// timestamp after the given Unix ms (0 for all), oldest first.
	GetRecentMessages(ctx context.Context, limit int, after int64) ([]models.Message, error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	SoftDelete(ctx context.Context, id string) error

	CreateSession(ctx context.Context, token, name string, ttl time.Duration) error
	// LookupSession returns the identity bound to token, or "" when unknown.
	LookupSession(ctx context.Context, token string) (string, error)
	DeleteSession(ctx context.Context, token string) error
}
