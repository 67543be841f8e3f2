package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/agora/internal/models"
)

const (
	messageTTL = 24 * time.Hour

	messagesKey      = "room:messages"      // sorted set: id scored by timestamp
	messageBodyKey   = "room:messages:body" // hash: id -> JSON message
	sessionKeyPrefix = "session:"
)

// RedisStore handles Redis operations for the message log and sessions.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Client returns the underlying client for components that share the
// connection (join flood guard, turn lock).
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func sessionKey(token string) string {
	return sessionKeyPrefix + token
}

// AddMessage stores a message in Redis.
func (s *RedisStore) AddMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, messageBodyKey, msg.ID, data)
	pipe.ZAdd(ctx, messagesKey, redis.Z{
		Score:  float64(msg.Timestamp),
		Member: msg.ID,
	})
	pipe.Expire(ctx, messagesKey, messageTTL)
	pipe.Expire(ctx, messageBodyKey, messageTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: add message: %w", err)
	}
	return nil
}

// GetRecentMessages retrieves the newest messages after the given time,
// oldest first.
func (s *RedisStore) GetRecentMessages(ctx context.Context, limit int, after int64) ([]models.Message, error) {
	minScore := "-inf"
	if after > 0 {
		minScore = fmt.Sprintf("(%d", after) // exclusive
	}

	// Newest first, then reversed.
	ids, err := s.client.ZRevRangeByScore(ctx, messagesKey, &redis.ZRangeBy{
		Min:   minScore,
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.Message{}, nil
	}

	raw, err := s.client.HMGet(ctx, messageBodyKey, ids...).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		data, ok := raw[i].(string)
		if !ok {
			continue // expired between calls
		}
		var msg models.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// GetMessage retrieves a specific message by ID.
func (s *RedisStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	data, err := s.client.HGet(ctx, messageBodyKey, id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var msg models.Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SoftDelete marks a message deleted while keeping it in the log, so
// reply chains through it still resolve.
func (s *RedisStore) SoftDelete(ctx context.Context, id string) error {
	msg, err := s.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	if msg == nil {
		return ErrNotFound
	}
	msg.Deleted = true
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, messageBodyKey, id, data).Err()
}

// CreateSession binds token to name for ttl.
func (s *RedisStore) CreateSession(ctx context.Context, token, name string, ttl time.Duration) error {
	return s.client.Set(ctx, sessionKey(token), name, ttl).Err()
}

// LookupSession returns the identity bound to token.
func (s *RedisStore) LookupSession(ctx context.Context, token string) (string, error) {
	name, err := s.client.Get(ctx, sessionKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return name, err
}

// DeleteSession revokes token.
func (s *RedisStore) DeleteSession(ctx context.Context, token string) error {
	return s.client.Del(ctx, sessionKey(token)).Err()
}
