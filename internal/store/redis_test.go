package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/agora/internal/models"
)

func newTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	url := os.Getenv("AGORA_TEST_REDIS_URL")
	if url == "" {
		t.Skip("AGORA_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	s, err := NewRedisStore(ctx, url)
	require.NoError(t, err)
	require.NoError(t, s.Client().Del(ctx, messagesKey, messageBodyKey).Err())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRedisMessages(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()

	base := time.Now().UnixMilli()
	var ids []string
	for i := 0; i < 3; i++ {
		m := &models.Message{From: "alice", Kind: models.KindHuman, Body: "hi", Timestamp: base + int64(i)}
		require.NoError(t, s.AddMessage(ctx, m))
		ids = append(ids, m.ID)
	}

	msgs, err := s.GetRecentMessages(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, ids[1], msgs[0].ID)
	require.Equal(t, ids[2], msgs[1].ID)

	msgs, err = s.GetRecentMessages(ctx, 10, base)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	require.NoError(t, s.SoftDelete(ctx, ids[0]))
	got, err := s.GetMessage(ctx, ids[0])
	require.NoError(t, err)
	require.True(t, got.Deleted)
	require.ErrorIs(t, s.SoftDelete(ctx, "missing"), ErrNotFound)
}

func TestRedisSessions(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, "test-token", "alice", time.Minute))
	name, err := s.LookupSession(ctx, "test-token")
	require.NoError(t, err)
	require.Equal(t, "alice", name)

	require.NoError(t, s.DeleteSession(ctx, "test-token"))
	name, err = s.LookupSession(ctx, "test-token")
	require.NoError(t, err)
	require.Empty(t, name)
}
