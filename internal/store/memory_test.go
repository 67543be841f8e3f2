package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/agora/internal/models"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMemoryMessages(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.SetClock(func() time.Time { return t0 })

	for i, body := range []string{"one", "two", "three"} {
		m := &models.Message{From: "alice", Kind: models.KindHuman, Body: body, Timestamp: t0.Add(time.Duration(i) * time.Second).UnixMilli()}
		require.NoError(t, s.AddMessage(ctx, m))
		require.NotEmpty(t, m.ID)
	}

	msgs, err := s.GetRecentMessages(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "two", msgs[0].Body)
	require.Equal(t, "three", msgs[1].Body)

	msgs, err = s.GetRecentMessages(ctx, 10, t0.UnixMilli())
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	require.NoError(t, s.SoftDelete(ctx, msgs[0].ID))
	got, err := s.GetMessage(ctx, msgs[0].ID)
	require.NoError(t, err)
	require.True(t, got.Deleted)

	require.ErrorIs(t, s.SoftDelete(ctx, "missing"), ErrNotFound)
	got, err = s.GetMessage(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMemoryOutOfOrderInsert(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.AddMessage(ctx, &models.Message{ID: "b", Timestamp: 200}))
	require.NoError(t, s.AddMessage(ctx, &models.Message{ID: "a", Timestamp: 100}))

	msgs, err := s.GetRecentMessages(ctx, 0, 0)
	require.NoError(t, err)
	require.Equal(t, "a", msgs[0].ID)
	require.Equal(t, "b", msgs[1].ID)

	got, err := s.GetMessage(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, int64(200), got.Timestamp)
}

func TestMemorySessions(t *testing.T) {
	ctx := context.Background()
	now := t0
	s := NewMemoryStore()
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.CreateSession(ctx, "tok", "alice", time.Minute))
	name, err := s.LookupSession(ctx, "tok")
	require.NoError(t, err)
	require.Equal(t, "alice", name)

	now = now.Add(2 * time.Minute)
	name, _ = s.LookupSession(ctx, "tok")
	require.Empty(t, name)

	require.NoError(t, s.CreateSession(ctx, "tok2", "bob", time.Minute))
	require.NoError(t, s.DeleteSession(ctx, "tok2"))
	name, _ = s.LookupSession(ctx, "tok2")
	require.Empty(t, name)
}

func TestMemoryIdentities(t *testing.T) {
	testIdentityStore(t, NewMemoryStore().Identities())
}

// testIdentityStore exercises any IdentityStore implementation.
func testIdentityStore(t *testing.T, s IdentityStore) {
	t.Helper()
	ctx := context.Background()

	id, created, err := s.UpsertIdentity(ctx, "Alice", models.KindHuman, t0)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "Alice", id.Name)
	require.Equal(t, models.KindHuman, id.Kind)

	id, created, err = s.UpsertIdentity(ctx, "alice", models.KindHuman, t0.Add(time.Minute))
	require.NoError(t, err)
	require.False(t, created)
	require.True(t, id.LastActiveAt.Equal(t0.Add(time.Minute)))
	require.True(t, id.JoinedAt.Equal(t0))

	_, _, err = s.UpsertIdentity(ctx, "bot", models.KindAgent, t0.Add(2*time.Minute))
	require.NoError(t, err)

	require.NoError(t, s.TouchIdentity(ctx, "Alice", t0.Add(3*time.Minute)))
	require.ErrorIs(t, s.TouchIdentity(ctx, "nobody", t0), ErrNotFound)

	got, err := s.GetIdentity(ctx, "ALICE")
	require.NoError(t, err)
	require.Equal(t, int64(1), got.MessageCount)
	require.False(t, got.IsMuted(t0))

	until := t0.Add(10 * time.Minute)
	require.NoError(t, s.SetMute(ctx, "alice", &until))
	got, _ = s.GetIdentity(ctx, "alice")
	require.True(t, got.IsMuted(t0.Add(5*time.Minute)))
	require.False(t, got.IsMuted(t0.Add(11*time.Minute)))
	require.NoError(t, s.SetMute(ctx, "alice", nil))
	got, _ = s.GetIdentity(ctx, "alice")
	require.Nil(t, got.MutedUntil)

	all, err := s.ListIdentities(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "Alice", all[0].Name)

	removed, err := s.DeleteInactive(ctx, t0.Add(150*time.Second))
	require.NoError(t, err)
	require.Equal(t, []string{"bot"}, removed)

	ok, err := s.DeleteIdentity(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	ok, _ = s.DeleteIdentity(ctx, "alice")
	require.False(t, ok)

	missing, err := s.GetIdentity(ctx, "alice")
	require.NoError(t, err)
	require.Nil(t, missing)
}
