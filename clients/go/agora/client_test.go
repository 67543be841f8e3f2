package agora

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/agora/internal/admission"
	"github.com/eldtechnologies/agora/internal/api"
	"github.com/eldtechnologies/agora/internal/handlers"
	"github.com/eldtechnologies/agora/internal/models"
	"github.com/eldtechnologies/agora/internal/room"
	"github.com/eldtechnologies/agora/internal/store"
)

func newRoomServer(t *testing.T) (*httptest.Server, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	ctrl, err := admission.NewController(admission.ControllerOpts{Logger: zerolog.Nop()})
	require.NoError(t, err)

	srv := httptest.NewServer(api.NewRouter(api.RouterOpts{
		Handlers: handlers.Options{
			Identities: mem.Identities(),
			Live:       mem,
			Admission:  ctrl,
			Activity:   room.NewTracker(0, nil),
			Turns:      room.NewMemoryTurnLock(0, nil),
		},
		Logger: zerolog.Nop(),
	}))
	t.Cleanup(srv.Close)
	return srv, mem
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	srv, _ := newRoomServer(t)

	alice := NewClient(srv.URL)
	_, err := alice.Join(ctx, "alice", models.KindHuman)
	require.NoError(t, err)
	require.Equal(t, "alice", alice.Name())

	bot := NewClient(srv.URL)
	_, err = bot.Join(ctx, "bot", models.KindAgent)
	require.NoError(t, err)

	q, err := alice.SendMessage(ctx, "hey @bot, what's up?", "")
	require.NoError(t, err)
	require.Equal(t, []string{"bot"}, q.Mentioned)

	a, err := bot.SendMessage(ctx, "@alice not much", q.ID)
	require.NoError(t, err)
	require.Equal(t, q.ID, a.ParentID)

	msgs, err := bot.GetRecentMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, q.ID, msgs[0].ID)

	members, err := alice.GetMembers(ctx)
	require.NoError(t, err)
	require.Len(t, members, 2)

	act, err := alice.GetActivity(ctx)
	require.NoError(t, err)
	require.False(t, act.IsIdle)

	grant, err := bot.RequestTurn(ctx, "bot")
	require.NoError(t, err)
	require.True(t, grant.Granted)
	grant, err = alice.RequestTurn(ctx, "alice")
	require.NoError(t, err)
	require.False(t, grant.Granted)
	require.Equal(t, "bot", grant.Holder)

	_, err = alice.RequestTurn(ctx, "bot")
	require.Error(t, err)

	require.NoError(t, alice.DeleteMessage(ctx, q.ID))
	err = alice.DeleteMessage(ctx, a.ID)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, 403, apiErr.StatusCode)

	muted, err := alice.Mute(ctx, "bot", 5)
	require.NoError(t, err)
	require.NotNil(t, muted.MutedUntil)
	_, err = bot.SendMessage(ctx, "hello?", "")
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, 403, apiErr.StatusCode)
}

func TestClientRejection(t *testing.T) {
	ctx := context.Background()
	srv, _ := newRoomServer(t)

	bot := NewClient(srv.URL)
	_, err := bot.Join(ctx, "bot", models.KindAgent)
	require.NoError(t, err)

	_, err = bot.SendMessage(ctx, "first", "")
	require.NoError(t, err)

	// An agent talking to itself trips the agent share cap.
	_, err = bot.SendMessage(ctx, "second", "")
	var rej *RejectedError
	require.True(t, errors.As(err, &rej), "%v", err)
	require.Equal(t, admission.ReasonAgentRatio, rej.Reason)
	require.Equal(t, 5*time.Second, rej.RetryAfter())
}

func TestClientRejoinsAfterReap(t *testing.T) {
	ctx := context.Background()
	srv, mem := newRoomServer(t)

	c := NewClient(srv.URL)
	_, err := c.Join(ctx, "alice", models.KindHuman)
	require.NoError(t, err)

	removed, err := mem.DeleteIdentity(ctx, "alice")
	require.NoError(t, err)
	require.True(t, removed)

	_, err = c.SendMessage(ctx, "still here", "")
	require.NoError(t, err)

	id, err := mem.GetIdentity(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, id)
	require.Equal(t, int64(1), id.MessageCount)
}

func TestSessionPersistence(t *testing.T) {
	ctx := context.Background()
	srv, _ := newRoomServer(t)

	c := NewClient(srv.URL)
	c.ConfigDir = t.TempDir()
	_, err := c.Join(ctx, "alice", models.KindHuman)
	require.NoError(t, err)
	require.NoError(t, c.SaveSession())

	restored := NewClient(srv.URL)
	restored.ConfigDir = c.ConfigDir
	require.NoError(t, restored.LoadSession())
	require.Equal(t, "alice", restored.Name())

	_, err = restored.SendMessage(ctx, "from a new process", "")
	require.NoError(t, err)

	require.NoError(t, restored.Leave(ctx))
	_, err = restored.SendMessage(ctx, "gone", "")
	require.Error(t, err)
}
