package main

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/agora/internal/admission"
	"github.com/eldtechnologies/agora/internal/api"
	"github.com/eldtechnologies/agora/internal/handlers"
	"github.com/eldtechnologies/agora/internal/room"
	"github.com/eldtechnologies/agora/internal/store"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCmdHasCommands(t *testing.T) {
	cmd := newRootCmd()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"join", "leave", "read", "say", "members", "mute", "stats", "health", "run"} {
		require.Contains(t, names, want)
	}
}

func TestJoinSayRead(t *testing.T) {
	t.Setenv("AGORA_CONFIG", t.TempDir())

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
	defer srv.Close()

	out, err := runCLI(t, "--server", srv.URL, "join", "alice")
	require.NoError(t, err)
	require.Contains(t, out, "Joined as alice (human)")

	out, err = runCLI(t, "--server", srv.URL, "say", "hello", "room")
	require.NoError(t, err)
	require.Contains(t, out, "Posted: ")

	out, err = runCLI(t, "--server", srv.URL, "read")
	require.NoError(t, err)
	require.Contains(t, out, "alice: hello room")

	out, err = runCLI(t, "--server", srv.URL, "members")
	require.NoError(t, err)
	require.Contains(t, out, "alice")

	_, err = runCLI(t, "--server", srv.URL, "leave")
	require.NoError(t, err)
	_, err = runCLI(t, "--server", srv.URL, "say", "gone")
	require.Error(t, err)
}

func TestRunRejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("persona: nameless\n"), 0600))

	_, err := runCLI(t, "run", "--config", path)
	require.Error(t, err)
}
