package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/linkrace/linkrace/internal/httpapi"
	"github.com/linkrace/linkrace/internal/hub"
	"github.com/linkrace/linkrace/internal/race"
	"github.com/linkrace/linkrace/internal/room"
	"github.com/linkrace/linkrace/internal/types"
)

func newTestServer(t *testing.T) (*httptest.Server, *hub.Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := hub.NewHub(ctx, nil, zap.NewNop())
	api := &httpapi.API{Hub: h, Log: zap.NewNop()}
	srv := httptest.NewServer(httpapi.SetupRoutes(api))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, h
}

func waitConnected(t *testing.T, c *Client) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for c.Status() != StatusConnected {
		select {
		case <-deadline:
			t.Fatalf("never connected")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func createRoom(t *testing.T, c *Client) {
	t.Helper()
	err := c.CreateRoom(context.Background(), types.CreateRoomRequest{
		Start:       "Capybara",
		Destination: "Rodent",
		Rules:       race.Rules{MaxHops: 20},
		PlayerName:  "alice",
	})
	require.NoError(t, err)
	require.NotEmpty(t, c.RoomCode())
	require.NotEmpty(t, c.PlayerID())
}

func TestClient_CreateJoinStartMove(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	owner := New(srv.URL, NewMemoryStore(), zap.NewNop())
	createRoom(t, owner)

	guest := New(srv.URL, NewMemoryStore(), zap.NewNop())
	require.NoError(t, guest.Join(ctx, owner.RoomCode(), "bob"))

	require.NoError(t, owner.Start(ctx))
	snap, version := owner.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, room.StatusRunning, snap.Status)
	require.Len(t, snap.Runs, 2)

	var myRun string
	for _, run := range snap.Runs {
		if run.PlayerID == owner.PlayerID() {
			myRun = run.ID
		}
	}
	require.NotEmpty(t, myRun)

	require.NoError(t, owner.Move(ctx, myRun, "Rodent"))
	snap, newVersion := owner.Snapshot()
	assert.Greater(t, newVersion, version, "command response must replace the local copy")
	for _, run := range snap.Runs {
		if run.ID == myRun {
			assert.Equal(t, race.ResultWin, run.Result)
		}
	}
}

func TestClient_NonOwnerStartRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	owner := New(srv.URL, NewMemoryStore(), zap.NewNop())
	createRoom(t, owner)

	guest := New(srv.URL, NewMemoryStore(), zap.NewNop())
	require.NoError(t, guest.Join(ctx, owner.RoomCode(), "bob"))

	err := guest.Start(ctx)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "not_owner", cmdErr.Code)

	require.NoError(t, guest.Refetch(ctx))
	snap, _ := guest.Snapshot()
	assert.Equal(t, room.StatusLobby, snap.Status, "rejected command must not change the room")
}

func TestClient_RejoinPreservesIdentity(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	owner := New(srv.URL, NewMemoryStore(), zap.NewNop())
	createRoom(t, owner)

	store := NewMemoryStore()
	guest := New(srv.URL, store, zap.NewNop())
	require.NoError(t, guest.Join(ctx, owner.RoomCode(), "bob"))
	firstID := guest.PlayerID()

	// Same tab, page reload: a new client over the same store.
	reloaded := New(srv.URL, store, zap.NewNop())
	require.NoError(t, reloaded.Join(ctx, owner.RoomCode(), "bob"))
	assert.Equal(t, firstID, reloaded.PlayerID())

	snap, _ := reloaded.Snapshot()
	assert.Len(t, snap.Players, 2, "rejoin must not create a duplicate player")

	// A different tab gets its own identity.
	other := New(srv.URL, NewMemoryStore(), zap.NewNop())
	require.NoError(t, other.Join(ctx, owner.RoomCode(), "carol"))
	assert.NotEqual(t, firstID, other.PlayerID())
}

func TestClient_ListenReceivesPushes(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	owner := New(srv.URL, NewMemoryStore(), zap.NewNop())
	createRoom(t, owner)

	updates := make(chan Update, 16)
	owner.OnChange = func(u Update) {
		select {
		case updates <- u:
		default:
		}
	}

	go func() { _ = owner.Listen(ctx) }()
	waitConnected(t, owner)

	// Another player's action must show up without any request from us.
	guest := New(srv.URL, NewMemoryStore(), zap.NewNop())
	require.NoError(t, guest.Join(ctx, owner.RoomCode(), "bob"))

	for {
		select {
		case u := <-updates:
			if u.Room != nil && len(u.Room.Players) == 2 {
				return
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("push with joined player never arrived")
		}
	}
}

func TestClient_ReconnectsAndAdoptsFreshSnapshot(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	owner := New(srv.URL, NewMemoryStore(), zap.NewNop())
	createRoom(t, owner)

	go func() { _ = owner.Listen(ctx) }()
	waitConnected(t, owner)

	// Sever every open connection, then change the room while the
	// client is offline. The next snapshot must arrive through the
	// backoff-driven reconnect, superseding the stale copy.
	srv.CloseClientConnections()

	guest := New(srv.URL, NewMemoryStore(), zap.NewNop())
	require.NoError(t, guest.Join(ctx, owner.RoomCode(), "bob"))

	require.Eventually(t, func() bool {
		snap, _ := owner.Snapshot()
		return owner.Status() == StatusConnected && snap != nil && len(snap.Players) == 2
	}, 5*time.Second, 20*time.Millisecond, "client must reconnect and adopt the fresh snapshot")
}

func TestClient_RoomRemovalWhileConnectedSurfacesGone(t *testing.T) {
	srv, h := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	owner := New(srv.URL, NewMemoryStore(), zap.NewNop())
	createRoom(t, owner)

	listenErr := make(chan error, 1)
	go func() { listenErr <- owner.Listen(ctx) }()
	waitConnected(t, owner)

	// Removing the room closes the server side of the push channel;
	// the client must notice, fail its reconnect probe, and stop.
	h.Inbox() <- hub.RemoveRoom{Code: owner.RoomCode()}

	select {
	case err := <-listenErr:
		require.ErrorIs(t, err, ErrRoomGone)
	case <-time.After(5 * time.Second):
		t.Fatalf("client never noticed the room was gone")
	}
	assert.True(t, owner.RoomGone())
}

func TestClient_RoomGoneSurfaces(t *testing.T) {
	srv, h := newTestServer(t)
	ctx := context.Background()

	owner := New(srv.URL, NewMemoryStore(), zap.NewNop())
	createRoom(t, owner)

	h.Inbox() <- hub.RemoveRoom{Code: owner.RoomCode()}

	// Allow the removal to land before probing.
	require.Eventually(t, func() bool {
		return errors.Is(owner.Refetch(ctx), ErrRoomGone)
	}, 2*time.Second, 20*time.Millisecond)
	assert.True(t, owner.RoomGone())
}

func TestClient_HasDuplicateLLM(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	owner := New(srv.URL, NewMemoryStore(), zap.NewNop())
	createRoom(t, owner)

	opts := race.LLMOptions{Model: "test-model", MaxTokens: 64}
	require.NoError(t, owner.AddLLM(ctx, "bot", opts))

	assert.True(t, owner.HasDuplicateLLM(opts))
	assert.False(t, owner.HasDuplicateLLM(race.LLMOptions{Model: "other-model"}))
}

func TestNextBackoff(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 800 * time.Millisecond},
		{1, 1600 * time.Millisecond},
		{2, 3200 * time.Millisecond},
		{3, 6400 * time.Millisecond},
		{4, 10 * time.Second},
		{20, 10 * time.Second},
	}
	for _, tc := range cases {
		if got := nextBackoff(tc.attempt); got != tc.want {
			t.Fatalf("nextBackoff(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}
