package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/linkrace/linkrace/internal/race"
	"github.com/linkrace/linkrace/internal/room"
	"github.com/linkrace/linkrace/internal/types"
)

var ErrNotJoined = errors.New("not joined to a room")
var ErrRoomGone = errors.New("room no longer exists")

type ConnStatus string

const (
	StatusDisconnected ConnStatus = "disconnected"
	StatusConnecting   ConnStatus = "connecting"
	StatusConnected    ConnStatus = "connected"
)

// CommandError is a structured rejection from the server. The local
// snapshot is left untouched when one arrives.
type CommandError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Update is delivered to the OnChange hook whenever the authoritative
// copy or the connection status changes.
type Update struct {
	Version int
	Room    *room.State
	Status  ConnStatus
}

// Client is one participant's view of a room. The server is the sole
// arbiter: every command response and every push frame replaces the
// local snapshot wholesale, and the client never mutates it.
type Client struct {
	baseURL  string
	httpc    *http.Client
	store    KeyedStore
	log      *zap.Logger
	OnChange func(Update)

	mu       sync.Mutex
	code     string
	playerID string
	version  int
	snapshot *room.State
	status   ConnStatus
	gone     bool
}

func New(baseURL string, store KeyedStore, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 15 * time.Second},
		store:   store,
		log:     log,
		status:  StatusDisconnected,
	}
}

// CreateRoom creates a room, joining the caller as its owner.
func (c *Client) CreateRoom(ctx context.Context, req types.CreateRoomRequest) error {
	var res types.RoomResponse
	if err := c.post(ctx, "/rooms", req, &res); err != nil {
		return err
	}
	c.adoptIdentity(res.Room.Code, res.PlayerID)
	c.applySnapshot(res.Version, res.Room)
	return nil
}

// Join enters a room. A previously stored identity for the same room
// is reused, so rejoining after a reload never creates a duplicate
// player.
func (c *Client) Join(ctx context.Context, code, name string) error {
	stored, _ := c.store.Get("player_id:" + code)
	var res types.RoomResponse
	err := c.post(ctx, "/rooms/"+code+"/join", types.JoinRequest{PlayerID: stored, Name: name}, &res)
	if err != nil {
		return err
	}
	c.adoptIdentity(code, res.PlayerID)
	c.applySnapshot(res.Version, res.Room)
	return nil
}

func (c *Client) Start(ctx context.Context) error {
	return c.roomCommand(ctx, "/start", types.StartRequest{PlayerID: c.PlayerID()})
}

func (c *Client) Move(ctx context.Context, runID, article string) error {
	return c.roomCommand(ctx, "/move", types.MoveRequest{
		PlayerID: c.PlayerID(),
		RunID:    runID,
		Article:  article,
	})
}

func (c *Client) AddLLM(ctx context.Context, name string, opts race.LLMOptions) error {
	return c.roomCommand(ctx, "/llm", types.AddLLMRequest{
		PlayerID: c.PlayerID(),
		Name:     name,
		Options:  opts,
	})
}

func (c *Client) CancelRun(ctx context.Context, runID string) error {
	return c.runCommand(ctx, runID, "cancel")
}

func (c *Client) AbandonRun(ctx context.Context, runID string) error {
	return c.runCommand(ctx, runID, "abandon")
}

func (c *Client) RestartRun(ctx context.Context, runID string) error {
	return c.runCommand(ctx, runID, "restart")
}

func (c *Client) NewRound(ctx context.Context, start, destination string, rules *race.Rules) error {
	return c.roomCommand(ctx, "/round", types.NewRoundRequest{
		PlayerID:    c.PlayerID(),
		Start:       start,
		Destination: destination,
		Rules:       rules,
	})
}

// Refetch pulls the full state over the one-shot read endpoint; used
// after long connection gaps instead of waiting for the next push.
func (c *Client) Refetch(ctx context.Context) error {
	code := c.RoomCode()
	if code == "" {
		return ErrNotJoined
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/rooms/"+code, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.markGone()
		return ErrRoomGone
	}
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	var res types.RoomResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return err
	}
	c.applySnapshot(res.Version, res.Room)
	return nil
}

// Snapshot returns the last authoritative copy. Callers must treat it
// as read-only; local UI state lives elsewhere.
func (c *Client) Snapshot() (*room.State, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot, c.version
}

func (c *Client) Status() ConnStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) PlayerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID
}

func (c *Client) RoomCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

// RoomGone reports that the server no longer knows this room, e.g.
// after a server restart wiped the in-memory rooms.
func (c *Client) RoomGone() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gone
}

// HasDuplicateLLM is the advisory duplicate-participant check: same
// model and options already racing. The server does not enforce it.
func (c *Client) HasDuplicateLLM(opts race.LLMOptions) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot == nil {
		return false
	}
	for _, run := range c.snapshot.Runs {
		if run.Kind == race.KindLLM && !run.Terminal() && run.LLM != nil && *run.LLM == opts {
			return true
		}
	}
	return false
}

func (c *Client) roomCommand(ctx context.Context, path string, body any) error {
	code := c.RoomCode()
	if code == "" {
		return ErrNotJoined
	}
	var res types.RoomResponse
	if err := c.post(ctx, "/rooms/"+code+path, body, &res); err != nil {
		return err
	}
	c.applySnapshot(res.Version, res.Room)
	return nil
}

func (c *Client) runCommand(ctx context.Context, runID, action string) error {
	code := c.RoomCode()
	if code == "" {
		return ErrNotJoined
	}
	var res types.RoomResponse
	err := c.post(ctx, "/rooms/"+code+"/runs/"+runID+"/"+action,
		types.RunActionRequest{PlayerID: c.PlayerID()}, &res)
	if err != nil {
		return err
	}
	c.applySnapshot(res.Version, res.Room)
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) adoptIdentity(code, playerID string) {
	c.mu.Lock()
	c.code = code
	c.playerID = playerID
	c.gone = false
	c.mu.Unlock()
	c.store.Set("room_code", code)
	c.store.Set("player_id:"+code, playerID)
}

// applySnapshot replaces the local copy wholesale. No merging: the
// server's snapshot is always the truth.
func (c *Client) applySnapshot(version int, state room.State) {
	c.mu.Lock()
	c.version = version
	c.snapshot = &state
	c.mu.Unlock()
	c.notify()
}

func (c *Client) setStatus(s ConnStatus) {
	c.mu.Lock()
	changed := c.status != s
	c.status = s
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

func (c *Client) markGone() {
	c.mu.Lock()
	c.gone = true
	c.mu.Unlock()
	c.notify()
}

func (c *Client) notify() {
	if c.OnChange == nil {
		return
	}
	c.mu.Lock()
	u := Update{Version: c.version, Room: c.snapshot, Status: c.status}
	c.mu.Unlock()
	c.OnChange(u)
}

func decodeError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	var er types.ErrorResponse
	if err := json.Unmarshal(b, &er); err == nil && er.Error.Code != "" {
		return &CommandError{StatusCode: resp.StatusCode, Code: er.Error.Code, Message: er.Error.Message}
	}
	return &CommandError{StatusCode: resp.StatusCode, Code: "http_error", Message: strings.TrimSpace(string(b))}
}
