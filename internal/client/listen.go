package client

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/linkrace/linkrace/internal/types"
)

const (
	backoffBase = 800 * time.Millisecond
	backoffCap  = 10 * time.Second
)

// Listen maintains the push channel until the context is cancelled or
// the room is known to be gone. Connection loss is recovered with
// exponential backoff while the player identity is preserved; any
// stale local snapshot is superseded by the first fresh state after a
// reconnect.
func (c *Client) Listen(ctx context.Context) error {
	if c.RoomCode() == "" {
		return ErrNotJoined
	}

	attempt := 0
	for {
		if ctx.Err() != nil {
			c.setStatus(StatusDisconnected)
			return ctx.Err()
		}

		c.setStatus(StatusConnecting)
		conn, _, err := websocket.Dial(ctx, c.wsURL(), nil)
		if err != nil {
			c.setStatus(StatusDisconnected)
			if gone, gerr := c.checkGone(ctx); gone {
				return gerr
			}
			if err := c.sleep(ctx, nextBackoff(attempt)); err != nil {
				return err
			}
			attempt++
			continue
		}

		c.setStatus(StatusConnected)
		if attempt > 0 {
			// The gap may have been long; re-fetch rather than wait
			// for the next broadcast.
			if err := c.Refetch(ctx); errors.Is(err, ErrRoomGone) {
				conn.Close(websocket.StatusNormalClosure, "room gone")
				return err
			}
		}
		attempt = 0

		err = c.readLoop(ctx, conn)
		conn.Close(websocket.StatusNormalClosure, "bye")
		c.setStatus(StatusDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Info("push channel lost, reconnecting", zap.Error(err))
		if err := c.sleep(ctx, nextBackoff(attempt)); err != nil {
			return err
		}
		attempt++
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var msg types.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("skipping invalid push frame", zap.Error(err))
			continue
		}
		if msg.Type == "room_state" && msg.Room != nil {
			c.applySnapshot(msg.Version, *msg.Room)
		}
	}
}

// checkGone distinguishes "server temporarily unreachable" from "the
// room died with the server": the first keeps retrying, the second
// must surface instead of spinning forever.
func (c *Client) checkGone(ctx context.Context) (bool, error) {
	err := c.Refetch(ctx)
	if errors.Is(err, ErrRoomGone) {
		return true, err
	}
	return false, nil
}

func (c *Client) wsURL() string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws?code=" + c.RoomCode() + "&player_id=" + c.PlayerID()
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func nextBackoff(attempt int) time.Duration {
	d := backoffBase
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	return d
}
