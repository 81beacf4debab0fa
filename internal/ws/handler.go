package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/linkrace/linkrace/internal/hub"
	"github.com/linkrace/linkrace/internal/room"
	"github.com/linkrace/linkrace/internal/types"
)

// Handler upgrades a client onto a room's push channel. Commands go
// over the REST endpoints; this socket only carries room_state frames
// from server to client.
func Handler(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		playerID := r.URL.Query().Get("player_id")
		if code == "" || playerID == "" {
			http.Error(w, "missing code or player_id", http.StatusBadRequest)
			return
		}

		reply := make(chan *room.Room, 1)
		h.Inbox() <- hub.GetRoom{Code: code, Reply: reply}
		rm := <-reply
		if rm == nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan room.Snapshot, 8)
		clientID := uuid.NewString()

		rm.Inbox() <- room.Attach{PlayerID: playerID, ClientID: clientID, Outbox: out}
		defer func() { rm.Inbox() <- room.Detach{PlayerID: playerID, ClientID: clientID} }()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go func() {
			for snap := range out {
				msg := types.ServerMessage{Type: "room_state", Version: snap.Version, Room: &snap.State}
				payload, _ := json.Marshal(msg)
				wctx, wcancel := context.WithTimeout(ctx, 3*time.Second)
				_ = conn.Write(wctx, websocket.MessageText, payload)
				wcancel()
			}
			// The room closed this outbox: it dropped us as a slow
			// client or shut down. Tear the socket down so the client's
			// read fails and its reconnect logic takes over.
			_ = conn.Close(websocket.StatusTryAgainLater, "resubscribe")
			cancel()
		}()

		// The client never sends commands here; reading just keeps the
		// connection's liveness visible so Detach fires on close.
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}
}
