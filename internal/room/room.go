package room

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/linkrace/linkrace/internal/executor"
)

type Msg interface{ isRoomMsg() }

// Attach subscribes a connected client to snapshot pushes and marks
// its player connected.
type Attach struct {
	PlayerID string
	ClientID string
	Outbox   chan Snapshot
}

func (Attach) isRoomMsg() {}

type Detach struct {
	PlayerID string
	ClientID string
}

func (Detach) isRoomMsg() {}

// Do runs a mutation inside the room loop; used by the executor board
// so AI steps are serialized with player commands.
type Do struct {
	Fn   func(r *Room) (changed bool)
	Done chan struct{}
}

func (Do) isRoomMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isRoomMsg() {}

type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

func (Command) isRoomMsg() {}

// Room is one serialization domain: a goroutine owning the state,
// applying every mutation in arrival order and broadcasting a full
// snapshot after each successful one.
type Room struct {
	inbox   chan Msg
	state   State
	version int
	clients map[string]clientSub

	exec    *executor.Executor
	drivers map[string]context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time
	log    *zap.Logger
}

type clientSub struct {
	playerID string
	outbox   chan Snapshot
}

func New(parent context.Context, initial State, exec *executor.Executor, log *zap.Logger) *Room {
	ctx, cancel := context.WithCancel(parent)
	r := &Room{
		inbox:   make(chan Msg, 64),
		state:   initial,
		clients: map[string]clientSub{},
		exec:    exec,
		drivers: map[string]context.CancelFunc{},
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
		log:     log,
	}
	go r.loop()
	return r
}

func (r *Room) Inbox() chan<- Msg { return r.inbox }

// SetClock overrides the time source before any message is processed,
// for tests.
func (r *Room) SetClock(now func() time.Time) {
	done := make(chan struct{})
	r.inbox <- Do{Fn: func(r *Room) bool { r.now = now; return false }, Done: done}
	<-done
}

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Attach:
				r.clients[msg.ClientID] = clientSub{playerID: msg.PlayerID, outbox: msg.Outbox}
				changed := r.setConnected(msg.PlayerID, true)
				// The joining client always gets the current snapshot
				// immediately; everyone else only hears about it if the
				// connected flag flipped.
				msg.Outbox <- Snapshot{Version: r.version, State: r.state.clone()}
				if changed {
					r.version++
					r.broadcast()
				}

			case Detach:
				if sub, ok := r.clients[msg.ClientID]; ok {
					delete(r.clients, msg.ClientID)
					close(sub.outbox)
				}
				if !r.playerStillAttached(msg.PlayerID) && r.setConnected(msg.PlayerID, false) {
					r.version++
					r.broadcast()
				}

			case Command:
				changed, err := r.apply(msg)
				if changed {
					r.version++
					r.broadcast()
				}
				if msg.Reply != nil {
					msg.Reply <- Reply{Snapshot: Snapshot{Version: r.version, State: r.state.clone()}, Err: err}
				}

			case Do:
				if msg.Fn(r) {
					r.version++
					r.broadcast()
				}
				if msg.Done != nil {
					close(msg.Done)
				}

			case GetState:
				msg.Reply <- View{
					Version:    r.version,
					NumClients: len(r.clients),
					State:      r.state.clone(),
				}

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) shutdown() {
	for _, cancel := range r.drivers {
		cancel()
	}
	for id, sub := range r.clients {
		close(sub.outbox)
		delete(r.clients, id)
	}
	r.cancel()
}

// broadcast fans the current snapshot out to every subscriber. Sends
// never block the loop: a client whose buffer is full is dropped and
// must reconnect.
func (r *Room) broadcast() {
	snap := Snapshot{Version: r.version, State: r.state.clone()}
	for id, sub := range r.clients {
		select {
		case sub.outbox <- snap:
		default:
			close(sub.outbox)
			delete(r.clients, id)
		}
	}
}

func (r *Room) setConnected(playerID string, connected bool) bool {
	p := r.state.findPlayer(playerID)
	if p == nil || p.Connected == connected {
		return false
	}
	p.Connected = connected
	return true
}

func (r *Room) playerStillAttached(playerID string) bool {
	for _, sub := range r.clients {
		if sub.playerID == playerID {
			return true
		}
	}
	return false
}
