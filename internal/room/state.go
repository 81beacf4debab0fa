package room

import (
	"time"

	"github.com/linkrace/linkrace/internal/race"
)

type RoomStatus string

const (
	StatusLobby    RoomStatus = "lobby"
	StatusRunning  RoomStatus = "running"
	StatusFinished RoomStatus = "finished"
)

type Player struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Connected bool      `json:"connected"`
	JoinedAt  time.Time `json:"joined_at"`
}

// State is the authoritative room state. Clients only ever see deep
// copies of it; the room goroutine is the sole writer.
type State struct {
	Code        string      `json:"code"`
	CreatedAt   time.Time   `json:"created_at"`
	Title       string      `json:"title,omitempty"`
	Start       string      `json:"start_article"`
	Destination string      `json:"destination_article"`
	Rules       race.Rules  `json:"rules"`
	Status      RoomStatus  `json:"status"`
	OwnerID     string      `json:"owner_player_id"`
	Players     []Player    `json:"players"`
	Runs        []*race.Run `json:"runs"`
}

// Snapshot is the broadcast unit: a full replacement of the client's
// view, never a delta.
type Snapshot struct {
	Version int   `json:"version"`
	State   State `json:"state"`
}

// View reflects internal actor state for tests, without data races.
type View struct {
	Version    int
	NumClients int
	State      State
}

func (s *State) clone() State {
	c := *s
	c.Players = make([]Player, len(s.Players))
	copy(c.Players, s.Players)
	c.Runs = make([]*race.Run, len(s.Runs))
	for i, r := range s.Runs {
		c.Runs[i] = r.Clone()
	}
	return c
}

func (s *State) findRun(id string) *race.Run {
	for _, r := range s.Runs {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (s *State) findPlayer(id string) *Player {
	for i := range s.Players {
		if s.Players[i].ID == id {
			return &s.Players[i]
		}
	}
	return nil
}

// allTerminal reports whether every run has finished or been
// abandoned. An empty run list never counts as terminal.
func (s *State) allTerminal() bool {
	if len(s.Runs) == 0 {
		return false
	}
	for _, r := range s.Runs {
		if !r.Terminal() {
			return false
		}
	}
	return true
}
