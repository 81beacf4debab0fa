package types

import (
	"github.com/linkrace/linkrace/internal/race"
	"github.com/linkrace/linkrace/internal/room"
)

// ServerMessage is one push-channel frame. Every state push is a full
// snapshot replacement; there is no delta protocol.
type ServerMessage struct {
	Type    string      `json:"type"` // "room_state" | "error"
	Version int         `json:"version,omitempty"`
	Room    *room.State `json:"room,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// RoomResponse is the one-shot command/read response: the new
// authoritative snapshot, plus the caller's identity on create/join.
type RoomResponse struct {
	Version  int        `json:"version"`
	Room     room.State `json:"room"`
	PlayerID string     `json:"player_id,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type CreateRoomRequest struct {
	Title       string     `json:"title,omitempty"`
	Start       string     `json:"start_article"`
	Destination string     `json:"destination_article"`
	Rules       race.Rules `json:"rules"`
	PlayerName  string     `json:"player_name"`
}

type JoinRequest struct {
	PlayerID string `json:"player_id,omitempty"`
	Name     string `json:"name"`
}

type StartRequest struct {
	PlayerID string `json:"player_id"`
}

type MoveRequest struct {
	PlayerID string `json:"player_id"`
	RunID    string `json:"run_id"`
	Article  string `json:"article"`
}

type AddLLMRequest struct {
	PlayerID string          `json:"player_id"`
	Name     string          `json:"name"`
	Options  race.LLMOptions `json:"options"`
}

type RunActionRequest struct {
	PlayerID string `json:"player_id"`
}

type NewRoundRequest struct {
	PlayerID    string      `json:"player_id"`
	Start       string      `json:"start_article"`
	Destination string      `json:"destination_article"`
	Rules       *race.Rules `json:"rules,omitempty"`
}
