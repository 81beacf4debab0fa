package httpapi

import (
	"crypto/rand"
	"errors"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/linkrace/linkrace/internal/hub"
	"github.com/linkrace/linkrace/internal/links"
	"github.com/linkrace/linkrace/internal/race"
	"github.com/linkrace/linkrace/internal/room"
	"github.com/linkrace/linkrace/internal/types"
)

var ErrIllegalMove = errors.New("article is not an outgoing link of the current article")

// API carries the handler dependencies. Links may be nil, in which
// case human moves are not validated against the link service.
type API struct {
	Hub   *hub.Hub
	Links links.Lookup
	Log   *zap.Logger
}

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

func (a *API) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req types.CreateRoomRequest
	if !decode(w, r, &req) {
		return
	}

	var code string
	for {
		c, err := GenerateCode()
		if err != nil {
			writeErr(w, http.StatusInternalServerError, "code_generation", err)
			return
		}
		reply := make(chan *room.Room, 1)
		a.Hub.Inbox() <- hub.GetRoom{Code: c, Reply: reply}
		if <-reply == nil {
			code = c
			break
		}
		a.Log.Info("room code collision, regenerating", zap.String("code", c))
	}

	state, err := room.NewState(code, req.Title, req.Start, req.Destination, req.Rules, timeNow())
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	reply := make(chan *room.Room, 1)
	a.Hub.Inbox() <- hub.CreateRoom{Code: code, State: state, Reply: reply}
	rm := <-reply
	if rm == nil {
		writeErr(w, http.StatusInternalServerError, "room_creation", errors.New("failed to create room"))
		return
	}

	playerID := uuid.NewString()
	res := a.command(rm, room.Command{
		Type:       room.CmdJoin,
		PlayerID:   playerID,
		PlayerName: req.PlayerName,
	})
	if res.Err != nil {
		writeErr(w, statusFor(res.Err), codeFor(res.Err), res.Err)
		return
	}

	writeJSON(w, http.StatusCreated, types.RoomResponse{
		Version:  res.Snapshot.Version,
		Room:     res.Snapshot.State,
		PlayerID: playerID,
	})
}

func (a *API) GetRoomState(w http.ResponseWriter, r *http.Request) {
	rm, ok := a.room(w, r)
	if !ok {
		return
	}
	reply := make(chan room.View, 1)
	rm.Inbox() <- room.GetState{Reply: reply}
	view := <-reply
	writeJSON(w, http.StatusOK, types.RoomResponse{Version: view.Version, Room: view.State})
}

func (a *API) Join(w http.ResponseWriter, r *http.Request) {
	rm, ok := a.room(w, r)
	if !ok {
		return
	}
	var req types.JoinRequest
	if !decode(w, r, &req) {
		return
	}
	playerID := req.PlayerID
	if playerID == "" {
		playerID = uuid.NewString()
	}

	res := a.command(rm, room.Command{
		Type:       room.CmdJoin,
		PlayerID:   playerID,
		PlayerName: req.Name,
	})
	if res.Err != nil {
		writeErr(w, statusFor(res.Err), codeFor(res.Err), res.Err)
		return
	}
	writeJSON(w, http.StatusOK, types.RoomResponse{
		Version:  res.Snapshot.Version,
		Room:     res.Snapshot.State,
		PlayerID: playerID,
	})
}

func (a *API) Start(w http.ResponseWriter, r *http.Request) {
	var req types.StartRequest
	a.simpleCommand(w, r, &req, func() room.Command {
		return room.Command{Type: room.CmdStart, PlayerID: req.PlayerID}
	})
}

func (a *API) Move(w http.ResponseWriter, r *http.Request) {
	rm, ok := a.room(w, r)
	if !ok {
		return
	}
	var req types.MoveRequest
	if !decode(w, r, &req) {
		return
	}

	// Link legality is confirmed against the lookup service before the
	// command enters the room, keeping the slow call outside the
	// room's serialization domain.
	if a.Links != nil {
		if err := a.validateMove(r, rm, req.RunID, req.Article); err != nil {
			if errors.Is(err, ErrIllegalMove) {
				writeErr(w, http.StatusBadRequest, "illegal_move", err)
			} else {
				writeErr(w, http.StatusBadGateway, "links_unavailable", err)
			}
			return
		}
	}

	res := a.command(rm, room.Command{
		Type:     room.CmdMove,
		PlayerID: req.PlayerID,
		RunID:    req.RunID,
		Article:  req.Article,
	})
	a.reply(w, res)
}

func (a *API) AddLLM(w http.ResponseWriter, r *http.Request) {
	var req types.AddLLMRequest
	a.simpleCommand(w, r, &req, func() room.Command {
		return room.Command{
			Type:     room.CmdAddLLM,
			PlayerID: req.PlayerID,
			LLMName:  req.Name,
			LLM:      req.Options,
		}
	})
}

func (a *API) RunAction(cmdType room.CommandType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.RunActionRequest
		a.simpleCommand(w, r, &req, func() room.Command {
			return room.Command{
				Type:     cmdType,
				PlayerID: req.PlayerID,
				RunID:    chi.URLParam(r, "runID"),
			}
		})
	}
}

func (a *API) NewRound(w http.ResponseWriter, r *http.Request) {
	var req types.NewRoundRequest
	a.simpleCommand(w, r, &req, func() room.Command {
		return room.Command{
			Type:        room.CmdNewRound,
			PlayerID:    req.PlayerID,
			Start:       req.Start,
			Destination: req.Destination,
			Rules:       req.Rules,
		}
	})
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (a *API) validateMove(r *http.Request, rm *room.Room, runID, article string) error {
	reply := make(chan room.View, 1)
	rm.Inbox() <- room.GetState{Reply: reply}
	view := <-reply

	var current string
	for _, run := range view.State.Runs {
		if run.ID == runID {
			current = run.CurrentArticle()
			break
		}
	}
	if current == "" {
		// Unknown run; let the room produce the structured rejection.
		return nil
	}

	out, err := a.Links.Links(r.Context(), current)
	if err != nil {
		return err
	}
	if !links.Contains(out, article, race.Normalize) {
		return ErrIllegalMove
	}
	return nil
}
