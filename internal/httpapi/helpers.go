package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linkrace/linkrace/internal/hub"
	"github.com/linkrace/linkrace/internal/race"
	"github.com/linkrace/linkrace/internal/room"
	"github.com/linkrace/linkrace/internal/types"
)

var timeNow = time.Now

func (a *API) room(w http.ResponseWriter, r *http.Request) (*room.Room, bool) {
	code := chi.URLParam(r, "code")
	reply := make(chan *room.Room, 1)
	a.Hub.Inbox() <- hub.GetRoom{Code: code, Reply: reply}
	rm := <-reply
	if rm == nil {
		writeErr(w, http.StatusNotFound, "room_not_found", errors.New("room no longer exists"))
		return nil, false
	}
	return rm, true
}

func (a *API) command(rm *room.Room, cmd room.Command) room.Reply {
	cmd.Reply = make(chan room.Reply, 1)
	rm.Inbox() <- cmd
	return <-cmd.Reply
}

// simpleCommand is the shared decode -> command -> reply path for
// endpoints with no extra validation.
func (a *API) simpleCommand(w http.ResponseWriter, r *http.Request, req any, build func() room.Command) {
	rm, ok := a.room(w, r)
	if !ok {
		return
	}
	if !decode(w, r, req) {
		return
	}
	a.reply(w, a.command(rm, build()))
}

func (a *API) reply(w http.ResponseWriter, res room.Reply) {
	if res.Err != nil {
		writeErr(w, statusFor(res.Err), codeFor(res.Err), res.Err)
		return
	}
	writeJSON(w, http.StatusOK, types.RoomResponse{
		Version: res.Snapshot.Version,
		Room:    res.Snapshot.State,
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErr(w, http.StatusBadRequest, "bad_json", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, types.ErrorResponse{Error: types.ErrorBody{
		Code:    code,
		Message: err.Error(),
	}})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, room.ErrNotOwner), errors.Is(err, room.ErrNotYourRun):
		return http.StatusForbidden
	case errors.Is(err, room.ErrUnknownPlayer), errors.Is(err, room.ErrUnknownRun):
		return http.StatusNotFound
	case errors.Is(err, room.ErrBadStatus):
		return http.StatusConflict
	case errors.Is(err, room.ErrBadCourse), errors.Is(err, room.ErrNotLLMRun), errors.Is(err, race.ErrBadRules):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, room.ErrNotOwner):
		return "not_owner"
	case errors.Is(err, room.ErrNotYourRun):
		return "not_your_run"
	case errors.Is(err, room.ErrUnknownPlayer):
		return "unknown_player"
	case errors.Is(err, room.ErrUnknownRun):
		return "unknown_run"
	case errors.Is(err, room.ErrBadStatus):
		return "bad_status"
	case errors.Is(err, room.ErrBadCourse):
		return "bad_course"
	case errors.Is(err, room.ErrNotLLMRun):
		return "not_llm_run"
	case errors.Is(err, race.ErrBadRules):
		return "bad_rules"
	default:
		return "internal"
	}
}
