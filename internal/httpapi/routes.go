package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linkrace/linkrace/internal/room"
	"github.com/linkrace/linkrace/internal/ws"
)

func SetupRoutes(a *API) http.Handler {
	r := chi.NewRouter()

	r.Post("/rooms", a.CreateRoom)
	r.Get("/rooms/{code}", a.GetRoomState)
	r.Post("/rooms/{code}/join", a.Join)
	r.Post("/rooms/{code}/start", a.Start)
	r.Post("/rooms/{code}/move", a.Move)
	r.Post("/rooms/{code}/llm", a.AddLLM)
	r.Post("/rooms/{code}/runs/{runID}/cancel", a.RunAction(room.CmdCancelRun))
	r.Post("/rooms/{code}/runs/{runID}/abandon", a.RunAction(room.CmdAbandonRun))
	r.Post("/rooms/{code}/runs/{runID}/restart", a.RunAction(room.CmdRestartRun))
	r.Post("/rooms/{code}/round", a.NewRound)
	r.Get("/ws", ws.Handler(a.Hub))
	r.Get("/healthz", Healthz)

	return r
}
