package room

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/linkrace/linkrace/internal/race"
)

var ErrNotOwner = errors.New("owner-only command")
var ErrUnknownPlayer = errors.New("unknown player")
var ErrUnknownRun = errors.New("unknown run")
var ErrNotYourRun = errors.New("run belongs to another player")
var ErrNotLLMRun = errors.New("run is not an llm run")
var ErrBadStatus = errors.New("command not valid in current room status")
var ErrBadCourse = errors.New("start and destination must differ")

type CommandType string

const (
	CmdJoin       CommandType = "join"
	CmdStart      CommandType = "start"
	CmdMove       CommandType = "move"
	CmdAddLLM     CommandType = "add_llm"
	CmdCancelRun  CommandType = "cancel_run"
	CmdAbandonRun CommandType = "abandon_run"
	CmdRestartRun CommandType = "restart_run"
	CmdNewRound   CommandType = "new_round"
)

// Command is one mutating request against the room. Commands are
// applied strictly in arrival order; the optional Reply carries back
// the resulting snapshot or a structured rejection.
type Command struct {
	Type        CommandType
	PlayerID    string
	PlayerName  string
	RunID       string
	Article     string
	LLMName     string
	LLM         race.LLMOptions
	Start       string
	Destination string
	Rules       *race.Rules

	Reply chan Reply
}

type Reply struct {
	Snapshot Snapshot
	Err      error
}

// NewState validates and builds the initial room state.
func NewState(code, title, start, destination string, rules race.Rules, now time.Time) (State, error) {
	if err := rules.Validate(); err != nil {
		return State{}, err
	}
	if race.Normalize(start) == race.Normalize(destination) {
		return State{}, ErrBadCourse
	}
	return State{
		Code:        code,
		CreatedAt:   now,
		Title:       title,
		Start:       start,
		Destination: destination,
		Rules:       rules,
		Status:      StatusLobby,
		Players:     []Player{},
		Runs:        []*race.Run{},
	}, nil
}

// apply executes one command against the state. It reports whether the
// state changed (and so must be broadcast); rejections leave the state
// untouched. Idempotent re-application of terminal transitions is a
// silent no-op, not an error.
func (r *Room) apply(cmd Command) (bool, error) {
	switch cmd.Type {
	case CmdJoin:
		return r.applyJoin(cmd)
	case CmdStart:
		return r.applyStart(cmd)
	case CmdMove:
		return r.applyMove(cmd)
	case CmdAddLLM:
		return r.applyAddLLM(cmd)
	case CmdCancelRun, CmdAbandonRun:
		return r.applyAbandon(cmd)
	case CmdRestartRun:
		return r.applyRestart(cmd)
	case CmdNewRound:
		return r.applyNewRound(cmd)
	default:
		return false, ErrBadStatus
	}
}

func (r *Room) applyJoin(cmd Command) (bool, error) {
	if p := r.state.findPlayer(cmd.PlayerID); p != nil {
		// Rejoin with a preserved identity never duplicates the player.
		return false, nil
	}
	if r.state.Status != StatusLobby {
		return false, ErrBadStatus
	}
	r.state.Players = append(r.state.Players, Player{
		ID:       cmd.PlayerID,
		Name:     cmd.PlayerName,
		JoinedAt: r.now(),
	})
	if r.state.OwnerID == "" {
		r.state.OwnerID = cmd.PlayerID
	}
	return true, nil
}

func (r *Room) applyStart(cmd Command) (bool, error) {
	if cmd.PlayerID != r.state.OwnerID {
		return false, ErrNotOwner
	}
	if r.state.Status != StatusLobby {
		return false, ErrBadStatus
	}

	now := r.now()
	for _, p := range r.state.Players {
		run := race.NewHumanRun(p.Name, r.state.Start, now)
		run.PlayerID = p.ID
		r.state.Runs = append(r.state.Runs, run)
	}
	r.state.Status = StatusRunning

	// AIs queued up in the lobby start racing now.
	for _, run := range r.state.Runs {
		if run.Kind == race.KindLLM && !run.Terminal() {
			r.spawnDriver(run.ID)
		}
	}
	return true, nil
}

func (r *Room) applyMove(cmd Command) (bool, error) {
	if r.state.findPlayer(cmd.PlayerID) == nil {
		return false, ErrUnknownPlayer
	}
	if r.state.Status != StatusRunning {
		return false, ErrBadStatus
	}
	run := r.state.findRun(cmd.RunID)
	if run == nil {
		return false, ErrUnknownRun
	}
	if run.PlayerID != cmd.PlayerID && cmd.PlayerID != r.state.OwnerID {
		return false, ErrNotYourRun
	}
	if run.Terminal() {
		return false, nil
	}

	now := r.now()
	if run.Kind == race.KindHuman {
		// The mover becomes the active hotseat player: no two human
		// timers run concurrently, even across a shared device.
		race.Activate(r.state.Runs, run.ID, now, false)
	}

	err := race.Advance(run, r.state.Rules, r.state.Destination, cmd.Article, now, nil)
	if errors.Is(err, race.ErrSameArticle) {
		return run.Kind == race.KindHuman, nil
	}
	if err != nil {
		return false, err
	}
	r.finishIfDone()
	return true, nil
}

func (r *Room) applyAddLLM(cmd Command) (bool, error) {
	if r.state.findPlayer(cmd.PlayerID) == nil {
		return false, ErrUnknownPlayer
	}
	if r.state.Status == StatusFinished {
		return false, ErrBadStatus
	}

	run := race.NewLLMRun(cmd.LLMName, cmd.LLM, r.state.Start, r.now())
	run.PlayerID = cmd.PlayerID
	r.state.Runs = append(r.state.Runs, run)
	if r.state.Status == StatusRunning {
		r.spawnDriver(run.ID)
	}
	return true, nil
}

func (r *Room) applyAbandon(cmd Command) (bool, error) {
	run := r.state.findRun(cmd.RunID)
	if run == nil {
		return false, ErrUnknownRun
	}
	if run.PlayerID != cmd.PlayerID && cmd.PlayerID != r.state.OwnerID {
		return false, ErrNotYourRun
	}
	if run.Terminal() {
		return false, nil
	}

	r.cancelDriver(run.ID)
	race.Abandon(run, r.now())
	r.finishIfDone()
	return true, nil
}

func (r *Room) applyRestart(cmd Command) (bool, error) {
	old := r.state.findRun(cmd.RunID)
	if old == nil {
		return false, ErrUnknownRun
	}
	if old.Kind != race.KindLLM {
		return false, ErrNotLLMRun
	}
	if old.PlayerID != cmd.PlayerID && cmd.PlayerID != r.state.OwnerID {
		return false, ErrNotYourRun
	}

	now := r.now()
	if !old.Terminal() {
		r.cancelDriver(old.ID)
		race.Abandon(old, now)
	}

	// Fresh identity, same model and options; the old steps stay.
	run := race.NewLLMRun(old.Name, *old.LLM, r.state.Start, now)
	run.PlayerID = old.PlayerID
	r.state.Runs = append(r.state.Runs, run)
	if r.state.Status == StatusRunning {
		r.spawnDriver(run.ID)
	}
	return true, nil
}

func (r *Room) applyNewRound(cmd Command) (bool, error) {
	if cmd.PlayerID != r.state.OwnerID {
		return false, ErrNotOwner
	}
	rules := r.state.Rules
	if cmd.Rules != nil {
		rules = *cmd.Rules
	}
	if err := rules.Validate(); err != nil {
		return false, err
	}
	if race.Normalize(cmd.Start) == race.Normalize(cmd.Destination) {
		return false, ErrBadCourse
	}

	for id := range r.drivers {
		r.cancelDriver(id)
	}
	r.state.Start = cmd.Start
	r.state.Destination = cmd.Destination
	r.state.Rules = rules
	r.state.Runs = []*race.Run{}
	r.state.Status = StatusLobby
	return true, nil
}

// finishIfDone closes the race once every run is terminal.
func (r *Room) finishIfDone() {
	if r.state.Status != StatusRunning || !r.state.allTerminal() {
		return
	}
	r.state.Status = StatusFinished
	for id := range r.drivers {
		r.cancelDriver(id)
	}
}

func (r *Room) spawnDriver(runID string) {
	if r.exec == nil {
		return
	}
	ctx, cancel := context.WithCancel(r.ctx)
	r.drivers[runID] = cancel
	b := board{r: r}
	go func() {
		r.exec.Drive(ctx, b, runID)
		b.do(func(r *Room) bool {
			delete(r.drivers, runID)
			return false
		})
	}()
	r.log.Info("ai driver started", zap.String("room", r.state.Code), zap.String("run_id", runID))
}

func (r *Room) cancelDriver(runID string) {
	if cancel, ok := r.drivers[runID]; ok {
		cancel()
		delete(r.drivers, runID)
	}
}
