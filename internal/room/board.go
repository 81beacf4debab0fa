package room

import (
	"github.com/linkrace/linkrace/internal/race"
)

// board adapts the room to executor.Board. Each method is a closure
// executed inside the room loop, so AI-generated steps interleave with
// player commands in one total order while the slow model call itself
// happens outside the loop.
type board struct {
	r *Room
}

// do runs fn in the room loop and waits for it. Returns false if the
// room shut down before the mutation could be applied.
func (b board) do(fn func(r *Room) (changed bool)) bool {
	done := make(chan struct{})
	select {
	case b.r.inbox <- Do{Fn: fn, Done: done}:
	case <-b.r.ctx.Done():
		return false
	}
	select {
	case <-done:
		return true
	case <-b.r.ctx.Done():
		return false
	}
}

func (b board) Course() (string, string, race.Rules) {
	var start, destination string
	var rules race.Rules
	b.do(func(r *Room) bool {
		start, destination, rules = r.state.Start, r.state.Destination, r.state.Rules
		return false
	})
	return start, destination, rules
}

func (b board) RunPosition(runID string) (string, race.LLMOptions, bool) {
	var article string
	var opts race.LLMOptions
	var ok bool
	b.do(func(r *Room) bool {
		run := r.state.findRun(runID)
		if run == nil || run.Terminal() || run.LLM == nil {
			return false
		}
		article, opts, ok = run.CurrentArticle(), *run.LLM, true
		return false
	})
	return article, opts, ok
}

func (b board) ApplyMove(runID, article string, meta *race.StepMeta) error {
	var err error
	alive := b.do(func(r *Room) bool {
		run := r.state.findRun(runID)
		if run == nil {
			err = ErrUnknownRun
			return false
		}
		err = race.Advance(run, r.state.Rules, r.state.Destination, article, r.now(), meta)
		if err != nil {
			return false
		}
		r.finishIfDone()
		return true
	})
	if !alive {
		return race.ErrRunNotRunning
	}
	return err
}

func (b board) FailRun(runID, errText string, meta *race.StepMeta) error {
	var err error
	b.do(func(r *Room) bool {
		run := r.state.findRun(runID)
		if run == nil {
			err = ErrUnknownRun
			return false
		}
		if run.Terminal() {
			return false
		}
		err = race.Fail(run, errText, r.now(), meta)
		if err != nil {
			return false
		}
		r.finishIfDone()
		return true
	})
	return err
}

func (b board) AbandonRun(runID string) error {
	var err error
	b.do(func(r *Room) bool {
		run := r.state.findRun(runID)
		if run == nil {
			err = ErrUnknownRun
			return false
		}
		if run.Terminal() {
			return false
		}
		race.Abandon(run, r.now())
		r.finishIfDone()
		return true
	})
	return err
}
