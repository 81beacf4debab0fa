package race

import "time"

type TimerState string

const (
	TimerNotStarted TimerState = "not_started"
	TimerRunning    TimerState = "running"
	TimerPaused     TimerState = "paused"
)

// Timer tracks a human run's active time. Hotseat play multiplexes one
// wall clock across runs: at most one timer is running at any instant.
type Timer struct {
	State         TimerState `json:"state,omitempty"`
	ActiveMS      int64      `json:"active_ms,omitempty"`
	LastResumedAt time.Time  `json:"last_resumed_at,omitzero"`
}

// PauseAll pauses every human run's timer except the one named,
// folding elapsed time into ActiveMS for timers leaving the running
// state.
func PauseAll(runs []*Run, exceptID string, now time.Time) {
	for _, r := range runs {
		if r.Kind != KindHuman || r.ID == exceptID {
			continue
		}
		pauseTimer(r, now)
	}
}

// Resume starts (or restarts) the run's timer.
func Resume(run *Run, now time.Time) {
	if run.Kind != KindHuman || run.Timer == nil || run.Terminal() {
		return
	}
	run.Timer.State = TimerRunning
	run.Timer.LastResumedAt = now
}

// Activate makes the named run the active hotseat player: everyone
// else pauses, and the target resumes. A not_started timer is left
// untouched when autoStart is set; it resumes on the run's first move
// instead of on selection.
func Activate(runs []*Run, id string, now time.Time, autoStart bool) {
	PauseAll(runs, id, now)
	for _, r := range runs {
		if r.ID != id || r.Kind != KindHuman || r.Timer == nil {
			continue
		}
		if r.Timer.State == TimerNotStarted && autoStart {
			return
		}
		Resume(r, now)
	}
}

// ElapsedMS is the live display time for a run's timer.
func ElapsedMS(run *Run, now time.Time) int64 {
	if run.Timer == nil {
		return 0
	}
	if run.Timer.State == TimerRunning {
		return run.Timer.ActiveMS + now.Sub(run.Timer.LastResumedAt).Milliseconds()
	}
	return run.Timer.ActiveMS
}

func pauseTimer(run *Run, now time.Time) {
	if run.Timer == nil || run.Timer.State != TimerRunning {
		return
	}
	run.Timer.ActiveMS += now.Sub(run.Timer.LastResumedAt).Milliseconds()
	run.Timer.State = TimerPaused
}
