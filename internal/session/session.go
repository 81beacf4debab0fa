package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/linkrace/linkrace/internal/executor"
	"github.com/linkrace/linkrace/internal/race"
)

var ErrUnknownRun = errors.New("unknown run")
var ErrNotLLMRun = errors.New("run is not an llm run")
var ErrBadCourse = errors.New("start and destination must differ")

// Session is one local matchup: a course plus the runs racing it.
type Session struct {
	ID          string      `json:"id"`
	CreatedAt   time.Time   `json:"created_at"`
	Title       string      `json:"title,omitempty"`
	Start       string      `json:"start_article"`
	Destination string      `json:"destination_article"`
	Rules       race.Rules  `json:"rules"`
	Runs        []*race.Run `json:"runs"`
}

type Config struct {
	Title       string
	Start       string
	Destination string
	Rules       race.Rules
}

// Manager owns a Session and is its only writer. Human actions arrive
// on the caller's goroutine; AI executors funnel their mutations
// through the same mutex-guarded methods, so every critical section
// stays short and no service call happens under the lock.
type Manager struct {
	mu      sync.Mutex
	session Session
	active  string
	cancels map[string]context.CancelFunc

	exec *executor.Executor
	now  func() time.Time
	log  *zap.Logger
	wg   sync.WaitGroup
}

func NewManager(cfg Config, exec *executor.Executor, log *zap.Logger) (*Manager, error) {
	if err := cfg.Rules.Validate(); err != nil {
		return nil, err
	}
	if race.Normalize(cfg.Start) == race.Normalize(cfg.Destination) {
		return nil, ErrBadCourse
	}
	m := &Manager{
		session: Session{
			ID:          uuid.NewString(),
			CreatedAt:   time.Now(),
			Title:       cfg.Title,
			Start:       cfg.Start,
			Destination: cfg.Destination,
			Rules:       cfg.Rules,
			Runs:        []*race.Run{},
		},
		cancels: map[string]context.CancelFunc{},
		exec:    exec,
		now:     time.Now,
		log:     log,
	}
	return m, nil
}

// SetClock overrides the time source, for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Manager) StartHumanRun(name string) *race.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := race.NewHumanRun(name, m.session.Start, m.now())
	m.session.Runs = append(m.session.Runs, run)
	return run.Clone()
}

// StartLLMRun creates an llm run and drives it in the background.
// Zero-valued option limits inherit the session rules at use time.
func (m *Manager) StartLLMRun(ctx context.Context, name string, opts race.LLMOptions) *race.Run {
	m.mu.Lock()
	run := race.NewLLMRun(name, opts, m.session.Start, m.now())
	m.session.Runs = append(m.session.Runs, run)
	runCtx, cancel := context.WithCancel(ctx)
	m.cancels[run.ID] = cancel
	snap := run.Clone()
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.exec.Drive(runCtx, m, run.ID)
		m.dropCancel(run.ID)
	}()
	return snap
}

// SetActiveRun switches the hotseat: all other human timers pause and
// the selected run resumes, atomically under the session lock.
func (m *Manager) SetActiveRun(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findRun(runID) == nil {
		return ErrUnknownRun
	}
	m.active = runID
	race.Activate(m.session.Runs, runID, m.now(), m.session.Rules.AutoStartTimer)
	return nil
}

// Move applies a human hop. A move to the current article is silently
// ignored, and moves against a terminal run are no-ops.
func (m *Manager) Move(runID, article string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := m.findRun(runID)
	if run == nil {
		return ErrUnknownRun
	}

	now := m.now()
	if run.Kind == race.KindHuman && !run.Terminal() &&
		run.Timer != nil && run.Timer.State == race.TimerNotStarted &&
		m.session.Rules.AutoStartTimer && m.active == runID {
		race.Resume(run, now)
	}

	err := race.Advance(run, m.session.Rules, m.session.Destination, article, now, nil)
	if errors.Is(err, race.ErrSameArticle) || errors.Is(err, race.ErrRunNotRunning) {
		return nil
	}
	return err
}

func (m *Manager) AbandonRun(runID string) error {
	m.mu.Lock()
	cancel := m.cancels[runID]
	run := m.findRun(runID)
	if run != nil {
		race.Abandon(run, m.now())
	}
	m.mu.Unlock()

	if run == nil {
		return ErrUnknownRun
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// CancelRun stops an llm run's executor and abandons the run.
func (m *Manager) CancelRun(runID string) error {
	return m.AbandonRun(runID)
}

// RestartRun cancels an llm run and starts a fresh one with the same
// model and options under a new identity. The old run's steps stay in
// the session for history.
func (m *Manager) RestartRun(ctx context.Context, runID string) (*race.Run, error) {
	m.mu.Lock()
	old := m.findRun(runID)
	if old == nil {
		m.mu.Unlock()
		return nil, ErrUnknownRun
	}
	if old.Kind != race.KindLLM {
		m.mu.Unlock()
		return nil, ErrNotLLMRun
	}
	name, opts := old.Name, *old.LLM
	m.mu.Unlock()

	if err := m.CancelRun(runID); err != nil {
		return nil, err
	}
	return m.StartLLMRun(ctx, name, opts), nil
}

// Snapshot returns a deep copy of the session.
func (m *Manager) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Session {
	s := m.session
	s.Runs = make([]*race.Run, len(m.session.Runs))
	for i, r := range m.session.Runs {
		s.Runs[i] = r.Clone()
	}
	return s
}

// ElapsedMS reports the live timer reading for a run.
func (m *Manager) ElapsedMS(runID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := m.findRun(runID)
	if run == nil {
		return 0, ErrUnknownRun
	}
	return race.ElapsedMS(run, m.now()), nil
}

// Close cancels every running AI and waits for their executors.
func (m *Manager) Close() {
	m.mu.Lock()
	for _, cancel := range m.cancels {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) findRun(runID string) *race.Run {
	for _, r := range m.session.Runs {
		if r.ID == runID {
			return r
		}
	}
	return nil
}

func (m *Manager) dropCancel(runID string) {
	m.mu.Lock()
	delete(m.cancels, runID)
	m.mu.Unlock()
}

// executor.Board implementation.

func (m *Manager) Course() (string, string, race.Rules) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Start, m.session.Destination, m.session.Rules
}

func (m *Manager) RunPosition(runID string) (string, race.LLMOptions, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := m.findRun(runID)
	if run == nil || run.Terminal() || run.LLM == nil {
		return "", race.LLMOptions{}, false
	}
	return run.CurrentArticle(), *run.LLM, true
}

func (m *Manager) ApplyMove(runID, article string, meta *race.StepMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := m.findRun(runID)
	if run == nil {
		return ErrUnknownRun
	}
	return race.Advance(run, m.session.Rules, m.session.Destination, article, m.now(), meta)
}

func (m *Manager) FailRun(runID, errText string, meta *race.StepMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := m.findRun(runID)
	if run == nil {
		return ErrUnknownRun
	}
	if run.Terminal() {
		return nil
	}
	return race.Fail(run, errText, m.now(), meta)
}
