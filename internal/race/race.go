package race

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrRunNotRunning = errors.New("run is not running")
var ErrSameArticle = errors.New("article unchanged")
var ErrBadRules = errors.New("invalid rules")

type Kind string

const (
	KindHuman Kind = "human"
	KindLLM   Kind = "llm"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusFinished  Status = "finished"
	StatusAbandoned Status = "abandoned"
)

type Result string

const (
	ResultNone      Result = ""
	ResultWin       Result = "win"
	ResultLose      Result = "lose"
	ResultAbandoned Result = "abandoned"
)

type StepType string

const (
	StepStart StepType = "start"
	StepMove  StepType = "move"
	StepWin   StepType = "win"
	StepLose  StepType = "lose"
)

// Reasons recorded on lose steps.
const (
	ReasonMaxHops = "max_hops"
	ReasonError   = "error"
)

// Rules are the per-race settings. Zero-valued optional fields mean
// "no limit" / "provider default".
type Rules struct {
	MaxHops           int  `json:"max_hops"`
	MaxLinks          int  `json:"max_links,omitempty"`
	MaxTokens         int  `json:"max_tokens,omitempty"`
	IncludeImageLinks bool `json:"include_image_links,omitempty"`
	ShowLinksPanel    bool `json:"show_links_panel,omitempty"`
	AutoStartTimer    bool `json:"auto_start_timer,omitempty"`
}

func (r Rules) Validate() error {
	if r.MaxHops < 1 {
		return ErrBadRules
	}
	return nil
}

// StepMeta is free-form detail attached to a step. AI runs record
// generation metrics here; lose steps record why.
type StepMeta struct {
	Reason       string `json:"reason,omitempty"`
	Error        string `json:"error,omitempty"`
	LatencyMS    int64  `json:"latency_ms,omitempty"`
	PromptTokens int    `json:"prompt_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
	Retries      int    `json:"retries,omitempty"`
	RawOutput    string `json:"raw_output,omitempty"`
}

type Step struct {
	Type    StepType  `json:"type"`
	Article string    `json:"article"`
	At      time.Time `json:"at"`
	Meta    *StepMeta `json:"meta,omitempty"`
}

// LLMOptions configure an llm run. Zero-valued limit fields inherit
// from the race rules.
type LLMOptions struct {
	Model     string `json:"model"`
	BaseURL   string `json:"base_url,omitempty"`
	Thinking  string `json:"thinking,omitempty"`
	MaxHops   int    `json:"max_hops,omitempty"`
	MaxLinks  int    `json:"max_links,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// Run is one participant's attempt. Steps are append-only; the first
// step is always the start step.
type Run struct {
	ID       string      `json:"id"`
	PlayerID string      `json:"player_id,omitempty"`
	Kind     Kind        `json:"kind"`
	Name     string      `json:"name"`
	LLM      *LLMOptions `json:"llm,omitempty"`
	Status   Status      `json:"status"`
	Result   Result      `json:"result,omitempty"`
	Steps    []Step      `json:"steps"`
	Timer    *Timer      `json:"timer,omitempty"`
}

func NewHumanRun(name, startArticle string, now time.Time) *Run {
	return &Run{
		ID:     uuid.NewString(),
		Kind:   KindHuman,
		Name:   name,
		Status: StatusRunning,
		Steps:  []Step{{Type: StepStart, Article: startArticle, At: now}},
		Timer:  &Timer{State: TimerNotStarted},
	}
}

func NewLLMRun(name string, opts LLMOptions, startArticle string, now time.Time) *Run {
	o := opts
	return &Run{
		ID:     uuid.NewString(),
		Kind:   KindLLM,
		Name:   name,
		LLM:    &o,
		Status: StatusRunning,
		Steps:  []Step{{Type: StepStart, Article: startArticle, At: now}},
	}
}

func (r *Run) CurrentArticle() string {
	return r.Steps[len(r.Steps)-1].Article
}

// Hops counts link traversals: steps minus the start step.
func (r *Run) Hops() int {
	return len(r.Steps) - 1
}

func (r *Run) Terminal() bool {
	return r.Status != StatusRunning
}

// MaxHops resolves the effective hop limit for this run.
func (r *Run) MaxHops(rules Rules) int {
	if r.LLM != nil && r.LLM.MaxHops > 0 {
		return r.LLM.MaxHops
	}
	return rules.MaxHops
}

// Clone deep-copies a run so snapshots never alias live state.
func (r *Run) Clone() *Run {
	c := *r
	c.Steps = make([]Step, len(r.Steps))
	copy(c.Steps, r.Steps)
	for i, s := range r.Steps {
		if s.Meta != nil {
			m := *s.Meta
			c.Steps[i].Meta = &m
		}
	}
	if r.LLM != nil {
		o := *r.LLM
		c.LLM = &o
	}
	if r.Timer != nil {
		t := *r.Timer
		c.Timer = &t
	}
	return &c
}

// Normalize makes article titles comparable: case-insensitive, with
// underscores treated as spaces and surrounding/repeated whitespace
// collapsed.
func Normalize(title string) string {
	s := strings.ReplaceAll(title, "_", " ")
	s = strings.Join(strings.Fields(s), " ")
	return strings.ToLower(s)
}

// Advance applies one candidate move to a running run. Win is checked
// before the hop limit, so landing on the destination with the last
// allowed hop still wins. Moving to the current article is a no-op
// signalled by ErrSameArticle.
func Advance(run *Run, rules Rules, destination, article string, now time.Time, meta *StepMeta) error {
	if run.Terminal() {
		return ErrRunNotRunning
	}
	if Normalize(article) == Normalize(run.CurrentArticle()) {
		return ErrSameArticle
	}

	if Normalize(article) == Normalize(destination) {
		run.Steps = append(run.Steps, Step{Type: StepWin, Article: article, At: now, Meta: meta})
		finish(run, ResultWin, now)
		return nil
	}

	if run.Hops()+1 >= run.MaxHops(rules) {
		m := meta
		if m == nil {
			m = &StepMeta{}
		}
		m.Reason = ReasonMaxHops
		run.Steps = append(run.Steps, Step{Type: StepLose, Article: article, At: now, Meta: m})
		finish(run, ResultLose, now)
		return nil
	}

	run.Steps = append(run.Steps, Step{Type: StepMove, Article: article, At: now, Meta: meta})
	return nil
}

// Fail terminates a run as lost without moving it, recording the
// error that stopped it. Used when move generation is unrecoverable.
func Fail(run *Run, errText string, now time.Time, meta *StepMeta) error {
	if run.Terminal() {
		return ErrRunNotRunning
	}
	m := meta
	if m == nil {
		m = &StepMeta{}
	}
	m.Reason = ReasonError
	m.Error = errText
	run.Steps = append(run.Steps, Step{Type: StepLose, Article: run.CurrentArticle(), At: now, Meta: m})
	finish(run, ResultLose, now)
	return nil
}

// Abandon is idempotent: abandoning a terminal run changes nothing.
func Abandon(run *Run, now time.Time) {
	if run.Terminal() {
		return
	}
	run.Status = StatusAbandoned
	run.Result = ResultAbandoned
	pauseTimer(run, now)
}

func finish(run *Run, result Result, now time.Time) {
	run.Status = StatusFinished
	run.Result = result
	pauseTimer(run, now)
}
