package executor

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/linkrace/linkrace/internal/links"
	"github.com/linkrace/linkrace/internal/llm"
	"github.com/linkrace/linkrace/internal/race"
)

// Board is the mutable race an AI run plays on. Session and Room both
// implement it; every method is a short critical section, so the
// executor never holds a lock across a service call.
type Board interface {
	// Course returns the fixed start/destination/rules of the race.
	Course() (start, destination string, rules race.Rules)
	// RunPosition returns the run's current article and its llm
	// options, or ok=false once the run is terminal or gone.
	RunPosition(runID string) (article string, opts race.LLMOptions, ok bool)
	ApplyMove(runID, article string, meta *race.StepMeta) error
	FailRun(runID, errText string, meta *race.StepMeta) error
	AbandonRun(runID string) error
}

// Executor drives llm runs to a terminal state. One Drive call is one
// run; concurrent runs are independent goroutines sharing the same
// Executor.
type Executor struct {
	links links.Lookup
	gen   llm.MoveGenerator
	log   *zap.Logger
}

func New(lookup links.Lookup, gen llm.MoveGenerator, log *zap.Logger) *Executor {
	return &Executor{links: lookup, gen: gen, log: log}
}

// Drive loops the run until it wins, loses, or is cancelled.
// Cancellation is cooperative: the context is checked before each move
// request, and a cancelled run is abandoned, never marked lost.
// Service failures are absorbed into the run as a lose step and never
// escape to the caller.
func (e *Executor) Drive(ctx context.Context, board Board, runID string) {
	start, destination, rules := board.Course()

	// A model that keeps choosing its own article never consumes hop
	// budget; bound the retries so the run cannot spin forever.
	const sameArticleLimit = 3
	sameChoices := 0

	for {
		if ctx.Err() != nil {
			_ = board.AbandonRun(runID)
			return
		}

		current, opts, ok := board.RunPosition(runID)
		if !ok {
			return
		}

		maxLinks := opts.MaxLinks
		if maxLinks == 0 {
			maxLinks = rules.MaxLinks
		}
		maxTokens := opts.MaxTokens
		if maxTokens == 0 {
			maxTokens = rules.MaxTokens
		}

		candidates, err := e.links.Links(ctx, current)
		if err != nil {
			e.absorb(board, runID, err, nil)
			return
		}
		candidates = links.Filter(candidates, maxLinks, rules.IncludeImageLinks)
		candidates = withoutCurrent(candidates, current)

		res, err := e.gen.GenerateMove(ctx, llm.MoveRequest{
			StartArticle:       start,
			DestinationArticle: destination,
			CurrentArticle:     current,
			Candidates:         candidates,
			Model:              opts.Model,
			BaseURL:            opts.BaseURL,
			Thinking:           opts.Thinking,
			MaxTokens:          maxTokens,
		})
		if err != nil {
			e.absorb(board, runID, err, nil)
			return
		}

		meta := &race.StepMeta{
			LatencyMS:    res.LatencyMS,
			PromptTokens: res.PromptTokens,
			OutputTokens: res.OutputTokens,
			Retries:      res.Retries,
			RawOutput:    res.RawOutput,
		}

		err = board.ApplyMove(runID, res.ChosenLink, meta)
		switch {
		case err == nil:
			sameChoices = 0
		case errors.Is(err, race.ErrSameArticle):
			// Anchor-style non-move; ask again.
			sameChoices++
			if sameChoices >= sameArticleLimit {
				e.absorb(board, runID, errors.New("model repeatedly chose the current article"), meta)
				return
			}
			continue
		case errors.Is(err, race.ErrRunNotRunning):
			return
		default:
			e.absorb(board, runID, err, meta)
			return
		}
	}
}

// withoutCurrent drops the current article from the candidate set so a
// well-behaved model cannot pick a non-move.
func withoutCurrent(candidates []string, current string) []string {
	cur := race.Normalize(current)
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if race.Normalize(c) == cur {
			continue
		}
		out = append(out, c)
	}
	return out
}

// absorb converts a failure into terminal run state. A cancelled
// context means the user (or the room) stopped the run: abandon it
// instead of blaming the model.
func (e *Executor) absorb(board Board, runID string, err error, meta *race.StepMeta) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		_ = board.AbandonRun(runID)
		return
	}
	e.log.Warn("ai run failed", zap.String("run_id", runID), zap.Error(err))
	_ = board.FailRun(runID, err.Error(), meta)
}
