package race

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Capybara", "capybara"},
		{"  Capybara ", "capybara"},
		{"South_American_rodents", "south american rodents"},
		{"South  American rodents", "south american rodents"},
		{"RODENT", "rodent"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestAdvance_WinOnDestination(t *testing.T) {
	// Capybara -> Rodent with plenty of budget left.
	rules := Rules{MaxHops: 20}
	run := NewHumanRun("p1", "Capybara", t0)

	if err := Advance(run, rules, "Rodent", "Rodent", t0, nil); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(run.Steps) != 2 {
		t.Fatalf("want 2 steps, got %d", len(run.Steps))
	}
	if run.Steps[0].Type != StepStart || run.Steps[1].Type != StepWin {
		t.Fatalf("want start+win, got %v %v", run.Steps[0].Type, run.Steps[1].Type)
	}
	if run.Status != StatusFinished || run.Result != ResultWin {
		t.Fatalf("want finished/win, got %v/%v", run.Status, run.Result)
	}
	if run.Hops() != 1 {
		t.Fatalf("want 1 hop, got %d", run.Hops())
	}
}

func TestAdvance_WinIsCaseAndUnderscoreInsensitive(t *testing.T) {
	rules := Rules{MaxHops: 5}
	run := NewHumanRun("p1", "Capybara", t0)
	if err := Advance(run, rules, "South American rodents", "south_american_rodents", t0, nil); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if run.Result != ResultWin {
		t.Fatalf("want win, got %v", run.Result)
	}
}

func TestAdvance_WinTakesPrecedenceOverHopLimit(t *testing.T) {
	// The last allowed hop lands exactly on the destination.
	rules := Rules{MaxHops: 1}
	run := NewHumanRun("p1", "Capybara", t0)
	if err := Advance(run, rules, "Rodent", "Rodent", t0, nil); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if run.Result != ResultWin {
		t.Fatalf("want win on final hop, got %v", run.Result)
	}
}

func TestAdvance_HopLimitBoundary(t *testing.T) {
	rules := Rules{MaxHops: 3}
	run := NewLLMRun("bot", LLMOptions{Model: "m"}, "Capybara", t0)

	// Hops 1 and 2 are fine.
	for i, article := range []string{"Mammal", "Animal"} {
		if err := Advance(run, rules, "Rodent", article, t0, nil); err != nil {
			t.Fatalf("hop %d: unexpected err: %v", i+1, err)
		}
		if run.Terminal() {
			t.Fatalf("hop %d: run terminated early", i+1)
		}
	}

	// The third hop exhausts the budget without reaching the destination.
	if err := Advance(run, rules, "Rodent", "Vertebrate", t0, nil); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if run.Status != StatusFinished || run.Result != ResultLose {
		t.Fatalf("want finished/lose, got %v/%v", run.Status, run.Result)
	}
	last := run.Steps[len(run.Steps)-1]
	if last.Type != StepLose || last.Meta == nil || last.Meta.Reason != ReasonMaxHops {
		t.Fatalf("want lose step with max_hops reason, got %+v", last)
	}
}

func TestAdvance_SameArticleIsNoOp(t *testing.T) {
	rules := Rules{MaxHops: 10}
	run := NewHumanRun("p1", "Capybara", t0)

	err := Advance(run, rules, "Rodent", "Capybara", t0, nil)
	if !errors.Is(err, ErrSameArticle) {
		t.Fatalf("want ErrSameArticle, got %v", err)
	}
	if len(run.Steps) != 1 {
		t.Fatalf("no step should be appended, got %d", len(run.Steps))
	}
}

func TestAdvance_PerRunHopOverride(t *testing.T) {
	rules := Rules{MaxHops: 20}
	run := NewLLMRun("bot", LLMOptions{Model: "m", MaxHops: 1}, "Capybara", t0)

	if err := Advance(run, rules, "Rodent", "Mammal", t0, nil); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if run.Result != ResultLose {
		t.Fatalf("override of 1 hop should lose immediately, got %v", run.Result)
	}
}

func TestTerminalRunsAreImmutable(t *testing.T) {
	rules := Rules{MaxHops: 20}
	run := NewHumanRun("p1", "Capybara", t0)
	if err := Advance(run, rules, "Rodent", "Rodent", t0, nil); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	steps, status, result := len(run.Steps), run.Status, run.Result

	if err := Advance(run, rules, "Rodent", "Mammal", t0, nil); !errors.Is(err, ErrRunNotRunning) {
		t.Fatalf("want ErrRunNotRunning, got %v", err)
	}
	Abandon(run, t0)
	if err := Fail(run, "boom", t0, nil); !errors.Is(err, ErrRunNotRunning) {
		t.Fatalf("want ErrRunNotRunning, got %v", err)
	}

	if len(run.Steps) != steps || run.Status != status || run.Result != result {
		t.Fatalf("terminal run mutated: steps=%d status=%v result=%v", len(run.Steps), run.Status, run.Result)
	}
}

func TestAbandon(t *testing.T) {
	run := NewHumanRun("p1", "Capybara", t0)
	Abandon(run, t0)
	if run.Status != StatusAbandoned || run.Result != ResultAbandoned {
		t.Fatalf("want abandoned/abandoned, got %v/%v", run.Status, run.Result)
	}
	if len(run.Steps) != 1 {
		t.Fatalf("abandon must not append a step, got %d", len(run.Steps))
	}
}

func TestFail_RecordsErrorWithoutMoving(t *testing.T) {
	run := NewLLMRun("bot", LLMOptions{Model: "m"}, "Capybara", t0)
	if err := Fail(run, "connection refused", t0, &StepMeta{Retries: 2}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	last := run.Steps[len(run.Steps)-1]
	if last.Type != StepLose || last.Article != "Capybara" {
		t.Fatalf("want lose step at current article, got %+v", last)
	}
	if last.Meta.Reason != ReasonError || last.Meta.Error != "connection refused" || last.Meta.Retries != 2 {
		t.Fatalf("bad meta: %+v", last.Meta)
	}
	if run.Result != ResultLose {
		t.Fatalf("want lose, got %v", run.Result)
	}
}

func TestClone_DoesNotAlias(t *testing.T) {
	rules := Rules{MaxHops: 20}
	run := NewHumanRun("p1", "Capybara", t0)
	c := run.Clone()
	if err := Advance(run, rules, "Rodent", "Mammal", t0, nil); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(c.Steps) != 1 {
		t.Fatalf("clone aliased live steps")
	}
}
