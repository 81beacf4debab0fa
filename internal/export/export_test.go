package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkrace/linkrace/internal/race"
	"github.com/linkrace/linkrace/internal/session"
)

func TestRoundTrip_Identical(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	human := race.NewHumanRun("alice", "Capybara", t0)
	require.NoError(t, race.Advance(human, race.Rules{MaxHops: 20}, "Rodent", "Rodent", t0.Add(time.Second), nil))

	bot := race.NewLLMRun("bot", race.LLMOptions{Model: "test-model", MaxTokens: 64}, "Capybara", t0)
	require.NoError(t, race.Fail(bot, "model unavailable", t0.Add(2*time.Second), &race.StepMeta{Retries: 2}))

	r := FromSession(session.Session{
		ID:          "sess-1",
		CreatedAt:   t0,
		Title:       "test race",
		Start:       "Capybara",
		Destination: "Rodent",
		Rules:       race.Rules{MaxHops: 20},
		Runs:        []*race.Run{human, bot},
	})

	first, err := Marshal(r, t0.Add(time.Minute))
	require.NoError(t, err)

	doc, err := Unmarshal(first)
	require.NoError(t, err)

	second, err := Marshal(doc.Race, doc.ExportedAt)
	require.NoError(t, err)

	assert.True(t, bytes.Equal(first, second), "re-export must reproduce the document byte-for-byte")

	require.Len(t, doc.Race.Runs, 2)
	assert.Equal(t, race.ResultWin, doc.Race.Runs[0].Result)
	assert.Equal(t, race.ResultLose, doc.Race.Runs[1].Result)
	assert.Equal(t, "model unavailable", doc.Race.Runs[1].Steps[1].Meta.Error)
}

func TestUnmarshal_RejectsUnknownSchema(t *testing.T) {
	_, err := Unmarshal([]byte(`{"schema_version":"99","race":{}}`))
	assert.ErrorIs(t, err, ErrBadSchema)
}
