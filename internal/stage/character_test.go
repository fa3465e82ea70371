package stage_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/loom/internal/core"
	"github.com/dotcommander/loom/internal/graph"
	"github.com/dotcommander/loom/internal/stage"
)

const solidProfile = `{
	"backstory": "Mara grew up hauling nets with her father until the fog took his boat; she took the lighthouse post to watch for what took him.",
	"motivation": "She wants to understand the fog so no other family loses someone to it.",
	"fears": "Drowning within sight of shore.",
	"personality_traits": ["stubborn", "observant"],
	"character_arc_summary": "From watcher to negotiator."
}`

const vagueProfile = `{
	"backstory": "Her past is mysterious and largely unknown to everyone.",
	"motivation": "She wants to find out the truth about her own history someday.",
	"fears": "The dark.",
	"personality_traits": ["quiet"],
	"character_arc_summary": "TBD later."
}`

func seedStub(t *testing.T, store graph.Store) {
	t.Helper()
	err := store.UpsertCharacter(context.Background(), graph.Character{
		StoryID:             "story-1",
		Name:                "Mara",
		PhysicalDescription: "Weathered hands.",
		Backstory:           "Keeper of the harbor lighthouse.",
		Motivation:          "Find out what the fog wants.",
	})
	require.NoError(t, err)
}

func TestCharacterDevelopsStubs(t *testing.T) {
	store := seedStory(t)
	seedStub(t, store)
	gen := &stubGen{responses: []string{solidProfile}}
	character := stage.NewCharacter(store, gen, slog.Default())

	delta, err := character.Run(context.Background(), state(core.StatusConceptApproved))
	require.NoError(t, err)
	require.Equal(t, core.StatusAwaitingCharactersApproval, delta.Status)
	require.True(t, delta.ConsumeFeedback)

	stubs, err := store.ListCharacterStubs(context.Background(), "story-1")
	require.NoError(t, err)
	require.Empty(t, stubs, "developed characters must no longer be stubs")

	chars, err := store.ListCharacters(context.Background(), "story-1")
	require.NoError(t, err)
	require.Len(t, chars, 1)
	require.Contains(t, chars[0].Backstory, "lighthouse post")
	require.Equal(t, "Weathered hands.", chars[0].PhysicalDescription, "stub fields must survive development")
}

func TestCharacterNoStubsCompletesImmediately(t *testing.T) {
	store := seedStory(t)
	gen := &stubGen{}
	character := stage.NewCharacter(store, gen, slog.Default())

	delta, err := character.Run(context.Background(), state(core.StatusConceptApproved))
	require.NoError(t, err)
	require.Equal(t, core.StatusCharacterDevelopmentComplete, delta.Status)
	require.Zero(t, gen.calls)
}

func TestCharacterVagueOutputAsksForClarification(t *testing.T) {
	store := seedStory(t)
	seedStub(t, store)
	gen := &stubGen{responses: []string{vagueProfile}}
	character := stage.NewCharacter(store, gen, slog.Default())

	delta, err := character.Run(context.Background(), state(core.StatusConceptApproved))
	require.NoError(t, err)
	require.Equal(t, core.StatusAwaitingClarification, delta.Status)
	require.Contains(t, delta.Question, "Mara")
	require.False(t, delta.ConsumeFeedback)
	require.Equal(t, 1, gen.calls, "a solid stub is only questioned after its profile comes back vague")

	stubs, err := store.ListCharacterStubs(context.Background(), "story-1")
	require.NoError(t, err)
	require.Len(t, stubs, 1, "a vague profile must not be stored")
}

func TestCharacterVagueStubSuspendsBeforeGenerating(t *testing.T) {
	store := seedStory(t)
	err := store.UpsertCharacter(context.Background(), graph.Character{
		StoryID:             "story-1",
		Name:                "The Stranger",
		PhysicalDescription: "A long coat.",
		Backstory:           "A mysterious figure from parts unknown.",
		Motivation:          "Find out what the fog wants.",
	})
	require.NoError(t, err)

	gen := &stubGen{responses: []string{solidProfile}}
	character := stage.NewCharacter(store, gen, slog.Default())

	delta, err := character.Run(context.Background(), state(core.StatusConceptApproved))
	require.NoError(t, err)
	require.Equal(t, core.StatusAwaitingClarification, delta.Status)
	require.Contains(t, delta.Question, "The Stranger")
	require.Zero(t, gen.calls, "a vague stub must be questioned before any generation is spent on it")
}

func TestCharacterThinStubMotivationSuspendsBeforeGenerating(t *testing.T) {
	store := seedStory(t)
	err := store.UpsertCharacter(context.Background(), graph.Character{
		StoryID:             "story-1",
		Name:                "Mara",
		PhysicalDescription: "Weathered hands.",
		Backstory:           "Keeper of the harbor lighthouse.",
		Motivation:          "Survive.",
	})
	require.NoError(t, err)

	gen := &stubGen{responses: []string{solidProfile}}
	character := stage.NewCharacter(store, gen, slog.Default())

	delta, err := character.Run(context.Background(), state(core.StatusConceptApproved))
	require.NoError(t, err)
	require.Equal(t, core.StatusAwaitingClarification, delta.Status)
	require.Zero(t, gen.calls)
}

func TestCharacterFeedbackSkipsVaguenessCheck(t *testing.T) {
	store := seedStory(t)
	seedStub(t, store)
	gen := &stubGen{responses: []string{vagueProfile}}
	character := stage.NewCharacter(store, gen, slog.Default())

	st := state(core.StatusProcessingFeedback)
	st.LastUserFeedback = "Her past is a shipwreck she caused; stop hedging."

	delta, err := character.Run(context.Background(), st)
	require.NoError(t, err)
	require.Equal(t, core.StatusAwaitingCharactersApproval, delta.Status,
		"with feedback present the clarification loop must not re-trigger")
	require.True(t, delta.ConsumeFeedback)
}

func TestCharacterShortBackstoryIsVague(t *testing.T) {
	store := seedStory(t)
	seedStub(t, store)
	gen := &stubGen{responses: []string{`{
		"backstory": "Born at sea.",
		"motivation": "A meaningful and specific drive to protect the harbor town.",
		"fears": "Storms.",
		"personality_traits": ["calm"],
		"character_arc_summary": "Grows."
	}`}}
	character := stage.NewCharacter(store, gen, slog.Default())

	delta, err := character.Run(context.Background(), state(core.StatusConceptApproved))
	require.NoError(t, err)
	require.Equal(t, core.StatusAwaitingClarification, delta.Status)
}
