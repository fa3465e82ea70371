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

func seedScenes(t *testing.T, store graph.Store, ids ...string) {
	t.Helper()
	require.NoError(t, store.UpsertArc(context.Background(), graph.Arc{
		StoryID: "story-1", Title: "The Fog Rises", Summary: "The fog begins to act.",
	}))
	require.NoError(t, store.UpsertChapter(context.Background(), graph.Chapter{
		StoryID: "story-1", ArcTitle: "The Fog Rises", Number: 1, Summary: "The first ship vanishes.",
	}))
	for i, id := range ids {
		require.NoError(t, store.UpsertScene(context.Background(), graph.Scene{
			StoryID:       "story-1",
			SceneID:       id,
			ChapterNumber: 1,
			Sequence:      100 + i,
			BeatSheet:     "Mara spots the empty mooring.",
			Status:        graph.SceneOutlined,
		}))
	}
}

func TestProseNoOutlinedScenesCompletes(t *testing.T) {
	store := seedStory(t)
	prose := stage.NewProse(store, &stubGen{}, slog.Default())

	delta, err := prose.Run(context.Background(), state(core.StatusReadyForWriting))
	require.NoError(t, err)
	require.Equal(t, core.StatusWritingComplete, delta.Status)
	require.True(t, delta.ClearCursor)
}

func TestProseWritesSceneAndAdvancesCursor(t *testing.T) {
	store := seedStory(t)
	seedScenes(t, store, "ch1_scene1", "ch1_scene2")

	gen := &stubGen{responses: []string{
		"An expanded brief for the scene.",
		"APPROVED",
		"A first draft of the scene.",
		"The draft with sharper dialogue.",
		"The polished final scene.",
	}}
	prose := stage.NewProse(store, gen, slog.Default())

	delta, err := prose.Run(context.Background(), state(core.StatusReadyForWriting))
	require.NoError(t, err)
	require.Equal(t, core.StatusSceneCompleted, delta.Status)
	require.Equal(t, "ch1_scene2", delta.SceneCursor)
	require.Equal(t, 5, gen.calls, "brief, review, draft, dialogue, polish")

	written, err := store.ListScenesByStatus(context.Background(), "story-1", graph.SceneWritten)
	require.NoError(t, err)
	require.Len(t, written, 1)
	require.Equal(t, "ch1_scene1", written[0].SceneID)
	require.Equal(t, "The polished final scene.", written[0].Prose)
}

func TestProseLastSceneCompletesWriting(t *testing.T) {
	store := seedStory(t)
	seedScenes(t, store, "ch1_scene1")

	gen := &stubGen{responses: []string{
		"Brief.", "APPROVED", "Draft.", "Dialogue.", "Polished.",
	}}
	prose := stage.NewProse(store, gen, slog.Default())

	delta, err := prose.Run(context.Background(), state(core.StatusReadyForWriting))
	require.NoError(t, err)
	require.Equal(t, core.StatusWritingComplete, delta.Status)
	require.True(t, delta.ClearCursor)
}

func TestProseReviewProposesDeviation(t *testing.T) {
	store := seedStory(t)
	seedScenes(t, store, "ch1_scene1")

	review := "I propose a better approach: the mooring should be occupied by a stranger's boat."
	gen := &stubGen{responses: []string{"Brief.", review}}
	prose := stage.NewProse(store, gen, slog.Default())

	delta, err := prose.Run(context.Background(), state(core.StatusReadyForWriting))
	require.NoError(t, err)
	require.Equal(t, core.StatusAwaitingDeviationApproval, delta.Status)
	require.Equal(t, 2, gen.calls, "the draft passes must not run on a proposed deviation")
	require.NotNil(t, delta.Deviation)
	require.Equal(t, "ch1_scene1", delta.Deviation.SceneID)
	require.Equal(t, "ch1_scene1", delta.SceneCursor)

	outlined, err := store.ListScenesByStatus(context.Background(), "story-1", graph.SceneOutlined)
	require.NoError(t, err)
	require.Len(t, outlined, 1, "the scene stays outlined until the deviation is resolved")
}

func TestProseApprovedDeviationSkipsReview(t *testing.T) {
	store := seedStory(t)
	seedScenes(t, store, "ch1_scene1")

	gen := &stubGen{responses: []string{
		"Brief.", "Draft.", "Dialogue.", "Polished.",
	}}
	prose := stage.NewProse(store, gen, slog.Default())

	st := state(core.StatusDeviationApproved)
	st.SceneCursor = "ch1_scene1"

	delta, err := prose.Run(context.Background(), st)
	require.NoError(t, err)
	require.Equal(t, core.StatusWritingComplete, delta.Status)
	require.Equal(t, 4, gen.calls, "an approved plan is not re-reviewed")
}
