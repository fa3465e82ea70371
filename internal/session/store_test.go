package session_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/loom/internal/core"
	"github.com/dotcommander/loom/internal/session"
)

func newStore(t *testing.T) *session.Store {
	t.Helper()
	store, err := session.New(filepath.Join(t.TempDir(), "loom.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newRecord(id, owner string) *core.StoryRecord {
	return &core.StoryRecord{
		ID:      id,
		OwnerID: owner,
		Title:   "The Glass Harbor",
		Prompt:  "A lighthouse keeper discovers the harbor's fog is alive.",
		Genres:  []string{"fantasy", "mystery"},
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	rec := newRecord("story-1", "owner-1")
	require.NoError(t, store.Create(ctx, rec))

	got, err := store.GetRecord(ctx, "story-1")
	require.NoError(t, err)
	require.Equal(t, "The Glass Harbor", got.Title)
	require.Equal(t, []string{"fantasy", "mystery"}, got.Genres)
	require.Nil(t, got.Control, "control state starts empty")
	require.False(t, got.CreatedAt.IsZero())
}

func TestStoreControlStateRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newRecord("story-1", "owner-1")))

	state := core.NewControlState("story-1", "The Glass Harbor")
	state.Status = core.StatusAwaitingArcsApproval
	state.TaskQueue = core.TaskQueue{
		{Kind: core.TaskGenerateChapters, ArcTitle: "The Fog Rises"},
	}
	state.PendingDeviation = &core.DeviationProposal{
		SceneID: "ch1_scene1", ReplacementPlan: "a different opening",
	}
	state.LastUserFeedback = "go on"
	require.NoError(t, store.SaveControlState(ctx, "story-1", state))

	got, err := store.GetRecord(ctx, "story-1")
	require.NoError(t, err)
	require.NotNil(t, got.Control)
	require.Equal(t, core.StatusAwaitingArcsApproval, got.Control.Status)
	require.Equal(t, state.TaskQueue, got.Control.TaskQueue)
	require.Equal(t, "go on", got.Control.LastUserFeedback)
	require.NotNil(t, got.Control.PendingDeviation)
	require.Equal(t, "ch1_scene1", got.Control.PendingDeviation.SceneID)
	require.Len(t, got.Control.Log, len(state.Log))
}

func TestStoreSaveControlStateUnknownStory(t *testing.T) {
	store := newStore(t)
	err := store.SaveControlState(context.Background(), "missing", core.NewControlState("missing", "x"))
	require.True(t, errors.Is(err, core.ErrNotFound))
}

func TestStoreOwnershipScoping(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newRecord("story-1", "owner-1")))

	_, err := store.GetOwned(ctx, "story-1", "owner-1")
	require.NoError(t, err)

	_, err = store.GetOwned(ctx, "story-1", "owner-2")
	require.True(t, errors.Is(err, core.ErrNotFound),
		"another owner's story must read as absent")

	require.True(t, errors.Is(store.Delete(ctx, "story-1", "owner-2"), core.ErrNotFound))
	require.NoError(t, store.Delete(ctx, "story-1", "owner-1"))
}

func TestStoreListByOwner(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newRecord("story-1", "owner-1")))
	require.NoError(t, store.Create(ctx, newRecord("story-2", "owner-1")))
	require.NoError(t, store.Create(ctx, newRecord("story-3", "owner-2")))

	recs, err := store.ListByOwner(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, recs, 2)

	recs, err = store.ListByOwner(ctx, "owner-9")
	require.NoError(t, err)
	require.Empty(t, recs)
}
