package stage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/loom/internal/core"
	"github.com/dotcommander/loom/internal/graph"
)

// stubGen replays canned responses in call order.
type stubGen struct {
	responses []string
	calls     int
}

func (g *stubGen) next() string {
	if g.calls >= len(g.responses) {
		return ""
	}
	r := g.responses[g.calls]
	g.calls++
	return r
}

func (g *stubGen) Generate(_ context.Context, _, _ string) (string, error) {
	return g.next(), nil
}

func (g *stubGen) GenerateJSON(_ context.Context, _, _ string) (string, error) {
	return g.next(), nil
}

func seedStory(t *testing.T) graph.Store {
	t.Helper()
	store := graph.NewMemoryStore()
	err := store.EnsureStory(context.Background(), &core.StoryRecord{
		ID:     "story-1",
		Title:  "The Glass Harbor",
		Prompt: "A lighthouse keeper discovers the harbor's fog is alive.",
		Genres: []string{"fantasy", "mystery"},
	})
	require.NoError(t, err)
	return store
}

func state(status core.Status) core.ControlState {
	return core.ControlState{StoryID: "story-1", Status: status}
}
