package core_test

import (
	"testing"

	"github.com/dotcommander/loom/internal/core"
)

func TestTaskQueueFIFO(t *testing.T) {
	var q core.TaskQueue
	q.PushTasks(
		core.Task{Kind: core.TaskGenerateArcs},
		core.Task{Kind: core.TaskGenerateChapters, ArcTitle: "Act One"},
	)

	head, ok := q.PeekHead()
	if !ok || head.Kind != core.TaskGenerateArcs {
		t.Fatalf("expected generate_arcs at head, got %+v (ok=%v)", head, ok)
	}
	if len(q) != 2 {
		t.Fatalf("peek must not consume, queue length = %d", len(q))
	}

	popped, ok := q.PopHead()
	if !ok || popped.Kind != core.TaskGenerateArcs {
		t.Fatalf("expected to pop generate_arcs, got %+v", popped)
	}
	if head, _ := q.PeekHead(); head.ArcTitle != "Act One" {
		t.Fatalf("expected Act One chapters task at head, got %+v", head)
	}

	q.PopHead()
	if _, ok := q.PopHead(); ok {
		t.Fatal("pop from empty queue must report not ok")
	}
}

func TestTaskQueueRemoveMatchingPreservesOrder(t *testing.T) {
	q := core.TaskQueue{
		{Kind: core.TaskGenerateScenes, ArcTitle: "Act One", ChapterNumber: 1},
		{Kind: core.TaskGenerateChapters, ArcTitle: "Act Two"},
		{Kind: core.TaskGenerateScenes, ArcTitle: "Act One", ChapterNumber: 2},
		{Kind: core.TaskGenerateScenes, ArcTitle: "Act Two", ChapterNumber: 3},
	}

	removed := q.RemoveMatching(func(task core.Task) bool {
		return task.Kind == core.TaskGenerateScenes && task.ArcTitle == "Act One"
	})
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if len(q) != 2 {
		t.Fatalf("queue length = %d, want 2", len(q))
	}
	if q[0].Kind != core.TaskGenerateChapters || q[1].ChapterNumber != 3 {
		t.Fatalf("surviving order wrong: %+v", q)
	}
}

func TestApplyQueueMutationOrder(t *testing.T) {
	state := core.NewControlState("story-1", "A Title")
	state.TaskQueue = core.TaskQueue{
		{Kind: core.TaskGenerateChapters, ArcTitle: "Act One"},
		{Kind: core.TaskGenerateScenes, ArcTitle: "Act One"},
		{Kind: core.TaskGenerateChapters, ArcTitle: "Act Two"},
	}

	state.Apply(core.Delta{
		PopHead: true,
		Supersede: func(task core.Task) bool {
			return task.Kind == core.TaskGenerateScenes && task.ArcTitle == "Act One"
		},
		PushTasks: []core.Task{
			{Kind: core.TaskGenerateScenes, ArcTitle: "Act One", ChapterNumber: 1},
			{Kind: core.TaskGenerateScenes, ArcTitle: "Act One", ChapterNumber: 2},
		},
	})

	want := []core.Task{
		{Kind: core.TaskGenerateChapters, ArcTitle: "Act Two"},
		{Kind: core.TaskGenerateScenes, ArcTitle: "Act One", ChapterNumber: 1},
		{Kind: core.TaskGenerateScenes, ArcTitle: "Act One", ChapterNumber: 2},
	}
	if len(state.TaskQueue) != len(want) {
		t.Fatalf("queue = %+v, want %+v", state.TaskQueue, want)
	}
	for i := range want {
		if state.TaskQueue[i] != want[i] {
			t.Fatalf("queue[%d] = %+v, want %+v", i, state.TaskQueue[i], want[i])
		}
	}
}

func TestApplyFields(t *testing.T) {
	state := core.NewControlState("story-1", "A Title")

	state.Apply(core.Delta{
		Status:   core.StatusAwaitingClarification,
		Question: "Who is the antagonist?",
	})
	if state.Status != core.StatusAwaitingClarification {
		t.Fatalf("status = %s", state.Status)
	}
	if state.PendingQuestion != "Who is the antagonist?" {
		t.Fatalf("pending question = %q", state.PendingQuestion)
	}

	state.LastUserFeedback = "The mayor is the antagonist."
	state.Apply(core.Delta{
		Status:        core.StatusProcessingFeedback,
		ClearQuestion: true,
	})
	if state.PendingQuestion != "" {
		t.Fatal("question should be cleared")
	}
	if state.LastUserFeedback == "" {
		t.Fatal("feedback must survive until a delta consumes it")
	}

	state.Apply(core.Delta{
		Status:          core.StatusAwaitingCharactersApproval,
		ConsumeFeedback: true,
	})
	if state.LastUserFeedback != "" {
		t.Fatal("feedback should be consumed")
	}

	state.Apply(core.Delta{SceneCursor: "ch1_scene1"})
	if state.SceneCursor != "ch1_scene1" {
		t.Fatalf("cursor = %q", state.SceneCursor)
	}
	state.Apply(core.Delta{ClearCursor: true})
	if state.SceneCursor != "" {
		t.Fatal("cursor should be cleared")
	}
}

func TestTrimLogKeepsTrailingWindow(t *testing.T) {
	state := core.NewControlState("story-1", "A Title")
	for i := 0; i < 40; i++ {
		state.AppendLog(core.LogEntry{Type: core.LogSystem, Content: "entry"})
	}

	state.TrimLog(25)
	if len(state.Log) != 25 {
		t.Fatalf("log length = %d, want 25", len(state.Log))
	}

	state.TrimLog(0)
	if len(state.Log) != 25 {
		t.Fatal("window 0 must disable trimming")
	}
}

func TestStatusPredicates(t *testing.T) {
	cases := []struct {
		status    core.Status
		terminal  bool
		suspended bool
	}{
		{core.StatusInitializing, false, false},
		{core.StatusAwaitingConceptApproval, false, true},
		{core.StatusAwaitingChaptersApproval, false, true},
		{core.StatusAwaitingClarification, false, true},
		{core.StatusAwaitingDeviationApproval, false, true},
		{core.StatusProcessingFeedback, false, false},
		{core.StatusSceneCompleted, false, false},
		{core.StatusWritingComplete, true, false},
		{core.StatusError, true, false},
	}
	for _, tc := range cases {
		if got := tc.status.Terminal(); got != tc.terminal {
			t.Errorf("%s Terminal() = %v, want %v", tc.status, got, tc.terminal)
		}
		if got := tc.status.Suspended(); got != tc.suspended {
			t.Errorf("%s Suspended() = %v, want %v", tc.status, got, tc.suspended)
		}
		if !tc.status.Known() {
			t.Errorf("%s should be a known status", tc.status)
		}
	}
	if core.Status("BOGUS").Known() {
		t.Error("BOGUS should not be known")
	}
}
