package runner_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dotcommander/loom/internal/core"
	"github.com/dotcommander/loom/internal/runner"
)

type memSessions struct {
	mu   sync.Mutex
	recs map[string]*core.StoryRecord
}

func (m *memSessions) GetRecord(_ context.Context, storyID string) (*core.StoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[storyID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return rec, nil
}

func (m *memSessions) SaveControlState(_ context.Context, storyID string, state *core.ControlState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[storyID].Control = state
	return nil
}

type nopGraph struct{}

func (nopGraph) EnsureStory(context.Context, *core.StoryRecord) error { return nil }
func (nopGraph) ReplaceSceneBeatSheet(context.Context, string, string, string) error {
	return nil
}

type captPublisher struct {
	mu     sync.Mutex
	events []core.Event
}

func (p *captPublisher) Publish(_ string, e core.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

type blockingStage struct {
	started chan struct{}
	release chan struct{}
}

func (s *blockingStage) Name() string { return "concept" }

func (s *blockingStage) Run(ctx context.Context, _ core.ControlState) (core.Delta, error) {
	s.started <- struct{}{}
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return core.Delta{Status: core.StatusAwaitingConceptApproval}, nil
}

func newRunner(t *testing.T, sessions core.SessionStore, stages map[core.Target]core.Stage, pub core.Publisher) *runner.Runner {
	t.Helper()
	cfg := core.DefaultDriverConfig()
	cfg.BaseDelay = time.Millisecond
	driver := core.NewDriver(stages, sessions, nopGraph{}, pub, slog.Default(), cfg)
	return runner.New(context.Background(), driver, sessions, pub, 4, slog.Default())
}

func TestRunnerSingleFlight(t *testing.T) {
	sessions := &memSessions{recs: map[string]*core.StoryRecord{
		"story-1": {ID: "story-1", Title: "A Title"},
	}}
	stage := &blockingStage{started: make(chan struct{}, 1), release: make(chan struct{})}
	run := newRunner(t, sessions, map[core.Target]core.Stage{core.TargetConcept: stage}, &captPublisher{})

	if !run.StartOrResume("story-1") {
		t.Fatal("first start should schedule a run")
	}
	<-stage.started

	if run.StartOrResume("story-1") {
		t.Fatal("second start while running must be a no-op")
	}

	close(stage.release)
	if err := run.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}

	if !run.StartOrResume("story-1") {
		t.Fatal("start after completion should schedule again")
	}
	run.Wait()
}

func TestRunnerSubmitFeedbackRequiresSuspension(t *testing.T) {
	sessions := &memSessions{recs: map[string]*core.StoryRecord{
		"story-1": {ID: "story-1", Title: "A Title", Control: &core.ControlState{
			StoryID: "story-1", Status: core.StatusSceneCompleted,
		}},
		"story-2": {ID: "story-2", Title: "B Title"},
	}}
	run := newRunner(t, sessions, nil, &captPublisher{})

	err := run.SubmitFeedback(context.Background(), "story-1", "looks good")
	if !errors.Is(err, runner.ErrNotAwaitingInput) {
		t.Fatalf("expected ErrNotAwaitingInput, got %v", err)
	}

	err = run.SubmitFeedback(context.Background(), "story-2", "looks good")
	if !errors.Is(err, runner.ErrNotAwaitingInput) {
		t.Fatalf("a never-started story takes no feedback, got %v", err)
	}

	err = run.SubmitFeedback(context.Background(), "missing", "looks good")
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRunnerSubmitFeedbackPersistsAndResumes(t *testing.T) {
	sessions := &memSessions{recs: map[string]*core.StoryRecord{
		"story-1": {ID: "story-1", Title: "A Title", Control: &core.ControlState{
			StoryID: "story-1", Status: core.StatusAwaitingConceptApproval,
		}},
	}}
	pub := &captPublisher{}

	resumed := make(chan core.ControlState, 1)
	character := stageFunc(func(_ context.Context, st core.ControlState) (core.Delta, error) {
		resumed <- st
		return core.Delta{Status: core.StatusAwaitingCharactersApproval}, nil
	})
	run := newRunner(t, sessions, map[core.Target]core.Stage{core.TargetCharacter: character}, pub)

	if err := run.SubmitFeedback(context.Background(), "story-1", "approved"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case <-resumed:
	case <-time.After(2 * time.Second):
		t.Fatal("feedback did not resume the workflow")
	}
	run.Wait()

	rec, _ := sessions.GetRecord(context.Background(), "story-1")
	if rec.Control.Status != core.StatusAwaitingCharactersApproval {
		t.Fatalf("status = %s", rec.Control.Status)
	}
	if rec.Control.LastUserFeedback != "" {
		t.Fatal("approval feedback should be consumed")
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	found := false
	for _, e := range pub.events {
		if e.Type == core.LogUserFeedback && e.Content == "approved" {
			found = true
		}
	}
	if !found {
		t.Fatal("feedback event was not published")
	}
}

// lateFeedbackSessions lands feedback on the stored record at the exact
// moment a run persists its suspension, reproducing feedback that arrives
// after the driver's final write but before the runner marks the story idle.
type lateFeedbackSessions struct {
	*memSessions
	once sync.Once
}

func (s *lateFeedbackSessions) SaveControlState(ctx context.Context, storyID string, state *core.ControlState) error {
	if err := s.memSessions.SaveControlState(ctx, storyID, state); err != nil {
		return err
	}
	if state.Status.Suspended() && state.LastUserFeedback == "" {
		s.once.Do(func() {
			cp := *state
			cp.LastUserFeedback = "approved"
			_ = s.memSessions.SaveControlState(ctx, storyID, &cp)
		})
	}
	return nil
}

func TestRunnerPicksUpFeedbackLandingAsARunEnds(t *testing.T) {
	inner := &memSessions{recs: map[string]*core.StoryRecord{
		"story-1": {ID: "story-1", Title: "A Title", Control: &core.ControlState{
			StoryID: "story-1", Status: core.StatusAwaitingConceptApproval,
		}},
	}}
	sessions := &lateFeedbackSessions{memSessions: inner}

	resumed := make(chan struct{})
	character := stageFunc(func(_ context.Context, _ core.ControlState) (core.Delta, error) {
		close(resumed)
		return core.Delta{Status: core.StatusAwaitingCharactersApproval}, nil
	})
	run := newRunner(t, sessions, map[core.Target]core.Stage{core.TargetCharacter: character}, &captPublisher{})

	if !run.StartOrResume("story-1") {
		t.Fatal("start should schedule a run")
	}

	select {
	case <-resumed:
	case <-time.After(2 * time.Second):
		t.Fatal("feedback recorded as the run ended was never picked up")
	}
	run.Wait()

	rec, _ := inner.GetRecord(context.Background(), "story-1")
	if rec.Control.Status != core.StatusAwaitingCharactersApproval {
		t.Fatalf("status = %s", rec.Control.Status)
	}
	if rec.Control.LastUserFeedback != "" {
		t.Fatal("the late feedback should have been consumed by the resume")
	}
}

type stageFunc func(context.Context, core.ControlState) (core.Delta, error)

func (f stageFunc) Name() string { return "character" }

func (f stageFunc) Run(ctx context.Context, st core.ControlState) (core.Delta, error) {
	return f(ctx, st)
}
