// Package runner owns workflow execution lifecycles: it resumes story
// drivers in a bounded pool and feeds user input back into suspended runs.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dotcommander/loom/internal/core"
)

// ErrNotAwaitingInput is returned when feedback arrives for a story that is
// not suspended on a human checkpoint.
var ErrNotAwaitingInput = errors.New("story is not awaiting user input")

// Runner executes story drivers. Each story runs single-flight: a second
// StartOrResume while a run is in progress is a no-op, which makes the API
// safe to call on every user interaction.
type Runner struct {
	driver    *core.Driver
	sessions  core.SessionStore
	publisher core.Publisher
	logger    *slog.Logger

	group   *errgroup.Group
	baseCtx context.Context

	mu      sync.Mutex
	running map[string]bool
}

// New builds a runner executing at most maxConcurrent stories at once.
// baseCtx bounds every run's lifetime; cancel it on shutdown and Wait.
func New(baseCtx context.Context, driver *core.Driver, sessions core.SessionStore, publisher core.Publisher, maxConcurrent int, logger *slog.Logger) *Runner {
	g := new(errgroup.Group)
	if maxConcurrent > 0 {
		g.SetLimit(maxConcurrent)
	}
	return &Runner{
		driver:    driver,
		sessions:  sessions,
		publisher: publisher,
		logger:    logger.With("component", "runner"),
		group:     g,
		baseCtx:   baseCtx,
		running:   make(map[string]bool),
	}
}

// StartOrResume schedules a driver run for the story. Returns false when a
// run is already in flight, true when one was scheduled.
func (r *Runner) StartOrResume(storyID string) bool {
	r.mu.Lock()
	if r.running[storyID] {
		r.mu.Unlock()
		return false
	}
	r.running[storyID] = true
	r.mu.Unlock()

	r.group.Go(func() error {
		if _, err := r.driver.Run(r.baseCtx, storyID); err != nil {
			// A failed run is this story's problem, not the pool's.
			r.logger.Error("driver run failed", "story_id", storyID, "error", err)
		}
		r.mu.Lock()
		delete(r.running, storyID)
		r.mu.Unlock()
		// Feedback submitted between the driver's final persist and the
		// map cleanup above saw an in-flight run and did not schedule a
		// resume. Pick it up here so it cannot go stale.
		r.resumeIfFeedbackPending(storyID)
		return nil
	})
	return true
}

func (r *Runner) resumeIfFeedbackPending(storyID string) {
	if r.baseCtx.Err() != nil {
		return
	}
	rec, err := r.sessions.GetRecord(r.baseCtx, storyID)
	if err != nil || rec.Control == nil {
		return
	}
	if rec.Control.Status.Suspended() && rec.Control.LastUserFeedback != "" {
		r.logger.Info("resuming with feedback that arrived mid-shutdown of the previous run",
			"story_id", storyID)
		r.StartOrResume(storyID)
	}
}

// SubmitFeedback records the user's response on a suspended story and
// resumes it. The feedback is persisted before the resume is scheduled, so a
// crash between the two loses nothing: the next resume consumes it.
func (r *Runner) SubmitFeedback(ctx context.Context, storyID, feedback string) error {
	rec, err := r.sessions.GetRecord(ctx, storyID)
	if err != nil {
		return err
	}
	if rec.Control == nil {
		return fmt.Errorf("story %s has no workflow state: %w", storyID, ErrNotAwaitingInput)
	}
	if !rec.Control.Status.Suspended() {
		return fmt.Errorf("story %s in status %s: %w", storyID, rec.Control.Status, ErrNotAwaitingInput)
	}

	entry := core.LogEntry{
		Type:      core.LogUserFeedback,
		Content:   feedback,
		Timestamp: time.Now().UTC(),
	}
	rec.Control.LastUserFeedback = feedback
	rec.Control.AppendLog(entry)
	if err := r.sessions.SaveControlState(ctx, storyID, rec.Control); err != nil {
		return fmt.Errorf("recording feedback for story %s: %w", storyID, err)
	}
	r.publisher.Publish(storyID, core.Event{
		Type:      entry.Type,
		Content:   entry.Content,
		Timestamp: entry.Timestamp,
	})

	r.StartOrResume(storyID)
	return nil
}

// Wait blocks until every in-flight run has finished.
func (r *Runner) Wait() error { return r.group.Wait() }
