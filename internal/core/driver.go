package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// StructuredStore is the slice of the graph store the driver itself touches:
// idempotent story creation on first run and applying an approved deviation's
// replacement plan. Stages carry their own, wider store dependency.
type StructuredStore interface {
	EnsureStory(ctx context.Context, rec *StoryRecord) error
	ReplaceSceneBeatSheet(ctx context.Context, storyID, sceneID, beatSheet string) error
}

// DriverConfig consolidates execution-loop tuning.
type DriverConfig struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	LogWindow         int
}

// DefaultDriverConfig returns sensible defaults.
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		MaxRetries:        3,
		BaseDelay:         1 * time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		LogWindow:         25,
	}
}

// Driver runs one story's orchestration to completion or interrupt. It owns
// the only mutation path for control state: route, dispatch, merge delta,
// persist, publish, repeat. It suspends durably at every human checkpoint and
// resumes from persisted state alone.
type Driver struct {
	stages     map[Target]Stage
	sessions   SessionStore
	graph      StructuredStore
	publisher  Publisher
	supervisor *Supervisor
	logger     *slog.Logger
	cfg        DriverConfig
}

// NewDriver wires a driver. The stages map must cover the four stage targets.
func NewDriver(stages map[Target]Stage, sessions SessionStore, graph StructuredStore, publisher Publisher, logger *slog.Logger, cfg DriverConfig) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		stages:     stages,
		sessions:   sessions,
		graph:      graph,
		publisher:  publisher,
		supervisor: NewSupervisor(logger),
		logger:     logger.With("component", "driver"),
		cfg:        cfg,
	}
}

// Run executes the orchestration loop for storyID until it reaches a terminal
// status or suspends at a checkpoint. It is safe to call repeatedly: terminal
// statuses absorb, and a suspended story without fresh feedback persists once
// and returns.
func (d *Driver) Run(ctx context.Context, storyID string) (*ControlState, error) {
	rec, err := d.sessions.GetRecord(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("loading story record %s: %w", storyID, err)
	}

	state := rec.Control
	if state == nil {
		state = NewControlState(storyID, rec.Title)
	}
	state.StoryID = storyID

	if state.Status.Terminal() {
		d.logger.Info("story already terminal, nothing to do",
			"story_id", storyID, "status", state.Status)
		return state, nil
	}

	if state.Status == StatusInitializing {
		if err := d.graph.EnsureStory(ctx, rec); err != nil {
			return nil, fmt.Errorf("creating story node %s: %w", storyID, err)
		}
	}

	// Trailing log entries not yet pushed to subscribers. Tracked as a count
	// rather than an index so trimming the log window cannot strand it. A
	// fresh story's initialization entry counts as unpublished too.
	unpublished := 0
	if rec.Control == nil {
		unpublished = len(state.Log)
	}

	for {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		before := len(state.Log)
		target := d.supervisor.Route(state)

		var delta Delta
		switch target {
		case TargetEnd:
			unpublished += len(state.Log) - before
			if err := d.persist(ctx, state, &unpublished); err != nil {
				return state, err
			}
			return state, nil

		case TargetApproval, TargetClarification, TargetDeviation:
			if state.LastUserFeedback == "" {
				d.logger.Info("workflow paused for external input",
					"story_id", storyID, "status", state.Status)
				unpublished += len(state.Log) - before
				if err := d.persist(ctx, state, &unpublished); err != nil {
					return state, err
				}
				return state, nil
			}
			delta = d.applyCheckpoint(ctx, target, state)

		default:
			d.seedStructureQueue(state, target)
			delta = d.dispatchStage(ctx, target, state)
		}

		state.Apply(delta)
		unpublished += len(state.Log) - before

		if err := d.persist(ctx, state, &unpublished); err != nil {
			return state, err
		}

		if state.Status.Terminal() {
			d.logger.Info("workflow finished", "story_id", storyID, "status", state.Status)
			return state, nil
		}
		if state.Status.Suspended() && state.LastUserFeedback == "" {
			d.logger.Info("workflow paused for external input",
				"story_id", storyID, "status", state.Status)
			return state, nil
		}
	}
}

// seedStructureQueue primes the task frontier when the character phase hands
// off to structure with nothing queued yet.
func (d *Driver) seedStructureQueue(state *ControlState, target Target) {
	if target != TargetStructure || len(state.TaskQueue) > 0 {
		return
	}
	if state.Status == StatusCharactersApproved || state.Status == StatusCharacterDevelopmentComplete {
		state.TaskQueue.PushTasks(Task{Kind: TaskGenerateArcs})
	}
}

func (d *Driver) applyCheckpoint(ctx context.Context, target Target, state *ControlState) Delta {
	switch target {
	case TargetApproval:
		return ApprovalCheckpoint(*state)
	case TargetClarification:
		return ClarificationCheckpoint(*state)
	default:
		delta := DeviationCheckpoint(*state)
		if delta.Status == StatusDeviationApproved && state.PendingDeviation != nil {
			p := state.PendingDeviation
			if err := d.graph.ReplaceSceneBeatSheet(ctx, state.StoryID, p.SceneID, p.ReplacementPlan); err != nil {
				d.logger.Error("applying approved deviation failed",
					"story_id", state.StoryID, "scene_id", p.SceneID, "error", err)
				return Delta{
					Status: StatusError,
					Log: []LogEntry{{
						Type:    LogError,
						Content: fmt.Sprintf("failed to apply approved deviation to scene %s: %v", p.SceneID, err),
					}},
				}
			}
		}
		return delta
	}
}

// dispatchStage runs the stage with bounded exponential-backoff retry on
// transient failures. Exhausted or non-retryable failures escalate to a
// status=ERROR delta; the stage's own StageError handling never reaches here.
func (d *Driver) dispatchStage(ctx context.Context, target Target, state *ControlState) Delta {
	stage, ok := d.stages[target]
	if !ok {
		return Delta{
			Status: StatusError,
			Log: []LogEntry{{
				Type:    LogError,
				Content: fmt.Sprintf("no stage registered for target %s", target),
			}},
		}
	}

	var lastErr error
	delay := d.cfg.BaseDelay

	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			d.logger.Warn("retrying stage",
				"story_id", state.StoryID,
				"stage", stage.Name(),
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				return d.stageFailureDelta(state, stage, lastErr)
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * d.cfg.BackoffMultiplier)
			if delay > d.cfg.MaxDelay {
				delay = d.cfg.MaxDelay
			}
		}

		delta, err := stage.Run(ctx, *state)
		if err == nil {
			return delta
		}
		lastErr = err
		if !IsTransient(err) {
			break
		}
	}

	return d.stageFailureDelta(state, stage, lastErr)
}

func (d *Driver) stageFailureDelta(state *ControlState, stage Stage, err error) Delta {
	d.logger.Error("stage failed",
		"story_id", state.StoryID, "stage", stage.Name(), "error", err)
	return Delta{
		Status: StatusError,
		Log: []LogEntry{{
			Type:    LogError,
			Content: fmt.Sprintf("%s failed: %v", stage.Name(), err),
		}},
	}
}

// persist writes the control state synchronously and then publishes the
// trailing unpublished log entries, resetting the count. Publication is
// best-effort and never fails the persistence path.
func (d *Driver) persist(ctx context.Context, state *ControlState, unpublished *int) error {
	state.TrimLog(d.cfg.LogWindow)
	if *unpublished > len(state.Log) {
		*unpublished = len(state.Log)
	}

	if err := d.sessions.SaveControlState(ctx, state.StoryID, state); err != nil {
		return fmt.Errorf("persisting control state %s: %w", state.StoryID, err)
	}

	if d.publisher != nil {
		for _, entry := range state.Log[len(state.Log)-*unpublished:] {
			d.publisher.Publish(state.StoryID, Event{
				Type:      entry.Type,
				Content:   entry.Content,
				Agent:     entry.Agent,
				Details:   entry.Details,
				Timestamp: entry.Timestamp,
				StoryID:   state.StoryID,
			})
		}
	}
	*unpublished = 0
	return nil
}
