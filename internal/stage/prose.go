package stage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dotcommander/loom/internal/core"
	"github.com/dotcommander/loom/internal/graph"
)

const proseAgent = "prose_weaver"

// deviationPhrases in a plan review mean the editor pass is proposing a
// replacement plan instead of approving the outlined one.
var deviationPhrases = []string{"propose", "suggest", "better approach", "improvement"}

// Prose writes one scene per invocation through a fixed pass sequence:
// brief, plan review, draft, dialogue, polish. A review that proposes a plan
// change short-circuits into a deviation suspension; once the deviation is
// approved the review pass is skipped so the approved plan cannot be
// re-litigated.
type Prose struct {
	store  graph.Store
	gen    core.Generator
	logger *slog.Logger
}

func NewProse(store graph.Store, gen core.Generator, logger *slog.Logger) *Prose {
	return &Prose{store: store, gen: gen, logger: logger.With("stage", proseAgent)}
}

func (p *Prose) Name() string { return proseAgent }

func (p *Prose) Run(ctx context.Context, state core.ControlState) (core.Delta, error) {
	sceneID := state.SceneCursor
	if sceneID == "" {
		outlined, err := p.store.ListScenesByStatus(ctx, state.StoryID, graph.SceneOutlined)
		if err != nil {
			return core.Delta{}, core.Transient("listing outlined scenes", err)
		}
		if len(outlined) == 0 {
			return p.complete(), nil
		}
		sceneID = outlined[0].SceneID
	}

	sc, err := p.store.SceneContext(ctx, state.StoryID, sceneID)
	if err != nil {
		return core.Delta{}, core.Transient("assembling scene context", err)
	}
	contextPrompt := sceneContextPrompt(sc)

	brief, err := p.gen.Generate(ctx, briefSystem, contextPrompt)
	if err != nil {
		return core.Delta{}, core.Transient("generating scene brief", err)
	}

	if state.Status != core.StatusDeviationApproved {
		review, err := p.gen.Generate(ctx, reviewSystem, contextPrompt+"\nWriting brief:\n"+brief)
		if err != nil {
			return core.Delta{}, core.Transient("reviewing scene plan", err)
		}
		if proposesDeviation(review) {
			p.logger.Info("deviation proposed", "story_id", state.StoryID, "scene_id", sceneID)
			return core.Delta{
				Status: core.StatusAwaitingDeviationApproval,
				Deviation: &core.DeviationProposal{
					SceneID:         sceneID,
					Reasoning:       review,
					ReplacementPlan: review,
					Draft:           brief,
				},
				SceneCursor: sceneID,
				Log: []core.LogEntry{{
					Type:    core.LogDeviationProposal,
					Agent:   proseAgent,
					Content: fmt.Sprintf("Proposed a plan change for scene %s", sceneID),
					Details: review,
				}},
			}, nil
		}
	}

	draft, err := p.gen.Generate(ctx, draftSystem, contextPrompt+"\nWriting brief:\n"+brief)
	if err != nil {
		return core.Delta{}, core.Transient("drafting scene", err)
	}
	dialogue, err := p.gen.Generate(ctx, dialogueSystem, contextPrompt+"\nDraft:\n"+draft)
	if err != nil {
		return core.Delta{}, core.Transient("reworking dialogue", err)
	}
	polished, err := p.gen.Generate(ctx, polishSystem, contextPrompt+"\nDraft:\n"+dialogue)
	if err != nil {
		return core.Delta{}, core.Transient("polishing scene", err)
	}

	if err := p.store.UpdateSceneProse(ctx, state.StoryID, sceneID, polished, graph.SceneWritten); err != nil {
		return core.Delta{}, core.Transient("storing scene prose", err)
	}
	p.logger.Info("scene written", "story_id", state.StoryID, "scene_id", sceneID)

	outlined, err := p.store.ListScenesByStatus(ctx, state.StoryID, graph.SceneOutlined)
	if err != nil {
		return core.Delta{}, core.Transient("listing outlined scenes", err)
	}
	if len(outlined) == 0 {
		d := p.complete()
		d.Log = append([]core.LogEntry{
			step(proseAgent, fmt.Sprintf("Completed scene %s", sceneID)),
		}, d.Log...)
		return d, nil
	}

	return core.Delta{
		Status:          core.StatusSceneCompleted,
		SceneCursor:     outlined[0].SceneID,
		ClearDeviation:  true,
		ConsumeFeedback: true,
		Log: []core.LogEntry{
			step(proseAgent, fmt.Sprintf("Completed scene %s", sceneID)),
		},
	}, nil
}

func (p *Prose) complete() core.Delta {
	return core.Delta{
		Status:          core.StatusWritingComplete,
		ClearCursor:     true,
		ClearDeviation:  true,
		ConsumeFeedback: true,
		Log: []core.LogEntry{
			step(proseAgent, "All scenes written. The story is complete."),
		},
	}
}

func proposesDeviation(review string) bool {
	if strings.EqualFold(strings.TrimSpace(review), "APPROVED") {
		return false
	}
	lower := strings.ToLower(review)
	for _, phrase := range deviationPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
