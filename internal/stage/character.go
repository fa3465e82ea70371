package stage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dotcommander/loom/internal/core"
	"github.com/dotcommander/loom/internal/graph"
)

const characterAgent = "character_smith"

// vagueTerms flag character details that dodge specificity. A vague stub
// suspends the run with a clarification question instead of silently burying
// a placeholder in the story bible.
var vagueTerms = []string{"mysterious", "unknown", "tbd", "to be determined", "unclear"}

const (
	minBackstoryChars  = 20
	minMotivationChars = 15
)

// vagueProfile reports whether the backstory and motivation are specific
// enough to build on, and why not when they are not.
func vagueProfile(backstory, motivation string) (string, bool) {
	text := strings.ToLower(backstory + " " + motivation)
	for _, term := range vagueTerms {
		if strings.Contains(text, term) {
			return fmt.Sprintf("the detail %q needs to be pinned down", term), true
		}
	}
	if len(backstory) < minBackstoryChars {
		return "the backstory is too thin", true
	}
	if len(motivation) < minMotivationChars {
		return "the motivation is too thin", true
	}
	return "", false
}

// Character develops every character stub into a full profile, one
// generation call per stub. A stub whose seed backstory or motivation is too
// vague to build on suspends for clarification before any generation is
// spent on it. When author feedback is pending the vagueness checks are
// skipped and the feedback steers the generation instead, so a clarification
// round can never loop.
type Character struct {
	store  graph.Store
	gen    core.Generator
	logger *slog.Logger
}

func NewCharacter(store graph.Store, gen core.Generator, logger *slog.Logger) *Character {
	return &Character{store: store, gen: gen, logger: logger.With("stage", characterAgent)}
}

func (c *Character) Name() string { return characterAgent }

type characterPayload struct {
	Backstory         string   `json:"backstory"`
	Motivation        string   `json:"motivation"`
	Fears             string   `json:"fears"`
	PersonalityTraits []string `json:"personality_traits"`
	ArcSummary        string   `json:"character_arc_summary"`
}

func (c *Character) Run(ctx context.Context, state core.ControlState) (core.Delta, error) {
	stubs, err := c.store.ListCharacterStubs(ctx, state.StoryID)
	if err != nil {
		return core.Delta{}, core.Transient("listing character stubs", err)
	}
	if len(stubs) == 0 {
		return core.Delta{
			Status:          core.StatusCharacterDevelopmentComplete,
			ConsumeFeedback: true,
			Log: []core.LogEntry{
				step(characterAgent, "All characters are fully developed."),
			},
		}, nil
	}

	story, err := c.store.GetStory(ctx, state.StoryID)
	if err != nil {
		return core.Delta{}, core.Transient("loading story", err)
	}

	feedback := state.LastUserFeedback
	var logs []core.LogEntry
	for _, stub := range stubs {
		// The seed material is vetted before any generation is spent on it.
		if feedback == "" {
			if reason, isVague := vagueProfile(stub.Backstory, stub.Motivation); isVague {
				return c.clarify(state, stub.Name, reason), nil
			}
		}

		raw, err := c.gen.GenerateJSON(ctx, characterSystem, characterPrompt(story, stub, feedback))
		if err != nil {
			return core.Delta{}, core.Transient("generating character profile", err)
		}
		var payload characterPayload
		if err := decode("decoding character profile", raw, &payload); err != nil {
			return core.Delta{}, err
		}

		// The generated profile can dodge specificity too.
		if feedback == "" {
			if reason, isVague := vagueProfile(payload.Backstory, payload.Motivation); isVague {
				return c.clarify(state, stub.Name, reason), nil
			}
		}

		stub.Backstory = payload.Backstory
		stub.Motivation = payload.Motivation
		stub.Fears = payload.Fears
		stub.PersonalityTraits = payload.PersonalityTraits
		stub.ArcSummary = payload.ArcSummary
		if err := c.store.UpsertCharacter(ctx, stub); err != nil {
			return core.Delta{}, core.Transient("storing character", err)
		}
		logs = append(logs, step(characterAgent, fmt.Sprintf("Developed character profile for %s", stub.Name)))
	}

	c.logger.Info("characters developed", "story_id", state.StoryID, "count", len(stubs))

	logs = append(logs, core.LogEntry{
		Type:    core.LogAgentQuestion,
		Agent:   characterAgent,
		Content: "Please review the character profiles and approve them to continue.",
	})
	return core.Delta{
		Status:          core.StatusAwaitingCharactersApproval,
		ConsumeFeedback: true,
		Log:             logs,
	}, nil
}

func (c *Character) clarify(state core.ControlState, name, reason string) core.Delta {
	question := fmt.Sprintf(
		"While developing %s, %s. Can you tell me more about %s's background and what drives them?",
		name, reason, name)
	c.logger.Info("clarification needed",
		"story_id", state.StoryID, "character", name, "reason", reason)
	return core.Delta{
		Status:   core.StatusAwaitingClarification,
		Question: question,
		Log: []core.LogEntry{{
			Type:    core.LogAgentQuestion,
			Agent:   characterAgent,
			Content: question,
		}},
	}
}
