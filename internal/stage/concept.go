package stage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dotcommander/loom/internal/core"
	"github.com/dotcommander/loom/internal/graph"
)

const conceptAgent = "brainstormer"

// Concept turns the raw premise into the story's core concept: a logline,
// the initial themes, character stubs, and locations. One generation call,
// then a suspension for concept approval.
type Concept struct {
	store  graph.Store
	gen    core.Generator
	logger *slog.Logger
}

func NewConcept(store graph.Store, gen core.Generator, logger *slog.Logger) *Concept {
	return &Concept{store: store, gen: gen, logger: logger.With("stage", conceptAgent)}
}

func (c *Concept) Name() string { return conceptAgent }

type conceptPayload struct {
	Logline string `json:"logline"`
	Themes  []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"themes"`
	Characters []struct {
		Name                string `json:"name"`
		PhysicalDescription string `json:"physical_description"`
		Backstory           string `json:"backstory"`
		Motivation          string `json:"motivation"`
	} `json:"characters"`
	Locations []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Atmosphere  string `json:"atmosphere"`
	} `json:"locations"`
}

func (c *Concept) Run(ctx context.Context, state core.ControlState) (core.Delta, error) {
	story, err := c.store.GetStory(ctx, state.StoryID)
	if err != nil {
		return core.Delta{}, core.Transient("loading story", err)
	}

	raw, err := c.gen.GenerateJSON(ctx, conceptSystem, storyHeader(story))
	if err != nil {
		return core.Delta{}, core.Transient("generating concept", err)
	}
	var payload conceptPayload
	if err := decode("decoding concept", raw, &payload); err != nil {
		return core.Delta{}, err
	}
	if payload.Logline == "" || len(payload.Characters) == 0 {
		return failure(conceptAgent, "concept generation returned no usable logline or characters"), nil
	}

	for _, t := range payload.Themes {
		theme := graph.Theme{StoryID: state.StoryID, Name: t.Name, Description: t.Description}
		if err := c.store.UpsertTheme(ctx, theme); err != nil {
			return core.Delta{}, core.Transient("storing theme", err)
		}
	}
	for _, ch := range payload.Characters {
		stub := graph.Character{
			StoryID:             state.StoryID,
			Name:                ch.Name,
			PhysicalDescription: ch.PhysicalDescription,
			Backstory:           ch.Backstory,
			Motivation:          ch.Motivation,
		}
		if err := c.store.UpsertCharacter(ctx, stub); err != nil {
			return core.Delta{}, core.Transient("storing character stub", err)
		}
	}
	for _, l := range payload.Locations {
		loc := graph.Location{
			StoryID:     state.StoryID,
			Name:        l.Name,
			Description: l.Description,
			Atmosphere:  l.Atmosphere,
		}
		if err := c.store.UpsertLocation(ctx, loc); err != nil {
			return core.Delta{}, core.Transient("storing location", err)
		}
	}

	c.logger.Info("concept generated",
		"story_id", state.StoryID,
		"themes", len(payload.Themes),
		"characters", len(payload.Characters),
		"locations", len(payload.Locations))

	return core.Delta{
		Status: core.StatusAwaitingConceptApproval,
		Log: []core.LogEntry{
			step(conceptAgent, fmt.Sprintf("Generated core concept: %s", payload.Logline)),
			{
				Type:    core.LogAgentQuestion,
				Agent:   conceptAgent,
				Content: "Please review the core concept and approve it to continue.",
			},
		},
	}, nil
}
