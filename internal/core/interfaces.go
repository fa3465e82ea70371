package core

import (
	"context"
	"time"
)

// Stage is one generation unit (concept, character, structure, prose). Run
// receives a snapshot of the control state and returns the delta to apply.
// Expected failures are converted to status=ERROR deltas inside the stage; a
// non-nil error means the invocation itself failed unexpectedly and is a
// candidate for driver-level retry.
type Stage interface {
	Name() string
	Run(ctx context.Context, state ControlState) (Delta, error)
}

// Generator is the external text-generation service. One blocking call per
// invocation; GenerateJSON requests schema-conformant JSON output.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
	GenerateJSON(ctx context.Context, system, user string) (string, error)
}

// StoryRecord is the durable per-story session record: ownership metadata
// plus the serialized control state.
type StoryRecord struct {
	ID        string        `json:"id"`
	OwnerID   string        `json:"owner_id"`
	Title     string        `json:"title"`
	Prompt    string        `json:"prompt"`
	Genres    []string      `json:"genres"`
	Control   *ControlState `json:"control_state"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// SessionStore persists story records. SaveControlState must complete
// synchronously before a suspension is considered successful.
type SessionStore interface {
	GetRecord(ctx context.Context, storyID string) (*StoryRecord, error)
	SaveControlState(ctx context.Context, storyID string, state *ControlState) error
}

// Event is one step-level message published to external subscribers.
type Event struct {
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Agent     string    `json:"agent,omitempty"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	StoryID   string    `json:"story_id"`
}

// Publisher fans out events to subscribers. Publish is fire-and-forget: it
// must never block or fail the execution path.
type Publisher interface {
	Publish(storyID string, e Event)
}
