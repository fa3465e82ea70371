package core

import "time"

// Task kinds understood by the structure stage. The queue is a breadth-first
// frontier over the story hierarchy: arcs fan out to chapter tasks, chapters
// fan out to scene tasks.
const (
	TaskGenerateArcs     = "generate_arcs"
	TaskGenerateChapters = "generate_chapters"
	TaskGenerateScenes   = "generate_scenes"
)

// Task is one pending unit of structure work.
type Task struct {
	Kind          string `json:"kind"`
	ArcTitle      string `json:"arc_title,omitempty"`
	ChapterNumber int    `json:"chapter_number,omitempty"`
}

// TaskQueue is an ordered FIFO of pending tasks. Insertion order is execution
// order; there is no priority.
type TaskQueue []Task

// PeekHead returns the head task without consuming it.
func (q TaskQueue) PeekHead() (Task, bool) {
	if len(q) == 0 {
		return Task{}, false
	}
	return q[0], true
}

// PopHead removes and returns the head task.
func (q *TaskQueue) PopHead() (Task, bool) {
	if len(*q) == 0 {
		return Task{}, false
	}
	head := (*q)[0]
	*q = append(TaskQueue{}, (*q)[1:]...)
	return head, true
}

// PushTasks appends tasks in the given order.
func (q *TaskQueue) PushTasks(tasks ...Task) {
	*q = append(*q, tasks...)
}

// RemoveMatching drops every task the predicate matches, preserving the order
// of the rest. Used when an arc's remaining auto-generated tasks are
// superseded once its chapters are known.
func (q *TaskQueue) RemoveMatching(pred func(Task) bool) int {
	kept := (*q)[:0]
	removed := 0
	for _, t := range *q {
		if pred(t) {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	*q = kept
	return removed
}

// Log entry types, mirrored onto published events.
const (
	LogSystem            = "system"
	LogAgentStep         = "agent_step"
	LogAgentQuestion     = "agent_question"
	LogUserApproval      = "user_approval"
	LogUserFeedback      = "user_feedback"
	LogDeviationProposal = "deviation_proposal"
	LogDeviationApproved = "deviation_approved"
	LogError             = "error"
)

// LogEntry is one append-only event record in the control state.
type LogEntry struct {
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Agent     string    `json:"agent,omitempty"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DeviationProposal is a mid-pipeline proposal to replace a scene's planned
// beat sheet, requiring explicit approval before the plan is altered.
type DeviationProposal struct {
	SceneID         string `json:"scene_id"`
	Reasoning       string `json:"reasoning"`
	ReplacementPlan string `json:"replacement_plan"`
	Draft           string `json:"draft,omitempty"`
}

// ControlState is the full durable orchestration state for one story: the
// resumption contract. The driver must be able to decide the next dispatch
// from this value alone, so it is persisted whole, synchronously, at every
// checkpoint.
type ControlState struct {
	StoryID          string             `json:"story_id"`
	Status           Status             `json:"status"`
	TaskQueue        TaskQueue          `json:"task_queue"`
	PendingQuestion  string             `json:"pending_question,omitempty"`
	PendingDeviation *DeviationProposal `json:"pending_deviation,omitempty"`
	LastUserFeedback string             `json:"last_user_feedback,omitempty"`
	SceneCursor      string             `json:"scene_cursor,omitempty"`
	Log              []LogEntry         `json:"log"`
}

// NewControlState returns the intake state for a freshly created story.
func NewControlState(storyID, title string) *ControlState {
	return &ControlState{
		StoryID: storyID,
		Status:  StatusInitializing,
		Log: []LogEntry{{
			Type:      LogSystem,
			Content:   "Initialized story workflow for '" + title + "'",
			Timestamp: time.Now().UTC(),
		}},
	}
}

// AppendLog appends entries, stamping any zero timestamps.
func (s *ControlState) AppendLog(entries ...LogEntry) {
	for _, e := range entries {
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now().UTC()
		}
		s.Log = append(s.Log, e)
	}
}

// TrimLog bounds the log to its trailing window entries. Applied before
// persisting so the stored blob stays small; in-memory state keeps the full
// run's log until then.
func (s *ControlState) TrimLog(window int) {
	if window > 0 && len(s.Log) > window {
		s.Log = append([]LogEntry{}, s.Log[len(s.Log)-window:]...)
	}
}

// Delta is the only way a stage or checkpoint mutates control state: a status
// transition plus queue and pending-field mutations plus log entries. Stages
// return deltas, never partial writes, so the driver is the single place
// state changes are applied and persisted.
type Delta struct {
	Status Status

	PopHead   bool
	Supersede func(Task) bool
	PushTasks []Task

	Question      string
	ClearQuestion bool

	Deviation      *DeviationProposal
	ClearDeviation bool

	SceneCursor string
	ClearCursor bool

	ConsumeFeedback bool

	Log []LogEntry
}

// Apply merges a delta into the state. Queue mutations run in pop, supersede,
// push order so fan-out replaces the originating task in production order.
func (s *ControlState) Apply(d Delta) {
	if d.PopHead {
		s.TaskQueue.PopHead()
	}
	if d.Supersede != nil {
		s.TaskQueue.RemoveMatching(d.Supersede)
	}
	if len(d.PushTasks) > 0 {
		s.TaskQueue.PushTasks(d.PushTasks...)
	}

	if d.Status != "" {
		s.Status = d.Status
	}
	if d.Question != "" {
		s.PendingQuestion = d.Question
	}
	if d.ClearQuestion {
		s.PendingQuestion = ""
	}
	if d.Deviation != nil {
		s.PendingDeviation = d.Deviation
	}
	if d.ClearDeviation {
		s.PendingDeviation = nil
	}
	if d.SceneCursor != "" {
		s.SceneCursor = d.SceneCursor
	}
	if d.ClearCursor {
		s.SceneCursor = ""
	}
	if d.ConsumeFeedback {
		s.LastUserFeedback = ""
	}

	s.AppendLog(d.Log...)
}

// LastLog returns the most recent log entry, used as the user-facing
// diagnostic when status is ERROR.
func (s *ControlState) LastLog() (LogEntry, bool) {
	if len(s.Log) == 0 {
		return LogEntry{}, false
	}
	return s.Log[len(s.Log)-1], true
}
