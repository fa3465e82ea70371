package core

import (
	"fmt"
	"log/slog"
)

// Target is where the supervisor routes one step.
type Target int

const (
	TargetEnd Target = iota
	TargetConcept
	TargetCharacter
	TargetStructure
	TargetProse
	TargetApproval
	TargetClarification
	TargetDeviation
)

func (t Target) String() string {
	switch t {
	case TargetConcept:
		return "concept"
	case TargetCharacter:
		return "character"
	case TargetStructure:
		return "structure"
	case TargetProse:
		return "prose"
	case TargetApproval:
		return "approval"
	case TargetClarification:
		return "clarification"
	case TargetDeviation:
		return "deviation"
	default:
		return "end"
	}
}

// stageTable maps every routable status to its stage. Checkpoint statuses are
// deliberately absent: they are matched before this table is consulted.
var stageTable = map[Status]Target{
	StatusInitializing:                 TargetConcept,
	StatusConceptApproved:              TargetCharacter,
	StatusProcessingFeedback:           TargetCharacter,
	StatusCharactersApproved:           TargetStructure,
	StatusCharacterDevelopmentComplete: TargetStructure,
	StatusArcsApproved:                 TargetStructure,
	StatusChaptersApproved:             TargetStructure,
	StatusScenesApproved:               TargetStructure,
	StatusReadyForWriting:              TargetProse,
	StatusSceneCompleted:               TargetProse,
	StatusDeviationApproved:            TargetProse,
	StatusWritingComplete:              TargetEnd,
	StatusError:                        TargetEnd,
}

// RouteStatus is the pure routing function. Precedence order matters: a
// status carrying the approval marker routes to the approval checkpoint even
// if it also matches a stage entry, then exact clarification, then exact
// deviation, then the stage table, then the defensive terminal default.
func RouteStatus(status Status) (Target, error) {
	if status.AwaitingApproval() {
		return TargetApproval, nil
	}
	if status == StatusAwaitingClarification {
		return TargetClarification, nil
	}
	if status == StatusAwaitingDeviationApproval {
		return TargetDeviation, nil
	}
	if target, ok := stageTable[status]; ok {
		return target, nil
	}
	return TargetEnd, &ProtocolViolation{Status: status}
}

// Supervisor wraps RouteStatus with the trace side effect: every invocation
// appends a routing log entry to the state.
type Supervisor struct {
	logger *slog.Logger
}

func NewSupervisor(logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{logger: logger.With("component", "supervisor")}
}

// Route appends the trace entry and resolves the dispatch target. An
// unroutable status is logged as a warning and routed to end rather than
// failing the run.
func (sv *Supervisor) Route(state *ControlState) Target {
	state.AppendLog(LogEntry{
		Type:    LogSystem,
		Content: fmt.Sprintf("Supervisor processing status: %s", state.Status),
	})

	target, err := RouteStatus(state.Status)
	if err != nil {
		sv.logger.Warn("unknown status, ending workflow",
			"story_id", state.StoryID,
			"status", state.Status,
		)
		return TargetEnd
	}

	sv.logger.Info("supervisor routed",
		"story_id", state.StoryID,
		"status", state.Status,
		"target", target.String(),
	)
	return target
}
