package core

import (
	"fmt"
	"strings"
)

// Checkpoint transforms are pure: they compute the delta that applies once
// the external decision has arrived. The driver is responsible for actually
// suspending at these points; nothing here runs automatically.

// approvalTransitions maps the segment embedded in an approval-pending status
// to the approved status. Matching is by substring against the pending status
// text, checked in this order.
var approvalTransitions = []struct {
	segment string
	next    Status
}{
	{"CONCEPT", StatusConceptApproved},
	{"CHARACTERS", StatusCharactersApproved},
	{"ARCS", StatusArcsApproved},
	{"CHAPTERS", StatusChaptersApproved},
	{"SCENES", StatusScenesApproved},
}

// ApprovalCheckpoint maps an approval-pending status to its approved
// counterpart, consuming the feedback that carried the decision.
func ApprovalCheckpoint(state ControlState) Delta {
	for _, tr := range approvalTransitions {
		if strings.Contains(string(state.Status), tr.segment) {
			return Delta{
				Status:          tr.next,
				ConsumeFeedback: true,
				Log: []LogEntry{{
					Type:    LogUserApproval,
					Content: fmt.Sprintf("User approved: %s", state.Status),
				}},
			}
		}
	}

	// A status routed here without a recognized segment is a protocol bug.
	return Delta{
		Status: StatusError,
		Log: []LogEntry{{
			Type:    LogError,
			Content: fmt.Sprintf("approval checkpoint reached with unrecognized status %s", state.Status),
		}},
	}
}

// ClarificationCheckpoint records the user's answer: the pending question and
// any pending deviation are cleared together, and the pipeline moves to
// feedback processing. The feedback itself stays on the state for the next
// stage to consume.
func ClarificationCheckpoint(state ControlState) Delta {
	return Delta{
		Status:         StatusProcessingFeedback,
		ClearQuestion:  true,
		ClearDeviation: true,
		Log: []LogEntry{{
			Type:    LogUserFeedback,
			Content: state.LastUserFeedback,
		}},
	}
}

// DeviationCheckpoint approves a pending deviation proposal. Invoking it with
// no proposal present is a consistency error and forces ERROR.
func DeviationCheckpoint(state ControlState) Delta {
	if state.PendingDeviation == nil {
		err := &ConsistencyError{Checkpoint: "deviation", Message: "no deviation proposal found"}
		return Delta{
			Status: StatusError,
			Log: []LogEntry{{
				Type:    LogError,
				Content: err.Error(),
			}},
		}
	}

	return Delta{
		Status:          StatusDeviationApproved,
		ClearDeviation:  true,
		ConsumeFeedback: true,
		SceneCursor:     state.PendingDeviation.SceneID,
		Log: []LogEntry{{
			Type:    LogDeviationApproved,
			Content: fmt.Sprintf("Deviation approved for scene %s", state.PendingDeviation.SceneID),
		}},
	}
}
