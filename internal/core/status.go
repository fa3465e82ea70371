package core

import "strings"

// Status is the orchestration state of one story. The set is closed: every
// value the pipeline can produce is declared below, and routing is driven by
// an explicit table (see supervisor.go) rather than ad-hoc string matching.
type Status string

const (
	StatusInitializing Status = "INITIALIZING"

	StatusAwaitingConceptApproval    Status = "AWAITING_USER_APPROVAL_FOR_CONCEPT"
	StatusAwaitingCharactersApproval Status = "AWAITING_USER_APPROVAL_FOR_CHARACTERS"
	StatusAwaitingArcsApproval       Status = "AWAITING_USER_APPROVAL_FOR_ARCS"
	StatusAwaitingChaptersApproval   Status = "AWAITING_USER_APPROVAL_FOR_CHAPTERS"
	StatusAwaitingScenesApproval     Status = "AWAITING_USER_APPROVAL_FOR_SCENES"

	StatusConceptApproved    Status = "CONCEPT_APPROVED"
	StatusCharactersApproved Status = "CHARACTERS_APPROVED"
	StatusArcsApproved       Status = "ARCS_APPROVED"
	StatusChaptersApproved   Status = "CHAPTERS_APPROVED"
	StatusScenesApproved     Status = "SCENES_APPROVED"

	StatusAwaitingClarification Status = "AWAITING_USER_CLARIFICATION"
	StatusProcessingFeedback    Status = "PROCESSING_FEEDBACK"

	StatusAwaitingDeviationApproval Status = "AWAITING_DEVIATION_APPROVAL"
	StatusDeviationApproved         Status = "DEVIATION_APPROVED"

	StatusCharacterDevelopmentComplete Status = "CHARACTER_DEVELOPMENT_COMPLETE"
	StatusReadyForWriting              Status = "READY_FOR_WRITING"
	StatusSceneCompleted               Status = "SCENE_COMPLETED"
	StatusWritingComplete              Status = "WRITING_COMPLETE"

	StatusError Status = "ERROR"
)

// approvalMarker is the substring shared by every human-approval status.
// Approval routing matches on the marker, never on the full status value, so
// it always takes precedence over stage dispatch.
const approvalMarker = "AWAITING_USER_APPROVAL"

var knownStatuses = map[Status]struct{}{
	StatusInitializing:                 {},
	StatusAwaitingConceptApproval:      {},
	StatusAwaitingCharactersApproval:   {},
	StatusAwaitingArcsApproval:         {},
	StatusAwaitingChaptersApproval:     {},
	StatusAwaitingScenesApproval:       {},
	StatusConceptApproved:              {},
	StatusCharactersApproved:           {},
	StatusArcsApproved:                 {},
	StatusChaptersApproved:             {},
	StatusScenesApproved:               {},
	StatusAwaitingClarification:        {},
	StatusProcessingFeedback:           {},
	StatusAwaitingDeviationApproval:    {},
	StatusDeviationApproved:            {},
	StatusCharacterDevelopmentComplete: {},
	StatusReadyForWriting:              {},
	StatusSceneCompleted:               {},
	StatusWritingComplete:              {},
	StatusError:                        {},
}

// Known reports whether s is part of the closed status vocabulary.
func (s Status) Known() bool {
	_, ok := knownStatuses[s]
	return ok
}

// Terminal reports whether the pipeline is finished for this story. Terminal
// statuses absorb: resuming a terminal story is a no-op.
func (s Status) Terminal() bool {
	return s == StatusWritingComplete || s == StatusError
}

// AwaitingApproval reports whether s carries the human-approval marker.
func (s Status) AwaitingApproval() bool {
	return strings.Contains(string(s), approvalMarker)
}

// Suspended reports whether the driver must stop and wait for external input
// before this status can advance.
func (s Status) Suspended() bool {
	return s.AwaitingApproval() ||
		s == StatusAwaitingClarification ||
		s == StatusAwaitingDeviationApproval
}
