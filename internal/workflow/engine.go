package workflow

import (
	"strings"
	"time"

	"github.com/techcesstechnology/stanchion-approvals/internal/apperr"
)

type transitionKey struct {
	current Status
	action  Action
	stage   Stage
}

// transitions is the complete set of legal review transitions. Anything not
// in this table is an illegal transition.
var transitions = map[transitionKey]Status{
	{StatusSubmitted, ActionApprove, StageAccountant}:         StatusApprovedByAccountant,
	{StatusSubmitted, ActionReject, StageAccountant}:          StatusRejectedByAccountant,
	{StatusApprovedByAccountant, ActionApprove, StageManager}: StatusApprovedFinal,
	{StatusApprovedByAccountant, ActionReject, StageManager}:  StatusRejectedByManager,
}

// Transition computes the next status and the trail entry for a review
// action. It is pure: no I/O, no clock reads (the caller supplies `at`).
//
// Rules:
//   - the (current, action, stage) triple must appear in the transition
//     table, otherwise INVALID_STATE;
//   - the actor's role must be allowed for the stage (ADMIN overrides
//     either), otherwise FORBIDDEN;
//   - a rejection requires a non-empty note, otherwise VALIDATION_FAILED.
//
// The trail entry records the stage exercised, not the actor's literal role.
func Transition(current Status, action Action, stage Stage, actor Actor, note string, at time.Time) (Status, TrailEntry, error) {
	if !RoleAllowed(stage, actor.Role) {
		return "", TrailEntry{}, apperr.Newf(apperr.CodeForbidden,
			"role %s cannot act at the %s stage", actor.Role, stage)
	}

	if action == ActionReject && strings.TrimSpace(note) == "" {
		return "", TrailEntry{}, apperr.InvalidInput("note", "a rejection requires a reason")
	}

	next, ok := transitions[transitionKey{current, action, stage}]
	if !ok {
		return "", TrailEntry{}, apperr.Newf(apperr.CodeInvalidState,
			"cannot %s at the %s stage from status %s", action, stage, current)
	}

	entry := TrailEntry{
		Action: action,
		Stage:  stage,
		ByUID:  actor.UID,
		ByName: actor.DisplayName,
		Note:   note,
		At:     at,
	}
	return next, entry, nil
}
