// Package workflow holds the shared request shape and the pure two-stage
// approval state machine. Nothing in this package performs I/O.
package workflow

// Status is the lifecycle state of a requestable record.
type Status string

const (
	StatusDraft                Status = "DRAFT"
	StatusSubmitted            Status = "SUBMITTED"
	StatusApprovedByAccountant Status = "APPROVED_BY_ACCOUNTANT"
	StatusRejectedByAccountant Status = "REJECTED_BY_ACCOUNTANT"
	StatusApprovedFinal        Status = "APPROVED_FINAL"
	StatusRejectedByManager    Status = "REJECTED_BY_MANAGER"
)

var validStatuses = map[Status]bool{
	StatusDraft:                true,
	StatusSubmitted:            true,
	StatusApprovedByAccountant: true,
	StatusRejectedByAccountant: true,
	StatusApprovedFinal:        true,
	StatusRejectedByManager:    true,
}

var terminalStatuses = map[Status]bool{
	StatusRejectedByAccountant: true,
	StatusApprovedFinal:        true,
	StatusRejectedByManager:    true,
}

// IsValid reports whether s is one of the six lifecycle states.
func (s Status) IsValid() bool { return validStatuses[s] }

// IsTerminal reports whether no further transition is legal from s.
func (s Status) IsTerminal() bool { return terminalStatuses[s] }

func (s Status) String() string { return string(s) }

// Stage identifies which review stage an action exercises. The stage is an
// input to the engine, never derived from the actor's literal role, so an
// admin acting in place of an accountant still produces an ACCOUNTANT entry.
type Stage string

const (
	StageAccountant Stage = "ACCOUNTANT"
	StageManager    Stage = "MANAGER"
)

// Action is a review decision.
type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionReject  Action = "REJECT"
)

// Role is an actor's role as supplied by the identity provider.
type Role string

const (
	RoleUser           Role = "USER"
	RoleAccountant     Role = "ACCOUNTANT"
	RoleManager        Role = "MANAGER"
	RoleAdmin          Role = "ADMIN"
	RoleStoresApprover Role = "STORES_APPROVER"
)

// stageRoles maps each stage to the role it requires. ADMIN may act in place
// of either.
var stageRoles = map[Stage]Role{
	StageAccountant: RoleAccountant,
	StageManager:    RoleManager,
}

// RoleAllowed reports whether role may exercise the given stage.
func RoleAllowed(stage Stage, role Role) bool {
	if role == RoleAdmin {
		return true
	}
	return stageRoles[stage] == role
}
