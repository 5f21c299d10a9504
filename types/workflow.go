package types

// Role is an actor role within a firm. Roles form a total order; a rule's
// minimum role admits that role and every role above it.
type Role string

const (
	RoleTrainee   Role = "TRAINEE"
	RoleAssociate Role = "ASSOCIATE"
	RoleSenior    Role = "SENIOR"
	RoleManager   Role = "MANAGER"
	RolePartner   Role = "PARTNER"
	RoleAdmin     Role = "ADMIN"
)

// roleRank encodes the total order over roles. Unknown roles rank below
// every known role.
var roleRank = map[Role]int{
	RoleTrainee:   1,
	RoleAssociate: 2,
	RoleSenior:    3,
	RoleManager:   4,
	RolePartner:   5,
	RoleAdmin:     6,
}

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r ranks at or above min in the role order.
func (r Role) AtLeast(min Role) bool {
	return roleRank[r] >= roleRank[min] && roleRank[r] > 0
}

// EntityType identifies a kind of workflowable entity.
type EntityType string

const (
	EntityEngagement EntityType = "ENGAGEMENT"
	EntityDocument   EntityType = "DOCUMENT"
)

// IsValid reports whether t is a known entity type.
func (t EntityType) IsValid() bool {
	return t == EntityEngagement || t == EntityDocument
}

// Status is a position in an entity type's state machine. The set of
// statuses for an entity type is defined entirely by the rule table.
type Status string

// Document statuses.
const (
	StatusDraft       Status = "DRAFT"
	StatusSubmitted   Status = "SUBMITTED"
	StatusUnderReview Status = "UNDER_REVIEW"
	StatusApproved    Status = "APPROVED"
	StatusRejected    Status = "REJECTED"
	StatusArchived    Status = "ARCHIVED"
)

// Engagement statuses.
const (
	StatusPlanned     Status = "PLANNED"
	StatusActive      Status = "ACTIVE"
	StatusFieldwork   Status = "FIELDWORK"
	StatusPartnerSign Status = "PARTNER_SIGNOFF"
	StatusFiled       Status = "FILED"
	StatusClosed      Status = "CLOSED"
	StatusOnHold      Status = "ON_HOLD"
)

// TransitionRule describes one legal edge in an entity type's state
// machine, annotated with the lowest role permitted to execute it.
type TransitionRule struct {
	EntityType       EntityType `json:"entity_type" yaml:"entity_type" validate:"required"`
	FromStatus       Status     `json:"from_status" yaml:"from" validate:"required"`
	ToStatus         Status     `json:"to_status" yaml:"to" validate:"required"`
	MinimumRole      Role       `json:"minimum_role" yaml:"minimum_role" validate:"required"`
	RequiresApproval bool       `json:"requires_approval" yaml:"requires_approval"`
}

// TransitionDecision is the outcome of a pure transition check.
type TransitionDecision struct {
	Allowed          bool   `json:"allowed"`
	Reason           string `json:"reason,omitempty"`
	RequiresApproval bool   `json:"requires_approval,omitempty"`
}

// TransitionRequest asks the engine to move one entity along one edge on
// behalf of an actor.
type TransitionRequest struct {
	TenantID      string
	EntityType    EntityType
	EntityID      string
	CurrentStatus Status
	TargetStatus  Status
	ActorID       string
	ActorRole     Role
	Comment       string
}

// TransitionResult reports the outcome of an executed transition. When the
// status change persisted but the audit append failed, Success is true and
// AuditErr carries the divergence; callers must treat that combination as
// an operator-alarm condition, not a routine failure.
type TransitionResult struct {
	Success   bool
	NewStatus Status
	Err       error
	AuditErr  error
}

// TransitionRecord describes a completed status change for the audit
// trail.
type TransitionRecord struct {
	TenantID   string
	EntityType EntityType
	EntityID   string
	FromStatus Status
	ToStatus   Status
	ActorID    string
	Comment    string
}
