package workflow

import (
	"errors"
	"fmt"

	"github.com/clearfirm/compliance-module-audit/types"
)

var (
	// ErrNoRules is returned when a rule set is constructed without any
	// transition rules.
	ErrNoRules = errors.New("rule set contains no transition rules")

	// ErrRuleConfig is returned when a rule table fails its startup
	// consistency check. A defective table is a configuration defect,
	// not a runtime error.
	ErrRuleConfig = errors.New("invalid transition rule configuration")
)

// ValidationError reports an illegal or role-forbidden transition. It is
// terminal for the request and never retried.
type ValidationError struct {
	EntityType types.EntityType
	FromStatus types.Status
	ToStatus   types.Status
	ActorRole  types.Role
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("transition %s %s -> %s denied: %s", e.EntityType, e.FromStatus, e.ToStatus, e.Reason)
}

// PartialTransitionError reports that an entity's status changed but the
// audit append failed, so the observable status and the audit trail have
// diverged. This is an operator-alarm condition, distinct from an ordinary
// storage failure.
type PartialTransitionError struct {
	TenantID   string
	EntityType types.EntityType
	EntityID   string
	FromStatus types.Status
	ToStatus   types.Status
	Err        error
}

func (e *PartialTransitionError) Error() string {
	return fmt.Sprintf("status of %s %s changed %s -> %s but audit append failed for tenant %s: %v",
		e.EntityType, e.EntityID, e.FromStatus, e.ToStatus, e.TenantID, e.Err)
}

func (e *PartialTransitionError) Unwrap() error {
	return e.Err
}
