package ledger

import (
	"context"
	"fmt"

	"github.com/clearfirm/compliance-module-audit/interfaces"
	"github.com/clearfirm/compliance-module-audit/types"
)

// transitionRecorder adapts the ledger to the workflow engine's
// AuditRecorder collaborator: every completed status change becomes one
// STATUS_CHANGE entry with before/after status snapshots.
type transitionRecorder struct {
	ledger interfaces.Ledger
}

// NewTransitionRecorder creates an AuditRecorder that appends transition
// records to the given ledger.
func NewTransitionRecorder(l interfaces.Ledger) (interfaces.AuditRecorder, error) {
	if l == nil {
		return nil, fmt.Errorf("ledger is required for NewTransitionRecorder")
	}
	return &transitionRecorder{ledger: l}, nil
}

func (r *transitionRecorder) RecordTransition(ctx context.Context, rec *types.TransitionRecord) error {
	if rec == nil {
		return fmt.Errorf("transition record cannot be nil")
	}

	draft := types.EntryDraft{
		ActorID:    rec.ActorID,
		Action:     types.ActionStatusChange,
		EntityType: string(rec.EntityType),
		EntityID:   rec.EntityID,
		BeforeState: map[string]interface{}{
			"status": string(rec.FromStatus),
		},
		AfterState: map[string]interface{}{
			"status": string(rec.ToStatus),
		},
	}
	if rec.Comment != "" {
		draft.Context = map[string]string{"comment": rec.Comment}
	}

	_, err := r.ledger.Append(ctx, rec.TenantID, draft)
	return err
}
