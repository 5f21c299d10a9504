// Package interfaces defines all service interfaces for the module.
// IMPORTANT: This is the single source of truth for service interfaces.
// Do not define interfaces in other files.
package interfaces

import (
	"context"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"

	"github.com/clearfirm/compliance-module-audit/types"
)

// Storage Interfaces

// AuditStore defines the interface for audit entry storage backends.
// Implementations must never update or delete entries, and must return
// entries ordered by (CreatedAt, Sequence) ascending. GetMostRecentEntry,
// when called inside the ledger's per-tenant critical section, must
// reflect every previously completed append for that tenant.
type AuditStore interface {
	// AppendEntry persists a fully computed entry. It is insert-only.
	AppendEntry(ctx context.Context, entry *types.AuditEntry) error

	// GetMostRecentEntry returns the latest entry for a tenant, or
	// (nil, nil) when the tenant has no entries yet.
	GetMostRecentEntry(ctx context.Context, tenantID string) (*types.AuditEntry, error)

	// ListEntries returns the tenant's entries matching the filter, in
	// chain order.
	ListEntries(ctx context.Context, tenantID string, filter types.EntryFilter) ([]*types.AuditEntry, error)
}

// Ledger Interfaces

// Ledger defines the interface for the append-only, tamper-evident audit
// ledger. It is the sole writer of audit entries.
type Ledger interface {
	// Append creates, links and persists a new entry for the tenant.
	Append(ctx context.Context, tenantID string, draft types.EntryDraft) (*types.AuditEntry, error)

	// VerifyChain walks the tenant's full chain and reports its
	// integrity. Read-only; a broken chain is reported, never repaired.
	VerifyChain(ctx context.Context, tenantID string) (*types.VerificationResult, error)

	// Entries returns the tenant's entries matching the filter.
	Entries(ctx context.Context, tenantID string, filter types.EntryFilter) ([]*types.AuditEntry, error)

	// Export serializes the tenant's filtered entries in the given
	// format. A compromised chain blocks export. When sealer is non-nil
	// the payload is encrypted through it before being returned.
	Export(ctx context.Context, tenantID string, filter types.EntryFilter, format types.ExportFormat, sealer wrapping.Wrapper) ([]byte, error)
}

// Workflow Interfaces

// StatusPersister defines the interface the workflow engine uses to
// persist a validated status change. Implemented by the host platform's
// persistence layer; invoked only after validation succeeds.
type StatusPersister interface {
	ApplyStatusChange(ctx context.Context, entityType types.EntityType, entityID string, newStatus types.Status) error
}

// AuditRecorder defines the interface the workflow engine uses to record
// a completed transition in the audit trail.
type AuditRecorder interface {
	RecordTransition(ctx context.Context, rec *types.TransitionRecord) error
}

// Engine defines the interface for the workflow state machine driver, the
// single choke point through which entity status changes flow.
type Engine interface {
	// CanTransition reports whether the actor role may move the entity
	// type along the requested edge. Pure and side-effect free.
	CanTransition(entityType types.EntityType, from, to types.Status, role types.Role) types.TransitionDecision

	// ExecuteTransition re-validates the request and, if allowed, applies
	// the status change and records the audit entry.
	ExecuteTransition(ctx context.Context, req types.TransitionRequest) types.TransitionResult

	// Progress returns a 0-100 completion percentage for the status
	// within the entity type's state machine. UI affordance only.
	Progress(entityType types.EntityType, status types.Status) int
}
