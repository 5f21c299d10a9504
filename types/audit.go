package types

import (
	"time"
)

// AuditAction is the closed set of actions an audit entry can record.
type AuditAction string

const (
	ActionCreate           AuditAction = "CREATE"
	ActionUpdate           AuditAction = "UPDATE"
	ActionDelete           AuditAction = "DELETE"
	ActionView             AuditAction = "VIEW"
	ActionExport           AuditAction = "EXPORT"
	ActionLogin            AuditAction = "LOGIN"
	ActionLogout           AuditAction = "LOGOUT"
	ActionFailedLogin      AuditAction = "FAILED_LOGIN"
	ActionPasswordChange   AuditAction = "PASSWORD_CHANGE"
	ActionRoleChange       AuditAction = "ROLE_CHANGE"
	ActionPermissionGrant  AuditAction = "PERMISSION_GRANT"
	ActionPermissionRevoke AuditAction = "PERMISSION_REVOKE"
	ActionDataExport       AuditAction = "DATA_EXPORT"
	ActionDataDeletion     AuditAction = "DATA_DELETION"
	ActionStatusChange     AuditAction = "STATUS_CHANGE"
)

// IsValid reports whether a is one of the known audit actions.
func (a AuditAction) IsValid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionView, ActionExport,
		ActionLogin, ActionLogout, ActionFailedLogin, ActionPasswordChange,
		ActionRoleChange, ActionPermissionGrant, ActionPermissionRevoke,
		ActionDataExport, ActionDataDeletion, ActionStatusChange:
		return true
	}
	return false
}

// AuditEntry is one immutable record in a tenant's hash-chained audit
// trail. Entries are created exactly once by the ledger and never mutated
// or deleted afterwards.
type AuditEntry struct {
	ID           string                 `json:"id" bson:"_id"`
	TenantID     string                 `json:"tenant_id" bson:"tenant_id"`
	ActorID      string                 `json:"actor_id,omitempty" bson:"actor_id,omitempty"`
	Action       AuditAction            `json:"action" bson:"action"`
	EntityType   string                 `json:"entity_type,omitempty" bson:"entity_type,omitempty"`
	EntityID     string                 `json:"entity_id,omitempty" bson:"entity_id,omitempty"`
	BeforeState  map[string]interface{} `json:"before_state,omitempty" bson:"before_state,omitempty"`
	AfterState   map[string]interface{} `json:"after_state,omitempty" bson:"after_state,omitempty"`
	Context      map[string]string      `json:"context,omitempty" bson:"context,omitempty"`
	Sequence     uint64                 `json:"sequence" bson:"sequence"`
	PreviousHash string                 `json:"previous_hash" bson:"previous_hash"`
	CurrentHash  string                 `json:"current_hash" bson:"current_hash"`
	CreatedAt    time.Time              `json:"created_at" bson:"created_at"`
}

// EntryDraft carries the caller-supplied fields of a new audit entry.
// The ledger assigns ID, Sequence, PreviousHash, CurrentHash and CreatedAt.
type EntryDraft struct {
	ActorID     string
	Action      AuditAction
	EntityType  string
	EntityID    string
	BeforeState map[string]interface{}
	AfterState  map[string]interface{}
	Context     map[string]string
}

// EntryFilter narrows ListEntries and Export results. Zero values match
// everything.
type EntryFilter struct {
	From       time.Time
	To         time.Time
	Action     AuditAction
	EntityType string
	EntityID   string
	ActorID    string
	Offset     int
	Limit      int
}

// Matches reports whether the entry passes the non-pagination criteria of
// the filter. Pagination is applied by the store after matching.
func (f EntryFilter) Matches(e *AuditEntry) bool {
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.CreatedAt.After(f.To) {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	return true
}

// VerificationResult is the outcome of a full chain walk for one tenant.
// A broken chain is reported through this structure, never as a panic, and
// is never repaired by the ledger.
type VerificationResult struct {
	Valid               bool      `json:"valid"`
	EntriesChecked      int       `json:"entries_checked"`
	FirstInvalidEntryID string    `json:"first_invalid_entry_id,omitempty"`
	Reason              string    `json:"reason,omitempty"`
	Aborted             bool      `json:"aborted,omitempty"`
	VerifiedAt          time.Time `json:"verified_at"`
}

// ExportFormat selects the serialization for ledger exports.
type ExportFormat string

const (
	// ExportJSONL emits one JSON object per line.
	ExportJSONL ExportFormat = "jsonl"
	// ExportCSV emits a header row followed by one record per entry.
	ExportCSV ExportFormat = "csv"
)

// IsValid reports whether the format is supported.
func (f ExportFormat) IsValid() bool {
	return f == ExportJSONL || f == ExportCSV
}
