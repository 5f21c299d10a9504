// Package ledger implements the append-only, tamper-evident audit ledger.
// It is the sole writer of audit entries: it links each new entry to the
// tenant's most recent one, and it verifies whole chains without ever
// repairing them.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/clearfirm/compliance-module-audit/hashchain"
	"github.com/clearfirm/compliance-module-audit/interfaces"
	"github.com/clearfirm/compliance-module-audit/types"
)

// auditLedger implements the Ledger interface on top of an injected
// AuditStore.
type auditLedger struct {
	store  interfaces.AuditStore
	logger zerolog.Logger

	// mu guards tenantLocks. Each tenant gets its own mutex so that
	// "read most recent entry, compute next hash, write" is atomic per
	// tenant while appends for different tenants proceed in parallel.
	mu          sync.Mutex
	tenantLocks map[string]*sync.Mutex
}

// NewLedger creates a new audit ledger backed by the given store.
func NewLedger(store interfaces.AuditStore, opLogger zerolog.Logger) (interfaces.Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("store (AuditStore) is required for NewLedger")
	}
	if opLogger.GetLevel() == zerolog.Disabled {
		opLogger = log.With().Str("component", "audit_ledger").Logger()
	}
	return &auditLedger{
		store:       store,
		logger:      opLogger,
		tenantLocks: make(map[string]*sync.Mutex),
	}, nil
}

// canonicalState normalizes a snapshot through a JSON round trip so the
// hash pre-image holds only JSON value types. The stored form and any
// form read back from a storage backend then serialize identically, and
// a snapshot holding an unserializable value is rejected here instead of
// corrupting the hash.
func canonicalState(m map[string]interface{}) (map[string]interface{}, error) {
	if len(m) == 0 {
		return m, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// lockTenant returns the mutex serializing appends for one tenant,
// creating it on first use.
func (l *auditLedger) lockTenant(tenantID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	tl, ok := l.tenantLocks[tenantID]
	if !ok {
		tl = &sync.Mutex{}
		l.tenantLocks[tenantID] = tl
	}
	return tl
}

// Append creates a new entry linked to the tenant's chain head and
// persists it. Storage failures are surfaced as *StorageError; the ledger
// does not retry.
func (l *auditLedger) Append(ctx context.Context, tenantID string, draft types.EntryDraft) (*types.AuditEntry, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	if !draft.Action.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, draft.Action)
	}
	beforeState, err := canonicalState(draft.BeforeState)
	if err != nil {
		return nil, fmt.Errorf("%w: before state: %v", ErrInvalidState, err)
	}
	afterState, err := canonicalState(draft.AfterState)
	if err != nil {
		return nil, fmt.Errorf("%w: after state: %v", ErrInvalidState, err)
	}

	tl := l.lockTenant(tenantID)
	tl.Lock()
	defer tl.Unlock()

	head, err := l.store.GetMostRecentEntry(ctx, tenantID)
	if err != nil {
		return nil, &StorageError{Op: "read head", TenantID: tenantID, Err: err}
	}

	entry := &types.AuditEntry{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		ActorID:      draft.ActorID,
		Action:       draft.Action,
		EntityType:   draft.EntityType,
		EntityID:     draft.EntityID,
		BeforeState:  beforeState,
		AfterState:   afterState,
		Context:      draft.Context,
		Sequence:     1,
		PreviousHash: hashchain.GenesisHash,
		// Millisecond precision: BSON datetimes carry nothing finer, so a
		// higher-resolution timestamp would not survive a round trip
		// through the MongoDB store and the hash could not be recomputed.
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if head != nil {
		entry.Sequence = head.Sequence + 1
		entry.PreviousHash = head.CurrentHash
		// Wall clocks are not guaranteed monotonic at sub-millisecond
		// append rates; the sequence number is the tie-break, but
		// CreatedAt must still never run backwards within a chain.
		if entry.CreatedAt.Before(head.CreatedAt) {
			entry.CreatedAt = head.CreatedAt
		}
	}
	entry.CurrentHash = hashchain.ComputeHash(entry)

	if err := l.store.AppendEntry(ctx, entry); err != nil {
		return nil, &StorageError{Op: "append", TenantID: tenantID, Err: err}
	}

	l.logger.Debug().
		Str("tenantId", tenantID).
		Str("entryId", entry.ID).
		Str("action", string(entry.Action)).
		Uint64("sequence", entry.Sequence).
		Msg("Audit entry appended")

	return entry, nil
}

// VerifyChain walks the tenant's entries in chain order and checks every
// link. An empty chain is trivially valid. A cancelled walk returns an
// aborted result, which is distinct from a verified-valid one.
func (l *auditLedger) VerifyChain(ctx context.Context, tenantID string) (*types.VerificationResult, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	entries, err := l.store.ListEntries(ctx, tenantID, types.EntryFilter{})
	if err != nil {
		return nil, &StorageError{Op: "list", TenantID: tenantID, Err: err}
	}

	result := &types.VerificationResult{Valid: true, VerifiedAt: time.Now().UTC()}

	var prev *types.AuditEntry
	for _, entry := range entries {
		if ctx.Err() != nil {
			result.Valid = false
			result.Aborted = true
			result.Reason = fmt.Sprintf("verification aborted: %v", ctx.Err())
			return result, ctx.Err()
		}

		if !hashchain.VerifyLink(prev, entry) {
			result.Valid = false
			result.FirstInvalidEntryID = entry.ID
			result.Reason = linkFailureReason(prev, entry)
			result.EntriesChecked++

			l.logger.Error().
				Str("tenantId", tenantID).
				Str("entryId", entry.ID).
				Str("reason", result.Reason).
				Msg("Audit chain integrity violation detected")

			return result, nil
		}

		result.EntriesChecked++
		prev = entry
	}

	l.logger.Debug().
		Str("tenantId", tenantID).
		Int("entriesChecked", result.EntriesChecked).
		Msg("Audit chain verified")

	return result, nil
}

// linkFailureReason distinguishes a broken link from tampered content for
// the verification report.
func linkFailureReason(prev, entry *types.AuditEntry) string {
	if prev == nil {
		if entry.PreviousHash != hashchain.GenesisHash {
			return fmt.Sprintf("entry %s: first entry does not carry the genesis sentinel", entry.ID)
		}
	} else if entry.PreviousHash != prev.CurrentHash {
		return fmt.Sprintf("entry %s: previous hash does not match hash of entry %s", entry.ID, prev.ID)
	}
	return fmt.Sprintf("entry %s: stored hash does not match recomputed content hash", entry.ID)
}

// Entries returns the tenant's entries matching the filter, in chain
// order.
func (l *auditLedger) Entries(ctx context.Context, tenantID string, filter types.EntryFilter) ([]*types.AuditEntry, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	entries, err := l.store.ListEntries(ctx, tenantID, filter)
	if err != nil {
		return nil, &StorageError{Op: "list", TenantID: tenantID, Err: err}
	}
	return entries, nil
}
