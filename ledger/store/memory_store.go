// Package store provides storage adapters for audit entries.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/clearfirm/compliance-module-audit/interfaces"
	"github.com/clearfirm/compliance-module-audit/types"
)

// MemoryStore implements the AuditStore interface with in-memory storage.
// Entries are held per tenant in append order, which is also chain order
// because the ledger serializes appends per tenant. Intended for tests and
// embedded use.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string][]*types.AuditEntry
	logger  *zerolog.Logger
}

// NewMemoryStore creates a new in-memory audit store.
func NewMemoryStore() *MemoryStore {
	logger := log.With().Str("component", "memory_audit_store").Logger()
	return &MemoryStore{
		tenants: make(map[string][]*types.AuditEntry),
		logger:  &logger,
	}
}

var _ interfaces.AuditStore = (*MemoryStore)(nil)

// AppendEntry persists a fully computed entry. Entries are copied in so
// later caller-side mutation cannot reach stored state.
func (s *MemoryStore) AppendEntry(ctx context.Context, entry *types.AuditEntry) error {
	if entry == nil {
		return errors.New("store: entry cannot be nil")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.tenants[entry.TenantID] {
		if existing.ID == entry.ID {
			return fmt.Errorf("store: duplicate entry ID %s", entry.ID)
		}
	}

	s.tenants[entry.TenantID] = append(s.tenants[entry.TenantID], copyEntry(entry))

	s.logger.Trace().
		Str("tenantId", entry.TenantID).
		Str("entryId", entry.ID).
		Uint64("sequence", entry.Sequence).
		Msg("Entry stored")

	return nil
}

// GetMostRecentEntry returns the latest entry for a tenant, or (nil, nil)
// when the tenant has no entries yet.
func (s *MemoryStore) GetMostRecentEntry(ctx context.Context, tenantID string) (*types.AuditEntry, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.tenants[tenantID]
	if len(entries) == 0 {
		return nil, nil
	}
	return copyEntry(entries[len(entries)-1]), nil
}

// ListEntries returns the tenant's entries matching the filter, in chain
// order.
func (s *MemoryStore) ListEntries(ctx context.Context, tenantID string, filter types.EntryFilter) ([]*types.AuditEntry, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*types.AuditEntry
	for _, entry := range s.tenants[tenantID] {
		if filter.Matches(entry) {
			matched = append(matched, entry)
		}
	}

	matched = paginate(matched, filter.Offset, filter.Limit)

	out := make([]*types.AuditEntry, 0, len(matched))
	for _, entry := range matched {
		out = append(out, copyEntry(entry))
	}
	return out, nil
}

// paginate applies offset/limit to an already filtered, ordered slice.
func paginate(entries []*types.AuditEntry, offset, limit int) []*types.AuditEntry {
	if offset > 0 {
		if offset >= len(entries) {
			return nil
		}
		entries = entries[offset:]
	}
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries
}

// copyEntry returns a deep copy so stored entries stay immutable.
func copyEntry(e *types.AuditEntry) *types.AuditEntry {
	c := *e
	if e.BeforeState != nil {
		c.BeforeState = make(map[string]interface{}, len(e.BeforeState))
		for k, v := range e.BeforeState {
			c.BeforeState[k] = v
		}
	}
	if e.AfterState != nil {
		c.AfterState = make(map[string]interface{}, len(e.AfterState))
		for k, v := range e.AfterState {
			c.AfterState[k] = v
		}
	}
	if e.Context != nil {
		c.Context = make(map[string]string, len(e.Context))
		for k, v := range e.Context {
			c.Context[k] = v
		}
	}
	return &c
}
