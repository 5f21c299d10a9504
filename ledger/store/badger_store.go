package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/clearfirm/compliance-module-audit/interfaces"
	"github.com/clearfirm/compliance-module-audit/types"
)

// BadgerConfig holds configuration for the embedded audit store.
type BadgerConfig struct {
	// Path is the directory for the database files. Ignored when
	// InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence). Useful for
	// testing.
	InMemory bool

	// SyncWrites enables synchronous writes. An audit trail should not
	// lose acknowledged entries on crash, so production configs keep
	// this on.
	SyncWrites bool
}

// DefaultBadgerConfig returns the production configuration for the given
// directory.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// InMemoryBadgerConfig returns a configuration for tests.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// BadgerStore implements the AuditStore interface on an embedded BadgerDB,
// for single-binary deployments without a database server. Keys are
// ordered by (tenant, sequence), so iteration order is chain order.
type BadgerStore struct {
	db     *badger.DB
	logger zerolog.Logger
}

var _ interfaces.AuditStore = (*BadgerStore)(nil)

// badgerLogger adapts zerolog to BadgerDB's Logger interface.
type badgerLogger struct {
	logger zerolog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Trace().Msgf(format, args...)
}

// NewBadgerStore opens an embedded audit store with the given
// configuration.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("store: path is required for a persistent badger store")
	}

	logger := log.With().Str("component", "badger_audit_store").Logger()

	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(&badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}

	return &BadgerStore{db: db, logger: logger}, nil
}

// Close releases the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// entryKey orders entries by (tenant, sequence). The sequence is
// zero-padded so lexicographic key order matches numeric order, and the
// tenant ID is length-prefixed so an ID containing the separator cannot
// fall inside another tenant's key range.
func entryKey(tenantID string, sequence uint64) []byte {
	return []byte(fmt.Sprintf("audit/%d/%s/%020d", len(tenantID), tenantID, sequence))
}

func tenantPrefix(tenantID string) []byte {
	return []byte(fmt.Sprintf("audit/%d/%s/", len(tenantID), tenantID))
}

// AppendEntry persists a fully computed entry. An existing key for the
// same (tenant, sequence) is rejected rather than overwritten.
func (s *BadgerStore) AppendEntry(ctx context.Context, entry *types.AuditEntry) error {
	if entry == nil {
		return fmt.Errorf("store: entry cannot be nil")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode audit entry: %w", err)
	}

	key := entryKey(entry.TenantID, entry.Sequence)
	err = s.db.Update(func(txn *badger.Txn) error {
		if _, getErr := txn.Get(key); getErr == nil {
			return fmt.Errorf("store: entry with sequence %d already exists for tenant %s", entry.Sequence, entry.TenantID)
		} else if getErr != badger.ErrKeyNotFound {
			return getErr
		}
		return txn.Set(key, raw)
	})
	if err != nil {
		return fmt.Errorf("failed to store audit entry: %w", err)
	}

	s.logger.Trace().
		Str("tenantId", entry.TenantID).
		Str("entryId", entry.ID).
		Uint64("sequence", entry.Sequence).
		Msg("Entry stored")

	return nil
}

// GetMostRecentEntry returns the latest entry for a tenant, or (nil, nil)
// when the tenant has no entries yet.
func (s *BadgerStore) GetMostRecentEntry(ctx context.Context, tenantID string) (*types.AuditEntry, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var entry *types.AuditEntry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = tenantPrefix(tenantID)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek to just past the tenant's key range; the first item in
		// reverse order is the highest sequence.
		seek := append(tenantPrefix(tenantID), 0xff)
		it.Seek(seek)
		if !it.Valid() {
			return nil
		}
		return it.Item().Value(func(val []byte) error {
			var e types.AuditEntry
			if err := json.Unmarshal(val, &e); err != nil {
				return fmt.Errorf("failed to decode audit entry: %w", err)
			}
			entry = &e
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read most recent audit entry: %w", err)
	}
	return entry, nil
}

// ListEntries returns the tenant's entries matching the filter, in chain
// order.
func (s *BadgerStore) ListEntries(ctx context.Context, tenantID string, filter types.EntryFilter) ([]*types.AuditEntry, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var matched []*types.AuditEntry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = tenantPrefix(tenantID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(tenantPrefix(tenantID)); it.Valid(); it.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var e types.AuditEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("failed to decode audit entry: %w", err)
			}
			if filter.Matches(&e) {
				matched = append(matched, &e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}

	return paginate(matched, filter.Offset, filter.Limit), nil
}
