package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/clearfirm/compliance-module-audit/interfaces"
	"github.com/clearfirm/compliance-module-audit/types"
)

const auditCollection = "audit_entries"

// MongoDBStore implements the AuditStore interface using MongoDB. The
// collection is insert-only; no update or delete operation exists on this
// type.
type MongoDBStore struct {
	db *mongo.Database
}

// NewMongoDBStore creates a new MongoDB audit store.
func NewMongoDBStore(db *mongo.Database) *MongoDBStore {
	return &MongoDBStore{db: db}
}

var _ interfaces.AuditStore = (*MongoDBStore)(nil)

// EnsureIndexes creates the compound index backing chain-order reads and
// the per-tenant head lookup. Call once at startup.
func (s *MongoDBStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(auditCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "tenant_id", Value: 1},
			{Key: "created_at", Value: 1},
			{Key: "sequence", Value: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create audit index: %w", err)
	}
	return nil
}

// AppendEntry inserts a fully computed entry.
func (s *MongoDBStore) AppendEntry(ctx context.Context, entry *types.AuditEntry) error {
	if entry == nil {
		return fmt.Errorf("store: entry cannot be nil")
	}

	_, err := s.db.Collection(auditCollection).InsertOne(ctx, entry)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	log.Debug().
		Str("tenantId", entry.TenantID).
		Str("entryId", entry.ID).
		Uint64("sequence", entry.Sequence).
		Msg("Audit entry inserted")

	return nil
}

// GetMostRecentEntry returns the latest entry for a tenant, or (nil, nil)
// when the tenant has no entries yet.
func (s *MongoDBStore) GetMostRecentEntry(ctx context.Context, tenantID string) (*types.AuditEntry, error) {
	var entry types.AuditEntry
	err := s.db.Collection(auditCollection).FindOne(
		ctx,
		bson.M{"tenant_id": tenantID},
		options.FindOne().SetSort(bson.D{
			{Key: "created_at", Value: -1},
			{Key: "sequence", Value: -1},
		}),
	).Decode(&entry)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get most recent audit entry: %w", err)
	}
	normalizeEntry(&entry)
	return &entry, nil
}

// normalizeEntry rewrites BSON-decoded snapshot values back into the
// plain JSON types the entry's hash was computed over. The driver
// decodes embedded documents as bson.D and arrays as bson.A, neither of
// which serializes like the maps and slices the ledger stored, so a
// chain read back without this step would fail hash recomputation.
func normalizeEntry(e *types.AuditEntry) {
	e.BeforeState = normalizeState(e.BeforeState)
	e.AfterState = normalizeState(e.AfterState)
}

func normalizeState(m map[string]interface{}) map[string]interface{} {
	for k, v := range m {
		m[k] = normalizeValue(v)
	}
	return m
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.D:
		out := make(map[string]interface{}, len(t))
		for _, el := range t {
			out[el.Key] = normalizeValue(el.Value)
		}
		return out
	case bson.A:
		out := make([]interface{}, len(t))
		for i, el := range t {
			out[i] = normalizeValue(el)
		}
		return out
	default:
		return t
	}
}

// ListEntries returns the tenant's entries matching the filter, ordered by
// (created_at, sequence) ascending.
func (s *MongoDBStore) ListEntries(ctx context.Context, tenantID string, filter types.EntryFilter) ([]*types.AuditEntry, error) {
	query := bson.M{"tenant_id": tenantID}

	created := bson.M{}
	if !filter.From.IsZero() {
		created["$gte"] = filter.From
	}
	if !filter.To.IsZero() {
		created["$lte"] = filter.To
	}
	if len(created) > 0 {
		query["created_at"] = created
	}
	if filter.Action != "" {
		query["action"] = filter.Action
	}
	if filter.EntityType != "" {
		query["entity_type"] = filter.EntityType
	}
	if filter.EntityID != "" {
		query["entity_id"] = filter.EntityID
	}
	if filter.ActorID != "" {
		query["actor_id"] = filter.ActorID
	}

	opts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "sequence", Value: 1},
	})
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := s.db.Collection(auditCollection).Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*types.AuditEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode audit entries: %w", err)
	}
	for _, entry := range entries {
		normalizeEntry(entry)
	}
	return entries, nil
}
