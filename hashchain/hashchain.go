// Package hashchain provides the cryptographic link between successive
// audit entries. Each entry's hash covers its own content plus the hash of
// the entry before it, so a retroactive edit anywhere in a tenant's trail
// breaks every link that follows.
package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/clearfirm/compliance-module-audit/types"
)

// GenesisHash is the PreviousHash sentinel for the first entry of a
// tenant's chain.
const GenesisHash = "none"

// hashContent is the canonical hash pre-image of an audit entry: every
// field except ID and CurrentHash, with PreviousHash included. Field order
// is fixed by the struct, and encoding/json marshals map keys in sorted
// order, so equal logical content always serializes identically regardless
// of in-memory insertion order.
type hashContent struct {
	TenantID     string                 `json:"tenant_id"`
	ActorID      string                 `json:"actor_id"`
	Action       types.AuditAction      `json:"action"`
	EntityType   string                 `json:"entity_type"`
	EntityID     string                 `json:"entity_id"`
	BeforeState  map[string]interface{} `json:"before_state"`
	AfterState   map[string]interface{} `json:"after_state"`
	Context      map[string]string      `json:"context"`
	Sequence     uint64                 `json:"sequence"`
	PreviousHash string                 `json:"previous_hash"`
	CreatedAt    string                 `json:"created_at"`
}

// ComputeHash returns the hex SHA-256 digest of the entry's canonical
// content. Pure; never fails for a well-formed entry.
func ComputeHash(entry *types.AuditEntry) string {
	content := hashContent{
		TenantID:     entry.TenantID,
		ActorID:      entry.ActorID,
		Action:       entry.Action,
		EntityType:   entry.EntityType,
		EntityID:     entry.EntityID,
		BeforeState:  entry.BeforeState,
		AfterState:   entry.AfterState,
		Context:      entry.Context,
		Sequence:     entry.Sequence,
		PreviousHash: entry.PreviousHash,
		CreatedAt:    entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	}

	// Snapshot values are canonicalized to JSON types before an entry
	// is created, so marshaling the pre-image cannot fail.
	raw, _ := json.Marshal(content)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// VerifyLink reports whether entry correctly extends prev. A nil prev
// means entry must be the first of its chain and carry the genesis
// sentinel. In all cases entry's stored hash must match its recomputed
// content hash.
func VerifyLink(prev, entry *types.AuditEntry) bool {
	if entry == nil {
		return false
	}
	if prev == nil {
		if entry.PreviousHash != GenesisHash {
			return false
		}
	} else if entry.PreviousHash != prev.CurrentHash {
		return false
	}
	return entry.CurrentHash == ComputeHash(entry)
}
