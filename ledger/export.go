package ledger

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"

	"github.com/clearfirm/compliance-module-audit/types"
)

// csvHeader is the fixed column set of a tabular export. State snapshots
// and context travel as embedded JSON so the row stays flat.
var csvHeader = []string{
	"id", "tenant_id", "actor_id", "action", "entity_type", "entity_id",
	"before_state", "after_state", "context", "sequence",
	"previous_hash", "current_hash", "created_at",
}

// Export serializes the tenant's filtered entries. The chain is verified
// first: a compromised chain blocks export until investigated. Exports
// expose hash values only, never any other hashing material. When sealer
// is non-nil the serialized payload is encrypted through it and the
// resulting blob is returned as JSON.
func (l *auditLedger) Export(ctx context.Context, tenantID string, filter types.EntryFilter, format types.ExportFormat, sealer wrapping.Wrapper) ([]byte, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	if !format.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, format)
	}

	verification, err := l.VerifyChain(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !verification.Valid {
		l.logger.Error().
			Str("tenantId", tenantID).
			Str("reason", verification.Reason).
			Msg("Export blocked by chain integrity violation")
		return nil, fmt.Errorf("%w: %s", ErrChainCompromised, verification.Reason)
	}

	entries, err := l.store.ListEntries(ctx, tenantID, filter)
	if err != nil {
		return nil, &StorageError{Op: "list", TenantID: tenantID, Err: err}
	}

	var payload []byte
	switch format {
	case types.ExportJSONL:
		payload, err = exportJSONL(ctx, entries)
	case types.ExportCSV:
		payload, err = exportCSV(ctx, entries)
	}
	if err != nil {
		return nil, err
	}

	if sealer != nil {
		blob, sealErr := sealer.Encrypt(ctx, payload)
		if sealErr != nil {
			return nil, fmt.Errorf("failed to seal export for tenant %s: %w", tenantID, sealErr)
		}
		payload, err = json.Marshal(blob)
		if err != nil {
			return nil, fmt.Errorf("failed to encode sealed export: %w", err)
		}
	}

	l.logger.Info().
		Str("tenantId", tenantID).
		Str("format", string(format)).
		Int("entries", len(entries)).
		Bool("sealed", sealer != nil).
		Msg("Audit export produced")

	return payload, nil
}

func exportJSONL(ctx context.Context, entries []*types.AuditEntry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err := enc.Encode(entry); err != nil {
			return nil, fmt.Errorf("failed to encode entry %s: %w", entry.ID, err)
		}
	}
	return buf.Bytes(), nil
}

func exportCSV(ctx context.Context, entries []*types.AuditEntry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write export header: %w", err)
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		record, err := csvRecord(entry)
		if err != nil {
			return nil, err
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write entry %s: %w", entry.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush export: %w", err)
	}
	return buf.Bytes(), nil
}

func csvRecord(entry *types.AuditEntry) ([]string, error) {
	before, err := jsonCell(entry.BeforeState)
	if err != nil {
		return nil, fmt.Errorf("failed to encode before state of entry %s: %w", entry.ID, err)
	}
	after, err := jsonCell(entry.AfterState)
	if err != nil {
		return nil, fmt.Errorf("failed to encode after state of entry %s: %w", entry.ID, err)
	}
	entryCtx, err := jsonCell(entry.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to encode context of entry %s: %w", entry.ID, err)
	}
	return []string{
		entry.ID,
		entry.TenantID,
		entry.ActorID,
		string(entry.Action),
		entry.EntityType,
		entry.EntityID,
		before,
		after,
		entryCtx,
		strconv.FormatUint(entry.Sequence, 10),
		entry.PreviousHash,
		entry.CurrentHash,
		entry.CreatedAt.Format(timeFormat),
	}, nil
}

// timeFormat is RFC 3339 with nanoseconds, matching the hash pre-image
// timestamp encoding.
const timeFormat = "2006-01-02T15:04:05.999999999Z07:00"

func jsonCell(v interface{}) (string, error) {
	switch m := v.(type) {
	case map[string]interface{}:
		if len(m) == 0 {
			return "", nil
		}
	case map[string]string:
		if len(m) == 0 {
			return "", nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
