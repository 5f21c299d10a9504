package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrTenantRequired is returned when an operation is called with an
	// empty tenant ID.
	ErrTenantRequired = errors.New("tenant ID is required")

	// ErrInvalidAction is returned when a draft carries an unknown audit
	// action.
	ErrInvalidAction = errors.New("invalid audit action")

	// ErrInvalidState is returned when a draft's state snapshot holds a
	// value that cannot be serialized into the hash pre-image.
	ErrInvalidState = errors.New("state snapshot is not serializable")

	// ErrInvalidFormat is returned when an export format is not
	// supported.
	ErrInvalidFormat = errors.New("invalid export format")

	// ErrChainCompromised is returned when an operation that depends on
	// chain trust (export) finds the chain invalid.
	ErrChainCompromised = errors.New("audit chain integrity compromised")
)

// StorageError wraps a failure of the storage collaborator with enough
// context for a caller-level retry decision. The ledger never retries
// internally.
type StorageError struct {
	Op       string
	TenantID string
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("audit storage %s failed for tenant %s: %v", e.Op, e.TenantID, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
