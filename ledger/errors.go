/*
errors.go - Centralized error types for the ledger

ERROR CATEGORIES:
  1. Lookup errors - product / movement / sale not found
  2. Conflict errors - duplicate product, duplicate cancellation, import running
  3. Import errors - the whole document was rejected, store untouched
  4. Integrity errors - malformed movements, rewritten history

Validation of drafts is NOT reported through errors: see draft.Issue.
Storage errors raised during a commit are logged and swallowed; see
Ledger.persist.
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrProductNotFound  = errors.New("product not found")
	ErrProductExists    = errors.New("product already exists")
	ErrInvalidProduct   = errors.New("invalid product")
	ErrMovementNotFound = errors.New("movement not found")
	ErrSaleNotFound     = errors.New("sale order not found")

	// ErrAlreadyCancelled is returned when cancelling a movement that an
	// earlier CANCEL already annuls.
	ErrAlreadyCancelled = errors.New("movement already cancelled")

	// ErrCancelNotCancellable is returned when the target is itself a CANCEL.
	ErrCancelNotCancellable = errors.New("cancellation entries cannot be cancelled")

	// ErrImportInProgress blocks commits while a replacement document is read.
	ErrImportInProgress = errors.New("import in progress")

	ErrMalformedMovement = errors.New("malformed movement")
	ErrHistoryRewritten  = errors.New("existing movements were modified")
	ErrInvalidRange      = errors.New("invalid range: end before start")

	// ErrNotFound is returned by Storage.Get for a missing key.
	ErrNotFound = errors.New("key not found")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ImportError reports why a document was rejected. The ledger is unchanged.
type ImportError struct {
	Reason string
	Err    error
}

func (e *ImportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("import rejected: %s: %v", e.Reason, e.Err)
	}
	return "import rejected: " + e.Reason
}

func (e *ImportError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrMovementNotFound) ||
		errors.Is(err, ErrSaleNotFound)
}

// IsConflict returns true if the request clashes with current ledger state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrProductExists) ||
		errors.Is(err, ErrAlreadyCancelled) ||
		errors.Is(err, ErrImportInProgress)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	var ie *ImportError
	return errors.As(err, &ie) ||
		errors.Is(err, ErrInvalidProduct) ||
		errors.Is(err, ErrCancelNotCancellable) ||
		errors.Is(err, ErrInvalidRange)
}
