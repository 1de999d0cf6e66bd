package engine

import (
	"errors"

	"github.com/tlarkin/revu/internal/store"
)

// Error taxonomy for the review engine. Conflict and Validation indicate a
// caller-side decision is needed; ScanFailed and OperationFailed surface
// external-call failures verbatim with no retry inside the engine. A failed
// transition always leaves the session in its last well-defined state.
var (
	// ErrConflict means an active (non-archived) session already holds the
	// (owner, service) slot, or the target session is archived and sealed.
	ErrConflict = errors.New("conflict")

	// ErrNotFound aliases the store sentinel so callers test one error.
	ErrNotFound = store.ErrNotFound

	// ErrScanFailed wraps a failed external scan.
	ErrScanFailed = errors.New("scan failed")

	// ErrOperationFailed wraps any other external-call failure, including
	// timeouts reported by the collaborator layer.
	ErrOperationFailed = errors.New("operation failed")

	// ErrValidation means the caller supplied bad input.
	ErrValidation = errors.New("validation error")
)
