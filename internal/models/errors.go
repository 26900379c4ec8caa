package models

import "errors"

// Error taxonomy. Callers match with errors.Is; wrapping adds the detail
// (which item, which dimension) without losing the category.
var (
	// ErrNotFound means the requested item or embedding does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDimensionMismatch means a vector's length does not match the
	// configured dimension for its modality or index.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrInvalidConfig means a caller- or config-supplied parameter is out
	// of range (non-positive k, bad num_lists, unknown modality).
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrExternalService wraps failures from the embedding or text
	// generation providers. Per-item refresh failures carrying this error
	// are retried next cycle, never fatal to a batch.
	ErrExternalService = errors.New("external service error")
)
