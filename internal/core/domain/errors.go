package domain

import "errors"

// Sentinel errors shared across repositories and handlers. Repositories
// translate driver-level "no rows" conditions into ErrNotFound so callers
// never depend on SQL details.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("forbidden")
)
