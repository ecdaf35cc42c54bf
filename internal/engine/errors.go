// Package engine glues segments, the WAL, the version map, and the
// optimizer into one index instance (spec.md §4.8): insert/delete/search/
// flush/stat. Grounded on app.go's App facade pattern (one struct holding
// every service, public methods delegating to them), generalized here to
// an Instance holding the engine's own services instead of a helpdesk's.
package engine

import "errors"

// Sentinel error kinds spec.md §7 names. Operation-specific detail is
// wrapped onto these with fmt.Errorf("...: %w", ...).
var (
	ErrConfigInvalid     = errors.New("engine: config invalid")
	ErrDimensionMismatch = errors.New("engine: dimension mismatch")
	ErrVectorMalformed   = errors.New("engine: vector malformed")
	ErrUnsupported       = errors.New("engine: unsupported")
	ErrIoError           = errors.New("engine: io error")
	ErrCorrupted         = errors.New("engine: corrupted")
	ErrResourceExhausted = errors.New("engine: resource exhausted")
)
