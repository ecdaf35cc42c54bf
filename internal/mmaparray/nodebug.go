//go:build !debug

package mmaparray

// checkBounds is a no-op in release builds: callers (segment/indexing code)
// are trusted to pass in-range ordinals, matching spec.md §4.1's "mismatched
// lengths are a programmer error, not a runtime error" contract extended to
// random access.
func checkBounds(i, n int) {}
