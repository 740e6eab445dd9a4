package durablemap

import (
	"errors"
	"fmt"
)

// Error kinds returned by Map operations. Callers should compare with errors.Is;
// the concrete values wrapped by these sentinels carry additional context via %w.
var (
	// ErrNotFound is returned when a lookup-by-key finds no entry.
	ErrNotFound = errors.New("durablemap: key not found")

	// ErrDuplicateKey is returned by Add when the key is already present.
	ErrDuplicateKey = errors.New("durablemap: key already exists")

	// ErrNullKey is returned when an operation is given a zero-value key where a
	// real key is required. Generic code cannot compare a K to "nil" directly, so
	// this is only raised for key types isNullKey knows how to inspect (a nil or
	// zero-length []byte, or an empty string) - other key types have no such
	// concept and are never rejected this way.
	ErrNullKey = errors.New("durablemap: nil key")

	// ErrLockHeld is returned when the write lock is held by another live process
	// and the spin/escalation budget in WriteLock is exhausted.
	ErrLockHeld = errors.New("durablemap: write lock held by another process")

	// ErrConcurrentlyModified is returned by an iterator that observes the version
	// counter advance during iteration (fail-fast semantics, see Iterate).
	ErrConcurrentlyModified = errors.New("durablemap: map modified during iteration")

	// ErrCorrupt is returned when the recovery engine encounters a state it
	// cannot reconcile - an unrecognised recovery-flag bit, a bad magic number, or
	// a format-version mismatch between the two files of a pair.
	ErrCorrupt = errors.New("durablemap: corrupt map state")

	// ErrFatal indicates the release-time CAS on the write lock observed a
	// different holder than self: another process stole the lock while this
	// process believed it still held it. This is not recoverable within the
	// process; the caller must stop using this Map instance.
	ErrFatal = errors.New("durablemap: write lock stolen mid-operation, process must stop using this map")
)

// wrapf wraps sentinel with formatted context while still satisfying
// errors.Is against it.
func wrapf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}

// isNullKey reports whether key is a "null" key for the key types where that
// concept is meaningful: a nil or zero-length []byte, or an empty string.
// Codec-backed numeric and fixed-struct keys have no such concept and are
// never null.
func isNullKey[K any](key K) bool {
	switch k := any(key).(type) {
	case []byte:
		return len(k) == 0
	case string:
		return k == ""
	default:
		return false
	}
}
