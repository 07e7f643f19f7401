package store

import "errors"

var (
	ErrConflict            = errors.New("conflict")
	ErrNotFound            = errors.New("not found")
	ErrIdempotencyConflict = errors.New("idempotency key conflict")
	// ErrTransient marks failures that may succeed on retry, such as
	// serialization failures and deadlocks.
	ErrTransient = errors.New("transient store failure")
	// ErrStale is returned by guarded writes when the row changed after the
	// caller read it.
	ErrStale = errors.New("stale write")
)
