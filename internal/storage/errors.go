package storage

import "errors"

var (
	// ErrNotFound means no row exists for the given id, regardless of owner.
	ErrNotFound = errors.New("not found")

	// ErrForbidden means the row exists but belongs to a different owner.
	// Kept distinct from ErrNotFound so operators can tell "doesn't exist"
	// from "not yours".
	ErrForbidden = errors.New("forbidden")

	// ErrConflict means a guarded status transition did not apply because
	// the session was not in the expected prior status.
	ErrConflict = errors.New("status conflict")
)
