package domain

import "errors"

// Error taxonomy for the engine. Batch operations collect these per pair;
// single-entity operations return the first one encountered.
var (
	// ErrNotFound reports a missing definition, person, scope, or instance.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyAssigned reports that an obligation instance already exists
	// for the de-duplication key. It is a no-op outcome, not a failure:
	// batch results exclude it from the error list.
	ErrAlreadyAssigned = errors.New("already assigned")

	// ErrAuthorizationDenied reports an undo or unlock attempted by an
	// actor who neither owns the record nor holds the admin role.
	ErrAuthorizationDenied = errors.New("authorization denied")

	// ErrStoreUnavailable reports a transient backing-store failure.
	ErrStoreUnavailable = errors.New("store unavailable")
)
