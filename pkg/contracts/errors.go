package contracts

import "errors"

// Failure taxonomy shared by every custody component. Callers match with
// errors.Is to decide whether an operation is retryable: ErrExternalCall is
// the only retryable kind, the rest are local validation failures that leave
// state untouched.
var (
	// ErrUnauthorized is returned when the caller lacks the required role.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidState is returned when an operation is attempted in a state
	// that forbids it (already executed, already confirmed, not yet releasable).
	ErrInvalidState = errors.New("invalid state")

	// ErrNotFound is returned for references to nonexistent proposals or assets.
	ErrNotFound = errors.New("not found")

	// ErrInvalidQuorum is returned when a registry mutation would leave the
	// quorum unreachable or zero.
	ErrInvalidQuorum = errors.New("invalid quorum")

	// ErrAlreadyRegistered is returned when an asset key is registered twice.
	ErrAlreadyRegistered = errors.New("already registered")

	// ErrNotOwned is returned when an ownership check against the asset's
	// external source does not show the managing party as holder.
	ErrNotOwned = errors.New("not owned")

	// ErrExternalCall is returned when an external transfer or action call
	// did not succeed. The underlying state remains retryable.
	ErrExternalCall = errors.New("external call failed")
)
