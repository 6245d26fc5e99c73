// Package faults defines the error taxonomy shared across the regulatory core.
//
// Every package wraps these sentinels with fmt.Errorf("...: %w", ...) so callers
// can classify failures with errors.Is regardless of which component produced them.
package faults

import "errors"

var (
	// ErrNotFound — a referenced case, baseline, rule, version or result does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation — malformed input: empty justification, missing expiry,
	// baseline not approved, measurement against an unknown baseline.
	ErrValidation = errors.New("validation failed")

	// ErrPermissionDenied — a privileged mutation attempted by a non-supervisor role.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrStorageUnavailable — propagated from a collaborator store. The core never
	// retries; a silently dropped append would desynchronize the hash chain.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
