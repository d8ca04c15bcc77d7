package model

import "errors"

// Edit errors
var (
	// ErrChangeBudgetExceeded indicates the session-wide maximum number of changes was exceeded.
	ErrChangeBudgetExceeded = errors.New("maximum number of changes exceeded")

	// ErrPermissionDenied indicates an audit hook vetoed the change.
	ErrPermissionDenied = errors.New("change not permitted")
)

// Position errors
var (
	// ErrInvalidPosition indicates that a position is outside the grid bounds.
	ErrInvalidPosition = errors.New("position out of bounds")
)
