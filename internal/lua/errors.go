package lua

import "errors"

var (
	// ErrClosed is returned by a Sandbox after Close.
	ErrClosed = errors.New("lua sandbox closed")

	// ErrNoFunction is returned when Call names an unbound global.
	ErrNoFunction = errors.New("lua function not defined")

	// ErrLimitExceeded is returned when a script runs out of its CPU or
	// memory budget.
	ErrLimitExceeded = errors.New("lua resource limit exceeded")

	// ErrNotTable is returned when a value expected to be a table is not.
	ErrNotTable = errors.New("lua value is not a table")
)
