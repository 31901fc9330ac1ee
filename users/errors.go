package users

import "errors"

var (
	// ErrNotFound indicates no user matches the given id or identifier.
	ErrNotFound = errors.New("user not found")
	// ErrIdentifierTaken indicates another user already holds the identifier.
	ErrIdentifierTaken = errors.New("identifier already taken")
	// ErrInvalidInput indicates a missing or malformed identifier or password.
	ErrInvalidInput = errors.New("invalid user input")
	// ErrConflict indicates the record changed since it was read.
	ErrConflict = errors.New("user record modified concurrently")
)
