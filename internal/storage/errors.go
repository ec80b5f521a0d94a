package storage

import "errors"

var (
	// ErrConflict: the trip was already claimed, the email is taken, or
	// concurrent writers kept changing the document.
	ErrConflict = errors.New("conflict")
	// ErrAuth: no user matches the given credentials.
	ErrAuth = errors.New("invalid email or password")
	// ErrNotFound: unknown user or trip id.
	ErrNotFound = errors.New("not found")
	// ErrTransport: the store is unreachable or answered with something
	// that is not a session document.
	ErrTransport = errors.New("store unavailable")
	ErrInvalid   = errors.New("invalid input")
)
