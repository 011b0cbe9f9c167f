package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized indicates a missing or rejected API token.
	ErrUnauthorized = errors.New("unauthorized")
)
