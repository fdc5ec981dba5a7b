package domain

import "errors"

var (
	// ErrNotFound means the conversation was never created or has expired.
	ErrNotFound = errors.New("conversation not found")

	// ErrStoreUnavailable wraps timeouts and connection failures of the
	// conversation store. It must never be reported as ErrNotFound.
	ErrStoreUnavailable = errors.New("conversation store unavailable")

	ErrInvalidRole = errors.New("invalid message role")
)
