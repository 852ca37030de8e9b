package session

import "errors"

var (
	ErrNameRequired     = errors.New("session name is required")
	ErrCapacityExceeded = errors.New("maximum number of active sessions reached")
)
