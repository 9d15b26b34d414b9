package push

import "errors"

// Repository errors.
var (
	ErrItemNotFound     = errors.New("work item not found")
	ErrEndpointNotFound = errors.New("push endpoint not found")
)

// Drain errors.
var (
	ErrDrainFailed  = errors.New("drain failed")
	ErrUnauthorized = errors.New("unauthorized")
)
