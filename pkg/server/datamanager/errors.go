package datamanager

import "errors"

// Sentinel errors returned by DataManager implementations.
var (
	ErrTripNotFound    = errors.New("datamanager: trip not found")
	ErrSessionNotFound = errors.New("datamanager: session not found")
	ErrSessionActive   = errors.New("datamanager: session is still active")
)
