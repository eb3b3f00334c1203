package tracker

import "errors"

// Sentinel errors for the per-connection handshake/ingest flow.
var (
	ErrBannedPeer = errors.New("tracker: peer is banned")
	ErrUnknownTrip = errors.New("tracker: unknown trip id")
	ErrHandshakeMAC = errors.New("tracker: handshake MAC mismatch")
	ErrAlreadyConnected = errors.New("tracker: session already connected from another peer")
	ErrUnknownSession = errors.New("tracker: unknown or inactive session id")
	ErrBatchMAC = errors.New("tracker: batch MAC mismatch")
	ErrTerminationMAC = errors.New("tracker: termination MAC mismatch")
)
