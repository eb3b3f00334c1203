package trackcodec

import "encoding/binary"

// HandshakeSize is the fixed encoded size of a Handshake message.
const HandshakeSize = 17

// Tag identifies which variant a Handshake carries.
type Tag byte

// The two handshake variants.
const (
	TagFreshSession Tag = 0
	TagReconnect Tag = 1
)

// Handshake is the 17-byte tagged union {FreshSession | Reconnect} sent as
// the first client message of the wire protocol.
//
// For FreshSession, Value holds the device's local wall-clock timestamp
// (Unix seconds) at session start. For Reconnect, Value holds the
// server-assigned remote session id being resumed.
type Handshake struct {
	Tag Tag
	TripID int64
	Value uint64
}

// NewFreshSession builds a FreshSession handshake.
func NewFreshSession(tripID int64, startTime int64) Handshake {
	return Handshake{Tag: TagFreshSession, TripID: tripID, Value: uint64(startTime)}
}

// NewReconnect builds a Reconnect handshake.
func NewReconnect(tripID int64, sessionID uint64) Handshake {
	return Handshake{Tag: TagReconnect, TripID: tripID, Value: sessionID}
}

// Encode serializes the handshake to its 17-byte wire form:
// byte 0 tag, bytes 1..9 big-endian trip id, bytes 9..17 big-endian value.
func (h Handshake) Encode() []byte {
	buf := make([]byte, HandshakeSize)
	buf[0] = byte(h.Tag)
	binary.BigEndian.PutUint64(buf[1:9], uint64(h.TripID))
	binary.BigEndian.PutUint64(buf[9:17], h.Value)
	return buf
}

// DecodeHandshake parses a 17-byte handshake message.
func DecodeHandshake(buf []byte) (Handshake, error) {
	if len(buf) < HandshakeSize {
		return Handshake{}, ErrShortBuffer
	}
	tag := Tag(buf[0])
	if tag != TagFreshSession && tag != TagReconnect {
		return Handshake{}, ErrInvalidTag
	}
	return Handshake{
		Tag: tag,
		TripID: int64(binary.BigEndian.Uint64(buf[1:9])),
		Value: binary.BigEndian.Uint64(buf[9:17]),
	}, nil
}

// IsFresh reports whether this handshake is a FreshSession.
func (h Handshake) IsFresh() bool { return h.Tag == TagFreshSession }

// SessionID returns Value under the Reconnect interpretation.
func (h Handshake) SessionID() uint64 { return h.Value }

// StartTime returns Value under the FreshSession interpretation.
func (h Handshake) StartTime() int64 { return int64(h.Value) }
