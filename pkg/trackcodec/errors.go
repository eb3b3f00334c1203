// Package trackcodec implements the fixed binary encodings shared by the
// device and the server: the 15-byte TrackPoint record, the TSF session
// container, and the 17-byte handshake message.
package trackcodec

import "errors"

// Sentinel errors returned by the codec: a flat var block of wrapped
// sentinels plus one typed error carrying the offending value.
var (
	// ErrShortBuffer indicates a buffer smaller than the structure it's
	// being decoded into.
	ErrShortBuffer = errors.New("trackcodec: buffer too short")

	// ErrInvalidTag indicates a handshake tag byte other than 0 or 1.
	ErrInvalidTag = errors.New("trackcodec: invalid handshake tag")

	// ErrTruncatedTSF indicates a TSF file whose size is not 8 (mod 15),
	// i.e. a trailing partial track-point record.
	ErrTruncatedTSF = errors.New("trackcodec: TSF size is not 8 + 15*n")
)

// RangeError reports a value supplied to an encoder that falls outside the
// semantic range the wire format can carry.
type RangeError struct {
	Field string
	Value float64
	Min float64
	Max float64
}

func (e *RangeError) Error() string {
	return "trackcodec: " + e.Field + " out of range"
}
