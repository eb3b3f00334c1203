package gnss

import "errors"

// ErrUnrealisticSpeed marks a fix whose decoded speed exceeds the
// rejection threshold.
var ErrUnrealisticSpeed = errors.New("gnss: unrealistic speed, fix rejected")

// ErrMalformedFix marks a GNSS info URC that failed to parse; the
// message is discarded silently by the caller.
var ErrMalformedFix = errors.New("gnss: malformed info URC")
