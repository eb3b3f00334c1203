package trackcodec

import (
	"encoding/binary"
	"time"
)

// HeaderSize is the size in bytes of a TSF session-start header.
const HeaderSize = 8

// EncodeHeader encodes a session start-time as an 8-byte big-endian Unix
// second count.
func EncodeHeader(start time.Time) []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint64(buf, uint64(start.Unix()))
	return buf
}

// DecodeHeader decodes the 8-byte session start-time header.
func DecodeHeader(buf []byte) (time.Time, error) {
	if len(buf) < HeaderSize {
		return time.Time{}, ErrShortBuffer
	}
	secs := binary.BigEndian.Uint64(buf[:HeaderSize])
	return time.Unix(int64(secs), 0).UTC(), nil
}

// PointCountForSize returns how many whole 15-byte point records fit after
// the 8-byte header in a TSF file of the given size.
//
// Per the decision recorded in SPEC_FULL.md ("TSF truncated trailing
// record"), a trailing partial record (the device having been power-cut
// mid-write) is silently ignored rather than treated as an error: the
// count is floored, never rejected.
func PointCountForSize(fileSize int64) int {
	if fileSize < HeaderSize {
		return 0
	}
	return int((fileSize - HeaderSize) / PointSize)
}

// EncodeTSF builds a complete TSF container: header followed by every
// point, each encoded relative to start.
func EncodeTSF(start time.Time, points []Point) []byte {
	buf := make([]byte, HeaderSize+len(points)*PointSize)
	copy(buf, EncodeHeader(start))
	for i, p := range points {
		copy(buf[HeaderSize+i*PointSize:], EncodePoint(p, start))
	}
	return buf
}

// DecodeTSF parses a complete TSF container back into a start-time and its
// points, clamping a truncated trailing record away per PointCountForSize.
func DecodeTSF(buf []byte) (time.Time, []Point, error) {
	start, err := DecodeHeader(buf)
	if err != nil {
		return time.Time{}, nil, err
	}

	n := PointCountForSize(int64(len(buf)))
	points := make([]Point, 0, n)
	for i := 0; i < n; i++ {
		off := HeaderSize + i*PointSize
		p, err := DecodePoint(buf[off:off+PointSize], start)
		if err != nil {
			return time.Time{}, nil, err
		}
		points = append(points, p)
	}
	return start, points, nil
}
