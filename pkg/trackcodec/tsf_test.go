package trackcodec

import (
	"bytes"
	"testing"
	"time"
)

func TestTSFRoundTrip(t *testing.T) {
	start := time.Date(2025, 5, 22, 12, 9, 14, 0, time.UTC)
	points := []Point{
		{Timestamp: start, Latitude: 40.0, Longitude: -74.0, Altitude: 10, Speed: 0, GoodPrecision: true},
		{Timestamp: start.Add(time.Second), Latitude: 40.0, Longitude: -74.0, Altitude: 11, Speed: 0, GoodPrecision: true},
	}

	buf := EncodeTSF(start, points)
	if len(buf) != HeaderSize+len(points)*PointSize {
		t.Fatalf("size = %d, want %d", len(buf), HeaderSize+len(points)*PointSize)
	}

	gotStart, gotPoints, err := DecodeTSF(buf)
	if err != nil {
		t.Fatalf("DecodeTSF: %v", err)
	}
	if !gotStart.Equal(start) {
		t.Errorf("start = %v, want %v", gotStart, start)
	}
	if len(gotPoints) != len(points) {
		t.Fatalf("got %d points, want %d", len(gotPoints), len(points))
	}

	reencoded := EncodeTSF(gotStart, gotPoints)
	if !bytes.Equal(reencoded, buf) {
		t.Errorf("re-serialization mismatch")
	}
}

func TestPointCountForSizeIgnoresTruncatedTrailingRecord(t *testing.T) {
	// 8-byte header + 2 full records (30 bytes) + 7 trailing garbage bytes.
	size := int64(HeaderSize + 2*PointSize + 7)
	if n := PointCountForSize(size); n != 2 {
		t.Fatalf("PointCountForSize(%d) = %d, want 2", size, n)
	}
}

func TestPointCountForSizeBelowHeader(t *testing.T) {
	if n := PointCountForSize(3); n != 0 {
		t.Fatalf("PointCountForSize(3) = %d, want 0", n)
	}
}
