package trackcodec

import (
	"math"
	"testing"
	"time"
)

func TestEncodeDecodePointRoundTrip(t *testing.T) {
	start := time.Date(2025, 5, 22, 12, 9, 14, 0, time.UTC)

	tests := []struct {
		name string
		p    Point
	}{
		{"origin", Point{Timestamp: start, Latitude: 0, Longitude: 0, Altitude: 0, Speed: 0}},
		{"sydney-ish", Point{Timestamp: start.Add(5 * time.Second), Latitude: -33.8688, Longitude: 151.2093, Altitude: 42, Speed: 63.5, GoodPrecision: true}},
		{"extremes", Point{Timestamp: start.Add(60 * time.Second), Latitude: 90, Longitude: -180, Altitude: 6000, Speed: 500}},
		{"low-extremes", Point{Timestamp: start.Add(61 * time.Second), Latitude: -90, Longitude: 180, Altitude: -10, Speed: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := EncodePoint(tt.p, start)
			if len(enc) != PointSize {
				t.Fatalf("encoded size = %d, want %d", len(enc), PointSize)
			}

			got, err := DecodePoint(enc, start)
			if err != nil {
				t.Fatalf("DecodePoint: %v", err)
			}

			if math.Abs(got.Latitude-tt.p.Latitude) > 180.0/(1<<31) {
				t.Errorf("latitude drift: got %v want %v", got.Latitude, tt.p.Latitude)
			}
			if math.Abs(got.Longitude-tt.p.Longitude) > 360.0/(1<<32)+1e-9 {
				t.Errorf("longitude drift: got %v want %v", got.Longitude, tt.p.Longitude)
			}
			if math.Abs(got.Altitude-tt.p.Altitude) > 6010.0/65535.0 {
				t.Errorf("altitude drift: got %v want %v", got.Altitude, tt.p.Altitude)
			}
			if math.Abs(got.Speed-tt.p.Speed) > 500.0/65535.0 {
				t.Errorf("speed drift: got %v want %v", got.Speed, tt.p.Speed)
			}
			if got.GoodPrecision != tt.p.GoodPrecision {
				t.Errorf("good precision: got %v want %v", got.GoodPrecision, tt.p.GoodPrecision)
			}
			if got.Timestamp.Truncate(time.Second) != tt.p.Timestamp.Truncate(time.Second) {
				t.Errorf("timestamp: got %v want %v", got.Timestamp, tt.p.Timestamp)
			}
		})
	}
}

func TestDecodePointShortBuffer(t *testing.T) {
	_, err := DecodePoint(make([]byte, 10), time.Now())
	if err != ErrShortBuffer {
		t.Fatalf("expected ErrShortBuffer, got %v", err)
	}
}

func TestEncodePointClampsOutOfRangeValues(t *testing.T) {
	start := time.Now()
	p := Point{Timestamp: start, Latitude: 1000, Longitude: -1000, Altitude: 99999, Speed: -50}
	enc := EncodePoint(p, start)
	got, err := DecodePoint(enc, start)
	if err != nil {
		t.Fatalf("DecodePoint: %v", err)
	}
	if got.Latitude > 90 || got.Latitude < -90 {
		t.Errorf("latitude not clamped: %v", got.Latitude)
	}
	if got.Altitude > 6000 || got.Altitude < -10 {
		t.Errorf("altitude not clamped: %v", got.Altitude)
	}
	if got.Speed < 0 {
		t.Errorf("speed not clamped: %v", got.Speed)
	}
}
