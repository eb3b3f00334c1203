package gnss

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validBody() string {
	return "1,8,7,6,5,48.8566,N,2.3522,E,150324,123456.789,35.2,10.0,90.0,0.8,1.1,1.4,14"
}

func TestParseFixHappyPath(t *testing.T) {
	f, err := parseFix(validBody())
	require.NoError(t, err)
	assert.InDelta(t, 48.8566, f.latitude, 1e-9)
	assert.InDelta(t, 2.3522, f.longitude, 1e-9)
	assert.InDelta(t, 35.2, f.altitudeM, 1e-9)
	assert.InDelta(t, 10.0*1.852, f.speedKmh, 1e-9)
	assert.True(t, f.goodPrecision)
	assert.Equal(t, 2024, f.timestamp.Year())
	assert.Equal(t, 3, int(f.timestamp.Month()))
	assert.Equal(t, 15, f.timestamp.Day())
	assert.Equal(t, 12, f.timestamp.Hour())
}

func TestParseFixSouthWestHemisphere(t *testing.T) {
	body := "1,8,7,6,5,48.8566,S,2.3522,W,150324,123456.789,35.2,10.0,90.0,0.8,1.1,1.4,14"
	f, err := parseFix(body)
	require.NoError(t, err)
	assert.InDelta(t, -48.8566, f.latitude, 1e-9)
	assert.InDelta(t, -2.3522, f.longitude, 1e-9)
}

func TestParseFixPoorPrecision(t *testing.T) {
	body := "1,8,7,6,5,48.8566,N,2.3522,E,150324,123456.789,35.2,10.0,90.0,1.8,1.1,1.4,14"
	f, err := parseFix(body)
	require.NoError(t, err)
	assert.False(t, f.goodPrecision)
}

func TestParseFixUnrealisticSpeedRejected(t *testing.T) {
	body := "1,8,7,6,5,48.8566,N,2.3522,E,150324,123456.789,35.2,300.0,90.0,0.8,1.1,1.4,14"
	_, err := parseFix(body)
	assert.ErrorIs(t, err, ErrUnrealisticSpeed)
}

func TestParseFixWrongFieldCount(t *testing.T) {
	_, err := parseFix("1,2,3")
	assert.ErrorIs(t, err, ErrMalformedFix)
}

func TestParseFixMalformedCoordinate(t *testing.T) {
	body := "1,8,7,6,5,notanumber,N,2.3522,E,150324,123456.789,35.2,10.0,90.0,0.8,1.1,1.4,14"
	_, err := parseFix(body)
	assert.ErrorIs(t, err, ErrMalformedFix)
}

func TestParseFixBadHemisphereLetter(t *testing.T) {
	body := "1,8,7,6,5,48.8566,Q,2.3522,E,150324,123456.789,35.2,10.0,90.0,0.8,1.1,1.4,14"
	_, err := parseFix(body)
	assert.ErrorIs(t, err, ErrMalformedFix)
}
