package gnss

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// fix is the decoded content of one GNSS info URC, before conversion to
// a trackcodec.Point (which needs a session start-time to encode
// relative seconds).
type fix struct {
	timestamp time.Time
	latitude float64
	longitude float64
	altitudeM float64
	speedKmh float64
	pdop float64
	goodPrecision bool
}

// fieldCount is the number of comma-delimited fields in the info URC
// body: mode, 4 per-constellation satellite counts, lat, N/S, lon, E/W,
// DDMMYY, HHMMSS.fff, altitude, speed (knots), course, PDOP, HDOP, VDOP,
// satellites-used.
const fieldCount = 18

// parseFix parses one GNSS info URC body into a fix. Any malformed field
// yields ErrMalformedFix; an out-of-range speed yields
// ErrUnrealisticSpeed. Both are discarded silently by the caller.
func parseFix(body string) (fix, error) {
	fields := strings.Split(body, ",")
	if len(fields) != fieldCount {
		return fix{}, fmt.Errorf("%w: expected %d fields, got %d", ErrMalformedFix, fieldCount, len(fields))
	}

	lat, err := parseCoordinate(fields[5], fields[6], 90)
	if err != nil {
		return fix{}, fmt.Errorf("%w: latitude: %v", ErrMalformedFix, err)
	}
	lon, err := parseCoordinate(fields[7], fields[8], 180)
	if err != nil {
		return fix{}, fmt.Errorf("%w: longitude: %v", ErrMalformedFix, err)
	}

	ts, err := parseDateTime(fields[9], fields[10])
	if err != nil {
		return fix{}, fmt.Errorf("%w: timestamp: %v", ErrMalformedFix, err)
	}

	alt, err := strconv.ParseFloat(fields[11], 64)
	if err != nil {
		return fix{}, fmt.Errorf("%w: altitude: %v", ErrMalformedFix, err)
	}

	speedKnots, err := strconv.ParseFloat(fields[12], 64)
	if err != nil {
		return fix{}, fmt.Errorf("%w: speed: %v", ErrMalformedFix, err)
	}
	speedKmh := speedKnots * 1.852
	if speedKmh > 500 {
		return fix{}, ErrUnrealisticSpeed
	}

	pdop, err := strconv.ParseFloat(fields[14], 64)
	if err != nil {
		return fix{}, fmt.Errorf("%w: pdop: %v", ErrMalformedFix, err)
	}

	return fix{
		timestamp: ts,
		latitude: lat,
		longitude: lon,
		altitudeM: alt,
		speedKmh: speedKmh,
		pdop: pdop,
		goodPrecision: pdop < 1.0,
	}, nil
}

// parseCoordinate parses a decimal-degree magnitude plus a hemisphere
// letter ("N"/"S" or "E"/"W") into a signed value, validating it lies
// within [-limit, limit].
func parseCoordinate(magStr, hemi string, limit float64) (float64, error) {
	mag, err := strconv.ParseFloat(magStr, 64)
	if err != nil {
		return 0, err
	}
	switch strings.ToUpper(hemi) {
	case "S", "W":
		mag = -mag
	case "N", "E":
		// positive, no change
	default:
		return 0, fmt.Errorf("unrecognized hemisphere %q", hemi)
	}
	if mag < -limit || mag > limit {
		return 0, fmt.Errorf("coordinate %v out of range [-%v, %v]", mag, limit, limit)
	}
	return mag, nil
}

// parseDateTime parses DDMMYY and HHMMSS.fff into a UTC time.Time.
func parseDateTime(dateStr, timeStr string) (time.Time, error) {
	if len(dateStr) != 6 {
		return time.Time{}, fmt.Errorf("date %q not DDMMYY", dateStr)
	}
	day, err := strconv.Atoi(dateStr[0:2])
	if err != nil {
		return time.Time{}, err
	}
	month, err := strconv.Atoi(dateStr[2:4])
	if err != nil {
		return time.Time{}, err
	}
	year, err := strconv.Atoi(dateStr[4:6])
	if err != nil {
		return time.Time{}, err
	}

	secondsOfDay, err := strconv.ParseFloat(timeStr, 64)
	if err != nil {
		return time.Time{}, err
	}
	hh := int(secondsOfDay) / 10000
	mm := (int(secondsOfDay) / 100) % 100
	ss := int(secondsOfDay) % 100
	frac := secondsOfDay - float64(int(secondsOfDay))
	nanos := int(frac * 1e9)

	return time.Date(2000+year, time.Month(month), day, hh, mm, ss, nanos, time.UTC), nil
}
