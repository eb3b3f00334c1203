package sessionbuffer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelcon-group/triptracker/pkg/trackcodec"
)

func TestStartSessionAddPointsCloseRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, nil)
	require.NoError(t, err)

	start := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, m.StartSession(1, "Unnamed 2026-07-31", start.Unix()))

	pts := []trackcodec.Point{
		{Timestamp: start.Add(1 * time.Second), Latitude: 10, Longitude: 20},
		{Timestamp: start.Add(2 * time.Second), Latitude: 11, Longitude: 21},
	}
	require.NoError(t, m.AddPoints(1, pts))

	all, ok := m.GetAllTrackPoints(1)
	require.True(t, ok)
	assert.Len(t, all, 2)

	since, ok := m.GetTrackPointsSince(1, 1)
	require.True(t, ok)
	assert.Len(t, since, 1)

	final, err := m.CloseSession(1)
	require.NoError(t, err)
	assert.Len(t, final, 2)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStartSessionTwiceErrors(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, nil)
	require.NoError(t, err)

	require.NoError(t, m.StartSession(1, "x", time.Now().Unix()))
	err = m.StartSession(1, "x", time.Now().Unix())
	assert.ErrorIs(t, err, ErrSessionExists)
}

func TestOpenRejectsMalformedFileButLoadsGoodOnes(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "1_bad"), []byte("x"), 0o644))

	m1, err := Open(dir, nil)
	require.NoError(t, err)
	require.NoError(t, m1.StartSession(2, "good", time.Now().Unix()))

	m2, err := Open(dir, nil)
	require.NoError(t, err)
	_, ok := m2.GetAllTrackPoints(2)
	assert.True(t, ok)
	_, ok = m2.GetAllTrackPoints(1)
	assert.False(t, ok)
}

func TestAddPointsUnknownSessionErrors(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, nil)
	require.NoError(t, err)

	err = m.AddPoints(99, nil)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
