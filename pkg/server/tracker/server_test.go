package tracker

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelcon-group/triptracker/pkg/server/datamanager"
	"github.com/intelcon-group/triptracker/pkg/server/sessionbuffer"
	"github.com/intelcon-group/triptracker/pkg/trackcodec"
)

const tripID = int64(7)

func newTestServer(t *testing.T) (addr string, data *datamanager.InMemory, key [32]byte, stop func()) {
	t.Helper()
	key = [32]byte{1, 2, 3, 4, 5}
	data = datamanager.NewInMemory()
	data.AddTrip(datamanager.Trip{ID: tripID, AuthKey: key})

	buffers, err := sessionbuffer.Open(t.TempDir(), nil)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New(ln, data, buffers, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Run(ctx)
		close(done)
	}()

	return ln.Addr().String(), data, key, func() {
		cancel()
		<-done
	}
}

// clientHandshake performs the device side of over
// conn and returns the assigned or resumed session id.
func clientHandshake(t *testing.T, conn net.Conn, hs trackcodec.Handshake, key []byte) int64 {
	t.Helper()
	nonce := make([]byte, 16)
	_, err := io.ReadFull(conn, nonce)
	require.NoError(t, err)

	encoded := hs.Encode()
	mac := trackcodec.Sign(append(append([]byte{}, nonce...), encoded...), key)
	_, err = conn.Write(append(encoded, mac...))
	require.NoError(t, err)

	if hs.IsFresh() {
		idBuf := make([]byte, 8)
		_, err := io.ReadFull(conn, idBuf)
		require.NoError(t, err)
		return int64(binary.BigEndian.Uint64(idBuf))
	}
	return int64(hs.SessionID())
}

func TestFreshSessionHandshakeAndBatchIngest(t *testing.T) {
	addr, data, key, stop := newTestServer(t)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	hs := trackcodec.NewFreshSession(tripID, time.Now().Unix())
	sessionID := clientHandshake(t, conn, hs, key[:])
	assert.NotZero(t, sessionID)

	sess, ok := data.Session(sessionID)
	require.True(t, ok)
	assert.True(t, sess.Active)

	points := []trackcodec.Point{
		{Timestamp: sess.StartTime.Add(time.Second), Latitude: 48.8, Longitude: 2.3},
	}
	batch := make([]byte, 0, 1+len(points)*trackcodec.PointSize+trackcodec.MACSize)
	batch = append(batch, byte(len(points)))
	for _, p := range points {
		batch = append(batch, trackcodec.EncodePoint(p, sess.StartTime)...)
	}
	mac := trackcodec.Sign(batch, key[:])
	batch = append(batch, mac...)

	_, err = conn.Write(batch)
	require.NoError(t, err)

	// Terminate the session.
	_, err = conn.Write([]byte{0})
	require.NoError(t, err)

	nonce2 := make([]byte, 16)
	_, err = io.ReadFull(conn, nonce2)
	require.NoError(t, err)
	termMAC := trackcodec.Sign(nonce2, key[:])
	_, err = conn.Write(termMAC)
	require.NoError(t, err)

	ack := make([]byte, 1)
	_, err = io.ReadFull(conn, ack)
	require.NoError(t, err)
	assert.Equal(t, byte(1), ack[0])

	require.Eventually(t, func() bool {
		s, ok := data.Session(sessionID)
		return ok && !s.Active
	}, time.Second, 10*time.Millisecond)
	assert.Len(t, data.ArchivedPoints(sessionID), 1)
}

func TestHandshakeWrongMACCloses(t *testing.T) {
	addr, _, _, stop := newTestServer(t)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	nonce := make([]byte, 16)
	_, err = io.ReadFull(conn, nonce)
	require.NoError(t, err)

	hs := trackcodec.NewFreshSession(tripID, time.Now().Unix())
	encoded := hs.Encode()
	badMAC := make([]byte, trackcodec.MACSize)
	_, err = conn.Write(append(encoded, badMAC...))
	require.NoError(t, err)

	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	assert.Error(t, err)
}

func TestReconnectRejectsSecondConcurrentPeer(t *testing.T) {
	addr, _, key, stop := newTestServer(t)
	defer stop()

	conn1, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn1.Close()
	sessionID := clientHandshake(t, conn1, trackcodec.NewFreshSession(tripID, time.Now().Unix()), key[:])

	conn2, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn2.Close()
	clientHandshake(t, conn2, trackcodec.NewReconnect(tripID, uint64(sessionID)), key[:])

	buf := make([]byte, 1)
	conn2.SetReadDeadline(time.Now().Add(time.Second))
	_, err = conn2.Read(buf)
	assert.Error(t, err)
}
