// Package tracker is the server-side ingest endpoint: it
// terminates one TCP connection per device, authenticates it via the
// handshake MAC, allocates or resumes a session, and streams
// track-point batches into the session buffer until the device
// terminates the session or disconnects.
package tracker

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/intelcon-group/triptracker/pkg/server/datamanager"
	"github.com/intelcon-group/triptracker/pkg/server/sessionbuffer"
	"github.com/intelcon-group/triptracker/pkg/trackcodec"
)

const (
	handshakeReadTimeout = 10 * time.Second
	batchReadTimeout = 30 * time.Second
	terminationReadTimeout = 10 * time.Second

	// maxBatchPoints bounds a single n*15+16 read against a malicious
	// or corrupt count byte. The device never batches more than 40
	// points per message (its inline-receive frame ceiling); anything
	// larger is treated as protocol abuse rather than a valid device.
	maxBatchPoints = 40
)

// Server is the tracker endpoint: one listener, one data manager, one
// session-buffer directory, shared across every per-connection
// goroutine.
type Server struct {
	listener net.Listener
	data datamanager.DataManager
	buffers *sessionbuffer.Manager
	banned BannedList
	registry *connRegistry
	metrics *Metrics
	log *zap.SugaredLogger
}

// New wraps an already-listening net.Listener as a tracker endpoint. A
// nil banned list admits every peer.
func New(listener net.Listener, data datamanager.DataManager, buffers *sessionbuffer.Manager, banned BannedList, metrics *Metrics, log *zap.SugaredLogger) *Server {
	if banned == nil {
		banned = StaticBanList{}
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Server{
		listener: listener,
		data: data,
		buffers: buffers,
		banned: banned,
		registry: newConnRegistry(),
		metrics: metrics,
		log: log,
	}
}

// Metrics exposes the collector for the caller to register with a
// prometheus.Registry and serve on /metrics.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Run accepts connections until ctx is canceled, handling each under an
// errgroup so a fatal per-connection error never leaks a dangling
// goroutine and a listener failure propagates to a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		return s.listener.Close()
	})

	g.Go(func() error {
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("tracker: accept: %w", err)
			}
			g.Go(func() error {
				s.handleConn(conn)
				return nil
			})
		}
	})

	return g.Wait()
}

func (s *Server) handleConn(conn net.Conn) {
	peer := conn.RemoteAddr().String()
	peerIP := peerHost(peer)
	connID := uuid.NewString()
	log := s.log.With("conn", connID, "peer", peer)
	defer conn.Close()

	// §4.6 bans by peer IP; the registry binding is likewise keyed by
	// IP alone, and a session id already bound to a live connection is
	// refused whatever its source IP.
	if s.banned.IsBanned(peerIP) {
		log.Warnw("refusing banned peer")
		return
	}

	log.Infow("connection accepted")

	sessionID, tripKey, fresh, err := s.handshake(conn, log)
	if err != nil {
		log.Warnw("handshake failed", "error", err)
		s.metrics.AuthFailed()
		return
	}
	log = log.With("session", sessionID)

	if err := s.registry.register(peerIP, sessionID); err != nil {
		log.Warnw("rejecting duplicate session connection", "error", err)
		return
	}
	s.metrics.SessionConnected(peer)
	defer func() {
		s.registry.unregister(peerIP)
		s.metrics.SessionDisconnected(peer)
	}()

	sess, ok := s.data.Session(sessionID)
	if !ok {
		log.Errorw("session vanished after creation/lookup")
		return
	}

	log.Infow("session established", "fresh", fresh)
	s.ingestLoop(conn, log, sess, tripKey)
}

// handshake runs: send the nonce, read and verify the
// handshake, and allocate or resume the session.
func (s *Server) handshake(conn net.Conn, log *zap.SugaredLogger) (sessionID int64, tripKey [32]byte, fresh bool, err error) {
	conn.SetDeadline(time.Now().Add(handshakeReadTimeout))

	nonce := make([]byte, 16)
	if _, err = rand.Read(nonce); err != nil {
		return 0, tripKey, false, fmt.Errorf("tracker: nonce: %w", err)
	}
	if _, err = conn.Write(nonce); err != nil {
		return 0, tripKey, false, fmt.Errorf("tracker: send nonce: %w", err)
	}

	buf := make([]byte, trackcodec.HandshakeSize+trackcodec.MACSize)
	if _, err = io.ReadFull(conn, buf); err != nil {
		return 0, tripKey, false, fmt.Errorf("tracker: read handshake: %w", err)
	}
	handshakeBytes := buf[:trackcodec.HandshakeSize]
	mac := buf[trackcodec.HandshakeSize:]

	hs, err := trackcodec.DecodeHandshake(handshakeBytes)
	if err != nil {
		return 0, tripKey, false, fmt.Errorf("tracker: decode handshake: %w", err)
	}

	tripKey, ok := s.data.TripKey(hs.TripID)
	if !ok {
		return 0, tripKey, false, ErrUnknownTrip
	}

	signed := append(append([]byte{}, nonce...), handshakeBytes...)
	if !trackcodec.Verify(signed, mac, tripKey[:]) {
		return 0, tripKey, false, ErrHandshakeMAC
	}

	if hs.IsFresh() {
		start := time.Now().UTC()
		title := fmt.Sprintf("Unnamed %s", start.Format("2006-01-02"))
		sess, err := s.data.CreateSession(hs.TripID, title, "", start)
		if err != nil {
			return 0, tripKey, false, fmt.Errorf("tracker: create session: %w", err)
		}
		if err := s.buffers.StartSession(sess.ID, title, start.Unix()); err != nil {
			return 0, tripKey, false, fmt.Errorf("tracker: start buffer: %w", err)
		}

		idBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(idBytes, uint64(sess.ID))
		if _, err := conn.Write(idBytes); err != nil {
			return 0, tripKey, false, fmt.Errorf("tracker: send session id: %w", err)
		}
		return sess.ID, tripKey, true, nil
	}

	sessionID = int64(hs.SessionID())
	sess, ok := s.data.Session(sessionID)
	if !ok || !sess.Active {
		return 0, tripKey, false, ErrUnknownSession
	}
	return sessionID, tripKey, false, nil
}

// ingestLoop runs: repeatedly read a one-byte header,
// dispatching to termination or batch ingest until the connection
// closes or an error is hit.
func (s *Server) ingestLoop(conn net.Conn, log *zap.SugaredLogger, sess datamanager.Session, tripKey [32]byte) {
	header := make([]byte, 1)
	for {
		conn.SetReadDeadline(time.Now().Add(batchReadTimeout))
		if _, err := io.ReadFull(conn, header); err != nil {
			log.Infow("connection closed", "error", err)
			return
		}

		if header[0] == 0 {
			s.terminate(conn, log, sess, tripKey)
			return
		}

		n := int(header[0])
		if n > maxBatchPoints {
			log.Warnw("batch count exceeds limit, closing", "count", n)
			return
		}
		if err := s.ingestBatch(conn, log, sess, tripKey, n); err != nil {
			log.Warnw("batch ingest failed, closing", "error", err)
			return
		}
	}
}

func (s *Server) ingestBatch(conn net.Conn, log *zap.SugaredLogger, sess datamanager.Session, tripKey [32]byte, n int) error {
	payload := make([]byte, 1+n*trackcodec.PointSize+trackcodec.MACSize)
	payload[0] = byte(n)

	rest := payload[1 : 1+n*trackcodec.PointSize]
	conn.SetReadDeadline(time.Now().Add(batchReadTimeout))
	if _, err := io.ReadFull(conn, rest); err != nil {
		return fmt.Errorf("read points: %w", err)
	}
	mac := make([]byte, trackcodec.MACSize)
	if _, err := io.ReadFull(conn, mac); err != nil {
		return fmt.Errorf("read mac: %w", err)
	}

	signed := payload[:1+n*trackcodec.PointSize]
	if !trackcodec.Verify(signed, mac, tripKey[:]) {
		return ErrBatchMAC
	}

	points := make([]trackcodec.Point, 0, n)
	for i := 0; i < n; i++ {
		off := 1 + i*trackcodec.PointSize
		p, err := trackcodec.DecodePoint(payload[off:off+trackcodec.PointSize], sess.StartTime)
		if err != nil {
			return fmt.Errorf("decode point %d: %w", i, err)
		}
		points = append(points, p)
	}

	if err := s.buffers.AddPoints(sess.ID, points); err != nil {
		return fmt.Errorf("append: %w", err)
	}
	s.metrics.PointsIngested(len(points))
	log.Debugw("ingested batch", "count", len(points))
	return nil
}

// terminate runs "0" and the wire protocol's termination
// exchange: nonce out, MAC in, archive, ack.
func (s *Server) terminate(conn net.Conn, log *zap.SugaredLogger, sess datamanager.Session, tripKey [32]byte) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		log.Errorw("termination nonce", "error", err)
		return
	}
	conn.SetDeadline(time.Now().Add(terminationReadTimeout))
	if _, err := conn.Write(nonce); err != nil {
		log.Warnw("send termination nonce failed", "error", err)
		return
	}

	mac := make([]byte, trackcodec.MACSize)
	if _, err := io.ReadFull(conn, mac); err != nil {
		log.Warnw("read termination mac failed", "error", err)
		return
	}
	if !trackcodec.Verify(nonce, mac, tripKey[:]) {
		log.Warnw("termination mac mismatch")
		return
	}

	points, err := s.buffers.CloseSession(sess.ID)
	if err != nil {
		log.Errorw("close session buffer", "error", err)
		return
	}
	if err := s.data.EndSession(sess.ID, points); err != nil {
		log.Errorw("archive session", "error", err)
		return
	}

	if _, err := conn.Write([]byte{1}); err != nil {
		log.Warnw("send termination ack failed", "error", err)
		return
	}
	log.Infow("session terminated", "points", len(points))
}

// peerHost strips the ephemeral source port from a dialed or accepted
// address, leaving the bare IP the ban list and connection registry key
// on. Falls back to the input unchanged if it isn't a host:port pair.
func peerHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
