// Package upload implements the device-side upload actor: the
// periodic connect/batch-upload/finalize state machine that drives
// points from the local journal to the server over the authenticated
// binary protocol.
package upload

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/intelcon-group/triptracker/internal/lifecycle"
	"github.com/intelcon-group/triptracker/pkg/device/modem"
	"github.com/intelcon-group/triptracker/pkg/device/storage"
	"github.com/intelcon-group/triptracker/pkg/trackcodec"
)

// maxTrackPointsPerMessage bounds one batch's point count: 40 points
// (600 bytes of payload) keeps a batch comfortably under the modem's
// inline receive/send ceiling alongside its MAC and count byte.
const maxTrackPointsPerMessage = 40

const (
	defaultTickInterval = 6 * time.Second
	finalizeRetryBudget = 200 * time.Second
	nonceReadTimeout = 8 * time.Second
	sessionIDReadTimeout = 8 * time.Second
	finalizeReadTimeout = 8 * time.Second
)

// NetState is published to the state service after each tick.
type NetState int

const (
	NetIdle NetState = iota
	NetConnecting
	NetConnected
	NetDisconnected
)

// Storage is the subset of the storage service the upload actor reads
// and writes.
type Storage interface {
	GetSessionTrackPointCount(localID uint32) (int, error)
	ReadTrackPoints(localID uint32, idx, count int) ([]byte, error)
	ReadUploadStatus() ([]storage.UploadStatusEntry, error)
	WriteUploadStatus(entries []storage.UploadStatusEntry) error
	CurrentLocalSessionID() uint32
}

// StatePublisher receives net-state transitions for the status LEDs.
type StatePublisher interface {
	PublishNetState(NetState)
}

// Inputs exposes the user-facing "upload enabled" toggle.
type Inputs interface {
	UploadEnabled() bool
}

// Actor drives the upload/reconnect state machine.
type Actor struct {
	transport *modem.Transport
	storage Storage
	state StatePublisher
	inputs Inputs
	clk clock.Clock
	term *lifecycle.Terminator
	log *zap.SugaredLogger

	server string
	port int
	tripID int64
	authKey [32]byte

	tickInterval time.Duration

	connectedLocalID *uint32
	conn *socket

	finalizingSince map[uint32]time.Time
	finishedIDs map[uint32]struct{}
}

// Config carries the connection parameters the actor needs from
// CONFIG.CFG.
type Config struct {
	Server string
	Port int
	TripID int64
	AuthKey [32]byte
}

// New constructs an upload Actor. A nil clk uses the real clock.
func New(transport *modem.Transport, store Storage, state StatePublisher, inputs Inputs, cfg Config, clk clock.Clock, log *zap.SugaredLogger) *Actor {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Actor{
		transport: transport,
		storage: store,
		state: state,
		inputs: inputs,
		clk: clk,
		term: lifecycle.NewTerminator(),
		log: log,
		server: cfg.Server,
		port: cfg.Port,
		tripID: cfg.TripID,
		authKey: cfg.AuthKey,
		tickInterval: defaultTickInterval,
		finalizingSince: make(map[uint32]time.Time),
	}
}

// Terminator exposes the actor's cooperative shutdown handle.
func (a *Actor) Terminator() *lifecycle.Terminator { return a.term }

// Run executes the periodic loop until Terminate is called.
func (a *Actor) Run() error {
	ticker := a.clk.Ticker(a.tickInterval)
	defer ticker.Stop()

	for {
		a.tick()

		if a.term.ShouldStop() && len(a.finalizingSince) == 0 {
			break
		}

		<-ticker.C
	}

	if a.conn != nil {
		txn := a.transport.Begin()
		a.conn.close(txn)
		txn.End()
		a.conn = nil
	}
	a.term.Confirm()
	return nil
}

func (a *Actor) tick() {
	if !a.inputs.UploadEnabled() {
		a.closeConnection()
		a.state.PublishNetState(NetIdle)
		return
	}

	entries, err := a.storage.ReadUploadStatus()
	if err != nil {
		a.log.Errorw("failed to read upload status", "error", err)
		a.state.PublishNetState(NetDisconnected)
		return
	}

	success := true
	for i := range entries {
		if err := a.processSession(&entries[i]); err != nil {
			a.log.Warnw("upload tick failed for session", "local_id", entries[i].LocalID, "error", err)
			success = false
			a.closeConnection()
		}
	}

	entries = a.removeFinished(entries)
	if err := a.storage.WriteUploadStatus(entries); err != nil {
		a.log.Errorw("failed to persist upload status", "error", err)
		success = false
	}

	if success {
		if a.conn != nil {
			a.state.PublishNetState(NetConnected)
		} else {
			a.state.PublishNetState(NetIdle)
		}
	} else {
		a.state.PublishNetState(NetDisconnected)
		a.connectedLocalID = nil
	}
}

func (a *Actor) processSession(entry *storage.UploadStatusEntry) error {
	count, err := a.storage.GetSessionTrackPointCount(entry.LocalID)
	if err != nil {
		return err
	}
	missing := int64(count) - entry.Uploaded

	if a.connectedLocalID == nil || *a.connectedLocalID != entry.LocalID {
		a.closeConnection()
		if err := a.connect(entry); err != nil {
			return err
		}
		id := entry.LocalID
		a.connectedLocalID = &id
	}

	if missing > 0 {
		if err := a.uploadBatches(entry, missing); err != nil {
			return err
		}
	}

	isTerminating := a.term.ShouldStop()
	isCurrent := entry.LocalID == a.storage.CurrentLocalSessionID()
	missingAfter := int64(count) - entry.Uploaded
	if missingAfter == 0 && (!isCurrent || isTerminating) {
		return a.finalize(entry)
	}
	return nil
}

func (a *Actor) connect(entry *storage.UploadStatusEntry) error {
	a.state.PublishNetState(NetConnecting)

	txn := a.transport.Begin()
	defer txn.End()

	sock, err := dial(txn, a.transport, a.server, a.port)
	if err != nil {
		return err
	}

	nonce := make([]byte, trackcodec.MACSize)
	if err := sock.readExact(nonce, nonceReadTimeout); err != nil {
		sock.close(txn)
		return err
	}

	var hs trackcodec.Handshake
	if entry.HasRemoteID() {
		hs = trackcodec.NewReconnect(a.tripID, uint64(entry.RemoteID))
	} else {
		start, startErr := a.sessionStart(entry.LocalID)
		if startErr != nil {
			sock.close(txn)
			return startErr
		}
		hs = trackcodec.NewFreshSession(a.tripID, start.Unix())
	}

	encoded := hs.Encode()
	mac := trackcodec.Sign(append(append([]byte(nil), nonce...), encoded...), a.authKey[:])
	if err := sock.write(txn, append(encoded, mac...)); err != nil {
		sock.close(txn)
		return err
	}

	if !entry.HasRemoteID() {
		idBuf := make([]byte, 8)
		if err := sock.readExact(idBuf, sessionIDReadTimeout); err != nil {
			sock.close(txn)
			return err
		}
		entry.RemoteID = int64(beUint64(idBuf))
	}

	a.conn = sock
	return nil
}

func (a *Actor) sessionStart(localID uint32) (time.Time, error) {
	type starter interface {
		ReadSessionStartTimestamp(uint32) (time.Time, error)
	}
	if s, ok := a.storage.(starter); ok {
		return s.ReadSessionStartTimestamp(localID)
	}
	return time.Time{}, fmt.Errorf("upload: storage does not support reading session start time")
}

func (a *Actor) uploadBatches(entry *storage.UploadStatusEntry, missing int64) error {
	txn := a.transport.Begin()
	defer txn.End()

	for missing > 0 {
		batch := missing
		if batch > maxTrackPointsPerMessage {
			batch = maxTrackPointsPerMessage
		}

		points, err := a.storage.ReadTrackPoints(entry.LocalID, int(entry.Uploaded), int(batch))
		if err != nil {
			return err
		}

		payload := append([]byte{byte(batch)}, points...)
		mac := trackcodec.Sign(payload, a.authKey[:])
		if err := a.conn.write(txn, append(payload, mac...)); err != nil {
			return err
		}

		entry.Uploaded += batch
		missing -= batch
	}
	return nil
}

func (a *Actor) finalize(entry *storage.UploadStatusEntry) error {
	if _, ok := a.finalizingSince[entry.LocalID]; !ok {
		a.finalizingSince[entry.LocalID] = a.clk.Now()
	}

	txn := a.transport.Begin()
	defer txn.End()

	err := a.finalizeOnce(txn, entry)
	if err == nil {
		delete(a.finalizingSince, entry.LocalID)
		a.markFinished(entry)
		return nil
	}

	if a.term.ShouldStop() && a.clk.Now().Sub(a.finalizingSince[entry.LocalID]) > finalizeRetryBudget {
		delete(a.finalizingSince, entry.LocalID)
		return ErrFinalizationExhausted
	}
	return err
}

// markFinished records a local id the server has confirmed archived;
// removeFinished later drops it from the upload-status entries.
func (a *Actor) markFinished(entry *storage.UploadStatusEntry) {
	if a.finishedIDs == nil {
		a.finishedIDs = make(map[uint32]struct{})
	}
	a.finishedIDs[entry.LocalID] = struct{}{}
}

func (a *Actor) finalizeOnce(txn *modem.Txn, entry *storage.UploadStatusEntry) error {
	if err := a.conn.write(txn, []byte{0}); err != nil {
		return err
	}

	nonce := make([]byte, trackcodec.MACSize)
	if err := a.conn.readExact(nonce, finalizeReadTimeout); err != nil {
		return err
	}

	mac := trackcodec.Sign(nonce, a.authKey[:])
	if err := a.conn.write(txn, mac); err != nil {
		return err
	}

	resp := make([]byte, 1)
	if err := a.conn.readExact(resp, finalizeReadTimeout); err != nil {
		return err
	}
	if resp[0] != 1 {
		return fmt.Errorf("%w: server rejected finalize", ErrProtocol)
	}

	a.conn.close(txn)
	a.conn = nil
	a.connectedLocalID = nil
	return nil
}

func (a *Actor) removeFinished(entries []storage.UploadStatusEntry) []storage.UploadStatusEntry {
	if len(a.finishedIDs) == 0 {
		return entries
	}
	out := entries[:0]
	for _, e := range entries {
		if _, done := a.finishedIDs[e.LocalID]; done {
			delete(a.finishedIDs, e.LocalID)
			continue
		}
		out = append(out, e)
	}
	return out
}

func (a *Actor) closeConnection() {
	if a.conn == nil {
		return
	}
	txn := a.transport.Begin()
	a.conn.close(txn)
	txn.End()
	a.conn = nil
	a.connectedLocalID = nil
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
