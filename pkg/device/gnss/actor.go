// Package gnss implements the GNSS acquisition actor: it enables
// the GNSS subsystem, subscribes to its one-per-second info URC, parses
// fixes, announces wall-clock time, and hands TrackPoints to storage.
package gnss

import (
	"time"

	"go.uber.org/zap"

	"github.com/intelcon-group/triptracker/internal/lifecycle"
	"github.com/intelcon-group/triptracker/internal/walltime"
	"github.com/intelcon-group/triptracker/pkg/device/modem"
	"github.com/intelcon-group/triptracker/pkg/trackcodec"
)

// infoURCTag is the unsolicited result code tag the modem emits once
// per second while GNSS reporting is enabled.
const infoURCTag = "GPSNMEA"

// noFixTimeout is how long the actor waits for an info URC before
// marking the fix LED "no fix".
const noFixTimeout = 2 * time.Second

const cmdTimeout = 3 * time.Second

// Storage is the subset of the storage service the GNSS actor drives:
// recording the session start-time on the first fix and appending every
// accepted point.
type Storage interface {
	SetStartTime(t time.Time) error
	AppendTrackPoint(p trackcodec.Point) error
}

// LED reports fix state to the status-LED driver.
type LED interface {
	SetFixState(hasFix bool)
}

// enableSequence is the fixed, ordered list of AT commands that brings
// GNSS online: power, constellation mode (GPS+GLONASS+Galileo+BeiDou),
// 1 Hz info URC, port switch.
var enableSequence = []string{
	"AT+CGNSSPWR=1",
	"AT+CGNSSMODE=15",
	"AT+CGNSSTST=1",
	"AT+CGNSSPORTSWITCH=0,1",
}

// disableSequence writes the complementary commands.
var disableSequence = []string{
	"AT+CGNSSTST=0",
	"AT+CGNSSPWR=0",
}

// Actor runs the GNSS enable/parse/emit loop until terminated.
type Actor struct {
	transport *modem.Transport
	storage Storage
	led LED
	clock *walltime.Publisher
	term *lifecycle.Terminator
	log *zap.SugaredLogger

	haveStart bool
}

// New constructs a GNSS Actor. clock receives the first accepted fix's
// timestamp as the device-wide wall-clock announcement.
func New(transport *modem.Transport, storage Storage, led LED, clock *walltime.Publisher, log *zap.SugaredLogger) *Actor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Actor{
		transport: transport,
		storage: storage,
		led: led,
		clock: clock,
		term: lifecycle.NewTerminator(),
		log: log,
	}
}

// Terminator exposes the actor's cooperative shutdown handle.
func (a *Actor) Terminator() *lifecycle.Terminator { return a.term }

// Run enables GNSS and processes info URCs until Terminate is called,
// then disables GNSS and confirms termination.
func (a *Actor) Run() error {
	if err := a.enable(); err != nil {
		a.term.Confirm()
		return err
	}

	sub := a.transport.Subscribe(infoURCTag)
	defer sub.Unsubscribe()

	for {
		if a.term.ShouldStop() {
			break
		}

		select {
		case u := <-sub.C():
			a.handleURC(u.Body)
		case <-time.After(noFixTimeout):
			a.led.SetFixState(false)
		}
	}

	a.disable()
	a.term.Confirm()
	return nil
}

func (a *Actor) handleURC(body string) {
	f, err := parseFix(body)
	if err != nil {
		a.log.Debugw("gnss fix rejected", "error", err)
		a.led.SetFixState(false)
		return
	}

	if !a.haveStart {
		if err := a.storage.SetStartTime(f.timestamp); err != nil {
			a.log.Errorw("failed to record session start time", "error", err)
			return
		}
		a.clock.Publish(f.timestamp)
		a.haveStart = true
	}

	point := trackcodec.Point{
		Timestamp: f.timestamp,
		Latitude: f.latitude,
		Longitude: f.longitude,
		Altitude: f.altitudeM,
		Speed: f.speedKmh,
		GoodPrecision: f.goodPrecision,
	}
	if err := a.storage.AppendTrackPoint(point); err != nil {
		a.log.Errorw("failed to append track point", "error", err)
		return
	}
	a.led.SetFixState(true)
}

func (a *Actor) enable() error {
	txn := a.transport.Begin()
	defer txn.End()
	for _, cmd := range enableSequence {
		if _, err := txn.Send(cmd, false, cmdTimeout); err != nil {
			return err
		}
	}
	return nil
}

func (a *Actor) disable() {
	txn := a.transport.Begin()
	defer txn.End()
	for _, cmd := range disableSequence {
		if _, err := txn.Send(cmd, false, cmdTimeout); err != nil {
			a.log.Warnw("gnss disable command failed", "cmd", cmd, "error", err)
		}
	}
}
