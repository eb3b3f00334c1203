package state

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/intelcon-group/triptracker/internal/lifecycle"
	"github.com/intelcon-group/triptracker/internal/walltime"
	"github.com/intelcon-group/triptracker/pkg/device/upload"
)

// deviceState is the mutex-guarded snapshot the LED output loop
// recomputes its pattern from, mirroring the original source's
// `DeviceState` struct.
type deviceState struct {
	battery BatteryReading
	hasGNSSFix bool
	netConnected *bool // nil: unknown/idle, matching Option<bool>
}

// DigitalInput is a single GPIO read, abstracting the upload-enabled
// toggle and any other board switch the state service exposes.
type DigitalInput interface {
	IsHigh() bool
}

// VoltageSource samples one ADC channel in millivolts.
type VoltageSource interface {
	ReadMV() (int, error)
}

// Buzzer is the fatal-panic latch (SUPPLEMENTED FEATURES "LED/buzzer
// state machine").
type Buzzer interface {
	Sound()
}

// Service is the device-wide state service: power monitor, LED output,
// wall-clock publisher, and the upload-enabled/deep-sleep inputs.
type Service struct {
	mu sync.Mutex
	state deviceState

	uploadEnabled DigitalInput
	battery VoltageSource
	solar VoltageSource
	leds LEDPorts
	buzzer Buzzer
	clk clock.Clock
	log *zap.SugaredLogger

	term *lifecycle.Terminator
	clock *walltime.Publisher

	signal chan struct{}
	deepSleep int32
	pollPeriod time.Duration
}

// New constructs a state Service. A nil clk uses the real clock.
func New(uploadEnabled DigitalInput, battery, solar VoltageSource, leds LEDPorts, buzzer Buzzer, clk clock.Clock, log *zap.SugaredLogger) *Service {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{
		uploadEnabled: uploadEnabled,
		battery: battery,
		solar: solar,
		leds: leds,
		buzzer: buzzer,
		clk: clk,
		log: log,
		term: lifecycle.NewTerminator(),
		clock: walltime.NewPublisher(clk),
		signal: make(chan struct{}, 1),
		pollPeriod: 2 * time.Second,
	}
}

// Terminator exposes the actor's cooperative shutdown handle.
func (s *Service) Terminator() *lifecycle.Terminator { return s.term }

// Clock exposes the device-wide wall-clock publisher, announced by the
// GNSS actor and read by anything needing an absolute timestamp.
func (s *Service) Clock() *walltime.Publisher { return s.clock }

// UploadEnabled implements upload.Inputs.
func (s *Service) UploadEnabled() bool { return s.uploadEnabled.IsHigh() }

// IsInDeepSleep reports whether the supervisor has put the device to
// sleep.
func (s *Service) IsInDeepSleep() bool { return atomic.LoadInt32(&s.deepSleep) != 0 }

// SetDeepSleep sets the flag IsInDeepSleep reports.
func (s *Service) SetDeepSleep(asleep bool) {
	var v int32
	if asleep {
		v = 1
	}
	atomic.StoreInt32(&s.deepSleep, v)
}

// SetFixState implements gnss.LED.
func (s *Service) SetFixState(hasFix bool) {
	s.mu.Lock()
	s.state.hasGNSSFix = hasFix
	s.mu.Unlock()
	s.notify()
}

// PublishNetState implements upload.StatePublisher.
func (s *Service) PublishNetState(n upload.NetState) {
	s.mu.Lock()
	switch n {
	case upload.NetConnected:
		v := true
		s.state.netConnected = &v
	case upload.NetDisconnected:
		v := false
		s.state.netConnected = &v
	default:
		s.state.netConnected = nil
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Service) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Fatal logs a fatal condition, sounds the buzzer, and halts the
// process by panicking with msg.
func (s *Service) Fatal(msg string, err error) {
	s.log.Errorw("fatal: "+msg, "error", err)
	if s.buzzer != nil {
		s.buzzer.Sound()
	}
	panic(msg)
}

// RunPowerMonitor samples battery/solar voltage every pollPeriod until
// terminated, updating the LED pattern on any change.
func (s *Service) RunPowerMonitor() {
	var previous BatteryReading
	for {
		if s.term.ShouldStop() {
			break
		}

		bmv, err := s.battery.ReadMV()
		if err != nil {
			s.log.Warnw("battery read failed", "error", err)
		}
		smv, err := s.solar.ReadMV()
		if err != nil {
			s.log.Warnw("solar read failed", "error", err)
		}

		reading := ClassifyBattery(bmv, smv)
		if reading != previous {
			s.mu.Lock()
			s.state.battery = reading
			s.mu.Unlock()
			previous = reading
			s.notify()
		}

		s.clk.Sleep(s.pollPeriod)
	}
}

// RunLEDOutput recomputes and applies the LED pattern whenever the
// state changes, waking at least every 2s (original source's
// `with_timeout`). On termination it confirms the service's terminator;
// RunPowerMonitor stops on the same flag without confirming.
func (s *Service) RunLEDOutput() {
	for {
		select {
		case <-s.signal:
		case <-s.clk.After(2 * time.Second):
		}

		if s.term.ShouldStop() {
			break
		}

		s.mu.Lock()
		st := s.state
		s.mu.Unlock()

		pattern := computeLEDPattern(st.battery, st.hasGNSSFix, st.netConnected)
		s.leds.Apply(pattern)
	}
	s.term.Confirm()
}
