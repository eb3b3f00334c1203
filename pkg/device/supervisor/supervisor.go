// Package supervisor holds the device-wide service registry and the
// deep-sleep wake-pin poll described in "Deep sleep": services
// register a terminator handle at startup, and shutdown stops them in
// the reverse of registration order before the device sleeps.
package supervisor

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/intelcon-group/triptracker/internal/lifecycle"
)

// WakePin is the digital input the supervisor polls to decide whether
// the device should stay awake.
type WakePin interface {
	IsHigh() bool
}

// DeepSleeper is the hardware hook invoked once every registered
// service has confirmed shutdown. On a microcontroller this configures
// the wake pin as an external wake source and never returns; the
// interface lets it be swapped for a no-op in tests.
type DeepSleeper interface {
	EnterDeepSleep()
}

const (
	defaultPollInterval = 1 * time.Second
	defaultLowSecsThreshold = 5
)

type registration struct {
	name string
	term *lifecycle.Terminator
}

// Supervisor orders service teardown and drives deep-sleep entry/exit.
type Supervisor struct {
	handles []registration

	wakePin WakePin
	sleeper DeepSleeper
	clk clock.Clock
	log *zap.SugaredLogger
	term *lifecycle.Terminator

	pollInterval time.Duration
	lowThreshold time.Duration
}

// New constructs a Supervisor. A nil clk uses the real clock.
func New(wakePin WakePin, sleeper DeepSleeper, clk clock.Clock, log *zap.SugaredLogger) *Supervisor {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Supervisor{
		wakePin: wakePin,
		sleeper: sleeper,
		clk: clk,
		log: log,
		term: lifecycle.NewTerminator(),
		pollInterval: defaultPollInterval,
		lowThreshold: defaultLowSecsThreshold * time.Second,
	}
}

// Terminator exposes the supervisor's own cooperative shutdown handle,
// used to stop the wake-pin poll loop without entering deep sleep (a
// process-level SIGTERM rather than a wake-pin-low condition).
func (s *Supervisor) Terminator() *lifecycle.Terminator { return s.term }

// Register adds a service's terminator handle. Stop order is the
// reverse of registration order; there is no implicit global state
// beyond this slice.
func (s *Supervisor) Register(name string, term *lifecycle.Terminator) {
	s.handles = append(s.handles, registration{name: name, term: term})
}

// Run polls the wake pin until either the supervisor is terminated or
// the pin has read low for the configured number of consecutive
// seconds, at which point it stops every registered service in reverse
// order and hands off to the deep-sleep hook.
func (s *Supervisor) Run() {
	var lowSince time.Time
	for {
		if s.term.ShouldStop() {
			s.StopAll()
			s.term.Confirm()
			return
		}

		if s.wakePin.IsHigh() {
			lowSince = time.Time{}
		} else {
			if lowSince.IsZero() {
				lowSince = s.clk.Now()
			} else if s.clk.Now().Sub(lowSince) >= s.lowThreshold {
				s.log.Infow("wake pin low past threshold, entering deep sleep", "threshold", s.lowThreshold)
				s.StopAll()
				s.sleeper.EnterDeepSleep()
				return
			}
		}

		s.clk.Sleep(s.pollInterval)
	}
}

// StopAll terminates every registered service in reverse-registration
// order, waiting for each to confirm before signaling the next.
func (s *Supervisor) StopAll() {
	for i := len(s.handles) - 1; i >= 0; i-- {
		h := s.handles[i]
		s.log.Infow("stopping service", "service", h.name)
		h.term.Terminate()
		h.term.Wait()
	}
}
