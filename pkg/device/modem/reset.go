package modem

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// PowerControl is the hardware-facing side of a reset sequence: toggling
// the modem's power-enable pin and its dedicated hardware reset pin.
// Production wires real GPIOs; tests wire a recording fake.
type PowerControl interface {
	PowerOn()
	PowerOff()
	HardwareReset()
}

// Vendor-prescribed timings for the power-on/reset sequence.
const (
	powerOnSettle = 2 * time.Second
	resetPulseWidth = 200 * time.Millisecond
	bootSettle = 8 * time.Second
	probeTimeout = 1500 * time.Millisecond
	probeAttempts = 5
	probeSpacing = 500 * time.Millisecond
)

// Bringup brings a modem from cold/unknown state to a responsive AT
// interface, probing with ATE0 (echo off) and falling back to a hardware
// reset if the modem never answers.
type Bringup struct {
	power PowerControl
	clk clock.Clock
	log *zap.SugaredLogger
}

// NewBringup constructs a Bringup. Passing nil clk uses the real clock.
func NewBringup(power PowerControl, clk clock.Clock, log *zap.SugaredLogger) *Bringup {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Bringup{power: power, clk: clk, log: log}
}

// PowerOn runs the cold-start sequence: power on, settle, then probe.
func (b *Bringup) PowerOn(t *Transport) error {
	b.power.PowerOn()
	b.clk.Sleep(powerOnSettle)
	return b.probeOrReset(t)
}

// HardwareReset pulses the reset pin and waits for the modem to come back.
func (b *Bringup) HardwareReset(t *Transport) error {
	b.log.Warn("modem hardware reset")
	b.power.HardwareReset()
	b.clk.Sleep(resetPulseWidth)
	b.clk.Sleep(bootSettle)
	return b.probe(t)
}

// probeOrReset probes for a responsive AT interface, escalating to a
// hardware reset if every probe attempt fails.
func (b *Bringup) probeOrReset(t *Transport) error {
	if err := b.probe(t); err != nil {
		return b.HardwareReset(t)
	}
	return nil
}

// probe sends ATE0 up to probeAttempts times, spaced probeSpacing apart,
// returning nil on the first OK.
func (b *Bringup) probe(t *Transport) error {
	var lastErr error
	for i := 0; i < probeAttempts; i++ {
		txn := t.Begin()
		_, err := txn.Send("ATE0", false, probeTimeout)
		txn.End()
		if err == nil {
			return nil
		}
		lastErr = err
		b.log.Debugw("modem probe failed", "attempt", i+1, "error", err)
		b.clk.Sleep(probeSpacing)
	}
	return lastErr
}

// PowerOff releases the modem power-enable pin.
func (b *Bringup) PowerOff() {
	b.power.PowerOff()
}
