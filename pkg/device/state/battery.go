// Package state implements the device-side state service: battery/solar voltage sampling, LED pattern output, the
// wall-clock publisher wiring, and the upload-enabled/deep-sleep inputs
// the rest of the device reads.
package state

import "fmt"

// BatteryStatus classifies the power-rail reading (original source's
// `BatteryStatus` enum).
type BatteryStatus int

const (
	BatteryUnknown BatteryStatus = iota
	BatteryChargingUSB
	BatteryCharging
	BatteryDischarging
)

func (s BatteryStatus) String() string {
	switch s {
	case BatteryChargingUSB:
		return "charging-usb"
	case BatteryCharging:
		return "charging"
	case BatteryDischarging:
		return "discharging"
	default:
		return "unknown"
	}
}

const (
	usbPresentThresholdMV = 500
	solarPresentThresholdMV = 500
	batteryMinMV = 3500 // 0%
	batteryMaxMV = 4200 // 100%
)

// BatteryReading is one sampled power state.
type BatteryReading struct {
	Status BatteryStatus
	Percent uint8 // meaningful only for Charging/Discharging
}

// ClassifyBattery turns raw battery/solar millivolt readings into a
// BatteryReading, mirroring the original source's power_monitor task:
// USB presence pulls the battery pin low, and solar presence
// distinguishes charging from discharging.
func ClassifyBattery(batteryMV, solarMV int) BatteryReading {
	if batteryMV < usbPresentThresholdMV {
		return BatteryReading{Status: BatteryChargingUSB}
	}
	pct := batteryPercentage(batteryMV)
	if solarMV < solarPresentThresholdMV {
		return BatteryReading{Status: BatteryDischarging, Percent: pct}
	}
	return BatteryReading{Status: BatteryCharging, Percent: pct}
}

func batteryPercentage(mv int) uint8 {
	if mv <= batteryMinMV {
		return 0
	}
	if mv >= batteryMaxMV {
		return 100
	}
	pct := float64(mv-batteryMinMV) / float64(batteryMaxMV-batteryMinMV) * 100.0
	return uint8(pct)
}

func (r BatteryReading) String() string {
	if r.Status == BatteryCharging || r.Status == BatteryDischarging {
		return fmt.Sprintf("%s(%d%%)", r.Status, r.Percent)
	}
	return r.Status.String()
}
