package state

// LEDPattern is the computed three-LED output (power RGB, GNSS red/green,
// network red/green), recomputed on every state change.
type LEDPattern struct {
	PowerRed, PowerGreen, PowerBlue bool
	GNSSRed, GNSSGreen bool
	NetworkRed, NetworkGreen bool
}

// LEDPorts is the hardware-facing sink for a computed pattern.
type LEDPorts interface {
	Apply(LEDPattern)
}

// computeLEDPattern mirrors the original source's state_output task: a
// pure function of the current device state, called whenever anything
// changes.
func computeLEDPattern(battery BatteryReading, hasGNSSFix bool, netConnected *bool) LEDPattern {
	var p LEDPattern

	switch battery.Status {
	case BatteryUnknown:
		// all power LEDs off
	case BatteryChargingUSB:
		p.PowerBlue = true
	case BatteryCharging, BatteryDischarging:
		switch {
		case battery.Percent <= 33:
			p.PowerRed = true
		case battery.Percent <= 66:
			p.PowerGreen = true
			p.PowerRed = true
		default:
			p.PowerGreen = true
		}
	}

	if hasGNSSFix {
		p.GNSSGreen = true
	} else {
		p.GNSSRed = true
	}

	if netConnected != nil {
		if *netConnected {
			p.NetworkGreen = true
		} else {
			p.NetworkRed = true
		}
	}
	// netConnected == nil: both network LEDs off, matching "no opinion yet".

	return p
}
