package storage

import "errors"

var (
	// ErrConfigOpen is returned when CONFIG.CFG cannot be opened or
	// parsed; fatal on the device.
	ErrConfigOpen = errors.New("storage: failed to open CONFIG.CFG")

	// ErrVolumeOpen is returned when the removable volume cannot be
	// opened; fatal on the device.
	ErrVolumeOpen = errors.New("storage: failed to open removable volume")

	// ErrBadTSFSize indicates a TSF file's size is not congruent to 8
	// modulo 15.
	ErrBadTSFSize = errors.New("storage: TSF file size not congruent to 8 mod 15")

	// ErrStartTimeAlreadySet indicates SetStartTime was called more than
	// once for a session.
	ErrStartTimeAlreadySet = errors.New("storage: session start time already set")

	// ErrStartTimeNotSet indicates AppendTrackPoint was called before
	// SetStartTime.
	ErrStartTimeNotSet = errors.New("storage: session start time not set")

	// ErrUploadStatusParse indicates STATE.CSV could not be parsed.
	ErrUploadStatusParse = errors.New("storage: failed to parse upload status file")
)
