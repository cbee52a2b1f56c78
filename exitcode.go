package main

import (
	"errors"
	"fmt"

	"logichue/internal/config"
	"logichue/internal/lights"
	"logichue/internal/midi"
)

const (
	exitOK             = 0
	exitFatal          = 1
	exitConfig         = 2
	exitMIDINotFound   = 3
	exitUnreachable    = 4
	exitPairing        = 5
	exitAlreadyRunning = 6
)

var (
	errAlreadyRunning = errors.New("another instance is already running")
	errNoCredential   = fmt.Errorf("%w: no bridge credential configured", lights.ErrPairingRequired)
)

// exitCode maps the error that ended a command to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, config.ErrInvalid):
		return exitConfig
	case errors.Is(err, errAlreadyRunning):
		return exitAlreadyRunning
	case errors.Is(err, midi.ErrNotFound), errors.Is(err, midi.ErrPortScanTimeout):
		return exitMIDINotFound
	case errors.Is(err, lights.ErrPairingRequired):
		return exitPairing
	case errors.Is(err, lights.ErrUnreachable):
		return exitUnreachable
	default:
		return exitFatal
	}
}

const exitCodeHelp = `Exit codes:
  0  clean stop (interrupt or SIGTERM)
  1  fatal error, including the MIDI source disconnecting mid-run
  2  configuration error
  3  MIDI endpoint not found at startup
  4  light or bridge unreachable at startup
  5  pairing required (run "logichue pair")
  6  another instance is already running
`
