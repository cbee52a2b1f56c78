//go:build cgo

package main

// rtmidi talks to CoreMIDI, ALSA or WinMM and needs cgo. Without it the
// binary still builds but reports no MIDI ports.
import _ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
