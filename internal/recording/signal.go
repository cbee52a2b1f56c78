// Package recording turns raw note events into recording-state signals.
package recording

import "logichue/internal/midi"

// DefaultTargetNote is the note Logic Pro's recording light control surface
// sends for the record indicator (C0).
const DefaultTargetNote = 24

const (
	statusNoteOff = 0x80
	statusNoteOn  = 0x90
)

type Signal int

const (
	Ignored Signal = iota
	Started
	Stopped
)

func (s Signal) String() string {
	switch s {
	case Started:
		return "started"
	case Stopped:
		return "stopped"
	default:
		return "ignored"
	}
}

// Classifier is stateless; repeated Started events each yield Started.
type Classifier struct {
	TargetNote uint8
}

func NewClassifier(targetNote uint8) Classifier {
	return Classifier{TargetNote: targetNote}
}

func (c Classifier) Classify(ev midi.NoteEvent) Signal {
	return Classify(ev, c.TargetNote)
}

// Classify maps a note event on targetNote to a signal. A note on with
// velocity 0 is a note off.
func Classify(ev midi.NoteEvent, targetNote uint8) Signal {
	if ev.Note != targetNote {
		return Ignored
	}
	switch ev.Kind() {
	case statusNoteOn:
		if ev.Velocity > 0 {
			return Started
		}
		return Stopped
	case statusNoteOff:
		return Stopped
	default:
		return Ignored
	}
}
