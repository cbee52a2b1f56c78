// Package gate runs the loop that forwards recording signals to the light
// while the host's Focus mode matches the configured target.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"logichue/internal/focus"
	"logichue/internal/midi"
	"logichue/internal/recording"
)

// ErrSourceLost ends Run when the MIDI source is gone. It wraps the source's
// own error.
var ErrSourceLost = errors.New("midi source lost")

type State int32

const (
	Closed State = iota
	Open
	Failed
	Stopped
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case Failed:
		return "failed"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type EventSource interface {
	TryReceive(timeout time.Duration) (midi.NoteEvent, bool, error)
	// Flush drops buffered events and reports how many.
	Flush() int
	Close() error
}

type Classifier interface {
	Classify(ev midi.NoteEvent) recording.Signal
}

type Actuator interface {
	Apply(ctx context.Context, lightID int, sig recording.Signal) error
	Close() error
}

type Config struct {
	// TargetMode opens the gate when it equals the current Focus mode.
	// Empty keeps the gate open regardless of Focus.
	TargetMode         focus.Mode
	LightID            int
	PollIntervalClosed time.Duration
	PollIntervalOpen   time.Duration
	ReceiveTimeout     time.Duration
}

// Loop owns the source and the actuator once constructed and closes both
// when Run returns.
type Loop struct {
	cfg        Config
	focus      focus.Reader
	source     EventSource
	classifier Classifier
	actuator   Actuator
	logger     *zap.Logger

	state       atomic.Int32
	releaseOnce sync.Once
	lastReadErr string
}

func New(cfg Config, reader focus.Reader, source EventSource, classifier Classifier, actuator Actuator, logger *zap.Logger) *Loop {
	return &Loop{
		cfg:        cfg,
		focus:      reader,
		source:     source,
		classifier: classifier,
		actuator:   actuator,
		logger:     logger.Named("gate"),
	}
}

func (l *Loop) State() State {
	return State(l.state.Load())
}

// Run blocks until ctx is cancelled (returns nil) or the MIDI source is lost
// (returns an error wrapping ErrSourceLost). Actuator failures are logged and
// do not end the loop.
func (l *Loop) Run(ctx context.Context) error {
	defer l.release()

	l.logger.Info("gate started",
		zap.Stringer("target", l.cfg.TargetMode),
		zap.Int("light", l.cfg.LightID),
		zap.Duration("poll_closed", l.cfg.PollIntervalClosed),
		zap.Duration("poll_open", l.cfg.PollIntervalOpen),
	)

	for {
		if ctx.Err() != nil {
			l.transition(Stopped, "")
			return nil
		}

		switch l.State() {
		case Closed:
			mode := l.readFocus(ctx)
			if l.matches(mode) {
				l.transition(Open, mode)
				if n := l.source.Flush(); n > 0 {
					l.logger.Info("discarded events received while closed", zap.Int("count", n))
				}
				continue
			}
			if !sleep(ctx, l.cfg.PollIntervalClosed) {
				l.transition(Stopped, "")
				return nil
			}
		case Open:
			if err := l.drain(ctx); err != nil {
				l.transition(Failed, "")
				l.logger.Error("gate failed", zap.Error(err))
				return err
			}
		default:
			return nil
		}
	}
}

// drain consumes events until the Focus mode stops matching, ctx is done or
// the source fails.
func (l *Loop) drain(ctx context.Context) error {
	lastRead := time.Now()
	for ctx.Err() == nil {
		if time.Since(lastRead) >= l.cfg.PollIntervalOpen {
			mode := l.readFocus(ctx)
			lastRead = time.Now()
			if !l.matches(mode) {
				l.transition(Closed, mode)
				return nil
			}
		}

		ev, ok, err := l.source.TryReceive(l.cfg.ReceiveTimeout)
		if err != nil {
			if errors.Is(err, midi.ErrDisconnected) || errors.Is(err, midi.ErrClosed) {
				return fmt.Errorf("%w: %w", ErrSourceLost, err)
			}
			l.logger.Warn("midi receive failed", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		sig := l.classifier.Classify(ev)
		l.logger.Debug("note event",
			zap.Uint8("status", ev.Status),
			zap.Int("channel", ev.Channel()),
			zap.Uint8("note", ev.Note),
			zap.Uint8("velocity", ev.Velocity),
			zap.Duration("delta", ev.Delta),
			zap.Stringer("signal", sig),
		)
		if sig == recording.Ignored {
			continue
		}

		if err := l.actuator.Apply(ctx, l.cfg.LightID, sig); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.logger.Warn("light command skipped",
				zap.Int("light", l.cfg.LightID),
				zap.Stringer("signal", sig),
				zap.Error(err),
			)
		}
	}
	return nil
}

// readFocus returns NoFocus on failure. Repeated identical failures are
// logged once at warn level.
func (l *Loop) readFocus(ctx context.Context) focus.Mode {
	mode, err := l.focus.CurrentMode(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return focus.NoFocus
		}
		if msg := err.Error(); msg != l.lastReadErr {
			l.lastReadErr = msg
			l.logger.Warn("focus read failed", zap.Error(err))
		} else {
			l.logger.Debug("focus read failed", zap.Error(err))
		}
		return focus.NoFocus
	}
	if l.lastReadErr != "" {
		l.logger.Info("focus read recovered", zap.Stringer("mode", mode))
		l.lastReadErr = ""
	}
	return mode
}

func (l *Loop) matches(mode focus.Mode) bool {
	return l.cfg.TargetMode == focus.NoFocus || mode == l.cfg.TargetMode
}

func (l *Loop) transition(to State, mode focus.Mode) {
	from := State(l.state.Swap(int32(to)))
	if from == to {
		return
	}
	fields := []zap.Field{zap.Stringer("from", from), zap.Stringer("to", to)}
	if to == Open || to == Closed {
		fields = append(fields, zap.Stringer("mode", mode))
	}
	l.logger.Info("gate transition", fields...)
}

func (l *Loop) release() {
	l.releaseOnce.Do(func() {
		if err := l.source.Close(); err != nil {
			l.logger.Warn("close midi source", zap.Error(err))
		}
		if err := l.actuator.Close(); err != nil {
			l.logger.Warn("close light session", zap.Error(err))
		}
	})
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
