package midi

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"go.uber.org/zap"
)

var (
	ErrNotFound        = errors.New("midi endpoint not found")
	ErrDisconnected    = errors.New("midi endpoint disconnected")
	ErrClosed          = errors.New("midi source closed")
	ErrPortScanTimeout = errors.New("midi port scan timed out")
)

const (
	bufferSize = 64

	// CoreMIDI can hang while enumerating ports.
	portScanTimeout = 3 * time.Second

	presenceInterval = 2 * time.Second
)

// NoteEvent is a raw 3-byte channel message as delivered by the transport.
type NoteEvent struct {
	Status   byte
	Note     byte
	Velocity byte
	// Delta is the time since the previous event from the same source.
	Delta time.Duration
}

// Kind returns the message type nibble (0x80 note off, 0x90 note on, ...).
func (e NoteEvent) Kind() byte {
	return e.Status & 0xF0
}

// Channel returns the 1-based MIDI channel.
func (e NoteEvent) Channel() int {
	return int(e.Status&0x0F) + 1
}

// Source delivers note events from one input port. TryReceive must be called
// from a single goroutine.
type Source struct {
	name   string
	in     drivers.In
	stopFn func()
	logger *zap.Logger

	events chan NoteEvent

	dead     chan struct{}
	deadOnce sync.Once
	deadErr  error

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error

	// listener goroutine only
	lastStamp int32
	hasStamp  bool

	ports func() ([]string, error)
}

func newSource(name string, logger *zap.Logger) *Source {
	return &Source{
		name:   name,
		logger: logger,
		events: make(chan NoteEvent, bufferSize),
		dead:   make(chan struct{}),
		closed: make(chan struct{}),
		ports:  Ports,
	}
}

// Open resolves endpoint against the available input ports (exact name
// first, then case-insensitive substring) and starts listening on it.
func Open(endpoint string, logger *zap.Logger) (*Source, error) {
	in, err := findInPort(endpoint)
	if err != nil {
		return nil, err
	}
	if err := in.Open(); err != nil {
		return nil, fmt.Errorf("open %q: %w", in.String(), err)
	}

	s := newSource(in.String(), logger)
	s.in = in

	stop, err := gomidi.ListenTo(in, func(msg gomidi.Message, timestampms int32) {
		s.deliver([]byte(msg), timestampms)
	}, gomidi.HandleError(func(listenErr error) {
		s.logger.Warn("listener error", zap.String("port", s.name), zap.Error(listenErr))
		s.markDead(fmt.Errorf("%w: %q: %v", ErrDisconnected, s.name, listenErr))
	}))
	if err != nil {
		_ = in.Close()
		return nil, fmt.Errorf("listen %q: %w", in.String(), err)
	}
	s.stopFn = stop

	go s.watchPresence(presenceInterval)
	return s, nil
}

// Name is the resolved port name.
func (s *Source) Name() string {
	return s.name
}

func (s *Source) deliver(raw []byte, timestampms int32) {
	if len(raw) != 3 {
		return
	}

	var delta time.Duration
	if s.hasStamp {
		delta = time.Duration(timestampms-s.lastStamp) * time.Millisecond
	}
	s.lastStamp = timestampms
	s.hasStamp = true

	ev := NoteEvent{Status: raw[0], Note: raw[1], Velocity: raw[2], Delta: delta}
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("event buffer full, dropping event",
			zap.String("port", s.name), zap.Uint8("status", ev.Status), zap.Uint8("note", ev.Note))
	}
}

func (s *Source) markDead(err error) {
	s.deadOnce.Do(func() {
		s.deadErr = err
		close(s.dead)
	})
}

func (s *Source) deadError() error {
	select {
	case <-s.dead:
		return s.deadErr
	default:
		return nil
	}
}

// watchPresence re-enumerates ports every interval and marks the source dead
// when its port is gone. A scan timeout is not treated as a disconnect. It
// returns once the source is closed or dead.
func (s *Source) watchPresence(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-s.closed:
			return
		case <-s.dead:
			return
		case <-t.C:
		}

		names, err := s.ports()
		if err != nil {
			s.logger.Debug("presence check skipped", zap.Error(err))
			continue
		}
		if !slices.Contains(names, s.name) {
			s.logger.Warn("port disappeared", zap.String("port", s.name))
			s.markDead(fmt.Errorf("%w: %q", ErrDisconnected, s.name))
			return
		}
	}
}

// TryReceive waits up to timeout for the next event. It returns ok=false with
// a nil error when nothing arrived, and ErrDisconnected once the port is gone
// and every buffered event has been handed out.
func (s *Source) TryReceive(timeout time.Duration) (NoteEvent, bool, error) {
	select {
	case <-s.closed:
		return NoteEvent{}, false, ErrClosed
	default:
	}

	select {
	case ev := <-s.events:
		return ev, true, nil
	default:
	}

	if err := s.deadError(); err != nil {
		return NoteEvent{}, false, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-s.events:
		return ev, true, nil
	case <-s.dead:
		return NoteEvent{}, false, s.deadErr
	case <-s.closed:
		return NoteEvent{}, false, ErrClosed
	case <-timer.C:
		return NoteEvent{}, false, nil
	}
}

// Flush discards every buffered event and returns how many were dropped.
func (s *Source) Flush() int {
	n := 0
	for {
		select {
		case <-s.events:
			n++
		default:
			return n
		}
	}
}

// Close stops listening and releases the port. Safe to call more than once.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.stopFn != nil {
			s.stopFn()
		}
		if s.in != nil {
			s.closeErr = s.in.Close()
		}
		s.logger.Info("port closed", zap.String("port", s.name))
	})
	return s.closeErr
}

// Ports lists the names of the available input ports.
func Ports() ([]string, error) {
	ins, err := inPorts()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ins))
	for _, in := range ins {
		names = append(names, in.String())
	}
	return names, nil
}

// portScan is one in-flight GetInPorts call. Callers that time out leave it
// running; later callers join it instead of starting another.
type portScan struct {
	done chan struct{}
	ins  []drivers.In
}

var (
	scanMu  sync.Mutex
	current *portScan
)

func inPorts() ([]drivers.In, error) {
	scanMu.Lock()
	scan := current
	if scan == nil {
		scan = &portScan{done: make(chan struct{})}
		current = scan
		go func() {
			ins := gomidi.GetInPorts()
			scanMu.Lock()
			scan.ins = ins
			current = nil
			scanMu.Unlock()
			close(scan.done)
		}()
	}
	scanMu.Unlock()

	timer := time.NewTimer(portScanTimeout)
	defer timer.Stop()
	select {
	case <-scan.done:
		return scan.ins, nil
	case <-timer.C:
		return nil, ErrPortScanTimeout
	}
}

func findInPort(endpoint string) (drivers.In, error) {
	ins, err := inPorts()
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrNotFound, endpoint, err)
	}
	if in := matchPort(ins, endpoint); in != nil {
		return in, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, endpoint)
}

func matchPort(ins []drivers.In, endpoint string) drivers.In {
	for _, in := range ins {
		if in.String() == endpoint {
			return in
		}
	}
	for _, in := range ins {
		if containsCI(in.String(), endpoint) {
			return in
		}
	}
	return nil
}

func containsCI(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
