package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"logichue/internal/config"
	"logichue/internal/focus"
	"logichue/internal/gate"
	"logichue/internal/lights"
	"logichue/internal/midi"
)

type stubController struct {
	mu         sync.Mutex
	connectErr error
	commands   []lights.Command
	closed     int
}

func (c *stubController) Brand() lights.Brand { return lights.BrandHue }

func (c *stubController) Connect(ctx context.Context) error {
	if c.connectErr != nil {
		return c.connectErr
	}
	return ctx.Err()
}

func (c *stubController) SetState(ctx context.Context, lightID int, cmd lights.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = append(c.commands, cmd)
	return nil
}

func (c *stubController) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

// stubSource holds events buffered before the gate opens in events, and
// events that arrive once it is open in live.
type stubSource struct {
	mu      sync.Mutex
	events  []midi.NoteEvent
	live    []midi.NoteEvent
	err     error
	onEmpty func()
	closed  int
}

func (s *stubSource) TryReceive(timeout time.Duration) (midi.NoteEvent, bool, error) {
	s.mu.Lock()
	if len(s.events) > 0 {
		ev := s.events[0]
		s.events = s.events[1:]
		s.mu.Unlock()
		return ev, true, nil
	}
	err, onEmpty := s.err, s.onEmpty
	s.mu.Unlock()
	if err != nil {
		return midi.NoteEvent{}, false, err
	}
	if onEmpty != nil {
		onEmpty()
	}
	time.Sleep(timeout)
	return midi.NoteEvent{}, false, nil
}

func (s *stubSource) Flush() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.events)
	s.events, s.live = s.live, nil
	return n
}

func (s *stubSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func testAppConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.MIDI.ReceiveTimeout = time.Millisecond
	cfg.Light.Address = "192.168.178.87"
	cfg.Light.Credential = "key"
	cfg.Focus.Source = config.FocusSourceStatic
	cfg.Focus.StaticMode = "Music Production"
	cfg.Focus.TargetMode = "Music Production"
	cfg.Focus.PollIntervalClosed = 5 * time.Millisecond
	return cfg
}

func newTestApp(t *testing.T, cfg config.Config, ctrl *stubController, src *stubSource, openErr error) *App {
	app := NewApp(cfg, zaptest.NewLogger(t))
	app.newController = func(config.LightConfig, *zap.Logger) (lights.Controller, error) {
		return ctrl, nil
	}
	app.openSource = func(string, *zap.Logger) (gate.EventSource, error) {
		if openErr != nil {
			return nil, openErr
		}
		return src, nil
	}
	return app
}

func TestApp_RunDrivesLight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrl := &stubController{}
	src := &stubSource{
		live: []midi.NoteEvent{
			{Status: 0x90, Note: 24, Velocity: 127},
			{Status: 0x90, Note: 24, Velocity: 0},
		},
		onEmpty: cancel,
	}

	core, logs := observer.New(zap.InfoLevel)
	app := newTestApp(t, testAppConfig(), ctrl, src, nil)
	app.logger = zap.New(core)

	err := app.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, exitOK, exitCode(err))

	assert.Equal(t, []lights.Command{lights.RecordingCommand(), lights.IdleCommand()}, ctrl.commands)
	assert.Equal(t, 1, src.closed)
	assert.Equal(t, 1, ctrl.closed)

	final := logs.FilterMessage("light left in last applied state").All()
	require.Len(t, final, 1)
	assert.Equal(t, lights.IdleCommand().Hue, final[0].ContextMap()["hue"])
}

func TestApp_RunDiscardsEventsFromBeforeStartup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrl := &stubController{}
	src := &stubSource{
		events: []midi.NoteEvent{
			{Status: 0x90, Note: 24, Velocity: 127},
		},
		onEmpty: cancel,
	}

	err := newTestApp(t, testAppConfig(), ctrl, src, nil).Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, ctrl.commands)
}

func TestApp_RunCancelledDuringConnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ctrl := &stubController{}
	src := &stubSource{}

	err := newTestApp(t, testAppConfig(), ctrl, src, nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, exitOK, exitCode(err))
	assert.Equal(t, 1, src.closed)
	assert.Empty(t, ctrl.commands)
}

func TestApp_RunWithoutCredential(t *testing.T) {
	cfg := testAppConfig()
	cfg.Light.Credential = ""

	err := newTestApp(t, cfg, &stubController{}, &stubSource{}, nil).Run(context.Background())
	assert.ErrorIs(t, err, lights.ErrPairingRequired)
	assert.Equal(t, exitPairing, exitCode(err))
}

func TestApp_RunEndpointMissing(t *testing.T) {
	ctrl := &stubController{}
	err := newTestApp(t, testAppConfig(), ctrl, nil, fmt.Errorf("%w: %q", midi.ErrNotFound, "Logic Pro Virtual Out")).Run(context.Background())

	assert.Equal(t, exitMIDINotFound, exitCode(err))
	assert.Equal(t, 1, ctrl.closed)
}

func TestApp_RunBridgeUnreachable(t *testing.T) {
	ctrl := &stubController{connectErr: errors.New("dial tcp 192.168.178.87:443: connect: no route to host")}
	src := &stubSource{}

	err := newTestApp(t, testAppConfig(), ctrl, src, nil).Run(context.Background())
	assert.ErrorIs(t, err, lights.ErrUnreachable)
	assert.Equal(t, exitUnreachable, exitCode(err))
	assert.Equal(t, 1, src.closed)
}

func TestApp_RunCredentialRejected(t *testing.T) {
	ctrl := &stubController{connectErr: fmt.Errorf("%w: bridge returned 403", lights.ErrPairingRequired)}
	src := &stubSource{}

	err := newTestApp(t, testAppConfig(), ctrl, src, nil).Run(context.Background())
	assert.Equal(t, exitPairing, exitCode(err))
	assert.Equal(t, 1, src.closed)
}

func TestApp_RunSourceLost(t *testing.T) {
	ctrl := &stubController{}
	src := &stubSource{err: midi.ErrDisconnected}

	err := newTestApp(t, testAppConfig(), ctrl, src, nil).Run(context.Background())
	assert.ErrorIs(t, err, gate.ErrSourceLost)
	assert.Equal(t, exitFatal, exitCode(err))
	assert.Equal(t, 1, src.closed)
	assert.Equal(t, 1, ctrl.closed)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{fmt.Errorf("%w: bad yaml", config.ErrInvalid), exitConfig},
		{fmt.Errorf("%w: \"x\"", midi.ErrNotFound), exitMIDINotFound},
		{midi.ErrPortScanTimeout, exitMIDINotFound},
		{fmt.Errorf("%w: timeout", lights.ErrUnreachable), exitUnreachable},
		{errNoCredential, exitPairing},
		{fmt.Errorf("%w (lock x)", errAlreadyRunning), exitAlreadyRunning},
		{fmt.Errorf("%w: %w", gate.ErrSourceLost, midi.ErrDisconnected), exitFatal},
		{errors.New("boom"), exitFatal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exitCode(tt.err), "%v", tt.err)
	}
}

func TestNewController(t *testing.T) {
	for _, backend := range []lights.Brand{lights.BrandHue, lights.BrandLIFX, lights.BrandElgato} {
		ctrl, err := newController(config.LightConfig{Backend: string(backend), Address: "10.0.0.2", RequestTimeout: time.Second}, zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, backend, ctrl.Brand())
	}

	_, err := newController(config.LightConfig{Backend: "govee"}, zap.NewNop())
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestNewFocusReader(t *testing.T) {
	cfg := config.DefaultConfig().Focus

	r, err := newFocusReader(cfg)
	require.NoError(t, err)
	assert.IsType(t, &focus.DNDReader{}, r)

	cfg.Source = config.FocusSourceCommand
	cfg.Command = "echo Studio"
	r, err = newFocusReader(cfg)
	require.NoError(t, err)
	assert.IsType(t, &focus.CommandReader{}, r)

	cfg.Source = config.FocusSourceStatic
	cfg.StaticMode = "Studio"
	r, err = newFocusReader(cfg)
	require.NoError(t, err)
	mode, err := r.CurrentMode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, focus.Mode("Studio"), mode)

	cfg.Source = "calendar"
	_, err = newFocusReader(cfg)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestRunDispatch(t *testing.T) {
	assert.Equal(t, exitOK, run([]string{"version"}))
	assert.Equal(t, exitConfig, run([]string{"bogus"}))
	assert.Equal(t, exitOK, run([]string{"ports", "-h"}))
	assert.Equal(t, exitConfig, run([]string{"run", "-config", t.TempDir() + "/missing.yaml", "-env", t.TempDir() + "/none.env"}))
}
