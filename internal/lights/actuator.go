package lights

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"logichue/internal/recording"
)

const DefaultRequestTimeout = 2 * time.Second

// Actuator maps recording signals to commands and applies them through a
// Controller. It owns the controller's session: established lazily, dropped
// on failure, re-established at most once per Apply. Calls are serialized.
type Actuator struct {
	mu        sync.Mutex
	ctrl      Controller
	started   Command
	stopped   Command
	timeout   time.Duration
	logger    *zap.Logger
	connected bool
	last      map[int]Command
}

func NewActuator(ctrl Controller, started, stopped Command, timeout time.Duration, logger *zap.Logger) *Actuator {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Actuator{
		ctrl:    ctrl,
		started: started,
		stopped: stopped,
		timeout: timeout,
		logger:  logger,
		last:    make(map[int]Command),
	}
}

// CommandFor returns the command for sig; ok is false for Ignored.
func (a *Actuator) CommandFor(sig recording.Signal) (Command, bool) {
	switch sig {
	case recording.Started:
		return a.started, true
	case recording.Stopped:
		return a.stopped, true
	default:
		return Command{}, false
	}
}

// Connect establishes the session up front so an unreachable bridge or a
// rejected credential is reported at startup.
func (a *Actuator) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.connectLocked(ctx); err != nil {
		if errors.Is(err, ErrPairingRequired) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	return nil
}

// Apply sets the light to the command for sig. Ignored is a successful no-op.
// A failure drops the session and retries once on a fresh one before
// returning an error wrapping ErrUnreachable.
func (a *Actuator) Apply(ctx context.Context, lightID int, sig recording.Signal) error {
	cmd, ok := a.CommandFor(sig)
	if !ok {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	err := a.sendLocked(ctx, lightID, cmd)
	if err != nil {
		a.logger.Warn("set state failed, reconnecting",
			zap.String("backend", string(a.ctrl.Brand())), zap.Int("light", lightID), zap.Error(err))
		a.dropLocked()
		err = a.sendLocked(ctx, lightID, cmd)
	}
	if err != nil {
		a.dropLocked()
		return fmt.Errorf("%w: light %d: %w", ErrUnreachable, lightID, err)
	}

	a.last[lightID] = cmd
	a.logger.Info("light command applied",
		zap.Int("light", lightID),
		zap.Stringer("signal", sig),
		zap.Bool("on", cmd.On),
		zap.Uint8("brightness", cmd.Brightness),
		zap.Uint16("hue", cmd.Hue),
		zap.Uint8("saturation", cmd.Saturation),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// Last returns the last command successfully applied to lightID.
func (a *Actuator) Last(lightID int) (Command, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cmd, ok := a.last[lightID]
	return cmd, ok
}

// Close releases the session. Safe to call more than once.
func (a *Actuator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil
	}
	a.connected = false
	a.logger.Info("session released", zap.String("backend", string(a.ctrl.Brand())))
	return a.ctrl.Close()
}

func (a *Actuator) sendLocked(ctx context.Context, lightID int, cmd Command) error {
	if err := a.connectLocked(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.ctrl.SetState(ctx, lightID, cmd)
}

func (a *Actuator) connectLocked(ctx context.Context) error {
	if a.connected {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if err := a.ctrl.Connect(ctx); err != nil {
		return err
	}
	a.connected = true
	return nil
}

func (a *Actuator) dropLocked() {
	if !a.connected {
		return
	}
	a.connected = false
	if err := a.ctrl.Close(); err != nil {
		a.logger.Debug("close after failure", zap.Error(err))
	}
}
