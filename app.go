package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"logichue/internal/config"
	"logichue/internal/focus"
	"logichue/internal/gate"
	"logichue/internal/lights"
	"logichue/internal/midi"
	"logichue/internal/recording"
)

// App wires the configured components together for a single run.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	openSource    func(endpoint string, logger *zap.Logger) (gate.EventSource, error)
	newController func(cfg config.LightConfig, logger *zap.Logger) (lights.Controller, error)
}

func NewApp(cfg config.Config, logger *zap.Logger) *App {
	return &App{
		cfg:           cfg,
		logger:        logger,
		openSource:    openMIDISource,
		newController: newController,
	}
}

// Run performs the startup sequence and then blocks in the gating loop until
// ctx is cancelled or the MIDI source is lost. Every resource acquired here
// is released before Run returns.
func (a *App) Run(ctx context.Context) error {
	cfg := a.cfg

	if cfg.Light.Backend == string(lights.BrandHue) && cfg.Light.Credential == "" {
		return errNoCredential
	}

	reader, err := newFocusReader(cfg.Focus)
	if err != nil {
		return err
	}

	ctrl, err := a.newController(cfg.Light, a.logger.Named("lights"))
	if err != nil {
		return err
	}

	src, err := a.openSource(cfg.MIDI.Endpoint, a.logger.Named("midi"))
	if err != nil {
		_ = ctrl.Close()
		return err
	}

	actuator := lights.NewActuator(ctrl, cfg.Light.OnCommand, cfg.Light.OffCommand, cfg.Light.RequestTimeout, a.logger.Named("lights"))

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Light.RequestTimeout)
	err = actuator.Connect(connectCtx)
	cancel()
	if err != nil {
		_ = src.Close()
		_ = actuator.Close()
		if ctx.Err() != nil {
			a.logger.Info("startup cancelled while connecting to the light")
			return nil
		}
		return err
	}
	a.logger.Info("light session established",
		zap.String("backend", cfg.Light.Backend),
		zap.String("address", cfg.Light.Address),
		zap.Int("light", cfg.Light.ID),
	)

	loop := gate.New(gate.Config{
		TargetMode:         focus.Mode(cfg.Focus.TargetMode),
		LightID:            cfg.Light.ID,
		PollIntervalClosed: cfg.Focus.PollIntervalClosed,
		PollIntervalOpen:   cfg.Focus.PollIntervalOpen,
		ReceiveTimeout:     cfg.MIDI.ReceiveTimeout,
	}, reader, src, recording.NewClassifier(cfg.MIDI.TargetNote), actuator, a.logger)

	err = loop.Run(ctx)
	if cmd, ok := actuator.Last(cfg.Light.ID); ok {
		a.logger.Info("light left in last applied state",
			zap.Int("light", cfg.Light.ID),
			zap.Bool("on", cmd.On),
			zap.Uint8("brightness", cmd.Brightness),
			zap.Uint16("hue", cmd.Hue),
			zap.Uint8("saturation", cmd.Saturation),
		)
	}
	return err
}

func openMIDISource(endpoint string, logger *zap.Logger) (gate.EventSource, error) {
	src, err := midi.Open(endpoint, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("port opened", zap.String("endpoint", endpoint), zap.String("port", src.Name()))
	return src, nil
}

func newController(cfg config.LightConfig, logger *zap.Logger) (lights.Controller, error) {
	switch lights.Brand(cfg.Backend) {
	case lights.BrandHue:
		return lights.NewHueController(lights.HueConfig{
			Address: cfg.Address,
			Key:     cfg.Credential,
			Timeout: cfg.RequestTimeout,
		}, logger), nil
	case lights.BrandLIFX:
		return lights.NewLIFXController(cfg.Address, logger), nil
	case lights.BrandElgato:
		return lights.NewElgatoController(cfg.Address, logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown light backend %q", config.ErrInvalid, cfg.Backend)
	}
}

func newFocusReader(cfg config.FocusConfig) (focus.Reader, error) {
	switch cfg.Source {
	case config.FocusSourceDND:
		return focus.NewDNDReader(config.ExpandPath(cfg.DBDir), cfg.ReadTimeout), nil
	case config.FocusSourceCommand:
		return focus.NewCommandReader(cfg.Command, cfg.ReadTimeout), nil
	case config.FocusSourceStatic:
		return focus.NewStaticReader(focus.Mode(cfg.StaticMode)), nil
	default:
		return nil, fmt.Errorf("%w: unknown focus source %q", config.ErrInvalid, cfg.Source)
	}
}
