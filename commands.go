package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"logichue/internal/config"
	"logichue/internal/discovery"
	"logichue/internal/focus"
	"logichue/internal/lights"
	"logichue/internal/logging"
	"logichue/internal/midi"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed, color.Bold)
	dimColor  = color.New(color.Faint)
)

func fail(err error) int {
	errColor.Fprintf(os.Stderr, "error: ")
	fmt.Fprintln(os.Stderr, err)
	code := exitCode(err)
	switch code {
	case exitPairing:
		fmt.Fprintln(os.Stderr, `Press the link button on the bridge and run "logichue pair -save".`)
	case exitMIDINotFound:
		fmt.Fprintln(os.Stderr, `Run "logichue ports" to list the available MIDI inputs.`)
	}
	return code
}

func newFlagSet(name string) *flag.FlagSet {
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprintf(flags.Output(), "Usage: logichue %s [flags]\n\n", name)
		flags.PrintDefaults()
		if name == "run" {
			fmt.Fprintf(flags.Output(), "\n%s", exitCodeHelp)
		}
	}
	return flags
}

func defaultConfigPath() string {
	p, err := config.DefaultPath()
	if err != nil {
		return "config.yaml"
	}
	return p
}

// parse returns -1 when the command should continue.
func parse(flags *flag.FlagSet, args []string) int {
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitConfig
	}
	if flags.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "unexpected arguments: %s\n", strings.Join(flags.Args(), " "))
		return exitConfig
	}
	return -1
}

func loadConfig(path, envFile string) (config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return config.Config{}, fmt.Errorf("%w: load %s: %w", config.ErrInvalid, envFile, err)
	}
	return config.Load(path)
}

func consoleLogger(verbose bool) (*zap.Logger, func()) {
	level := "warn"
	if verbose {
		level = "debug"
	}
	logger, cleanup, err := logging.New(level, "")
	if err != nil {
		return zap.NewNop(), func() {}
	}
	return logger, cleanup
}

func cmdRun(args []string) int {
	flags := newFlagSet("run")
	configPath := flags.String("config", defaultConfigPath(), "path to the YAML config file")
	envFile := flags.String("env", ".env", "dotenv file with LOGICHUE_* overrides")
	if code := parse(flags, args); code >= 0 {
		return code
	}

	cfg, err := loadConfig(*configPath, *envFile)
	if err != nil {
		return fail(err)
	}

	logger, cleanup, err := logging.New(cfg.Logging.Level, cfg.LogPath(*configPath))
	if err != nil {
		return fail(fmt.Errorf("%w: %w", config.ErrInvalid, err))
	}
	defer cleanup()
	logger = logger.With(zap.String("run", uuid.NewString()))

	release, err := acquireLock(config.LockPath(*configPath))
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return exitCode(err)
	}
	defer release()

	logger.Info("logichue starting",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.String("endpoint", cfg.MIDI.Endpoint),
		zap.Uint8("note", cfg.MIDI.TargetNote),
		zap.String("focus_source", cfg.Focus.Source),
		zap.String("target_mode", cfg.Focus.TargetMode),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = NewApp(cfg, logger).Run(ctx)
	code := exitCode(err)
	if err != nil {
		logger.Error("logichue stopped", zap.Error(err), zap.Int("exit_code", code))
		switch code {
		case exitPairing:
			logger.Info(`press the bridge's link button and run "logichue pair -save"`)
		case exitMIDINotFound:
			logger.Info(`run "logichue ports" to list the available MIDI inputs`)
		}
	} else {
		logger.Info("logichue stopped")
	}
	return code
}

func cmdPair(args []string) int {
	flags := newFlagSet("pair")
	configPath := flags.String("config", defaultConfigPath(), "config file to update with -save")
	bridge := flags.String("bridge", "", "bridge address (discovered when empty)")
	save := flags.Bool("save", false, "write the bridge address and key into the config file")
	timeout := flags.Duration("timeout", 15*time.Second, "discovery and pairing timeout")
	verbose := flags.Bool("v", false, "verbose logging")
	if code := parse(flags, args); code >= 0 {
		return code
	}

	logger, cleanup := consoleLogger(*verbose)
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	address := *bridge
	if address == "" {
		bridges, err := discovery.NewScanner(logger).DiscoverHueBridges(ctx)
		if err != nil {
			return fail(err)
		}
		if len(bridges) == 0 {
			return fail(fmt.Errorf("%w: no Hue bridge found, pass -bridge", lights.ErrUnreachable))
		}
		address = bridges[0].IP
		fmt.Printf("Using bridge %s (%s)\n", address, bridges[0].Name)
	}

	host, _ := os.Hostname()
	if host == "" {
		host = "host"
	}
	creds, err := lights.Pair(ctx, lights.NewHueHTTPClient(5*time.Second), lights.BridgeAPIURL(address), "logichue#"+host)
	if err != nil {
		return fail(err)
	}

	okColor.Print("Paired. ")
	fmt.Printf("Application key: %s\n", creds.Username)

	if !*save {
		dimColor.Printf("Set light.credential in %s or export %s.\n", *configPath, config.EnvBridgeCredential)
		return exitOK
	}

	cfg, err := config.Load(*configPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.DefaultConfig(), nil
	}
	if err != nil {
		return fail(err)
	}
	cfg.Light.Backend = string(lights.BrandHue)
	cfg.Light.Address = address
	cfg.Light.Credential = creds.Username
	if err := config.Save(*configPath, cfg); err != nil {
		return fail(err)
	}
	fmt.Printf("Saved to %s\n", *configPath)
	return exitOK
}

func cmdDiscover(args []string) int {
	flags := newFlagSet("discover")
	backend := flags.String("backend", "hue", "device kind to look for: hue or elgato")
	timeout := flags.Duration("timeout", 15*time.Second, "overall discovery timeout")
	verbose := flags.Bool("v", false, "verbose logging")
	if code := parse(flags, args); code >= 0 {
		return code
	}

	logger, cleanup := consoleLogger(*verbose)
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	scanner := discovery.NewScanner(logger)
	var (
		devices []discovery.Device
		err     error
	)
	switch lights.Brand(*backend) {
	case lights.BrandHue:
		devices, err = scanner.DiscoverHueBridges(ctx)
	case lights.BrandElgato:
		devices, err = scanner.DiscoverElgatoLights(ctx)
	default:
		return fail(fmt.Errorf("%w: discovery supports hue and elgato, not %q", config.ErrInvalid, *backend))
	}
	if err != nil {
		return fail(err)
	}

	if len(devices) == 0 {
		warnColor.Println("Nothing found.")
		return exitOK
	}
	for _, d := range devices {
		fmt.Printf("%-16s %s\n", okColor.Sprint(d.IP), d.Name)
	}
	return exitOK
}

func cmdFocus(args []string) int {
	flags := newFlagSet("focus")
	configPath := flags.String("config", defaultConfigPath(), "path to the YAML config file")
	envFile := flags.String("env", ".env", "dotenv file with LOGICHUE_* overrides")
	if code := parse(flags, args); code >= 0 {
		return code
	}

	cfg, err := loadConfig(*configPath, *envFile)
	if err != nil {
		return fail(err)
	}
	reader, err := newFocusReader(cfg.Focus)
	if err != nil {
		return fail(err)
	}

	mode, err := reader.CurrentMode(context.Background())
	if err != nil {
		warnColor.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	target := focus.Mode(cfg.Focus.TargetMode)
	fmt.Printf("Focus:  %s\n", mode)
	fmt.Printf("Target: %s\n", target)
	if target == focus.NoFocus || mode == target {
		okColor.Println("Gate would be open.")
	} else {
		dimColor.Println("Gate would be closed.")
	}
	return exitOK
}

func cmdPorts(args []string) int {
	flags := newFlagSet("ports")
	endpoint := flags.String("endpoint", config.DefaultEndpoint, "endpoint name to highlight")
	if code := parse(flags, args); code >= 0 {
		return code
	}

	ports, err := midi.Ports()
	if err != nil {
		return fail(err)
	}
	if len(ports) == 0 {
		warnColor.Println("No MIDI input ports.")
		return exitOK
	}
	for i, name := range ports {
		line := fmt.Sprintf("%2d  %s", i, name)
		if strings.EqualFold(name, *endpoint) {
			okColor.Println(line)
			continue
		}
		fmt.Println(line)
	}
	return exitOK
}

func cmdVersion(args []string) int {
	fmt.Println("logichue", version)
	return exitOK
}
