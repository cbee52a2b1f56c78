// Package config loads the daemon's configuration once at startup.
//
// The YAML file is the primary surface; a .env file or the process
// environment may supply the bridge address and credential so the secret
// does not have to live in the YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"logichue/internal/focus"
	"logichue/internal/lights"
	"logichue/internal/recording"
)

// ErrInvalid wraps every load, decode and validation failure.
var ErrInvalid = errors.New("invalid configuration")

const (
	appName      = "logichue"
	fileName     = "config.yaml"
	lockFileName = "logichue.lock"

	DefaultEndpoint = "Logic Pro Virtual Out"
	DefaultLogFile  = "logichue.log"

	FocusSourceDND     = "dnd"
	FocusSourceCommand = "command"
	FocusSourceStatic  = "static"
)

type Config struct {
	MIDI    MIDIConfig    `yaml:"midi"`
	Light   LightConfig   `yaml:"light"`
	Focus   FocusConfig   `yaml:"focus"`
	Logging LoggingConfig `yaml:"logging"`
}

type MIDIConfig struct {
	Endpoint       string        `yaml:"endpoint" validate:"required"`
	TargetNote     uint8         `yaml:"target_note" validate:"lte=127"`
	ReceiveTimeout time.Duration `yaml:"receive_timeout" validate:"gt=0"`
}

type LightConfig struct {
	Backend        string         `yaml:"backend" validate:"oneof=hue lifx elgato"`
	Address        string         `yaml:"address" validate:"required"`
	Credential     string         `yaml:"credential,omitempty"`
	ID             int            `yaml:"id" validate:"gte=0"`
	RequestTimeout time.Duration  `yaml:"request_timeout" validate:"gt=0"`
	OnCommand      lights.Command `yaml:"on_command"`
	OffCommand     lights.Command `yaml:"off_command"`
}

type FocusConfig struct {
	Source             string        `yaml:"source" validate:"oneof=dnd command static"`
	TargetMode         string        `yaml:"target_mode"`
	PollIntervalClosed time.Duration `yaml:"poll_interval_closed" validate:"gt=0"`
	PollIntervalOpen   time.Duration `yaml:"poll_interval_open" validate:"gt=0"`
	ReadTimeout        time.Duration `yaml:"read_timeout" validate:"gt=0"`
	DBDir              string        `yaml:"db_dir,omitempty"`
	Command            string        `yaml:"command,omitempty" validate:"required_if=Source command"`
	StaticMode         string        `yaml:"static_mode,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	// File is relative to the config file's directory; empty disables it.
	File string `yaml:"file"`
}

func DefaultConfig() Config {
	return Config{
		MIDI: MIDIConfig{
			Endpoint:       DefaultEndpoint,
			TargetNote:     recording.DefaultTargetNote,
			ReceiveTimeout: 50 * time.Millisecond,
		},
		Light: LightConfig{
			Backend:        string(lights.BrandHue),
			ID:             1,
			RequestTimeout: lights.DefaultRequestTimeout,
			OnCommand:      lights.RecordingCommand(),
			OffCommand:     lights.IdleCommand(),
		},
		Focus: FocusConfig{
			Source:             FocusSourceDND,
			TargetMode:         "Music Production",
			PollIntervalClosed: 5 * time.Second,
			PollIntervalOpen:   500 * time.Millisecond,
			ReadTimeout:        focus.DefaultReadTimeout,
			DBDir:              focus.DefaultDBDir,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  DefaultLogFile,
		},
	}
}

// Load reads path over DefaultConfig, applies environment overrides and
// validates the result. Unknown keys are rejected.
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, fmt.Errorf("%w: config path is empty", ErrInvalid)
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("%w: read config file: %w", ErrInvalid, err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: decode config yaml: %w", ErrInvalid, err)
	}
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("%w: decode config yaml: unexpected trailing document", ErrInvalid)
	}

	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Save writes cfg to path atomically.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Dir is the per-user configuration directory for the application.
func Dir() (string, error) {
	var dir string
	switch runtime.GOOS {
	case "windows":
		dir = os.Getenv("APPDATA")
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, "Library", "Application Support")
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, appName), nil
}

func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fileName), nil
}

// LockPath is the single-instance lock file next to the config file.
func LockPath(configPath string) string {
	return filepath.Join(filepath.Dir(ExpandPath(configPath)), lockFileName)
}

// LogPath resolves the log file relative to the config file's directory.
func (c Config) LogPath(configPath string) string {
	if c.Logging.File == "" {
		return ""
	}
	p := ExpandPath(c.Logging.File)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(ExpandPath(configPath)), p)
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
