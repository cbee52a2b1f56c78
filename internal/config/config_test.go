package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logichue/internal/lights"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
light:
  address: 192.168.178.87
  credential: key
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultEndpoint, cfg.MIDI.Endpoint)
	assert.Equal(t, uint8(24), cfg.MIDI.TargetNote)
	assert.Equal(t, 50*time.Millisecond, cfg.MIDI.ReceiveTimeout)
	assert.Equal(t, "hue", cfg.Light.Backend)
	assert.Equal(t, 1, cfg.Light.ID)
	assert.Equal(t, lights.RecordingCommand(), cfg.Light.OnCommand)
	assert.Equal(t, lights.IdleCommand(), cfg.Light.OffCommand)
	assert.Equal(t, "dnd", cfg.Focus.Source)
	assert.Equal(t, 5*time.Second, cfg.Focus.PollIntervalClosed)
	assert.Equal(t, 500*time.Millisecond, cfg.Focus.PollIntervalOpen)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_OverridesFields(t *testing.T) {
	path := writeConfig(t, `
midi:
  endpoint: IAC Driver Bus 1
  target_note: 36
light:
  backend: lifx
  address: 192.168.1.40
  id: 3
  on_command: {on: true, brightness: 200, hue: 0, saturation: 254}
focus:
  source: static
  static_mode: Studio
  target_mode: Studio
  poll_interval_open: 250ms
logging:
  level: debug
  file: ""
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "IAC Driver Bus 1", cfg.MIDI.Endpoint)
	assert.Equal(t, uint8(36), cfg.MIDI.TargetNote)
	assert.Equal(t, "lifx", cfg.Light.Backend)
	assert.Equal(t, 3, cfg.Light.ID)
	assert.Equal(t, uint8(200), cfg.Light.OnCommand.Brightness)
	assert.Equal(t, 250*time.Millisecond, cfg.Focus.PollIntervalOpen)
	assert.Equal(t, "Studio", cfg.Focus.StaticMode)
	assert.Empty(t, cfg.LogPath(path))
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "light: {address: x}\nbogus: 1\n"},
		{"unknown nested key", "light: {address: x, colour: red}\n"},
		{"bad backend", "light: {address: x, backend: govee}\n"},
		{"missing address", "light: {backend: hue}\n"},
		{"note out of range", "light: {address: x}\nmidi: {target_note: 200}\n"},
		{"brightness out of range", "light: {address: x, on_command: {brightness: 255}}\n"},
		{"zero poll interval", "light: {address: x}\nfocus: {poll_interval_closed: 0s}\n"},
		{"command source without command", "light: {address: x}\nfocus: {source: command}\n"},
		{"bad level", "light: {address: x}\nlogging: {level: loud}\n"},
		{"trailing document", "light: {address: x}\n---\nlight: {address: y}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvBridgeAddress, "")
			_, err := Load(writeConfig(t, tt.body))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = Load("")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoad_EnvOverridesBridge(t *testing.T) {
	t.Setenv(EnvBridgeAddress, "10.0.0.2")
	t.Setenv(EnvBridgeCredential, "from-env")

	cfg, err := Load(writeConfig(t, "light: {address: 10.0.0.1, credential: from-file}\n"))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", cfg.Light.Address)
	assert.Equal(t, "from-env", cfg.Light.Credential)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(EnvBridgeCredential+"=dotenv-key\n"), 0o600))

	t.Setenv(EnvBridgeCredential, "")
	require.NoError(t, os.Unsetenv(EnvBridgeCredential))

	require.NoError(t, LoadDotEnv(envFile))
	assert.Equal(t, "dotenv-key", os.Getenv(EnvBridgeCredential))

	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Light.Address = "192.168.178.87"
	cfg.Light.Credential = "abc"

	require.NoError(t, Save(path, cfg))
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	t.Setenv(EnvBridgeAddress, "")
	t.Setenv(EnvBridgeCredential, "")
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestPaths(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, filepath.Join("/etc/logichue", DefaultLogFile), cfg.LogPath("/etc/logichue/config.yaml"))
	assert.Equal(t, filepath.Join("/etc/logichue", "logichue.lock"), LockPath("/etc/logichue/config.yaml"))

	cfg.Logging.File = "/var/log/lh.log"
	assert.Equal(t, "/var/log/lh.log", cfg.LogPath("/etc/logichue/config.yaml"))

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "x"), ExpandPath("~/x"))
	assert.Equal(t, "/abs", ExpandPath("/abs"))
}
