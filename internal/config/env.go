package config

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
)

const (
	EnvBridgeAddress    = "LOGICHUE_BRIDGE_ADDRESS"
	EnvBridgeCredential = "LOGICHUE_BRIDGE_CREDENTIAL"
)

// LoadDotEnv loads the given .env files (default ./.env) into the process
// environment without overriding variables that are already set. Missing
// files are not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvBridgeAddress); v != "" {
		c.Light.Address = v
	}
	if v := getenv(EnvBridgeCredential); v != "" {
		c.Light.Credential = v
	}
}
