package config

import (
	"os"
	"path/filepath"
)

const appDir = "blogpilot"

// configFilePath is $XDG_CONFIG_HOME/blogpilot/config.json on Linux and the
// platform equivalent elsewhere.
func configFilePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, appDir, "config.json")
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, appDir)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", appDir)
	}
	return appDir + "-data"
}

func secretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.json")
}

func platformBackend() Backend {
	return openJSONFile(configFilePath(), 0o600)
}

func platformSecrets() SecretStore {
	return openJSONFile(secretsFilePath(), 0o600)
}

func secretHint() string {
	return " or the secrets file " + secretsFilePath()
}
