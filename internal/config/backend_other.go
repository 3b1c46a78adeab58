//go:build !darwin

package config

import (
	"os"
	"path/filepath"
)

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "sunday-data"
		}
	}
	return filepath.Join(dir, "sunday")
}

func newPlatformBackend() ConfigBackend {
	return newFileBackend(configFilePath())
}
