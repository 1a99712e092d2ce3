// Package config resolves tripwire's settings from viper and the environment.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Default file locations. Both are passed through ExpandPath.
const (
	DefaultDatabasePath = "$HOME/.local/share/tripwire/tripwire.db"
	DefaultConfigDir    = "$HOME/.config/tripwire"
)

// ExpandPath expands ~ and environment variables in a file path.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	switch {
	case path == "~":
		if home, err := os.UserHomeDir(); err == nil {
			path = home
		}
	case strings.HasPrefix(path, "~/"):
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	return os.ExpandEnv(path)
}

