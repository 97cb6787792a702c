// Package paths provides centralized path resolution for the bridge.
// This package has NO internal imports (only stdlib) to avoid import cycles.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvDataDir overrides the data directory when set.
const EnvDataDir = "DISCORDBRIDGE_HOME"

// File names of the three Directory Store maps and the process settings.
const (
	ConfigFile   = "discord-config.json"
	BindingsFile = "discord-threads.json"
	MutedFile    = "discord-muted.json"
	SettingsFile = "settings.json"
	SQLiteFile   = "discordbridge.db"
)

// BaseDir returns the bridge data directory (~/.discordbridge unless overridden).
func BaseDir() (string, error) {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		return ExpandTilde(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".discordbridge"), nil
}

// DataPath returns a path within the data directory.
func DataPath(subpath string) (string, error) {
	base, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, subpath), nil
}

// DefaultModelsDir returns where whisper models are stored by default.
func DefaultModelsDir() (string, error) {
	return DataPath(filepath.Join("stt", "whisper"))
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// ExpandTilde expands a path that starts with ~ to the user's home directory.
// Returns the path unchanged if it doesn't start with ~.
func ExpandTilde(path string) (string, error) {
	if len(path) == 0 || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	if len(path) == 1 {
		return home, nil
	}
	return filepath.Join(home, path[1:]), nil
}
