// Package config provides configuration and profile persistence for nasdesk.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const appDirName = "nasdesk"

// ConfigDirectory returns the per-user directory holding config.ini and the profile store.
//
// Locations:
//   - Windows: %APPDATA%\nasdesk
//   - macOS: ~/Library/Application Support/nasdesk
//   - Unix: ~/.config/nasdesk
func ConfigDirectory() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), appDirName)
		}
		return filepath.Join(homeDir, ".config", appDirName)
	}
	return filepath.Join(configDir, appDirName)
}

// LogDirectory returns the directory used by --log-file when no explicit path is given.
//
// Locations:
//   - Windows: %LOCALAPPDATA%\nasdesk\logs
//   - Unix: <ConfigDirectory>/logs
func LogDirectory() string {
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return filepath.Join(os.TempDir(), "nasdesk-logs")
			}
			localAppData = filepath.Join(homeDir, "AppData", "Local")
		}
		return filepath.Join(localAppData, appDirName, "logs")
	}
	return filepath.Join(ConfigDirectory(), "logs")
}

// EnsureLogDirectory creates the log directory if it doesn't exist.
// Uses 0700 permissions to restrict log access to owner only.
func EnsureLogDirectory() error {
	return os.MkdirAll(LogDirectory(), 0700)
}

// DefaultConfigPath returns the path of the application config file.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDirectory(), "config.ini")
}

// DefaultProfilesPath returns the path of the profile store.
func DefaultProfilesPath() string {
	return filepath.Join(ConfigDirectory(), "nas_config.ini")
}
