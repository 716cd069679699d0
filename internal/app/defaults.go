package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment variables that override the default locations.
const (
	EnvConfigPath = "CLIPVAULT_CONFIG_PATH"
	EnvHome       = "CLIPVAULT_HOME"
)

// Paths are the locations used before a config file has been read.
type Paths struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
}

// GetDefaults resolves default paths in this order:
//   - config: $CLIPVAULT_CONFIG_PATH, $XDG_CONFIG_HOME/clipvault.toml, ~/.config/clipvault.toml
//   - data:   $CLIPVAULT_HOME, $XDG_DATA_HOME/clipvault, ~/.local/share/clipvault
func GetDefaults() (Paths, error) {
	configPath, err := resolve(EnvConfigPath, "XDG_CONFIG_HOME", "clipvault.toml", ".config")
	if err != nil {
		return Paths{}, err
	}
	baseDir, err := resolve(EnvHome, "XDG_DATA_HOME", "clipvault", ".local", "share")
	if err != nil {
		return Paths{}, err
	}
	return Paths{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}

// resolve returns $override, else $xdgVar/name, else ~/homeRel.../name.
func resolve(override, xdgVar, name string, homeRel ...string) (string, error) {
	if path := os.Getenv(override); path != "" {
		return path, nil
	}
	if dir := os.Getenv(xdgVar); filepath.IsAbs(dir) {
		return filepath.Join(dir, name), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	parts := append([]string{homeDir}, homeRel...)
	return filepath.Join(append(parts, name)...), nil
}
