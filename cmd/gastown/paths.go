package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// gastownDirName is the state directory under the user's home.
const gastownDirName = ".gastown"

// Paths holds all resolved gastown state file paths.
// Use ResolvePaths() to populate this struct with defaults + env overrides.
type Paths struct {
	GastownHome string // ~/.gastown or GASTOWN_HOME
	ConfigPath  string // config.yaml or GASTOWN_CONFIG_PATH
	DBPath      string // gastown.db or GASTOWN_DB_PATH
}

// ResolvePaths returns all gastown paths, respecting env var overrides.
// Environment variables:
//   - GASTOWN_HOME: base directory for all gastown state (default: ~/.gastown)
//   - GASTOWN_CONFIG_PATH: server config file (default: $GASTOWN_HOME/config.yaml)
//   - GASTOWN_DB_PATH: the SQLite database (default: $GASTOWN_HOME/gastown.db)
func ResolvePaths() (*Paths, error) {
	home, err := resolveGastownHome()
	if err != nil {
		return nil, err
	}
	return &Paths{
		GastownHome: home,
		ConfigPath:  resolvePathWithEnv("GASTOWN_CONFIG_PATH", home, "config.yaml"),
		DBPath:      resolvePathWithEnv("GASTOWN_DB_PATH", home, "gastown.db"),
	}, nil
}

func resolveGastownHome() (string, error) {
	if v := os.Getenv("GASTOWN_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, gastownDirName), nil
}

// resolvePathWithEnv returns the path from envKey if set, otherwise joins base + suffix.
func resolvePathWithEnv(envKey, base, suffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return filepath.Join(base, suffix)
}
