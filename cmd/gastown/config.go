package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig represents the config.yaml structure.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	DBPath     string `yaml:"db_path"`
	SigningKey string `yaml:"signing_key"` // hex-encoded HMAC key
	RigTimeout string `yaml:"rig_timeout,omitempty"`
}

func (c ServerConfig) withDefaults(paths *Paths) ServerConfig {
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:7717"
	}
	if c.DBPath == "" {
		c.DBPath = paths.DBPath
	}
	if c.RigTimeout == "" {
		c.RigTimeout = "3s"
	}
	return c
}

// signingKey decodes the configured HMAC key.
func (c ServerConfig) signingKey() ([]byte, error) {
	if c.SigningKey == "" {
		return nil, fmt.Errorf("config has no signing_key; run gastown init")
	}
	key, err := hex.DecodeString(c.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("decode signing_key: %w", err)
	}
	return key, nil
}

// rigTimeout parses the configured per-rig feed budget.
func (c ServerConfig) rigTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.RigTimeout)
	if err != nil {
		return 0, fmt.Errorf("parse rig_timeout %q: %w", c.RigTimeout, err)
	}
	return d, nil
}

// loadConfig reads and resolves config.yaml.
func loadConfig(paths *Paths) (ServerConfig, error) {
	data, err := os.ReadFile(paths.ConfigPath)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("read config %s: %w", paths.ConfigPath, err)
	}
	var cfg ServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("parse config %s: %w", paths.ConfigPath, err)
	}
	return cfg.withDefaults(paths), nil
}

// writeDefaultConfig creates config.yaml with a freshly generated
// signing key. It refuses to overwrite an existing config.
func writeDefaultConfig(paths *Paths) (ServerConfig, error) {
	if _, err := os.Stat(paths.ConfigPath); err == nil {
		return ServerConfig{}, fmt.Errorf("config already exists at %s", paths.ConfigPath)
	}

	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return ServerConfig{}, fmt.Errorf("generate signing key: %w", err)
	}
	cfg := ServerConfig{SigningKey: hex.EncodeToString(keyBytes)}.withDefaults(paths)

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(paths.ConfigPath), 0o700); err != nil {
		return ServerConfig{}, fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(paths.ConfigPath, data, 0o600); err != nil {
		return ServerConfig{}, fmt.Errorf("write config %s: %w", paths.ConfigPath, err)
	}
	return cfg, nil
}
