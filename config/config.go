package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/google/uuid"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "marketchat"
	// DefaultListenAddr is the HTTP/WebSocket bind address when no user
	// override exists.
	DefaultListenAddr = ":8480"
	// DefaultAEADSuite is the envelope cipher used for group messages.
	DefaultAEADSuite = "aes-256-gcm"
	// DefaultModulusBits is the RSA key size for new user key pairs.
	DefaultModulusBits = 2048
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
)

// ServerConfig contains persistent local settings for one messaging
// core instance.
type ServerConfig struct {
	InstanceID     string   `json:"instance_id"`
	ListenAddr     string   `json:"listen_addr"`
	AEADSuite      string   `json:"aead_suite"`
	ModulusBits    int      `json:"modulus_bits"`
	KeygenWorkers  int      `json:"keygen_workers"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If MARKETCHAT_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv("MARKETCHAT_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory layout if needed.
func EnsureDataDirectories(dataDir string) error {
	dirs := []string{
		dataDir,
		filepath.Join(dataDir, "db"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}

// DatabaseDir returns the SQLite directory under a data directory.
func DatabaseDir(dataDir string) string {
	return filepath.Join(dataDir, "db")
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*ServerConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg ServerConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *ServerConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures directories and config exist, then returns both.
// Environment overrides (MARKETCHAT_LISTEN_ADDR, MARKETCHAT_AEAD_SUITE,
// MARKETCHAT_MODULUS_BITS) apply after the file is loaded and are not
// written back.
func LoadOrCreate() (*ServerConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig()
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}

		applyEnvOverrides(cfg)
		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	applyEnvOverrides(cfg)
	return cfg, cfgPath, nil
}

func defaultConfig() *ServerConfig {
	return &ServerConfig{
		InstanceID:     uuid.NewString(),
		ListenAddr:     DefaultListenAddr,
		AEADSuite:      DefaultAEADSuite,
		ModulusBits:    DefaultModulusBits,
		KeygenWorkers:  0,
		AllowedOrigins: []string{},
	}
}

func normalizeDefaults(cfg *ServerConfig) bool {
	updated := false

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
		updated = true
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
		updated = true
	}
	if cfg.AEADSuite == "" {
		cfg.AEADSuite = DefaultAEADSuite
		updated = true
	}
	if cfg.ModulusBits < DefaultModulusBits {
		cfg.ModulusBits = DefaultModulusBits
		updated = true
	}
	if cfg.KeygenWorkers < 0 {
		cfg.KeygenWorkers = 0
		updated = true
	}
	if cfg.AllowedOrigins == nil {
		cfg.AllowedOrigins = []string{}
		updated = true
	}

	return updated
}

func applyEnvOverrides(cfg *ServerConfig) {
	if addr := os.Getenv("MARKETCHAT_LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}
	if suite := os.Getenv("MARKETCHAT_AEAD_SUITE"); suite != "" {
		cfg.AEADSuite = suite
	}
	if bits := os.Getenv("MARKETCHAT_MODULUS_BITS"); bits != "" {
		if parsed, err := strconv.Atoi(bits); err == nil && parsed >= DefaultModulusBits {
			cfg.ModulusBits = parsed
		}
	}
}
