// Package config loads the node configuration (TOML) and the genesis document
// (YAML) that seeds tokens, balances, and market parameters.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	MetricsAddress string `toml:"MetricsAddress"`
	DataDir        string `toml:"DataDir"`
	GenesisFile    string `toml:"GenesisFile"`
	NetworkName    string `toml:"NetworkName"`
	Environment    string `toml:"Environment"`
	// RPCAuthToken guards the privileged RPC methods. Empty disables them.
	RPCAuthToken string `toml:"RPCAuthToken"`
	// RPCRateLimit is the sustained per-client request rate; RPCRateBurst the
	// burst allowance. Zero values fall back to defaults.
	RPCRateLimit float64 `toml:"RPCRateLimit"`
	RPCRateBurst int     `toml:"RPCRateBurst"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = "127.0.0.1:8645"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./data"
	}
	if strings.TrimSpace(cfg.GenesisFile) == "" {
		cfg.GenesisFile = "./genesis.yaml"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "termlend-local"
	}
	if cfg.RPCRateLimit <= 0 {
		cfg.RPCRateLimit = 20
	}
	if cfg.RPCRateBurst <= 0 {
		cfg.RPCRateBurst = 40
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("config: create directory %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("config: write default %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
