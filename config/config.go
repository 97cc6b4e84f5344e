package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"duckexpress/crypto"
	"duckexpress/native/delivery"

	"github.com/BurntSushi/toml"
)

type Config struct {
	RPCAddress        string   `toml:"RPCAddress"`
	DataDir           string   `toml:"DataDir"`
	OwnerKeystorePath string   `toml:"OwnerKeystorePath"`
	RPCAuthToken      string   `toml:"RPCAuthToken"`
	MinDeliveryTime   int64    `toml:"MinDeliveryTime"`
	SupportedTokens   []string `toml:"SupportedTokens"`
}

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./duckexpress-data"
	}
	if cfg.MinDeliveryTime <= 0 {
		cfg.MinDeliveryTime = defaultMinDeliveryTime
	}
	tokens, err := normalizeTokens(cfg.SupportedTokens)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	cfg.SupportedTokens = tokens

	return cfg, nil
}

const defaultMinDeliveryTime = int64(3600)

func normalizeTokens(raw []string) ([]string, error) {
	tokens := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, entry := range raw {
		token, err := delivery.NormalizeToken(entry)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		tokens = append(tokens, token)
	}
	return tokens, nil
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.OwnerKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.OwnerKeystorePath != keystorePath {
		cfg.OwnerKeystorePath = keystorePath
		return persist(configPath, cfg)
	}

	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress:      ":8080",
		DataDir:         "./duckexpress-data",
		MinDeliveryTime: defaultMinDeliveryTime,
		SupportedTokens: []string{"DUCK"},
	}
	cfg.OwnerKeystorePath = keystorePath

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "owner.keystore")
}
