package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"duckexpress/crypto"
)

func TestLoadParsesServiceSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	keystorePath := filepath.Join(dir, "owner.keystore")

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		t.Fatalf("save keystore: %v", err)
	}

	contents := fmt.Sprintf(`RPCAddress = "0.0.0.0:9000"
DataDir = "./data"
OwnerKeystorePath = "%s"
RPCAuthToken = "topsecret"
MinDeliveryTime = 7200
SupportedTokens = ["duck", "ZLOTY", "DUCK"]
`, keystorePath)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.RPCAddress != "0.0.0.0:9000" {
		t.Fatalf("unexpected rpc address: %s", cfg.RPCAddress)
	}
	if cfg.DataDir != "./data" {
		t.Fatalf("unexpected data dir: %s", cfg.DataDir)
	}
	if cfg.RPCAuthToken != "topsecret" {
		t.Fatalf("unexpected auth token: %s", cfg.RPCAuthToken)
	}
	if cfg.MinDeliveryTime != 7200 {
		t.Fatalf("unexpected min delivery time: %d", cfg.MinDeliveryTime)
	}
	// Tokens are canonicalised and deduplicated.
	if len(cfg.SupportedTokens) != 2 || cfg.SupportedTokens[0] != "DUCK" || cfg.SupportedTokens[1] != "ZLOTY" {
		t.Fatalf("unexpected tokens: %v", cfg.SupportedTokens)
	}
}

func TestLoadRejectsMalformedToken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	keystorePath := filepath.Join(dir, "owner.keystore")
	contents := fmt.Sprintf(`RPCAddress = ":8080"
OwnerKeystorePath = "%s"
SupportedTokens = ["not a token"]
`, keystorePath)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for malformed token symbol")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	keystorePath := filepath.Join(dir, "owner.keystore")
	contents := fmt.Sprintf(`RPCAddress = ":8080"
OwnerKeystorePath = "%s"
`, keystorePath)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DataDir != "./duckexpress-data" {
		t.Fatalf("unexpected data dir default: %s", cfg.DataDir)
	}
	if cfg.MinDeliveryTime != defaultMinDeliveryTime {
		t.Fatalf("unexpected min delivery default: %d", cfg.MinDeliveryTime)
	}
}

func TestLoadCreatesDefaultConfigAndKeystore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to exist: %v", err)
	}
	if cfg.OwnerKeystorePath == "" {
		t.Fatalf("expected owner keystore path to be set")
	}
	if _, err := os.Stat(cfg.OwnerKeystorePath); err != nil {
		t.Fatalf("expected keystore file to exist: %v", err)
	}

	key, err := crypto.LoadFromKeystore(cfg.OwnerKeystorePath, "")
	if err != nil {
		t.Fatalf("failed to decrypt keystore: %v", err)
	}
	if key == nil {
		t.Fatalf("expected decrypted key")
	}
	if len(cfg.SupportedTokens) != 1 || cfg.SupportedTokens[0] != "DUCK" {
		t.Fatalf("unexpected default tokens: %v", cfg.SupportedTokens)
	}
}

func TestLoadBootstrapsMissingKeystore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `RPCAddress = ":8080"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.OwnerKeystorePath != filepath.Join(dir, "owner.keystore") {
		t.Fatalf("unexpected keystore path: %s", cfg.OwnerKeystorePath)
	}
	if _, err := os.Stat(cfg.OwnerKeystorePath); err != nil {
		t.Fatalf("expected keystore file to exist: %v", err)
	}

	// The resolved path is persisted back into the config file.
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if reloaded.OwnerKeystorePath != cfg.OwnerKeystorePath {
		t.Fatalf("keystore path not persisted: %s", reloaded.OwnerKeystorePath)
	}
}
