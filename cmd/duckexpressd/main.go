package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"duckexpress/config"
	"duckexpress/core/state"
	"duckexpress/crypto"
	"duckexpress/native/delivery"
	"duckexpress/observability/logging"
	"duckexpress/rpc"
	"duckexpress/storage"
)

const (
	ownerPassEnv = "DUCKEXPRESS_OWNER_PASS"
	authTokenEnv = "DUCKEXPRESS_RPC_TOKEN"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	logger := logging.Setup("duckexpress", slog.LevelInfo)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	ownerKey, err := crypto.LoadFromKeystore(cfg.OwnerKeystorePath, os.Getenv(ownerPassEnv))
	if err != nil {
		logger.Error("failed to load owner key", slog.Any("error", err))
		os.Exit(1)
	}
	ownerAddr := ownerKey.PubKey().Address()

	manager := state.NewManager(db)
	engine := delivery.NewEngine()
	engine.SetState(manager)

	if err := bootstrap(engine, ownerAddr.Array(), cfg); err != nil {
		logger.Error("failed to bootstrap module state", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("delivery module ready",
		slog.String("owner", ownerAddr.String()),
		slog.Int64("minDeliveryTime", cfg.MinDeliveryTime),
		slog.Any("tokens", cfg.SupportedTokens),
	)

	authToken := cfg.RPCAuthToken
	if env := os.Getenv(authTokenEnv); env != "" {
		authToken = env
	}
	if authToken == "" {
		logger.Warn("no RPC auth token configured; mutating methods will be rejected")
	}

	server := rpc.NewServer(engine, manager, authToken, logger)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// bootstrap initialises module params on first run and converges the token
// allowlist to the configured set. Re-runs are no-ops for state that already
// matches.
func bootstrap(engine *delivery.Engine, owner [20]byte, cfg *config.Config) error {
	err := engine.Initialize(owner, cfg.MinDeliveryTime)
	switch {
	case err == nil:
	case errors.Is(err, delivery.ErrAlreadyInitialized):
	default:
		return fmt.Errorf("initialize: %w", err)
	}

	currentOwner, err := engine.Owner()
	if err != nil {
		return err
	}
	for _, token := range cfg.SupportedTokens {
		supported, err := engine.IsTokenSupported(token)
		if err != nil {
			return err
		}
		if supported {
			continue
		}
		if err := engine.SupportToken(currentOwner, token); err != nil {
			return fmt.Errorf("support token %s: %w", token, err)
		}
	}
	return nil
}
