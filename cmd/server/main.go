// Wallet API - balances, withdrawal approvals and M-Pesa verification payments
package main

import (
	"context"
	"os"

	"github.com/remoteprojobs/wallet/internal/config"
	"github.com/remoteprojobs/wallet/internal/logging"
	"github.com/remoteprojobs/wallet/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Bootstrap logger until config picks the real level and format
	logger := logging.New("info", "text")

	logger.Info("starting wallet api",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("configuration loaded",
		"env", cfg.Env,
		"in_memory", cfg.DatabaseURL == "",
		"redis_locks", cfg.RedisURL != "",
		"min_withdrawal_regular", cfg.MinWithdrawalRegular,
		"min_withdrawal_premium", cfg.MinWithdrawalPremium,
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
