// Command threadsyncd runs the sync server: the authoritative store and
// the reconciliation HTTP API.
package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"

	"threadsync/internal/app"
	"threadsync/internal/retention"
	"threadsync/pkg/config"
	"threadsync/pkg/logger"
	"threadsync/pkg/shutdown"
)

// populated via -ldflags at build time
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load(".env")

	flags := config.ParseConfigFlags()
	fileCfg, fileExists, err := config.ParseConfigFile(flags)
	if err != nil {
		logger.Init("")
		logger.Error("config_parse_failed", "error", err)
		os.Exit(1)
	}
	envCfg, envRes := config.ParseConfigEnvs()
	eff, err := config.LoadEffectiveConfig(flags, fileCfg, fileExists, envCfg, envRes)
	if err != nil {
		logger.Init("")
		logger.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	logger.Init(eff.Config.Logging.Level)

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	a, err := app.New(eff, version, commit, buildDate)
	if err != nil {
		shutdown.Abort("startup failed", err, eff.DBPath, 0)
	}
	defer a.Close()

	stopRetention, err := retention.Start(ctx, eff)
	if err != nil {
		shutdown.Abort("retention setup failed", err, eff.DBPath, 0)
	}
	defer stopRetention()

	if err := a.Run(ctx); err != nil {
		logger.Error("server_exited", "error", err)
		os.Exit(1)
	}
	logger.Info("server_stopped")
}
