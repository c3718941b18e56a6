// Command syncagent runs the client side of sync headlessly: it opens a
// local profile store and keeps it converged with a remote sync server.
// The same wiring is embedded by UI builds; the agent exists for servers,
// tests and development.
package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"

	"threadsync/pkg/client"
	"threadsync/pkg/client/localstore"
	"threadsync/pkg/client/orchestrator"
	"threadsync/pkg/config"
	"threadsync/pkg/logger"
	"threadsync/pkg/shutdown"
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

	sc := eff.Config.Sync
	if sc.ServerURL == "" || sc.UserID == "" || sc.ProfileDir == "" {
		logger.Error("sync_config_incomplete",
			"server_url", sc.ServerURL, "user_id", sc.UserID, "profile_dir", sc.ProfileDir)
		os.Exit(1)
	}

	store, err := localstore.Open(sc.ProfileDir)
	if err != nil {
		logger.Error("profile_open_failed", "path", sc.ProfileDir, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	transport := client.NewHTTPTransport(sc.ServerURL, sc.APIKey, sc.SigningKey, sc.UserID)
	orch := orchestrator.New(store, transport, sc.UserID, orchestrator.Options{
		Interval:      sc.Interval.Duration(),
		MaxBatchBytes: sc.MaxBatchBytes.Int64(),
	})

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	// one immediate cycle so a freshly started agent converges right away
	if err := orch.Trigger(ctx, false); err != nil {
		logger.Warn("initial_sync_failed", "error", err)
	}
	orch.Run(ctx)
}
