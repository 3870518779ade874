// repscore - reputation scoring and risk assessment service
package main

import (
	"context"
	"os"

	"github.com/mbd888/repscore/internal/config"
	"github.com/mbd888/repscore/internal/logging"
	"github.com/mbd888/repscore/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Bootstrap logger until the configured level is known
	logger := logging.New("info", "text")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting repscore",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
		"env", cfg.Env,
		"clock_mode", cfg.ClockMode,
		"operators", len(cfg.Operators),
	)

	srv, err := server.New(cfg,
		server.WithLogger(logger),
		server.WithVersion(Version),
	)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
