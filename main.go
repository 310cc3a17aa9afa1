// dbvault restores database backups: it fetches artifacts from remote
// storage, verifies them against the target server, recovers encryption
// keys when metadata is stale, and drives the engine's own tools to
// load the data back in.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dbvault/cmd"
	"dbvault/internal/config"
	"dbvault/internal/logger"
)

// Build information (set by ldflags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(os.Getenv("DBVAULT_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	cfg.Version = version
	cfg.BuildTime = buildTime
	cfg.GitCommit = gitCommit

	logLevel := cfg.LogLevel
	if cfg.Debug && logLevel != "debug" {
		logLevel = "debug"
	}
	var log logger.Logger
	if cfg.LogFile != "" {
		log = logger.NewRotating(logLevel, cfg.LogFormat, cfg.LogFile)
	} else {
		log = logger.New(logLevel, cfg.LogFormat)
	}

	if err := cmd.Execute(ctx, cfg, log); err != nil {
		log.Error("command failed", "error", err)
		os.Exit(1)
	}
}
