package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/ingest-progress/internal/config"
	"github.com/JakeFAU/ingest-progress/internal/server"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	app, err := server.Build(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		os.Exit(1)
	}
	logger := app.Logger()

	if *cfgPath != "" {
		if err := app.WatchConfig(*cfgPath); err != nil {
			logger.Warn("config watch disabled", zap.Error(err))
		}
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("service stopped with error", zap.Error(err))
		os.Exit(1)
	}
}
