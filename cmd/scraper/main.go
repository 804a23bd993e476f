// Package main is the listing scraper service binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-diff-scraper/internal/config"
	"github.com/JakeFAU/listing-diff-scraper/internal/server"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	runName := flag.String("run", "", "Run the named source template once and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	app, err := server.Build(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build application failed: %v\n", err)
		os.Exit(1)
	}

	if *runName != "" {
		os.Exit(runOnce(ctx, app, *runName))
	}

	// App.Run installs its own signal handling.

	if err := app.Run(ctx); err != nil {
		zap.L().Error("application stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

// runOnce executes a single template run. A termination signal cancels the
// run and still closes the application's clients.
func runOnce(ctx context.Context, app *server.App, name string) int {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer func() { _ = app.Close() }()
	report, err := app.RunOnce(ctx, name)
	if err != nil {
		zap.L().Error("run failed", zap.String("source", name), zap.Error(err))
		return 1
	}
	zap.L().Info("run complete",
		zap.String("source", name),
		zap.String("run_id", report.RunID),
		zap.Int("accepted", report.Accepted),
		zap.String("status", report.Status),
	)
	return 0
}
