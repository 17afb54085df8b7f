package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kgtech-org/process-manager-sub004/internal/infra/app"
	"github.com/kgtech-org/process-manager-sub004/internal/infra/config"
	"github.com/kgtech-org/process-manager-sub004/internal/infra/logger"
)

func main() {
	envFile := flag.String("env-file", ".env", "Optional dotenv file loaded before reading AUTH_ variables")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Printf("ignoring %s: %v", *envFile, err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.App.Env)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() {
		_ = zl.Sync()
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := app.New(ctx, cfg)
	if err != nil {
		zl.Error("failed to init auth service", zap.Error(err))
		os.Exit(1)
	}

	if err := application.Run(ctx); err != nil {
		zl.Error("auth service stopped", zap.Error(err))
		os.Exit(1)
	}
}
