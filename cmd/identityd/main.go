package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/dropDatabas3/hellojohn-identity/internal/app"
	"github.com/dropDatabas3/hellojohn-identity/internal/config"
	"github.com/dropDatabas3/hellojohn-identity/internal/http/server"
	"github.com/dropDatabas3/hellojohn-identity/internal/observability/logger"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("IDENTITY_CONFIG"), "ruta al config YAML")
	flag.Parse()

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("⚠️  .env: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ config: %v", err)
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.Log.Level,
		ServiceName: "identityd",
		Version:     version,
	})
	defer func() { _ = logger.Sync() }()
	l := logger.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.ToContext(ctx, l)

	a, err := app.New(cfg, app.Deps{})
	if err != nil {
		l.Fatal("wiring failed", logger.Err(err))
	}
	defer func() {
		if err := a.Close(); err != nil {
			l.Warn("shutdown cleanup", logger.Err(err))
		}
	}()

	if cfg.Storage.Migrate {
		if _, err := a.Migrate(ctx); err != nil {
			l.Fatal("migrations failed", logger.Err(err))
		}
	}

	handler, err := a.Handler()
	if err != nil {
		l.Fatal("router wiring failed", logger.Err(err))
	}

	if err := a.Scheduler.Start(ctx); err != nil {
		l.Fatal("scheduler failed", logger.Err(err))
	}

	l.Info("identityd ready",
		logger.String("addr", cfg.Server.Addr),
		logger.Count(len(cfg.Apps)),
		logger.Bool("bulk_import", cfg.BulkImport.Enabled),
	)

	if err := server.Run(ctx, server.Config{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, handler); err != nil {
		l.Error("server failed", logger.Err(err))
	}
}
