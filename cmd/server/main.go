package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Kodeloom/spacovers-admin/internal/config"
	"github.com/Kodeloom/spacovers-admin/internal/db"
	"github.com/Kodeloom/spacovers-admin/internal/logging"
	"github.com/Kodeloom/spacovers-admin/internal/quickbooks"
	"github.com/joho/godotenv"
)

var (
	migrateOnlyFlag = flag.Bool("migrate-only", false, "Run DB migrations and exit")
	seedOnlyFlag    = flag.Bool("seed-only", false, "Run DB seed and exit")
	migrationsDir   = flag.String("migrations", "file://migrations", "golang-migrate source URL used when MIGRATIONS=1")
)

func main() {
	flag.Parse()

	// Load environment variables from .env file
	_ = godotenv.Load()
	cfg := config.Load()

	ring := logging.NewRing(cfg.Logging.RingSize)
	logger := logging.New(os.Stdout, cfg.Logging.Level, cfg.Logging.Format, ring)
	slog.SetDefault(logger)

	dbConn, err := db.Open(cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}

	if *migrateOnlyFlag {
		if err := db.Apply(cfg, dbConn, *migrationsDir); err != nil {
			logger.Error("migration failed", "err", err)
			os.Exit(1)
		}
		logger.Info("migrations completed")
		return
	}
	if *seedOnlyFlag {
		if err := db.Seed(dbConn); err != nil {
			logger.Error("seeding failed", "err", err)
			os.Exit(1)
		}
		logger.Info("seeding completed")
		return
	}

	if err := db.Apply(cfg, dbConn, *migrationsDir); err != nil {
		logger.Error("migration failed", "err", err)
		os.Exit(1)
	}
	if cfg.App.Seed {
		if err := db.Seed(dbConn); err != nil {
			logger.Error("seeding failed", "err", err)
			os.Exit(1)
		}
	}
	if !cfg.QuickBooks.Configured() {
		logger.Warn("QuickBooks OAuth app is not configured; connect and sync are unavailable")
	}

	app := NewApp(cfg, dbConn, logger, ring)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      app,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Server.Port, "dev", cfg.App.Dev)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("error during shutdown", "err", err)
	}
	if d, ok := app.Dispatcher.(*quickbooks.GoDispatcher); ok {
		if err := d.Wait(ctx); err != nil {
			logger.Warn("webhook processing still running at shutdown", "err", err)
		}
	}
	if sqlDB, err := dbConn.DB(); err == nil {
		_ = sqlDB.Close()
	}
	logger.Info("server stopped gracefully")
}
