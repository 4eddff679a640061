package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/shinyyama/goodjob-alarm/internal/config"
	"github.com/shinyyama/goodjob-alarm/internal/db"
	"github.com/shinyyama/goodjob-alarm/internal/logging"
	"github.com/shinyyama/goodjob-alarm/internal/server"
	"go.uber.org/zap"
)

var (
	gitSHA    = "dev"
	buildTime = ""
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	logger, err := logging.New(cfg.IsProduction())
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := db.ConnectRedis(ctx, cfg)
	if err != nil {
		// cursors fall back to memory; a restart then re-reads the lookback window
		logger.Warn("redis unavailable, continuing without it", zap.Error(err))
	}
	if rdb != nil {
		defer rdb.Close()
	}

	srv, err := server.New(server.Options{Config: cfg, Logger: logger, Redis: rdb, SHA: gitSHA, BuildTime: buildTime})
	if err != nil {
		logger.Fatal("server init failed", zap.Error(err))
	}

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", addr))
		errCh <- srv.Start(addr)
	}()

	go func() {
		conn, err := db.Connect(cfg)
		if err != nil {
			errCh <- err
			return
		}
		if cfg.AutoMigrate {
			if err := db.Migrate(conn, !cfg.IsProduction()); err != nil {
				errCh <- err
				return
			}
		}
		srv.SetDB(conn)
		srv.StartJobs()
		logger.Info("database ready, jobs started")
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("server stopped", zap.Error(err))
		}
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}
