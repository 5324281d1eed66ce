package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"quantdash/internal/api"
	"quantdash/internal/config"
	"quantdash/internal/store"
	"quantdash/internal/strategy"
	"quantdash/internal/strategy/builtins"
	"quantdash/internal/util"
)

func main() {
	cfgPath := "config/quantdash.yaml"
	if p := os.Getenv("QUANTDASH_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	defaults, err := cfg.BacktestParams()
	if err != nil {
		log.Fatalf("invalid backtest defaults: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	// Stores.
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		log.Fatalf("creating sqlite dir: %v", err)
	}
	runs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening run archive: %v", err)
	}
	defer runs.Close()
	prices := store.NewParquetStore(cfg.Storage.DataDir)

	bt := strategy.NewBacktester(builtins.NewRegistry(), logger,
		strategy.WithWorkers(cfg.Backtest.SignalWorkers))
	srv := api.NewServer(api.Options{
		Backtester: bt,
		Prices:     prices,
		Runs:       runs,
		Defaults:   defaults,
		Lenient:    cfg.Backtest.LenientUploads,
		Logger:     logger,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := srv.LoadPanel(ctx); err != nil {
		logger.Warn("starting without a panel", "error", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	var grpcServer *grpc.Server
	if addr := cfg.GRPCAddr(); addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			log.Fatalf("listening on %s: %v", addr, err)
		}
		grpcServer = grpc.NewServer()
		api.RegisterBacktestService(grpcServer, api.NewBacktestService(srv))
		go func() {
			logger.Info("gRPC server listening", "addr", addr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "error", err)
				cancel()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down quantdash-server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
