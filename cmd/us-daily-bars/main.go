package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"quantdash/internal/config"
	"quantdash/internal/gather/us"
	"quantdash/internal/store"
	"quantdash/internal/util"
)

func main() {
	start := flag.String("start", "", "override gather.us_daily.start_date (YYYY-MM-DD)")
	flag.Parse()

	cfgPath := "config/quantdash.yaml"
	if p := os.Getenv("QUANTDASH_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *start != "" {
		cfg.Gather.USDaily.StartDate = *start
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	pstore := store.NewParquetStore(cfg.Storage.DataDir)
	gatherer, err := us.NewAlpacaDailyBarGatherer(cfg.Alpaca, cfg.Gather.USDaily, cfg.Storage.DataDir, pstore, logger)
	if err != nil {
		log.Fatalf("configuring gatherer: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting us-daily-bars", "dataDir", cfg.Storage.DataDir)
	if err := gatherer.Run(ctx); err != nil {
		log.Fatalf("gather error: %v", err)
	}
}
