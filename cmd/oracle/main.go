package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/viper"

	"github.com/tricodex/ethdam-2025-sub001/params"
	"github.com/tricodex/ethdam-2025-sub001/pkg/api"
	"github.com/tricodex/ethdam-2025-sub001/pkg/channel"
	"github.com/tricodex/ethdam-2025-sub001/pkg/oracle"
	"github.com/tricodex/ethdam-2025-sub001/pkg/storage"
	"github.com/tricodex/ethdam-2025-sub001/pkg/util"
)

func main() {
	cfg, err := params.Load(viper.New(), "", os.Getenv("DARKPOOL_CONFIG"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := util.NewLogger(cfg.Oracle.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar().Named("oracle")

	priority, err := oracle.ParsePriority(cfg.Oracle.Priority)
	if err != nil {
		sugar.Fatalw("bad_config", "err", err)
	}
	pricing, err := oracle.ParsePricing(cfg.Oracle.Pricing)
	if err != nil {
		sugar.Fatalw("bad_config", "err", err)
	}

	records, err := storage.NewMatchStore(filepath.Join(cfg.Oracle.DataDir, "matches"))
	if err != nil {
		sugar.Fatalw("match_store_open_failed", "err", err)
	}
	defer records.Close()

	ch := channel.New(channel.Config{
		Socket:          cfg.Oracle.Socket,
		KeyID:           cfg.Oracle.KeyID,
		Timeout:         cfg.Oracle.RequestTimeout,
		BreakerFailures: cfg.Oracle.BreakerFailures,
		BreakerTimeout:  cfg.Oracle.BreakerTimeout,
	}, sugar.Named("channel"))

	loop, err := oracle.New(oracle.Config{
		PollInterval:    cfg.Oracle.PollInterval,
		MaxBackoff:      cfg.Oracle.MaxBackoff,
		Priority:        priority,
		Pricing:         pricing,
		LoadConcurrency: cfg.Oracle.LoadConcurrency,
		CacheSize:       cfg.Oracle.CacheSize,
	}, ch, api.NewClient(cfg.Oracle.NodeURL, cfg.Oracle.RequestTimeout), records, nil, sugar)
	if err != nil {
		sugar.Fatalw("oracle_init_failed", "err", err)
	}
	loop.OnState(func(s oracle.State) { sugar.Debugw("state", "state", s.String()) })

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := loop.Run(ctx); err != nil {
		if errors.Is(err, oracle.ErrOriginRejected) {
			sugar.Errorw("deployment_misconfigured", "hint", "ledger app_id and appd app_id must name the same image", "err", err)
		}
		records.Close()
		sugar.Fatalw("oracle_failed", "err", err)
	}
}
