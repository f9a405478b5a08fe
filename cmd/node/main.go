package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/tricodex/ethdam-2025-sub001/params"
	"github.com/tricodex/ethdam-2025-sub001/pkg/api"
	"github.com/tricodex/ethdam-2025-sub001/pkg/app"
	"github.com/tricodex/ethdam-2025-sub001/pkg/util"
)

func main() {
	// .env, then DARKPOOL_CONFIG (yaml/toml/json), then DARKPOOL_* env
	cfg, err := params.Load(viper.New(), "", os.Getenv("DARKPOOL_CONFIG"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	a, err := app.New(app.Options{
		Ledger: cfg.Ledger,
		Node:   cfg.Node,
		Log:    sugar,
	})
	if err != nil {
		sugar.Fatalw("app_init_failed", "err", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(a.Node, cfg.Node.CORSOrigins, sugar.Named("api"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sugar.Infow("api_server_starting", "addr", cfg.Node.APIAddr)
		return server.Start(gctx, cfg.Node.APIAddr)
	})
	g.Go(func() error { return a.Node.Run(gctx) })

	// Progress logging loop
	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		var last uint64
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				st := a.Node.Status()
				if st.Height == last {
					continue
				}
				total, _ := a.Ledger.TotalOrders()
				sugar.Infow("chain_progress", "height", st.Height, "blocks_since_last_log", st.Height-last, "orders", total, "mempool", st.Mempool)
				last = st.Height
			}
		}
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		sugar.Fatalw("node_failed", "err", err)
	}
	sugar.Infow("node_stopped")
}
