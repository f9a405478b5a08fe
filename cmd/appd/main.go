package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"

	"github.com/tricodex/ethdam-2025-sub001/params"
	"github.com/tricodex/ethdam-2025-sub001/pkg/api"
	"github.com/tricodex/ethdam-2025-sub001/pkg/enclave"
	"github.com/tricodex/ethdam-2025-sub001/pkg/util"
)

func main() {
	cfg, err := params.Load(viper.New(), "", os.Getenv("DARKPOOL_CONFIG"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := util.NewLogger(cfg.Enclave.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar().Named("appd")

	appID, err := cfg.Enclave.AttestedAppID()
	if err != nil {
		sugar.Fatalw("bad_app_id", "app_id", cfg.Enclave.AppID, "err", err)
	}
	secret, err := enclave.MasterSecret(cfg.Enclave.MasterSecret, sugar)
	if err != nil {
		sugar.Fatalw("bad_master_secret", "err", err)
	}

	d, err := enclave.New(enclave.Config{
		AppID:          appID,
		MasterSecret:   secret,
		ChainID:        cfg.Ledger.ChainID,
		ConfirmTimeout: cfg.Enclave.ConfirmTimeout,
		TxTTL:          cfg.Enclave.TxTTL,
	}, api.NewClient(cfg.Enclave.NodeURL, cfg.Enclave.ConfirmTimeout), nil, sugar)
	if err != nil {
		sugar.Fatalw("appd_init_failed", "err", err)
	}

	// The ledger must endorse this key for app_id before attested calls land.
	sugar.Infow("appd_starting",
		"app_id", appID.String(),
		"attestation_key", d.AttestationAddress().Hex(),
		"node_url", cfg.Enclave.NodeURL,
		"socket", cfg.Enclave.Socket,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := d.Serve(ctx, cfg.Enclave.Socket); err != nil {
		sugar.Fatalw("appd_failed", "err", err)
	}
	sugar.Infow("appd_stopped")
}
