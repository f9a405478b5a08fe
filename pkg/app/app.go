// Package app assembles a ledger node from configuration: storage, token
// bank, verifiers, the ledger itself and the platform that drives it.
package app

import (
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/tricodex/ethdam-2025-sub001/params"
	"github.com/tricodex/ethdam-2025-sub001/pkg/auth"
	"github.com/tricodex/ethdam-2025-sub001/pkg/chain"
	"github.com/tricodex/ethdam-2025-sub001/pkg/ledger"
	"github.com/tricodex/ethdam-2025-sub001/pkg/storage"
	"github.com/tricodex/ethdam-2025-sub001/pkg/token"
	"github.com/tricodex/ethdam-2025-sub001/pkg/util"
)

type Options struct {
	Ledger params.Ledger
	Node   params.Node

	// InMemory keeps all state in memory and skips the transaction log.
	InMemory bool
	Clock    util.Clock
	Log      *zap.SugaredLogger
}

type App struct {
	Store    *storage.PebbleStore
	Bank     *token.Bank
	Ledger   *ledger.Ledger
	Registry *chain.Registry
	Node     *chain.Node

	wal *storage.FileWAL
}

func New(opts Options) (*App, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	clock := opts.Clock
	if clock == nil {
		clock = util.RealClock{}
	}

	domain, err := opts.Ledger.Domain()
	if err != nil {
		return nil, err
	}
	appID, err := opts.Ledger.OracleAppID()
	if err != nil {
		return nil, fmt.Errorf("ledger app_id: %w", err)
	}
	assets, err := opts.Ledger.Assets()
	if err != nil {
		return nil, err
	}
	endorsed, err := opts.Ledger.Endorsed()
	if err != nil {
		return nil, err
	}

	a := &App{Bank: token.NewBank(), Registry: chain.NewRegistry()}
	for _, key := range endorsed {
		a.Registry.Endorse(appID, key)
	}

	if opts.InMemory {
		a.Store, err = storage.NewMemStore()
	} else {
		a.Store, err = storage.NewPebbleStore(filepath.Join(opts.Node.DataDir, "ledger"))
	}
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var wal chain.WAL = storage.NewNopWAL()
	if !opts.InMemory && opts.Node.TxLogFile != "" {
		a.wal, err = storage.NewFileWAL(opts.Node.TxLogFile)
		if err != nil {
			a.Store.Close()
			return nil, err
		}
		wal = a.wal
	}

	a.Ledger, err = ledger.New(
		ledger.Config{Assets: assets},
		a.Store,
		a.Bank,
		auth.NewUserVerifier(domain, clock, opts.Ledger.AssertionSkew),
		auth.NewOracleVerifier(appID),
		log.Named("ledger"),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Node, err = chain.NewNode(chain.Config{
		ChainID:        opts.Ledger.ChainID,
		BlockTime:      opts.Node.BlockTime,
		MaxTxsPerBlock: opts.Node.MaxTxsPerBlock,
		MaxArgsBytes:   opts.Node.MaxArgsBytes,
		MaxQueryTTL:    opts.Node.MaxQueryTTL,
		MempoolSize:    opts.Node.MempoolSize,
		Faucet:         opts.Node.Faucet,
	}, a.Ledger, a.Bank, a.Registry, a.Store, wal, clock, log.Named("chain"))
	if err != nil {
		a.Close()
		return nil, err
	}

	log.Infow("app_ready",
		"chain_id", opts.Ledger.ChainID,
		"oracle_app", appID.String(),
		"endorsed_keys", len(endorsed),
		"water", assets[0].Hex(),
		"fire", assets[1].Hex(),
		"in_memory", opts.InMemory,
	)
	return a, nil
}

func (a *App) Close() error {
	var errs []error
	if a.wal != nil {
		errs = append(errs, a.wal.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
