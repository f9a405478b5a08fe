package main

import (
	"fmt"
	"math/big"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/tricodex/ethdam-2025-sub001/pkg/crypto"
	"github.com/tricodex/ethdam-2025-sub001/pkg/devnet"
	"github.com/tricodex/ethdam-2025-sub001/pkg/terms"
	"github.com/tricodex/ethdam-2025-sub001/pkg/util"
)

var (
	faucetAsset  string
	faucetAmount string
	devnetMemory bool
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a trader key",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		return printJSON(map[string]string{
			"address":    s.Address().Hex(),
			"privateKey": s.PrivateKeyHex(),
		})
	},
}

var appIDCmd = &cobra.Command{
	Use:   "appid [rofl1...]",
	Short: "Canonicalize an app identifier (default: ledger.app_id)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		human := cfg.Ledger.AppID
		if len(args) == 1 {
			human = args[0]
		}
		id, err := crypto.CanonicalAppID(human)
		if err != nil {
			return err
		}
		return printJSON(map[string]string{
			"appId": id.String(),
			"bytes": fmt.Sprintf("0x%x", id[:]),
		})
	},
}

var faucetCmd = &cobra.Command{
	Use:   "faucet [address]",
	Short: "Mint devnet funds (default recipient: --key)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var to common.Address
		if len(args) == 1 {
			if !common.IsHexAddress(args[0]) {
				return fmt.Errorf("%q is not an address", args[0])
			}
			to = common.HexToAddress(args[0])
		} else {
			s, err := signer()
			if err != nil {
				return err
			}
			to = s.Address()
		}
		asset, err := assetAddress(faucetAsset)
		if err != nil {
			return err
		}
		amount, ok := new(big.Int).SetString(faucetAmount, 10)
		if !ok {
			return fmt.Errorf("amount %q is not an integer", faucetAmount)
		}

		ctx, cancel := withTimeout(cmd)
		defer cancel()
		c := client()
		if err := c.Faucet(ctx, asset, to, amount); err != nil {
			return err
		}
		bal, err := c.Balances(ctx, to)
		if err != nil {
			return err
		}
		out := make(map[string]string, len(bal))
		for a, v := range bal {
			out[a.Hex()] = terms.FormatUnits(v, 0)
		}
		return printJSON(map[string]any{"address": to.Hex(), "balances": out})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show chain height, order count and oracle address",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := withTimeout(cmd)
		defer cancel()
		c := client()
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		total, err := c.TotalOrders(ctx)
		if err != nil {
			return err
		}
		o, err := c.OracleAddress(ctx)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"chainId":       st.ChainID,
			"height":        st.Height,
			"mempool":       st.Mempool,
			"totalOrders":   total,
			"oracle":        o.Address.Hex(),
			"oracleVersion": o.Version,
		})
	},
}

var devnetCmd = &cobra.Command{
	Use:   "devnet",
	Short: "Run node, API and attested-environment daemon in one process",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		d, err := devnet.Start(ctx, devnet.Options{
			Config:   cfg,
			InMemory: devnetMemory,
			Log:      logger.Sugar(),
		})
		if err != nil {
			return err
		}
		go func() {
			<-ctx.Done()
			d.Close()
		}()
		return d.Wait()
	},
}

func init() {
	faucetCmd.Flags().StringVar(&faucetAsset, "asset", "water", "water, fire or an asset address")
	faucetCmd.Flags().StringVar(&faucetAmount, "amount", "1000", "base units to mint")
	devnetCmd.Flags().BoolVar(&devnetMemory, "memory", false, "keep ledger state in memory")
}
