// Command dpctl is the operator and trader CLI: it places and reads orders,
// funds devnet accounts and runs a single-process devnet.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tricodex/ethdam-2025-sub001/params"
	"github.com/tricodex/ethdam-2025-sub001/pkg/api"
	"github.com/tricodex/ethdam-2025-sub001/pkg/crypto"
)

var (
	configFile string
	envFile    string
	nodeURL    string
	keyHex     string
	timeout    time.Duration

	cfg params.Config
)

var rootCmd = &cobra.Command{
	Use:           "dpctl",
	Short:         "dpctl - dark pool ledger client",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = params.Load(viper.New(), envFile, configFile)
		if err != nil {
			return err
		}
		if nodeURL == "" {
			nodeURL = cfg.Oracle.NodeURL
		}
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "conf", "", "configuration file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", ".env file (default ./.env if present)")
	rootCmd.PersistentFlags().StringVar(&nodeURL, "node", "", "node API base URL (default oracle.node_url)")
	rootCmd.PersistentFlags().StringVar(&keyHex, "key", os.Getenv("DARKPOOL_KEY"), "hex private key of the trader")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request and confirmation timeout")

	rootCmd.AddCommand(keygenCmd, appIDCmd, loginCmd, placeCmd, readCmd, ownedCmd, faucetCmd, statusCmd, devnetCmd)
}

func client() *api.Client { return api.NewClient(nodeURL, timeout) }

func signer() (*crypto.Signer, error) {
	if keyHex == "" {
		return nil, fmt.Errorf("--key or DARKPOOL_KEY is required")
	}
	return crypto.FromPrivateKeyHex(keyHex)
}

func withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
