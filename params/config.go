package params

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/tricodex/ethdam-2025-sub001/pkg/crypto"
)

// EnvPrefix prefixes every environment override, e.g. DARKPOOL_NODE_API_ADDR.
const EnvPrefix = "DARKPOOL"

// Ledger is shared by every process that talks to the same deployment.
type Ledger struct {
	ChainID           uint64        `mapstructure:"chain_id"`
	DomainName        string        `mapstructure:"domain_name"`
	DomainVersion     string        `mapstructure:"domain_version"`
	VerifyingContract string        `mapstructure:"verifying_contract"`
	AppID             string        `mapstructure:"app_id"`           // bech32 "rofl1..." of the oracle image
	AttestationKeys   []string      `mapstructure:"attestation_keys"` // endorsed attestation key addresses
	Water             string        `mapstructure:"water"`
	Fire              string        `mapstructure:"fire"`
	AssertionSkew     time.Duration `mapstructure:"assertion_skew"`
}

type Node struct {
	DataDir        string        `mapstructure:"data_dir"`
	APIAddr        string        `mapstructure:"api_addr"`
	BlockTime      time.Duration `mapstructure:"block_time"`
	MaxTxsPerBlock int           `mapstructure:"max_txs_per_block"`
	MaxArgsBytes   int           `mapstructure:"max_args_bytes"`
	MaxQueryTTL    time.Duration `mapstructure:"max_query_ttl"`
	MempoolSize    int           `mapstructure:"mempool_size"`
	Faucet         bool          `mapstructure:"faucet"`
	CORSOrigins    []string      `mapstructure:"cors_origins"`
	TxLogFile      string        `mapstructure:"tx_log_file"`
	LogFile        string        `mapstructure:"log_file"`
	LogLevel       string        `mapstructure:"log_level"`
}

type Enclave struct {
	Socket         string        `mapstructure:"socket"`
	NodeURL        string        `mapstructure:"node_url"`
	AppID          string        `mapstructure:"app_id"`
	MasterSecret   string        `mapstructure:"master_secret"` // hex
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	TxTTL          time.Duration `mapstructure:"tx_ttl"`
	LogLevel       string        `mapstructure:"log_level"`
}

type Oracle struct {
	Socket          string        `mapstructure:"socket"`
	NodeURL         string        `mapstructure:"node_url"`
	KeyID           string        `mapstructure:"key_id"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	Priority        string        `mapstructure:"priority"` // time | price-time
	Pricing         string        `mapstructure:"pricing"`  // resting | sell | buy
	LoadConcurrency int           `mapstructure:"load_concurrency"`
	CacheSize       int           `mapstructure:"cache_size"`
	DataDir         string        `mapstructure:"data_dir"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
	LogLevel        string        `mapstructure:"log_level"`
}

type Config struct {
	Ledger  Ledger  `mapstructure:"ledger"`
	Node    Node    `mapstructure:"node"`
	Enclave Enclave `mapstructure:"enclave"`
	Oracle  Oracle  `mapstructure:"oracle"`
}

// Default returns the single-machine devnet configuration.
func Default() Config {
	return Config{
		Ledger: Ledger{
			ChainID:       1337,
			DomainName:    "DarkPool",
			DomainVersion: "1",
			Water:         "0x000000000000000000000000000000000000a001",
			Fire:          "0x000000000000000000000000000000000000f002",
			AssertionSkew: 30 * time.Second,
		},
		Node: Node{
			DataDir:        "data/node",
			APIAddr:        ":8080",
			BlockTime:      500 * time.Millisecond,
			MaxTxsPerBlock: 256,
			MaxArgsBytes:   16 << 10,
			MaxQueryTTL:    5 * time.Minute,
			MempoolSize:    10_000,
			Faucet:         true,
			CORSOrigins:    []string{"http://localhost:3000"},
			TxLogFile:      "data/node/transactions.log",
			LogLevel:       "info",
		},
		Enclave: Enclave{
			Socket:         "/run/rofl-appd.sock",
			NodeURL:        "http://localhost:8080",
			ConfirmTimeout: 10 * time.Second,
			TxTTL:          time.Minute,
			LogLevel:       "info",
		},
		Oracle: Oracle{
			Socket:          "/run/rofl-appd.sock",
			NodeURL:         "http://localhost:8080",
			KeyID:           "darkpool-oracle",
			PollInterval:    10 * time.Second,
			Priority:        "time",
			Pricing:         "resting",
			LoadConcurrency: 8,
			CacheSize:       4096,
			DataDir:         "data/oracle",
			MaxBackoff:      2 * time.Minute,
			RequestTimeout:  30 * time.Second,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
			LogLevel:        "info",
		},
	}
}

// SetDefaults registers every key of Default() so environment overrides
// reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()
	set := func(section string, kv map[string]any) {
		for k, val := range kv {
			v.SetDefault(section+"."+k, val)
		}
	}
	set("ledger", map[string]any{
		"chain_id":           d.Ledger.ChainID,
		"domain_name":        d.Ledger.DomainName,
		"domain_version":     d.Ledger.DomainVersion,
		"verifying_contract": d.Ledger.VerifyingContract,
		"app_id":             d.Ledger.AppID,
		"attestation_keys":   d.Ledger.AttestationKeys,
		"water":              d.Ledger.Water,
		"fire":               d.Ledger.Fire,
		"assertion_skew":     d.Ledger.AssertionSkew,
	})
	set("node", map[string]any{
		"data_dir":          d.Node.DataDir,
		"api_addr":          d.Node.APIAddr,
		"block_time":        d.Node.BlockTime,
		"max_txs_per_block": d.Node.MaxTxsPerBlock,
		"max_args_bytes":    d.Node.MaxArgsBytes,
		"max_query_ttl":     d.Node.MaxQueryTTL,
		"mempool_size":      d.Node.MempoolSize,
		"faucet":            d.Node.Faucet,
		"cors_origins":      d.Node.CORSOrigins,
		"tx_log_file":       d.Node.TxLogFile,
		"log_file":          d.Node.LogFile,
		"log_level":         d.Node.LogLevel,
	})
	set("enclave", map[string]any{
		"socket":          d.Enclave.Socket,
		"node_url":        d.Enclave.NodeURL,
		"app_id":          d.Enclave.AppID,
		"master_secret":   d.Enclave.MasterSecret,
		"confirm_timeout": d.Enclave.ConfirmTimeout,
		"tx_ttl":          d.Enclave.TxTTL,
		"log_level":       d.Enclave.LogLevel,
	})
	set("oracle", map[string]any{
		"socket":           d.Oracle.Socket,
		"node_url":         d.Oracle.NodeURL,
		"key_id":           d.Oracle.KeyID,
		"poll_interval":    d.Oracle.PollInterval,
		"priority":         d.Oracle.Priority,
		"pricing":          d.Oracle.Pricing,
		"load_concurrency": d.Oracle.LoadConcurrency,
		"cache_size":       d.Oracle.CacheSize,
		"data_dir":         d.Oracle.DataDir,
		"max_backoff":      d.Oracle.MaxBackoff,
		"request_timeout":  d.Oracle.RequestTimeout,
		"breaker_failures": d.Oracle.BreakerFailures,
		"breaker_timeout":  d.Oracle.BreakerTimeout,
		"log_level":        d.Oracle.LogLevel,
	})
}

// Load resolves configuration with priority ENV > config file > .env > defaults.
// envPath and configPath may be empty.
func Load(v *viper.Viper, envPath, configPath string) (Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", envPath, err)
		}
	} else {
		_ = godotenv.Load() // optional .env in the working directory
	}

	SetDefaults(v)
	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return Config{}, fmt.Errorf("config file: %w", err)
		}
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// Domain returns the EIP-712 domain identity assertions must be bound to.
func (l Ledger) Domain() (crypto.EIP712Domain, error) {
	d := crypto.EIP712Domain{
		Name:    l.DomainName,
		Version: l.DomainVersion,
		ChainID: new(big.Int).SetUint64(l.ChainID),
	}
	if l.VerifyingContract != "" {
		if !common.IsHexAddress(l.VerifyingContract) {
			return d, fmt.Errorf("verifying_contract %q is not an address", l.VerifyingContract)
		}
		d.VerifyingContract = common.HexToAddress(l.VerifyingContract)
	}
	return d, nil
}

// OracleAppID is the value every oracle-path call is compared against.
func (l Ledger) OracleAppID() (crypto.AppID, error) {
	return crypto.CanonicalAppID(l.AppID)
}

// Assets returns WATER and FIRE.
func (l Ledger) Assets() ([2]common.Address, error) {
	var out [2]common.Address
	for i, s := range []string{l.Water, l.Fire} {
		if !common.IsHexAddress(s) {
			return out, fmt.Errorf("asset %q is not an address", s)
		}
		out[i] = common.HexToAddress(s)
	}
	return out, nil
}

// Endorsed parses the attestation key list.
func (l Ledger) Endorsed() ([]common.Address, error) {
	out := make([]common.Address, 0, len(l.AttestationKeys))
	for _, s := range l.AttestationKeys {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("attestation key %q is not an address", s)
		}
		out = append(out, common.HexToAddress(s))
	}
	return out, nil
}

// AttestedAppID is the identifier the enclave attaches to its attestations.
func (e Enclave) AttestedAppID() (crypto.AppID, error) {
	return crypto.CanonicalAppID(e.AppID)
}
