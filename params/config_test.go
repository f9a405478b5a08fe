package params

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tricodex/ethdam-2025-sub001/pkg/crypto"
)

func testAppID() string {
	var id crypto.AppID
	for i := range id {
		id[i] = byte(0xa0 + i)
	}
	return id.String()
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), "", "")
	require.NoError(t, err)
	assert.Equal(t, Default().Node.APIAddr, cfg.Node.APIAddr)
	assert.Equal(t, Default().Oracle.PollInterval, cfg.Oracle.PollInterval)
	assert.Equal(t, uint64(1337), cfg.Ledger.ChainID)

	assets, err := cfg.Ledger.Assets()
	require.NoError(t, err)
	assert.NotEqual(t, assets[0], assets[1])
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DARKPOOL_NODE_API_ADDR", ":9999")
	t.Setenv("DARKPOOL_ORACLE_POLL_INTERVAL", "3s")
	t.Setenv("DARKPOOL_LEDGER_CHAIN_ID", "23295")
	t.Setenv("DARKPOOL_LEDGER_ATTESTATION_KEYS", "0x00000000000000000000000000000000000000a1,0x00000000000000000000000000000000000000b2")

	cfg, err := Load(viper.New(), "", "")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Node.APIAddr)
	assert.Equal(t, 3*time.Second, cfg.Oracle.PollInterval)
	assert.Equal(t, uint64(23295), cfg.Ledger.ChainID)

	keys, err := cfg.Ledger.Endorsed()
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	d, err := cfg.Ledger.Domain()
	require.NoError(t, err)
	assert.Equal(t, int64(23295), d.ChainID.Int64())
}

// The ledger and the enclave are configured separately but must derive
// bit-identical identifiers from the same human-readable string.
func TestAppIDIdenticalOnBothSides(t *testing.T) {
	human := testAppID()
	t.Setenv("DARKPOOL_LEDGER_APP_ID", human)
	t.Setenv("DARKPOOL_ENCLAVE_APP_ID", human)

	cfg, err := Load(viper.New(), "", "")
	require.NoError(t, err)

	ledgerSide, err := cfg.Ledger.OracleAppID()
	require.NoError(t, err)
	enclaveSide, err := cfg.Enclave.AttestedAppID()
	require.NoError(t, err)
	assert.Equal(t, ledgerSide, enclaveSide)
}

func TestAppIDTruncatedIsRejected(t *testing.T) {
	cfg := Default()
	cfg.Ledger.AppID = testAppID()[:26]
	_, err := cfg.Ledger.OracleAppID()
	assert.Error(t, err)
}

func TestBadAddresses(t *testing.T) {
	cfg := Default()
	cfg.Ledger.Water = "water"
	_, err := cfg.Ledger.Assets()
	assert.Error(t, err)

	cfg.Ledger.AttestationKeys = []string{"nope"}
	_, err = cfg.Ledger.Endorsed()
	assert.Error(t, err)

	cfg.Ledger.VerifyingContract = "0x12"
	_, err = cfg.Ledger.Domain()
	assert.Error(t, err)
}
