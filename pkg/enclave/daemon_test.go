package enclave_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tricodex/ethdam-2025-sub001/params"
	"github.com/tricodex/ethdam-2025-sub001/pkg/api"
	"github.com/tricodex/ethdam-2025-sub001/pkg/chain"
	"github.com/tricodex/ethdam-2025-sub001/pkg/crypto"
	"github.com/tricodex/ethdam-2025-sub001/pkg/devnet"
	"github.com/tricodex/ethdam-2025-sub001/pkg/enclave"
)

var secret = bytes.Repeat([]byte{0x5a}, 32)

func testConfig() params.Config {
	cfg := params.Default()
	var id crypto.AppID
	id[0], id[20] = 0x0e, 0x01
	cfg.Ledger.AppID = id.String()
	cfg.Node.APIAddr = "127.0.0.1:0"
	cfg.Node.BlockTime = 20 * time.Millisecond
	cfg.Enclave.MasterSecret = hex.EncodeToString(secret)
	cfg.Enclave.ConfirmTimeout = 3 * time.Second
	return cfg
}

func startDevnet(t *testing.T) *devnet.Devnet {
	t.Helper()
	d, err := devnet.Start(context.Background(), devnet.Options{
		Config:   testConfig(),
		Socket:   filepath.Join(t.TempDir(), "appd.sock"),
		InMemory: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func unixClient(socket string) *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socket)
			},
		},
	}
}

func post(t *testing.T, c *http.Client, base, path string, body any) (*http.Response, []byte) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := c.Post(base+path, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func generate(t *testing.T, c *http.Client, base, id string) string {
	t.Helper()
	resp, body := post(t, c, base, enclave.PathKeysGenerate, enclave.KeyRequest{KeyID: id, Kind: enclave.KindSecp256k1})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var fields map[string]string
	require.NoError(t, json.Unmarshal(body, &fields))
	assert.ElementsMatch(t, []string{"key_id", "address"}, keys(fields))
	return fields["address"]
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestKeysAreStableAndAddressOnly(t *testing.T) {
	d := startDevnet(t)
	c := unixClient(d.Socket)

	first := generate(t, c, "http://appd", "darkpool-oracle")
	again := generate(t, c, "http://appd", "darkpool-oracle")
	other := generate(t, c, "http://appd", "another")
	assert.Equal(t, first, again)
	assert.NotEqual(t, first, other)

	// A restarted daemon with the same secret and app derives the same key.
	app, err := testConfig().Ledger.OracleAppID()
	require.NoError(t, err)
	restarted, err := enclave.New(enclave.Config{AppID: app, MasterSecret: secret}, nil, nil, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(restarted.Handler())
	defer ts.Close()
	assert.Equal(t, first, generate(t, ts.Client(), ts.URL, "darkpool-oracle"))
	assert.Equal(t, d.Daemon.AttestationAddress(), restarted.AttestationAddress())
}

func TestRejectsUnsupportedKind(t *testing.T) {
	d := startDevnet(t)
	resp, body := post(t, unixClient(d.Socket), "http://appd", enclave.PathKeysGenerate, enclave.KeyRequest{KeyID: "k", Kind: "ed25519"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))
}

func TestSignSubmitCarriesAttestation(t *testing.T) {
	d := startDevnet(t)
	c := unixClient(d.Socket)
	addr := generate(t, c, "http://appd", "darkpool-oracle")

	args, err := json.Marshal(chain.SetOracleAddressArgs{Address: ethcommon.HexToAddress(addr)})
	require.NoError(t, err)
	resp, body := post(t, c, "http://appd", enclave.PathSignSubmit, enclave.SignSubmitRequest{
		KeyID:  "darkpool-oracle",
		Method: chain.MethodSetOracleAddress,
		Args:   args,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var r chain.Receipt
	require.NoError(t, json.Unmarshal(body, &r))
	require.Equal(t, chain.StatusSuccess, r.Status, r.Error)
	assert.Equal(t, addr, r.Sender.Hex())

	cur, err := d.App.Ledger.OracleAddress()
	require.NoError(t, err)
	assert.Equal(t, addr, cur.Address.Hex())
}

func TestStateCall(t *testing.T) {
	d := startDevnet(t)
	resp, body := post(t, unixClient(d.Socket), "http://appd", enclave.PathStateCall, enclave.StateCallRequest{Method: chain.MethodTotalOrders})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out enclave.StateCallResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.JSONEq(t, "0", string(out.Result))
}

func TestNodeDownIsTransient(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()

	app, err := testConfig().Ledger.OracleAppID()
	require.NoError(t, err)
	d, err := enclave.New(enclave.Config{AppID: app, MasterSecret: secret, ChainID: 1337}, api.NewClient(url, time.Second), nil, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(d.Handler())
	defer ts.Close()

	resp, body := post(t, ts.Client(), ts.URL, enclave.PathSignSubmit, enclave.SignSubmitRequest{KeyID: "k", Method: chain.MethodPlaceOrder, Args: json.RawMessage(`{"payload":"0x01"}`)})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var e api.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	assert.Equal(t, api.CodeTransientNetwork, e.Code)
}
