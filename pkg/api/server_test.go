package api

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tricodex/ethdam-2025-sub001/params"
	"github.com/tricodex/ethdam-2025-sub001/pkg/app"
	"github.com/tricodex/ethdam-2025-sub001/pkg/chain"
	"github.com/tricodex/ethdam-2025-sub001/pkg/crypto"
	"github.com/tricodex/ethdam-2025-sub001/pkg/ledger"
)

type testEnv struct {
	app    *app.App
	server *Server
	http   *httptest.Server
	client *Client
	cfg    params.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := params.Default()
	var id crypto.AppID
	id[0] = 0x01
	cfg.Ledger.AppID = id.String()
	cfg.Node.Faucet = true

	a, err := app.New(app.Options{Ledger: cfg.Ledger, Node: cfg.Node, InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	s := NewServer(a.Node, []string{"*"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.RunHub(ctx)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{app: a, server: s, http: ts, client: NewClient(ts.URL, 5*time.Second), cfg: cfg}
}

func (e *testEnv) placeOrder(t *testing.T, s *crypto.Signer, payload string) chain.Receipt {
	t.Helper()
	ctx := context.Background()
	nonce, err := e.client.PendingNonce(ctx, s.Address())
	require.NoError(t, err)
	tx, err := chain.NewTx(e.cfg.Ledger.ChainID, chain.MethodPlaceOrder, chain.PlaceOrderArgs{Payload: []byte(payload)}, nonce, 0)
	require.NoError(t, err)
	require.NoError(t, tx.Sign(s))

	hash, err := e.client.SubmitTx(ctx, tx)
	require.NoError(t, err)

	pending, err := e.client.Receipt(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, chain.StatusPending, pending.Status)

	_, err = e.app.Node.ProduceBlock()
	require.NoError(t, err)
	r, err := e.client.WaitReceipt(ctx, hash, 10*time.Millisecond)
	require.NoError(t, err)
	return r
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	resp, err := http.Get(e.http.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSubmitAndPublicReads(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	alice, err := crypto.GenerateKey()
	require.NoError(t, err)

	r := e.placeOrder(t, alice, "secret")
	require.Equal(t, chain.StatusSuccess, r.Status, r.Error)

	total, err := e.client.TotalOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), total)

	exists, err := e.client.Exists(ctx, 1)
	require.NoError(t, err)
	assert.True(t, exists)

	filled, err := e.client.IsFilled(ctx, 1)
	require.NoError(t, err)
	assert.False(t, filled)

	_, err = e.client.IsFilled(ctx, 42)
	assert.ErrorIs(t, err, ledger.ErrOrderDoesNotExist)

	oracle, err := e.client.OracleAddress(ctx)
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, oracle.Address)

	status, err := e.client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), status.Height)

	_, err = e.client.Receipt(ctx, common.HexToHash("0xdead"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueryErrorsKeepTheirKind(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	alice, err := crypto.GenerateKey()
	require.NoError(t, err)
	bob, err := crypto.GenerateKey()
	require.NoError(t, err)
	e.placeOrder(t, alice, "secret")

	deadline := uint64(time.Now().Add(time.Minute).Unix())
	q, err := chain.NewTx(e.cfg.Ledger.ChainID, chain.MethodReadConfidential, chain.ReadConfidentialArgs{OrderID: 1}, 0, deadline)
	require.NoError(t, err)
	require.NoError(t, q.Sign(bob))
	_, err = e.client.Query(ctx, q)
	assert.ErrorIs(t, err, ledger.ErrUnauthorizedAccess)

	q, err = chain.NewTx(e.cfg.Ledger.ChainID, chain.MethodReadConfidential, chain.ReadConfidentialArgs{OrderID: 1}, 0, deadline)
	require.NoError(t, err)
	require.NoError(t, q.Sign(alice))
	raw, err := e.client.Query(ctx, q)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "0x736563726574") // "secret"

	wrong, err := chain.NewTx(e.cfg.Ledger.ChainID+1, chain.MethodTotalOrders, nil, 0, 0)
	require.NoError(t, err)
	_, err = e.client.Query(ctx, wrong)
	assert.ErrorIs(t, err, chain.ErrWrongChain)

	open, err := chain.NewTx(e.cfg.Ledger.ChainID, chain.MethodReadConfidential, chain.ReadConfidentialArgs{OrderID: 1}, 0, 0)
	require.NoError(t, err)
	require.NoError(t, open.Sign(alice))
	_, err = e.client.Query(ctx, open)
	assert.ErrorIs(t, err, chain.ErrUnboundedQuery)
	assert.Equal(t, 1, strings.Count(err.Error(), chain.ErrInvalidTx.Error()))
}

func TestSubmitRejectedTx(t *testing.T) {
	e := newTestEnv(t)
	tx, err := chain.NewTx(e.cfg.Ledger.ChainID, chain.MethodPlaceOrder, chain.PlaceOrderArgs{Payload: []byte("x")}, 0, 0)
	require.NoError(t, err)
	_, err = e.client.SubmitTx(context.Background(), tx)
	assert.ErrorIs(t, err, chain.ErrInvalidTx)
}

func TestFaucetAndBalances(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	assets, err := e.cfg.Ledger.Assets()
	require.NoError(t, err)
	holder := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	require.NoError(t, e.client.Faucet(ctx, assets[1], holder, big.NewInt(250)))
	bal, err := e.client.Balances(ctx, holder)
	require.NoError(t, err)
	assert.Equal(t, int64(250), bal[assets[1]].Int64())
	assert.Equal(t, int64(0), bal[assets[0]].Int64())

	err = e.client.Faucet(ctx, common.HexToAddress("0x01"), holder, big.NewInt(1))
	assert.ErrorIs(t, err, ledger.ErrInvalidInstrument)
}

func TestUnreachableNodeIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := NewClient(url, time.Second)
	_, err := c.TotalOrders(context.Background())
	assert.ErrorIs(t, err, ErrTransientNetwork)
}

func TestServerErrorIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL, time.Second).TotalOrders(context.Background())
	assert.ErrorIs(t, err, ErrTransientNetwork)
}

func TestWebSocketReceivesOrderEvents(t *testing.T) {
	e := newTestEnv(t)
	alice, err := crypto.GenerateKey()
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{ChannelOrders}}))
	require.Eventually(t, func() bool {
		e.server.hub.mu.RLock()
		defer e.server.hub.mu.RUnlock()
		for c := range e.server.hub.clients {
			if c.IsSubscribed(ChannelOrders) {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	e.placeOrder(t, alice, "secret")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSEvent
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, ChannelOrders, msg.Channel)
	assert.Equal(t, ledger.EventOrderPlaced, msg.Event.Kind)
	assert.Equal(t, uint64(1), msg.Event.OrderID)
	require.NotNil(t, msg.Event.Owner)
	assert.Equal(t, alice.Address(), *msg.Event.Owner)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{ledger.ErrUnauthorizedAccess, http.StatusForbidden, ledger.CodeUnauthorizedAccess},
		{ledger.ErrOrderDoesNotExist, http.StatusNotFound, ledger.CodeOrderDoesNotExist},
		{ledger.ErrTransferFailed, http.StatusBadRequest, ledger.CodeTransferFailed},
		{chain.ErrNonceTooLow, http.StatusBadRequest, chain.CodeBadNonce},
		{chain.ErrWrongChain, http.StatusBadRequest, chain.CodeInvalidTx},
		{fmt.Errorf("%w: claimed a, endorsed for b", chain.ErrOriginMismatch), http.StatusForbidden, chain.CodeOriginMismatch},
		{chain.ErrMempoolFull, http.StatusServiceUnavailable, CodeMempoolFull},
		{assert.AnError, http.StatusInternalServerError, ledger.CodeInternal},
	}
	for _, tc := range cases {
		status, code := Classify(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}

func TestDecodedErrorsSurviveRelays(t *testing.T) {
	cases := []error{
		fmt.Errorf("%w: claimed a, endorsed for b", chain.ErrOriginMismatch),
		chain.ErrWrongChain,
		fmt.Errorf("%w: tx 3, account at 5", chain.ErrNonceTooLow),
		chain.ErrUnboundedQuery,
	}
	for _, want := range cases {
		err := want
		// node -> enclave -> channel -> oracle
		for hop := 0; hop < 3; hop++ {
			status, code := Classify(err)
			err = DecodeError(status, ErrorResponse{Code: code, Message: err.Error()})
		}
		assert.Equal(t, want.Error(), err.Error())
		assert.ErrorIs(t, err, chain.ErrInvalidTx, want.Error())
		assert.Equal(t, 1, strings.Count(err.Error(), chain.ErrInvalidTx.Error()), err.Error())
	}

	err := fmt.Errorf("%w: claimed a, endorsed for b", chain.ErrOriginMismatch)
	for hop := 0; hop < 2; hop++ {
		status, code := Classify(err)
		err = DecodeError(status, ErrorResponse{Code: code, Message: err.Error()})
	}
	assert.ErrorIs(t, err, chain.ErrOriginMismatch)
	assert.ErrorIs(t, err, chain.ErrInvalidAttestation)
}
