package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tricodex/ethdam-2025-sub001/pkg/chain"
	"github.com/tricodex/ethdam-2025-sub001/pkg/ledger"
	"github.com/tricodex/ethdam-2025-sub001/pkg/storage"
	"github.com/tricodex/ethdam-2025-sub001/pkg/terms"
)

var oracleKey = common.HexToAddress("0x00000000000000000000000000000000000000aa")

// fakeLedger serves both sides of the loop from memory. With pending set,
// submitted matches stay pending until confirm is called; with
// rotationPending, oracle rotations wait for confirmRotation.
type fakeLedger struct {
	mu       sync.Mutex
	oracle   common.Address
	owners   []common.Address
	payloads [][]byte
	filled   map[uint64]bool
	receipts map[common.Hash]chain.Receipt
	matches  []ledger.Match
	reads    int
	pending  bool

	rotationPending bool
	rotations       int
	nextOracle      common.Address
	submitErr       error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{filled: map[uint64]bool{}, receipts: map[common.Hash]chain.Receipt{}}
}

func (f *fakeLedger) add(owner common.Address, payload []byte) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.owners = append(f.owners, owner)
	f.payloads = append(f.payloads, payload)
	return uint64(len(f.owners))
}

func (f *fakeLedger) order(t *testing.T, owner common.Address, buy bool, price, size int64) uint64 {
	t.Helper()
	p, err := terms.Encode(terms.Terms{
		Owner: owner, Instrument: water, Price: big.NewInt(price), Size: big.NewInt(size), IsBuy: buy,
	})
	require.NoError(t, err)
	return f.add(owner, p)
}

func (f *fakeLedger) confirm(hash common.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.receipts[hash]
	r.Status = chain.StatusSuccess
	f.receipts[hash] = r
	m := f.matches[len(f.matches)-1]
	f.filled[m.BuyID], f.filled[m.SellID] = true, true
}

func (f *fakeLedger) confirmRotation(hash common.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.receipts[hash]
	r.Status = chain.StatusSuccess
	f.receipts[hash] = r
	f.oracle = f.nextOracle
}

func (f *fakeLedger) Address(context.Context) (common.Address, error) { return oracleKey, nil }

func (f *fakeLedger) Query(_ context.Context, method string, args any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	switch method {
	case chain.MethodReadOrderOwner:
		return json.Marshal(f.owners[args.(chain.ReadOrderOwnerArgs).OrderID-1])
	case chain.MethodReadConfidential:
		return json.Marshal(hexutil.Bytes(f.payloads[args.(chain.ReadConfidentialArgs).OrderID-1]))
	}
	return nil, ledger.ErrInvalidArgument
}

func (f *fakeLedger) SignSubmit(_ context.Context, method string, args any) (chain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return chain.Receipt{}, f.submitErr
	}
	hash := common.BigToHash(big.NewInt(int64(len(f.receipts) + 1)))
	r := chain.Receipt{TxHash: hash, Status: chain.StatusSuccess}
	switch method {
	case chain.MethodSetOracleAddress:
		f.rotations++
		addr := args.(chain.SetOracleAddressArgs).Address
		if f.rotationPending {
			r.Status = chain.StatusPending
			f.nextOracle = addr
		} else {
			f.oracle = addr
		}
	case chain.MethodExecuteMatch:
		m := args.(ledger.Match)
		f.matches = append(f.matches, m)
		if f.pending {
			r.Status = chain.StatusPending
		} else {
			f.filled[m.BuyID], f.filled[m.SellID] = true, true
		}
	}
	f.receipts[hash] = r
	return r, nil
}

func (f *fakeLedger) TotalOrders(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.owners)), nil
}

func (f *fakeLedger) IsFilled(_ context.Context, id uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filled[id], nil
}

func (f *fakeLedger) OracleAddress(context.Context) (ledger.OracleAddress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return ledger.OracleAddress{Address: f.oracle}, nil
}

func (f *fakeLedger) Receipt(_ context.Context, h common.Hash) (chain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.receipts[h], nil
}

func newTestLoop(t *testing.T, f *fakeLedger) (*Loop, *storage.MatchStore) {
	t.Helper()
	records, err := storage.NewMemMatchStore()
	require.NoError(t, err)
	t.Cleanup(func() { records.Close() })
	l, err := New(Config{LoadConcurrency: 3}, f, f, records, nil, nil)
	require.NoError(t, err)
	return l, records
}

func TestBootstrapSetsOracleOnce(t *testing.T) {
	f := newFakeLedger()
	l, _ := newTestLoop(t, f)

	_, err := l.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, oracleKey, f.oracle)

	f.oracle = common.Address{}
	_, err = l.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, f.oracle, "bootstrap repeats only after a refused read")
}

func TestPendingMatchIsNotResubmitted(t *testing.T) {
	f := newFakeLedger()
	f.pending = true
	f.order(t, alice, true, 10, 5)
	f.order(t, bob, false, 10, 5)
	l, records := newTestLoop(t, f)

	rep, err := l.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Pending)
	require.Len(t, f.matches, 1)

	rep, err = l.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Orders, "orders tied to a pending match are held back")
	assert.Len(t, f.matches, 1)

	rec, ok, err := records.Get(1, 2)
	require.NoError(t, err)
	require.True(t, ok)
	f.confirm(rec.TxHash)

	_, err = l.RunCycle(context.Background())
	require.NoError(t, err)
	rec, _, err = records.Get(1, 2)
	require.NoError(t, err)
	assert.Equal(t, storage.MatchSettled, rec.Outcome)
	assert.Len(t, f.matches, 1)
}

func TestFailedPendingMatchIsRetried(t *testing.T) {
	f := newFakeLedger()
	f.pending = true
	f.order(t, alice, true, 10, 5)
	f.order(t, bob, false, 10, 5)
	l, records := newTestLoop(t, f)

	_, err := l.RunCycle(context.Background())
	require.NoError(t, err)
	rec, _, err := records.Get(1, 2)
	require.NoError(t, err)

	f.mu.Lock()
	f.receipts[rec.TxHash] = chain.Receipt{TxHash: rec.TxHash, Status: chain.StatusReverted, Error: "expired"}
	f.pending = false
	f.mu.Unlock()

	rep, err := l.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Settled)
	assert.Len(t, f.matches, 2)
}

func TestPayloadsAreReadOnce(t *testing.T) {
	f := newFakeLedger()
	f.order(t, alice, true, 9, 5)
	f.order(t, bob, false, 10, 5)
	l, _ := newTestLoop(t, f)

	for i := 0; i < 3; i++ {
		rep, err := l.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, rep.Orders)
		assert.Equal(t, 0, rep.Pairs)
	}
	assert.Equal(t, 4, f.reads)
}

func TestInconsistentPayloadsAreSkipped(t *testing.T) {
	f := newFakeLedger()
	f.add(alice, []byte("not terms"))
	p, err := terms.Encode(terms.Terms{Owner: bob, Instrument: water, Price: big.NewInt(10), Size: big.NewInt(5), IsBuy: true})
	require.NoError(t, err)
	f.add(alice, p) // claims bob, recorded as alice
	f.order(t, bob, false, 10, 5)
	l, _ := newTestLoop(t, f)

	rep, err := l.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Skipped)
	assert.Equal(t, 1, rep.Orders)
	assert.Equal(t, 0, rep.Pairs)
}

func TestPendingRotationIsResolvedByReceipt(t *testing.T) {
	f := newFakeLedger()
	f.rotationPending = true
	l, _ := newTestLoop(t, f)

	for i := 0; i < 3; i++ {
		_, err := l.RunCycle(context.Background())
		assert.ErrorContains(t, err, "still pending")
	}
	assert.Equal(t, 1, f.rotations)

	first := common.BigToHash(big.NewInt(1))
	f.mu.Lock()
	f.receipts[first] = chain.Receipt{TxHash: first, Status: chain.StatusReverted, Error: "expired"}
	f.mu.Unlock()
	_, err := l.RunCycle(context.Background())
	assert.ErrorContains(t, err, "still pending")
	assert.Equal(t, 2, f.rotations, "a reverted rotation is submitted again")

	f.confirmRotation(common.BigToHash(big.NewInt(2)))
	_, err = l.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.rotations)
	assert.Equal(t, oracleKey, f.oracle)
	assert.Equal(t, StateIdle, l.State())
}

func TestOriginMismatchStopsTheLoop(t *testing.T) {
	f := newFakeLedger()
	f.submitErr = fmt.Errorf("%w: claimed one app, endorsed for another", chain.ErrOriginMismatch)
	l, _ := newTestLoop(t, f)

	_, err := l.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrOriginRejected)
	assert.ErrorIs(t, err, chain.ErrOriginMismatch)

	assert.ErrorIs(t, l.Run(context.Background()), ErrOriginRejected)
}

func TestUnendorsedKeyIsRetried(t *testing.T) {
	f := newFakeLedger()
	f.submitErr = chain.ErrInvalidAttestation
	l, _ := newTestLoop(t, f)

	_, err := l.RunCycle(context.Background())
	assert.ErrorIs(t, err, chain.ErrInvalidAttestation)
	assert.NotErrorIs(t, err, ErrOriginRejected)
}
