package storage

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tricodex/ethdam-2025-sub001/pkg/chain"
	"github.com/tricodex/ethdam-2025-sub001/pkg/ledger"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func newStore(t *testing.T) *PebbleStore {
	t.Helper()
	s, err := NewMemStore()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendOrderAndOwnerIndex(t *testing.T) {
	s := newStore(t)

	count, err := s.OrderCount()
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, s.AppendOrder(ledger.Order{ID: 1, Owner: alice, Payload: []byte{1}}))
	require.NoError(t, s.AppendOrder(ledger.Order{ID: 2, Owner: bob, Payload: []byte{2}}))
	require.NoError(t, s.AppendOrder(ledger.Order{ID: 3, Owner: alice, Payload: []byte{3}}))

	count, err = s.OrderCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	ids, err := s.OwnedIDs(alice)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 3}, ids)

	ids, err = s.OwnedIDs(common.HexToAddress("0x01"))
	require.NoError(t, err)
	assert.Empty(t, ids)

	o, ok, err := s.Order(2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, bob, o.Owner)
	assert.Equal(t, []byte{2}, o.Payload)
	assert.False(t, o.Filled)
}

func TestAppendOrderRejectsGap(t *testing.T) {
	s := newStore(t)
	assert.Error(t, s.AppendOrder(ledger.Order{ID: 2, Owner: alice}))
}

func TestMarkFilled(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.AppendOrder(ledger.Order{ID: 1, Owner: alice}))
	require.NoError(t, s.AppendOrder(ledger.Order{ID: 2, Owner: bob}))

	require.NoError(t, s.MarkFilled(1, 2))
	for _, id := range []uint64{1, 2} {
		o, _, err := s.Order(id)
		require.NoError(t, err)
		assert.True(t, o.Filled)
	}

	assert.ErrorIs(t, s.MarkFilled(1, 9), ledger.ErrOrderDoesNotExist)
}

func TestOracleRecord(t *testing.T) {
	s := newStore(t)
	o, err := s.Oracle()
	require.NoError(t, err)
	assert.Equal(t, ledger.OracleAddress{}, o)

	require.NoError(t, s.SetOracle(ledger.OracleAddress{Address: alice, Version: 1}))
	o, err = s.Oracle()
	require.NoError(t, err)
	assert.Equal(t, alice, o.Address)
	assert.Equal(t, uint64(1), o.Version)
}

func TestPlatformState(t *testing.T) {
	s := newStore(t)

	n, err := s.Nonce(alice)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, s.SetNonce(alice, 5))
	n, err = s.Nonce(alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), n)

	h := common.HexToHash("0xabc")
	require.NoError(t, s.SaveReceipt(chain.Receipt{TxHash: h, Status: chain.StatusSuccess, Method: chain.MethodPlaceOrder}))
	r, ok, err := s.Receipt(h)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, chain.StatusSuccess, r.Status)

	_, ok, err = s.LatestBlock()
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, s.SaveBlock(chain.Block{Height: 1, TxHashes: []common.Hash{h}}))
	require.NoError(t, s.SaveBlock(chain.Block{Height: 2}))
	blk, ok, err := s.LatestBlock()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(2), blk.Height)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	s, err := NewPebbleStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.AppendOrder(ledger.Order{ID: 1, Owner: alice, Payload: []byte("x")}))
	require.NoError(t, s.Close())

	s, err = NewPebbleStore(dir)
	require.NoError(t, err)
	defer s.Close()
	count, err := s.OrderCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestMatchStore(t *testing.T) {
	s, err := NewMemMatchStore()
	require.NoError(t, err)
	defer s.Close()

	rec := MatchRecord{BuyID: 1, SellID: 2, Buyer: alice, Seller: bob, Amount: big.NewInt(5), Price: big.NewInt(10), Outcome: MatchPending, CycleID: uuid.New()}
	require.NoError(t, s.Put(rec))
	require.NoError(t, s.Put(MatchRecord{BuyID: 3, SellID: 4, Outcome: MatchFailed}))

	got, ok, err := s.Get(1, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, uuid.Nil, got.ID)
	assert.Equal(t, int64(5), got.Amount.Int64())

	pending, err := s.List(MatchPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, uint64(1), pending[0].BuyID)

	all, err := s.List("")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, ok, err = s.Get(2, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "tx.log")
	w, err := NewFileWAL(path)
	require.NoError(t, err)
	w.Append(`{"a":1}`)
	w.Append(`{"a":2}`)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
}

func TestKeyUpperBound(t *testing.T) {
	assert.Equal(t, []byte("own;"), keyUpperBound([]byte("own:")))
	assert.Equal(t, []byte{0x01}, keyUpperBound([]byte{0x00, 0xff}))
	assert.Nil(t, keyUpperBound([]byte{0xff}))
}
