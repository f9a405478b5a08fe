package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/ethereum/go-ethereum/common"

	"github.com/tricodex/ethdam-2025-sub001/pkg/chain"
	"github.com/tricodex/ethdam-2025-sub001/pkg/ledger"
)

// PebbleStore holds ledger and platform state.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

// NewMemStore opens a store on an in-memory filesystem.
func NewMemStore() (*PebbleStore, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

var (
	_ ledger.Store     = (*PebbleStore)(nil)
	_ chain.StateStore = (*PebbleStore)(nil)
)

// ============================================================================
// Ledger state
// ============================================================================

func (s *PebbleStore) OrderCount() (uint64, error) {
	v, ok, err := s.getUint64(keyOrderCount)
	if err != nil || !ok {
		return 0, err
	}
	return v, nil
}

func (s *PebbleStore) Order(id uint64) (ledger.Order, bool, error) {
	var o ledger.Order
	ok, err := s.getJSON(orderKey(id), &o)
	return o, ok, err
}

// AppendOrder writes the order, its owner index entry and the counter in one batch.
func (s *PebbleStore) AppendOrder(o ledger.Order) error {
	count, err := s.OrderCount()
	if err != nil {
		return err
	}
	if o.ID != count+1 {
		return fmt.Errorf("order id %d out of sequence, counter at %d", o.ID, count)
	}
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(orderKey(o.ID), data, nil); err != nil {
		return err
	}
	if err := b.Set(ownerKey(o.Owner, o.ID), nil, nil); err != nil {
		return err
	}
	if err := b.Set(keyOrderCount, u64(o.ID), nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func (s *PebbleStore) OwnedIDs(owner common.Address) ([]uint64, error) {
	prefix := ownerPrefix(owner)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var ids []uint64
	for iter.First(); iter.Valid(); iter.Next() {
		k := iter.Key()
		if len(k) != len(prefix)+8 {
			continue
		}
		ids = append(ids, binary.BigEndian.Uint64(k[len(prefix):]))
	}
	return ids, iter.Error()
}

// MarkFilled sets the fill flag of every id in one batch.
func (s *PebbleStore) MarkFilled(ids ...uint64) error {
	b := s.db.NewBatch()
	defer b.Close()
	for _, id := range ids {
		o, ok, err := s.Order(id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("mark filled: %w: id %d", ledger.ErrOrderDoesNotExist, id)
		}
		o.Filled = true
		data, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("failed to marshal order: %w", err)
		}
		if err := b.Set(orderKey(id), data, nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

func (s *PebbleStore) Oracle() (ledger.OracleAddress, error) {
	var o ledger.OracleAddress
	_, err := s.getJSON(keyOracle, &o)
	return o, err
}

func (s *PebbleStore) SetOracle(o ledger.OracleAddress) error {
	return s.setJSON(keyOracle, o)
}

// ============================================================================
// Platform state
// ============================================================================

func (s *PebbleStore) Nonce(addr common.Address) (uint64, error) {
	v, _, err := s.getUint64(nonceKey(addr))
	return v, err
}

func (s *PebbleStore) SetNonce(addr common.Address, nonce uint64) error {
	return s.db.Set(nonceKey(addr), u64(nonce), pebble.Sync)
}

func (s *PebbleStore) SaveReceipt(r chain.Receipt) error {
	return s.setJSON(receiptKey(r.TxHash), r)
}

func (s *PebbleStore) Receipt(h common.Hash) (chain.Receipt, bool, error) {
	var r chain.Receipt
	ok, err := s.getJSON(receiptKey(h), &r)
	return r, ok, err
}

func (s *PebbleStore) SaveBlock(blk chain.Block) error {
	data, err := json.Marshal(blk)
	if err != nil {
		return fmt.Errorf("failed to marshal block: %w", err)
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(blockKey(blk.Height), data, nil); err != nil {
		return err
	}
	if err := b.Set(keyHead, u64(blk.Height), nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func (s *PebbleStore) LatestBlock() (chain.Block, bool, error) {
	height, ok, err := s.getUint64(keyHead)
	if err != nil || !ok {
		return chain.Block{}, false, err
	}
	var blk chain.Block
	ok, err = s.getJSON(blockKey(height), &blk)
	return blk, ok, err
}

// ============================================================================
// helpers
// ============================================================================

func (s *PebbleStore) getUint64(key []byte) (uint64, bool, error) {
	return getUint64(s.db, key)
}

func (s *PebbleStore) getJSON(key []byte, v any) (bool, error) {
	return getJSON(s.db, key, v)
}

func (s *PebbleStore) setJSON(key []byte, v any) error {
	return setJSON(s.db, key, v)
}

func getUint64(db *pebble.DB, key []byte) (uint64, bool, error) {
	val, closer, err := db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, false, fmt.Errorf("key %q: want 8 bytes, got %d", key, len(val))
	}
	return binary.BigEndian.Uint64(val), true, nil
}

func getJSON(db *pebble.DB, key []byte, v any) (bool, error) {
	val, closer, err := db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer closer.Close()
	if err := json.Unmarshal(val, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %q: %w", key, err)
	}
	return true, nil
}

func setJSON(db *pebble.DB, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %q: %w", key, err)
	}
	return db.Set(key, data, pebble.Sync)
}
