package storage

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type MatchOutcome string

const (
	MatchPending MatchOutcome = "pending"
	MatchSettled MatchOutcome = "settled"
	MatchFailed  MatchOutcome = "failed"
)

// MatchRecord is the oracle's own note about a pair it tried to settle.
// Fill flags on the ledger stay authoritative.
type MatchRecord struct {
	ID         uuid.UUID      `json:"id"`
	CycleID    uuid.UUID      `json:"cycleId"`
	BuyID      uint64         `json:"buyId"`
	SellID     uint64         `json:"sellId"`
	Buyer      common.Address `json:"buyer"`
	Seller     common.Address `json:"seller"`
	Instrument common.Address `json:"instrument"`
	Amount     *big.Int       `json:"amount"`
	Price      *big.Int       `json:"price"`
	Outcome    MatchOutcome   `json:"outcome"`
	TxHash     common.Hash    `json:"txHash,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// MatchStore keeps match records keyed by (buy id, sell id).
type MatchStore struct {
	db *pebble.DB
}

func NewMatchStore(path string) (*MatchStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &MatchStore{db: db}, nil
}

func NewMemMatchStore() (*MatchStore, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, err
	}
	return &MatchStore{db: db}, nil
}

func (s *MatchStore) Close() error { return s.db.Close() }

func (s *MatchStore) Put(r MatchRecord) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return setJSON(s.db, matchKey(r.BuyID, r.SellID), r)
}

func (s *MatchStore) Get(buyID, sellID uint64) (MatchRecord, bool, error) {
	var r MatchRecord
	ok, err := getJSON(s.db, matchKey(buyID, sellID), &r)
	return r, ok, err
}

// List returns records with the given outcome, or all records if outcome is empty.
func (s *MatchStore) List(outcome MatchOutcome) ([]MatchRecord, error) {
	prefix := []byte(prefixMatch)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []MatchRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var r MatchRecord
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			return nil, fmt.Errorf("decode match record: %w", err)
		}
		if outcome == "" || r.Outcome == outcome {
			out = append(out, r)
		}
	}
	return out, iter.Error()
}
