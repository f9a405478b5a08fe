package chain

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tricodex/ethdam-2025-sub001/pkg/ledger"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusSuccess  Status = "success"
	StatusReverted Status = "reverted"
)

// Receipt is the outcome of a transaction. Pending is not a failure.
type Receipt struct {
	TxHash common.Hash     `json:"txHash"`
	Status Status          `json:"status"`
	Method string          `json:"method"`
	Sender common.Address  `json:"sender"`
	Block  uint64          `json:"block,omitempty"`
	Code   string          `json:"code,omitempty"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Events []ledger.Event  `json:"events,omitempty"`
}

// Err returns the revert reason as a matchable error, or nil.
func (r *Receipt) Err() error {
	if r.Status != StatusReverted {
		return nil
	}
	return ledger.FromCode(r.Code, r.Error)
}

// Block groups the receipts applied in one round.
type Block struct {
	Height   uint64        `json:"height"`
	Time     int64         `json:"time"`
	TxHashes []common.Hash `json:"txHashes"`
}

// StateStore persists the platform's own state.
type StateStore interface {
	Nonce(addr common.Address) (uint64, error)
	SetNonce(addr common.Address, nonce uint64) error
	SaveReceipt(r Receipt) error
	Receipt(hash common.Hash) (Receipt, bool, error)
	SaveBlock(b Block) error
	LatestBlock() (Block, bool, error)
}

// WAL receives one line per applied transaction.
type WAL interface {
	Append(line string)
}
