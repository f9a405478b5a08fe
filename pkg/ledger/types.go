package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tricodex/ethdam-2025-sub001/pkg/crypto"
)

// Order is a placed order. Payload is opaque to the ledger.
type Order struct {
	ID      uint64         `json:"id"`
	Owner   common.Address `json:"owner"`
	Payload []byte         `json:"payload"`
	Filled  bool           `json:"filled"`
}

// OracleAddress is the key currently acting as the oracle. Version counts rotations.
type OracleAddress struct {
	Address common.Address `json:"address"`
	Version uint64         `json:"version"`
}

// Caller is the provenance the platform attaches to a call.
// Origin is non-nil only when the platform verified an attestation.
type Caller struct {
	Sender common.Address
	Origin *crypto.AppID
}

// Match is the argument set of ExecuteMatch.
type Match struct {
	BuyID      uint64         `json:"buyId"`
	SellID     uint64         `json:"sellId"`
	Buyer      common.Address `json:"buyer"`
	Seller     common.Address `json:"seller"`
	Instrument common.Address `json:"instrument"`
	Amount     *big.Int       `json:"amount"`
	Price      *big.Int       `json:"price"`
}

type EventKind string

const (
	EventOrderPlaced   EventKind = "OrderPlaced"
	EventMatchExecuted EventKind = "MatchExecuted"
	EventOracleRotated EventKind = "OracleRotated"
)

// Event is a ledger notification. It never carries order payloads.
type Event struct {
	Kind EventKind `json:"kind"`

	OrderID uint64          `json:"orderId,omitempty"`
	Owner   *common.Address `json:"owner,omitempty"`

	BuyID  uint64   `json:"buyId,omitempty"`
	SellID uint64   `json:"sellId,omitempty"`
	Amount *big.Int `json:"amount,omitempty"`
	Price  *big.Int `json:"price,omitempty"`

	Oracle  *common.Address `json:"oracle,omitempty"`
	Version uint64          `json:"version,omitempty"`
}

// Store persists ledger state. AppendOrder and MarkFilled must be atomic.
type Store interface {
	OrderCount() (uint64, error)
	Order(id uint64) (Order, bool, error)
	OwnedIDs(owner common.Address) ([]uint64, error)
	AppendOrder(o Order) error
	MarkFilled(ids ...uint64) error
	Oracle() (OracleAddress, error)
	SetOracle(o OracleAddress) error
}
