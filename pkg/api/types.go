package api

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tricodex/ethdam-2025-sub001/pkg/chain"
	"github.com/tricodex/ethdam-2025-sub001/pkg/ledger"
)

// ==============================
// REST Types
// ==============================

// ErrorResponse carries a machine-readable code from the ledger or platform taxonomy.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type SubmitTxResponse struct {
	TxHash common.Hash  `json:"txHash"`
	Status chain.Status `json:"status"`
}

type QueryResponse struct {
	Result json.RawMessage `json:"result"`
}

type NonceResponse struct {
	Address common.Address `json:"address"`
	Nonce   uint64         `json:"nonce"`
}

// BalancesResponse maps asset address to a base-10 amount.
type BalancesResponse struct {
	Address  common.Address            `json:"address"`
	Balances map[common.Address]string `json:"balances"`
}

type CountResponse struct {
	Count uint64 `json:"count"`
}

type ExistsResponse struct {
	OrderID uint64 `json:"orderId"`
	Exists  bool   `json:"exists"`
}

type FilledResponse struct {
	OrderID uint64 `json:"orderId"`
	Filled  bool   `json:"filled"`
}

type FaucetRequest struct {
	Asset  common.Address `json:"asset"`
	To     common.Address `json:"to"`
	Amount string         `json:"amount"` // base-10 base units
}

// ==============================
// WebSocket Types
// ==============================

// WebSocket channels. Events never carry order payloads.
const (
	ChannelOrders  = "orders"
	ChannelMatches = "matches"
	ChannelOracle  = "oracle"
)

type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

type WSEvent struct {
	Channel string       `json:"channel"`
	Block   uint64       `json:"block"`
	TxHash  common.Hash  `json:"txHash"`
	Event   ledger.Event `json:"event"`
}

func channelFor(kind ledger.EventKind) string {
	switch kind {
	case ledger.EventOrderPlaced:
		return ChannelOrders
	case ledger.EventMatchExecuted:
		return ChannelMatches
	case ledger.EventOracleRotated:
		return ChannelOracle
	}
	return ""
}
