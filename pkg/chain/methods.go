package chain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Transaction methods.
const (
	MethodPlaceOrder       = "placeOrder"
	MethodExecuteMatch     = "executeMatch"
	MethodSetOracleAddress = "setOracleAddress"
)

// Query methods.
const (
	MethodReadConfidential = "readConfidential"
	MethodReadOwnedIDs     = "readOwnedIds"
	MethodReadOrderOwner   = "readOrderOwner"
	MethodExists           = "exists"
	MethodTotalOrders      = "totalOrders"
	MethodIsFilled         = "isFilled"
	MethodOracleAddress    = "oracleAddress"
)

func isTxMethod(m string) bool {
	switch m {
	case MethodPlaceOrder, MethodExecuteMatch, MethodSetOracleAddress:
		return true
	}
	return false
}

type PlaceOrderArgs struct {
	Payload hexutil.Bytes `json:"payload"`
}

type PlaceOrderResult struct {
	OrderID uint64 `json:"orderId"`
}

type SetOracleAddressArgs struct {
	Address common.Address `json:"address"`
}

type ReadConfidentialArgs struct {
	Assertion hexutil.Bytes `json:"assertion,omitempty"`
	OrderID   uint64        `json:"orderId"`
}

type ReadOwnedIDsArgs struct {
	Assertion hexutil.Bytes  `json:"assertion,omitempty"`
	Subject   common.Address `json:"subject"`
}

type OrderIDArgs struct {
	OrderID uint64 `json:"orderId"`
}

type ReadOrderOwnerArgs struct {
	Assertion hexutil.Bytes `json:"assertion,omitempty"`
	OrderID   uint64        `json:"orderId"`
}
