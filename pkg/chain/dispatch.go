package chain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/tricodex/ethdam-2025-sub001/pkg/ledger"
)

func invalidArgs(err error) error {
	return fmt.Errorf("%w: %v", ledger.ErrInvalidArgument, err)
}

func (n *Node) execute(caller ledger.Caller, tx *Tx) (any, error) {
	switch tx.Method {
	case MethodPlaceOrder:
		var args PlaceOrderArgs
		if err := tx.DecodeArgs(&args); err != nil {
			return nil, invalidArgs(err)
		}
		id, err := n.ledger.Place(caller, args.Payload)
		if err != nil {
			return nil, err
		}
		return PlaceOrderResult{OrderID: id}, nil

	case MethodExecuteMatch:
		var m ledger.Match
		if err := tx.DecodeArgs(&m); err != nil {
			return nil, invalidArgs(err)
		}
		return nil, n.ledger.ExecuteMatch(caller, m)

	case MethodSetOracleAddress:
		var args SetOracleAddressArgs
		if err := tx.DecodeArgs(&args); err != nil {
			return nil, invalidArgs(err)
		}
		return n.ledger.SetOracleAddress(caller, args.Address)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, tx.Method)
}

func (n *Node) query(caller ledger.Caller, q *Tx) (any, error) {
	switch q.Method {
	case MethodReadConfidential:
		var args ReadConfidentialArgs
		if err := q.DecodeArgs(&args); err != nil {
			return nil, invalidArgs(err)
		}
		payload, err := n.ledger.ReadConfidential(caller, args.Assertion, args.OrderID)
		if err != nil {
			return nil, err
		}
		return hexutil.Bytes(payload), nil

	case MethodReadOwnedIDs:
		var args ReadOwnedIDsArgs
		if err := q.DecodeArgs(&args); err != nil {
			return nil, invalidArgs(err)
		}
		return n.ledger.ReadOwnedIDs(caller, args.Assertion, args.Subject)

	case MethodReadOrderOwner:
		var args ReadOrderOwnerArgs
		if err := q.DecodeArgs(&args); err != nil {
			return nil, invalidArgs(err)
		}
		return n.ledger.ReadOrderOwner(caller, args.Assertion, args.OrderID)

	case MethodExists:
		var args OrderIDArgs
		if err := q.DecodeArgs(&args); err != nil {
			return nil, invalidArgs(err)
		}
		return n.ledger.Exists(args.OrderID)

	case MethodTotalOrders:
		return n.ledger.TotalOrders()

	case MethodIsFilled:
		var args OrderIDArgs
		if err := q.DecodeArgs(&args); err != nil {
			return nil, invalidArgs(err)
		}
		return n.ledger.IsFilled(args.OrderID)

	case MethodOracleAddress:
		return n.ledger.OracleAddress()
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, q.Method)
}
