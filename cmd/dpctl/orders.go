package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/tricodex/ethdam-2025-sub001/pkg/chain"
	"github.com/tricodex/ethdam-2025-sub001/pkg/crypto"
	"github.com/tricodex/ethdam-2025-sub001/pkg/terms"
)

var (
	side       string
	instrument string
	price      string
	size       string
	decimals   int32
	loginTTL   time.Duration
	withLogin  bool
)

// queryTTL stays below the node's default max_query_ttl.
const queryTTL = time.Minute

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Print a signed login assertion for the configured domain",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := signer()
		if err != nil {
			return err
		}
		token, err := assertion(s)
		if err != nil {
			return err
		}
		fmt.Println(hexutil.Encode(token))
		return nil
	},
}

var placeCmd = &cobra.Command{
	Use:   "place",
	Short: "Place an order and wait for its id",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := signer()
		if err != nil {
			return err
		}
		asset, err := assetAddress(instrument)
		if err != nil {
			return err
		}
		t := terms.Terms{Owner: s.Address(), Instrument: asset}
		switch strings.ToLower(side) {
		case "buy":
			t.IsBuy = true
		case "sell":
		default:
			return fmt.Errorf("side must be buy or sell, got %q", side)
		}
		if t.Price, t.Size, err = terms.Quote(price, size, decimals); err != nil {
			return err
		}
		payload, err := terms.Encode(t)
		if err != nil {
			return err
		}

		ctx, cancel := withTimeout(cmd)
		defer cancel()
		c := client()
		nonce, err := c.PendingNonce(ctx, s.Address())
		if err != nil {
			return err
		}
		tx, err := chain.NewTx(cfg.Ledger.ChainID, chain.MethodPlaceOrder, chain.PlaceOrderArgs{Payload: payload}, nonce, 0)
		if err != nil {
			return err
		}
		if err := tx.Sign(s); err != nil {
			return err
		}
		hash, err := c.SubmitTx(ctx, tx)
		if err != nil {
			return err
		}
		r, err := c.WaitReceipt(ctx, hash, 250*time.Millisecond)
		if err != nil {
			return fmt.Errorf("tx %s: %w", hash.Hex(), err)
		}
		if err := r.Err(); err != nil {
			return fmt.Errorf("tx %s reverted: %w", hash.Hex(), err)
		}
		var res chain.PlaceOrderResult
		if err := json.Unmarshal(r.Result, &res); err != nil {
			return err
		}
		return printJSON(map[string]any{
			"orderId": res.OrderID,
			"tx":      hash.Hex(),
			"block":   r.Block,
			"side":    t.Side(),
		})
	},
}

var readCmd = &cobra.Command{
	Use:   "read <order-id>",
	Short: "Read and decode one of your orders",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("order id: %w", err)
		}
		var payload hexutil.Bytes
		build := func(a hexutil.Bytes) any { return chain.ReadConfidentialArgs{Assertion: a, OrderID: id} }
		if err := confidentialQuery(cmd, chain.MethodReadConfidential, build, &payload); err != nil {
			return err
		}
		t, err := terms.Decode(payload)
		if err != nil {
			return printJSON(map[string]any{"orderId": id, "payload": payload.String(), "decodeError": err.Error()})
		}
		return printJSON(map[string]any{
			"orderId":    id,
			"owner":      t.Owner.Hex(),
			"instrument": t.Instrument.Hex(),
			"side":       t.Side(),
			"price":      terms.FormatUnits(t.Price, 0),
			"size":       terms.FormatUnits(t.Size, decimals),
			"total":      terms.FormatUnits(t.Consideration(), decimals),
		})
	},
}

var ownedCmd = &cobra.Command{
	Use:   "owned [address]",
	Short: "List order ids owned by an address (default: your own)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var subject common.Address
		if len(args) == 1 {
			if !common.IsHexAddress(args[0]) {
				return fmt.Errorf("%q is not an address", args[0])
			}
			subject = common.HexToAddress(args[0])
		} else {
			s, err := signer()
			if err != nil {
				return err
			}
			subject = s.Address()
		}
		var ids []uint64
		build := func(a hexutil.Bytes) any { return chain.ReadOwnedIDsArgs{Assertion: a, Subject: subject} }
		if err := confidentialQuery(cmd, chain.MethodReadOwnedIDs, build, &ids); err != nil {
			return err
		}
		return printJSON(ids)
	},
}

func init() {
	placeCmd.Flags().StringVar(&side, "side", "buy", "buy or sell")
	placeCmd.Flags().StringVar(&instrument, "instrument", "water", "water, fire or an asset address")
	placeCmd.Flags().StringVar(&price, "price", "", "limit price, consideration base units per instrument base unit")
	placeCmd.Flags().StringVar(&size, "size", "", "quantity of the instrument")
	_ = placeCmd.MarkFlagRequired("price")
	_ = placeCmd.MarkFlagRequired("size")

	for _, c := range []*cobra.Command{placeCmd, readCmd} {
		c.Flags().Int32Var(&decimals, "decimals", 0, "decimal places of the size (both assets share them)")
	}
	for _, c := range []*cobra.Command{readCmd, ownedCmd} {
		c.Flags().BoolVar(&withLogin, "assert", false, "attach a login assertion instead of relying on the signature alone")
	}
	for _, c := range []*cobra.Command{loginCmd, readCmd, ownedCmd} {
		c.Flags().DurationVar(&loginTTL, "ttl", time.Hour, "assertion lifetime")
	}
}

// confidentialQuery signs the query with --key. With --assert, build also
// receives a fresh login assertion.
func confidentialQuery(cmd *cobra.Command, method string, build func(hexutil.Bytes) any, out any) error {
	s, err := signer()
	if err != nil {
		return err
	}
	var token hexutil.Bytes
	if withLogin {
		if token, err = assertion(s); err != nil {
			return err
		}
	}
	q, err := chain.NewTx(cfg.Ledger.ChainID, method, build(token), 0, uint64(time.Now().Add(queryTTL).Unix()))
	if err != nil {
		return err
	}
	if err := q.Sign(s); err != nil {
		return err
	}
	ctx, cancel := withTimeout(cmd)
	defer cancel()
	raw, err := client().Query(ctx, q)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func assertion(s *crypto.Signer) ([]byte, error) {
	domain, err := cfg.Ledger.Domain()
	if err != nil {
		return nil, err
	}
	return crypto.SignLogin(s, domain, time.Now(), loginTTL)
}

func assetAddress(name string) (common.Address, error) {
	assets, err := cfg.Ledger.Assets()
	if err != nil {
		return common.Address{}, err
	}
	switch strings.ToLower(name) {
	case "water":
		return assets[0], nil
	case "fire":
		return assets[1], nil
	}
	if common.IsHexAddress(name) {
		return common.HexToAddress(name), nil
	}
	return common.Address{}, fmt.Errorf("unknown asset %q", name)
}
