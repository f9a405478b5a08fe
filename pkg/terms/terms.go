// Package terms is the confidential order payload. The ledger stores it as
// opaque bytes; only the owner and the matcher decode it.
package terms

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var ErrMalformed = errors.New("malformed order terms")

// Terms is ABI-encoded as (address owner, address instrument, uint256 price,
// uint256 size, bool isBuy). Size is in instrument base units and Price in
// consideration base units per instrument base unit, so a fill of the whole
// order moves Size*Price of the consideration asset.
type Terms struct {
	Owner      common.Address
	Instrument common.Address
	Price      *big.Int
	Size       *big.Int
	IsBuy      bool
}

var arguments = mustArguments("address", "address", "uint256", "uint256", "bool")

func mustArguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(types))
	for _, ts := range types {
		t, err := abi.NewType(ts, "", nil)
		if err != nil {
			panic(err)
		}
		args = append(args, abi.Argument{Type: t})
	}
	return args
}

func (t Terms) Side() string {
	if t.IsBuy {
		return "buy"
	}
	return "sell"
}

// Consideration is what filling the whole order costs the buyer.
func (t Terms) Consideration() *big.Int {
	if t.Price == nil || t.Size == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(t.Size, t.Price)
}

func (t Terms) Validate() error {
	if t.Instrument == (common.Address{}) {
		return fmt.Errorf("%w: zero instrument", ErrMalformed)
	}
	if t.Price == nil || t.Price.Sign() <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrMalformed)
	}
	if t.Size == nil || t.Size.Sign() <= 0 {
		return fmt.Errorf("%w: size must be positive", ErrMalformed)
	}
	return nil
}

func Encode(t Terms) ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return arguments.Pack(t.Owner, t.Instrument, t.Price, t.Size, t.IsBuy)
}

func Decode(payload []byte) (Terms, error) {
	vals, err := arguments.Unpack(payload)
	if err != nil {
		return Terms{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(vals) != len(arguments) {
		return Terms{}, fmt.Errorf("%w: %d fields", ErrMalformed, len(vals))
	}
	t := Terms{}
	var ok [5]bool
	t.Owner, ok[0] = vals[0].(common.Address)
	t.Instrument, ok[1] = vals[1].(common.Address)
	t.Price, ok[2] = vals[2].(*big.Int)
	t.Size, ok[3] = vals[3].(*big.Int)
	t.IsBuy, ok[4] = vals[4].(bool)
	for _, b := range ok {
		if !b {
			return Terms{}, fmt.Errorf("%w: unexpected field types", ErrMalformed)
		}
	}
	if err := t.Validate(); err != nil {
		return Terms{}, err
	}
	return t, nil
}

// ParseUnits converts a human amount like "1.5" to base units with the given
// number of decimals. Fractions finer than one base unit are rejected.
func ParseUnits(s string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", s, err)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%q has more than %d decimals", s, decimals)
	}
	return scaled.BigInt(), nil
}

// FormatUnits is the inverse of ParseUnits.
func FormatUnits(v *big.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -decimals).String()
}

// Quote turns a human price and size into order terms for assets sharing
// decimals. Only size is scaled: price is a ratio of base units and must be
// whole, since scaling both would charge Size*Price 10^decimals too much.
func Quote(price, size string, decimals int32) (*big.Int, *big.Int, error) {
	p, err := ParseUnits(price, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("price: %w", err)
	}
	s, err := ParseUnits(size, decimals)
	if err != nil {
		return nil, nil, fmt.Errorf("size: %w", err)
	}
	return p, s, nil
}
