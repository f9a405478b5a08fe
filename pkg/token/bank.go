// Package token is the development token-transfer collaborator: an
// in-memory multi-asset balance sheet with all-or-nothing batches.
package token

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Transferer moves amount of asset between two holders and reports success.
// A false result leaves every balance untouched.
type Transferer interface {
	Transfer(asset, from, to common.Address, amount *big.Int) bool
}

type balanceKey struct {
	asset  common.Address
	holder common.Address
}

// Bank holds balances per (asset, holder).
type Bank struct {
	mu       sync.Mutex
	balances map[balanceKey]*big.Int
}

func NewBank() *Bank {
	return &Bank{balances: make(map[balanceKey]*big.Int)}
}

// Mint credits amount of asset to holder.
func (b *Bank) Mint(asset, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("mint amount must be positive")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	k := balanceKey{asset, to}
	b.balances[k] = new(big.Int).Add(b.get(k), amount)
	return nil
}

// BalanceOf returns a copy of holder's balance of asset.
func (b *Bank) BalanceOf(asset, holder common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.get(balanceKey{asset, holder}))
}

// Transfer applies a single transfer immediately.
func (b *Bank) Transfer(asset, from, to common.Address, amount *big.Int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := &overlay{bank: b, staged: make(map[balanceKey]*big.Int)}
	if !o.Transfer(asset, from, to, amount) {
		return false
	}
	o.apply()
	return true
}

// Atomically runs fn against a staging view of the balances. Transfers made
// through the view are applied together if fn returns nil and discarded
// otherwise. The bank is locked for the duration of fn.
func (b *Bank) Atomically(fn func(Transferer) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := &overlay{bank: b, staged: make(map[balanceKey]*big.Int)}
	if err := fn(o); err != nil {
		return err
	}
	o.apply()
	return nil
}

func (b *Bank) get(k balanceKey) *big.Int {
	if v, ok := b.balances[k]; ok {
		return v
	}
	return new(big.Int)
}

type overlay struct {
	bank   *Bank
	staged map[balanceKey]*big.Int
}

func (o *overlay) get(k balanceKey) *big.Int {
	if v, ok := o.staged[k]; ok {
		return v
	}
	return o.bank.get(k)
}

func (o *overlay) Transfer(asset, from, to common.Address, amount *big.Int) bool {
	if amount == nil || amount.Sign() < 0 {
		return false
	}
	if from == to || amount.Sign() == 0 {
		return true
	}
	fk, tk := balanceKey{asset, from}, balanceKey{asset, to}
	fromBal := o.get(fk)
	if fromBal.Cmp(amount) < 0 {
		return false
	}
	o.staged[fk] = new(big.Int).Sub(fromBal, amount)
	o.staged[tk] = new(big.Int).Add(o.get(tk), amount)
	return true
}

func (o *overlay) apply() {
	for k, v := range o.staged {
		o.bank.balances[k] = v
	}
}
