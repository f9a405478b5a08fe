package oracle

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tricodex/ethdam-2025-sub001/pkg/ledger"
	"github.com/tricodex/ethdam-2025-sub001/pkg/terms"
)

// Order is an unfilled order with its decoded terms. Owner is the
// ledger's record, not the payload's claim.
type Order struct {
	ID    uint64
	Owner common.Address
	Terms terms.Terms
}

// Pair is a crossing buy/sell pair ready for settlement.
type Pair struct {
	Buy    Order
	Sell   Order
	Amount *big.Int
	Price  *big.Int
}

func (p Pair) Match() ledger.Match {
	return ledger.Match{
		BuyID:      p.Buy.ID,
		SellID:     p.Sell.ID,
		Buyer:      p.Buy.Owner,
		Seller:     p.Sell.Owner,
		Instrument: p.Buy.Terms.Instrument,
		Amount:     new(big.Int).Set(p.Amount),
		Price:      new(big.Int).Set(p.Price),
	}
}

// Match pairs orders per instrument. Each order is used at most once: the
// ledger fills both sides of a settlement whatever the traded amount.
// Self-trades are skipped.
func Match(orders []Order, priority Priority, pricing Pricing) []Pair {
	byInstrument := make(map[common.Address][]Order)
	for _, o := range orders {
		byInstrument[o.Terms.Instrument] = append(byInstrument[o.Terms.Instrument], o)
	}
	instruments := make([]common.Address, 0, len(byInstrument))
	for inst := range byInstrument {
		instruments = append(instruments, inst)
	}
	sort.Slice(instruments, func(i, j int) bool {
		return bytes.Compare(instruments[i][:], instruments[j][:]) < 0
	})

	var pairs []Pair
	for _, inst := range instruments {
		pairs = append(pairs, matchBook(byInstrument[inst], priority, pricing)...)
	}
	return pairs
}

func matchBook(orders []Order, priority Priority, pricing Pricing) []Pair {
	var buys, sells []Order
	for _, o := range orders {
		if o.Terms.Validate() != nil {
			continue
		}
		if o.Terms.IsBuy {
			buys = append(buys, o)
		} else {
			sells = append(sells, o)
		}
	}
	sortSide(buys, priority, true)
	sortSide(sells, priority, false)

	used := make(map[uint64]bool, len(sells))
	var pairs []Pair
	for _, b := range buys {
		for _, s := range sells {
			if used[s.ID] || s.Owner == b.Owner {
				continue
			}
			if b.Terms.Price.Cmp(s.Terms.Price) < 0 {
				// Under price-time the remaining sells are no cheaper.
				if priority == PriorityPriceTime {
					break
				}
				continue
			}
			used[s.ID] = true
			pairs = append(pairs, Pair{
				Buy:    b,
				Sell:   s,
				Amount: minInt(b.Terms.Size, s.Terms.Size),
				Price:  tradePrice(b, s, pricing),
			})
			break
		}
	}
	return pairs
}

func sortSide(side []Order, priority Priority, isBuy bool) {
	sort.SliceStable(side, func(i, j int) bool {
		if priority == PriorityPriceTime {
			c := side[i].Terms.Price.Cmp(side[j].Terms.Price)
			if c != 0 {
				if isBuy {
					return c > 0
				}
				return c < 0
			}
		}
		return side[i].ID < side[j].ID
	})
}

func tradePrice(b, s Order, pricing Pricing) *big.Int {
	switch pricing {
	case PricingBuy:
		return new(big.Int).Set(b.Terms.Price)
	case PricingSell:
		return new(big.Int).Set(s.Terms.Price)
	}
	if b.ID < s.ID {
		return new(big.Int).Set(b.Terms.Price)
	}
	return new(big.Int).Set(s.Terms.Price)
}

func minInt(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
