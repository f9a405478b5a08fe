package ledger

import (
	"fmt"
	"math/big"

	"github.com/tricodex/ethdam-2025-sub001/pkg/token"
)

// ExecuteMatch settles a buy/sell pair. Preconditions are checked in a fixed
// order: existence, fill state, counterparties, instrument. Both transfer
// legs and both fill flags commit together or not at all.
func (l *Ledger) ExecuteMatch(caller Caller, m Match) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireOracle("execute_match", caller); err != nil {
		return err
	}

	buy, err := l.order(m.BuyID)
	if err != nil {
		return fmt.Errorf("buy order: %w", err)
	}
	sell, err := l.order(m.SellID)
	if err != nil {
		return fmt.Errorf("sell order: %w", err)
	}

	if buy.Filled {
		return fmt.Errorf("%w: buy order %d", ErrOrderAlreadyFilled, buy.ID)
	}
	if sell.Filled {
		return fmt.Errorf("%w: sell order %d", ErrOrderAlreadyFilled, sell.ID)
	}

	if buy.ID == sell.ID {
		return fmt.Errorf("%w: order %d on both sides", ErrInvalidCounterparty, buy.ID)
	}
	if m.Buyer != buy.Owner {
		return fmt.Errorf("%w: buyer %s does not own order %d", ErrInvalidCounterparty, m.Buyer.Hex(), buy.ID)
	}
	if m.Seller != sell.Owner {
		return fmt.Errorf("%w: seller %s does not own order %d", ErrInvalidCounterparty, m.Seller.Hex(), sell.ID)
	}

	var consideration = l.assets[0]
	switch m.Instrument {
	case l.assets[0]:
		consideration = l.assets[1]
	case l.assets[1]:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidInstrument, m.Instrument.Hex())
	}

	if m.Amount == nil || m.Amount.Sign() <= 0 || m.Price == nil || m.Price.Sign() <= 0 {
		return fmt.Errorf("%w: amount and price must be positive", ErrInvalidArgument)
	}
	value := new(big.Int).Mul(m.Amount, m.Price)

	err = l.bank.Atomically(func(tx token.Transferer) error {
		if !tx.Transfer(consideration, m.Buyer, m.Seller, value) {
			return fmt.Errorf("%w: consideration leg %s -> %s", ErrTransferFailed, m.Buyer.Hex(), m.Seller.Hex())
		}
		if !tx.Transfer(m.Instrument, m.Seller, m.Buyer, m.Amount) {
			return fmt.Errorf("%w: asset leg %s -> %s", ErrTransferFailed, m.Seller.Hex(), m.Buyer.Hex())
		}
		return l.store.MarkFilled(buy.ID, sell.ID)
	})
	if err != nil {
		l.log.Warnw("match_reverted", "buy_id", buy.ID, "sell_id", sell.ID, "err", err)
		return err
	}

	l.emit(Event{
		Kind:   EventMatchExecuted,
		BuyID:  buy.ID,
		SellID: sell.ID,
		Amount: new(big.Int).Set(m.Amount),
		Price:  new(big.Int).Set(m.Price),
	})
	l.log.Infow("match_executed",
		"buy_id", buy.ID,
		"sell_id", sell.ID,
		"instrument", m.Instrument.Hex(),
		"amount", m.Amount.String(),
		"price", m.Price.String(),
	)
	return nil
}
