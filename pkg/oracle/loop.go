// Package oracle is the off-ledger matching loop: it loads unfilled orders
// through the authenticated channel, pairs crossing orders and settles each
// pair through the same channel.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tricodex/ethdam-2025-sub001/pkg/api"
	"github.com/tricodex/ethdam-2025-sub001/pkg/chain"
	"github.com/tricodex/ethdam-2025-sub001/pkg/channel"
	"github.com/tricodex/ethdam-2025-sub001/pkg/ledger"
	"github.com/tricodex/ethdam-2025-sub001/pkg/storage"
	"github.com/tricodex/ethdam-2025-sub001/pkg/terms"
	"github.com/tricodex/ethdam-2025-sub001/pkg/util"
)

// ErrOriginRejected means the ledger refused an attested call from this
// environment. It is a deployment defect and stops the loop.
var ErrOriginRejected = errors.New("ledger rejected the attested origin")

// errNotOracle means a confidential read was refused: the ledger does not
// know this key as the oracle yet.
var errNotOracle = errors.New("channel key is not the current oracle")

type State int

const (
	StateIdle State = iota
	StateLoading
	StateMatching
	StateSettling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateMatching:
		return "matching"
	case StateSettling:
		return "settling"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Channel is the authenticated path to the ledger.
type Channel interface {
	Address(ctx context.Context) (common.Address, error)
	Query(ctx context.Context, method string, args any) (json.RawMessage, error)
	SignSubmit(ctx context.Context, method string, args any) (chain.Receipt, error)
}

// PublicLedger serves unauthenticated reads.
type PublicLedger interface {
	TotalOrders(ctx context.Context) (uint64, error)
	IsFilled(ctx context.Context, id uint64) (bool, error)
	OracleAddress(ctx context.Context) (ledger.OracleAddress, error)
	Receipt(ctx context.Context, hash common.Hash) (chain.Receipt, error)
}

type Config struct {
	PollInterval    time.Duration
	MaxBackoff      time.Duration
	Priority        Priority
	Pricing         Pricing
	LoadConcurrency int
	CacheSize       int
}

// Report summarizes one cycle.
type Report struct {
	CycleID  uuid.UUID
	Orders   int // unfilled orders considered
	Skipped  int // undecodable or inconsistent payloads
	Pairs    int
	Settled  int
	Pending  int
	Rejected int
}

type Loop struct {
	cfg     Config
	ch      Channel
	pub     PublicLedger
	records *storage.MatchStore
	cache   *lru.Cache[uint64, loaded]
	clock   util.Clock
	log     *zap.SugaredLogger

	mu           sync.RWMutex
	state        State
	onState      func(State)
	bootstrapped bool
	rotation     common.Hash // unconfirmed setOracleAddress tx
}

// loaded is a cached read. Payloads never change once placed, so neither
// does the decode result.
type loaded struct {
	order Order
	valid bool
}

func New(cfg Config, ch Channel, pub PublicLedger, records *storage.MatchStore, clock util.Clock, log *zap.SugaredLogger) (*Loop, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.MaxBackoff < cfg.PollInterval {
		cfg.MaxBackoff = cfg.PollInterval
	}
	if cfg.LoadConcurrency <= 0 {
		cfg.LoadConcurrency = 1
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	if cfg.Priority == "" {
		cfg.Priority = PriorityTime
	}
	if cfg.Pricing == "" {
		cfg.Pricing = PricingResting
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	cache, err := lru.New[uint64, loaded](cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Loop{
		cfg:     cfg,
		ch:      ch,
		pub:     pub,
		records: records,
		cache:   cache,
		clock:   clock,
		log:     log,
	}, nil
}

func (l *Loop) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// OnState installs a hook called on every state transition.
func (l *Loop) OnState(fn func(State)) {
	l.mu.Lock()
	l.onState = fn
	l.mu.Unlock()
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	fn := l.onState
	l.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// Run executes cycles until ctx is done. A started cycle always runs to
// completion; cancellation is honoured only between cycles.
func (l *Loop) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.cfg.PollInterval
	b.MaxInterval = l.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	l.log.Infow("oracle_started",
		"poll_interval", l.cfg.PollInterval,
		"priority", l.cfg.Priority,
		"pricing", l.cfg.Pricing,
	)
	for {
		wait := l.cfg.PollInterval
		_, err := l.RunCycle(context.WithoutCancel(ctx))
		switch {
		case errors.Is(err, ErrOriginRejected):
			return err
		case err != nil:
			wait = b.NextBackOff()
			l.log.Warnw("cycle_aborted", "err", err, "retry_in", wait)
		default:
			b.Reset()
		}

		select {
		case <-ctx.Done():
			l.log.Infow("oracle_stopped")
			return nil
		case <-l.clock.After(wait):
		}
	}
}

// RunCycle performs one Loading → Matching → Settling pass. Ledger
// rejections of single pairs are logged and skipped; an unreachable channel
// or node aborts the cycle.
func (l *Loop) RunCycle(ctx context.Context) (Report, error) {
	rep := Report{CycleID: uuid.New()}
	log := l.log.With("cycle", rep.CycleID.String())
	defer l.setState(StateIdle)

	l.setState(StateLoading)
	if err := l.bootstrap(ctx, log); err != nil {
		return rep, err
	}
	busy, err := l.resolvePending(ctx, log)
	if err != nil {
		return rep, err
	}
	orders, skipped, err := l.load(ctx, busy)
	if errors.Is(err, errNotOracle) {
		l.bootstrapped = false
	}
	if err != nil {
		return rep, err
	}
	rep.Orders, rep.Skipped = len(orders), skipped

	l.setState(StateMatching)
	pairs := Match(orders, l.cfg.Priority, l.cfg.Pricing)
	rep.Pairs = len(pairs)

	l.setState(StateSettling)
	for _, p := range pairs {
		outcome, err := l.settle(ctx, log, rep.CycleID, p)
		if err != nil {
			return rep, err
		}
		switch outcome {
		case storage.MatchSettled:
			rep.Settled++
		case storage.MatchPending:
			rep.Pending++
		case storage.MatchFailed:
			rep.Rejected++
		}
	}

	if rep.Pairs > 0 || rep.Skipped > 0 {
		log.Infow("cycle_done",
			"orders", rep.Orders,
			"skipped", rep.Skipped,
			"pairs", rep.Pairs,
			"settled", rep.Settled,
			"pending", rep.Pending,
			"rejected", rep.Rejected,
		)
	}
	return rep, nil
}

// bootstrap names the channel's key as the ledger's oracle address when it
// is not already.
func (l *Loop) bootstrap(ctx context.Context, log *zap.SugaredLogger) error {
	if l.bootstrapped {
		return nil
	}
	addr, err := l.ch.Address(ctx)
	if err != nil {
		return err
	}
	cur, err := l.pub.OracleAddress(ctx)
	if err != nil {
		return err
	}
	if cur.Address == addr {
		l.bootstrapped = true
		l.rotation = common.Hash{}
		return nil
	}

	var r chain.Receipt
	if l.rotation != (common.Hash{}) {
		r, err = l.pub.Receipt(ctx, l.rotation)
		switch {
		case errors.Is(err, api.ErrNotFound):
			r = chain.Receipt{TxHash: l.rotation, Status: chain.StatusReverted, Error: "transaction unknown to the node"}
		case err != nil:
			return err
		}
		if r.Status == chain.StatusReverted {
			log.Warnw("oracle_address_rotation_failed", "tx", l.rotation.Hex(), "code", r.Code, "reason", r.Error)
			l.rotation = common.Hash{}
		}
	}
	if l.rotation == (common.Hash{}) {
		r, err = l.ch.SignSubmit(ctx, chain.MethodSetOracleAddress, chain.SetOracleAddressArgs{Address: addr})
		if err != nil {
			return l.submitError(log, chain.MethodSetOracleAddress, err)
		}
	}
	switch r.Status {
	case chain.StatusSuccess:
		l.bootstrapped = true
		l.rotation = common.Hash{}
		log.Infow("oracle_address_set", "address", addr.Hex(), "previous", cur.Address.Hex(), "tx", r.TxHash.Hex())
		return nil
	case chain.StatusPending:
		l.rotation = r.TxHash
		log.Infow("oracle_address_pending", "address", addr.Hex(), "tx", r.TxHash.Hex())
		return fmt.Errorf("oracle address rotation %s still pending", r.TxHash.Hex())
	}
	if errors.Is(r.Err(), ledger.ErrUnauthorizedAccess) {
		log.Errorw("attested_origin_rejected", "method", chain.MethodSetOracleAddress, "tx", r.TxHash.Hex(), "reason", r.Error)
		return fmt.Errorf("%w: %s", ErrOriginRejected, r.Error)
	}
	return fmt.Errorf("set oracle address: %w", r.Err())
}

// resolvePending settles the fate of pairs submitted earlier and returns
// the ids still tied up in unconfirmed transactions.
func (l *Loop) resolvePending(ctx context.Context, log *zap.SugaredLogger) (map[uint64]bool, error) {
	pending, err := l.records.List(storage.MatchPending)
	if err != nil {
		return nil, fmt.Errorf("list pending matches: %w", err)
	}
	busy := make(map[uint64]bool)
	for _, rec := range pending {
		r, err := l.pub.Receipt(ctx, rec.TxHash)
		switch {
		case errors.Is(err, api.ErrNotFound):
			rec.Outcome, rec.Reason = storage.MatchFailed, "transaction unknown to the node"
		case err != nil:
			return nil, err
		case r.Status == chain.StatusPending:
			busy[rec.BuyID], busy[rec.SellID] = true, true
			continue
		case r.Status == chain.StatusSuccess:
			rec.Outcome = storage.MatchSettled
		default:
			rec.Outcome, rec.Reason = storage.MatchFailed, r.Error
		}
		rec.UpdatedAt = l.clock.Now()
		if err := l.records.Put(rec); err != nil {
			return nil, fmt.Errorf("update match record: %w", err)
		}
		log.Infow("pending_match_resolved", "buy_id", rec.BuyID, "sell_id", rec.SellID, "outcome", rec.Outcome, "tx", rec.TxHash.Hex())
	}
	return busy, nil
}

// load returns every unfilled, decodable order not in busy, ordered by id.
func (l *Loop) load(ctx context.Context, busy map[uint64]bool) ([]Order, int, error) {
	total, err := l.pub.TotalOrders(ctx)
	if err != nil {
		return nil, 0, err
	}

	results := make([]loaded, total)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.LoadConcurrency)
	for id := uint64(1); id <= total; id++ {
		if busy[id] {
			continue
		}
		g.Go(func() error {
			filled, err := l.pub.IsFilled(gctx, id)
			if err != nil || filled {
				return err
			}
			o, err := l.fetch(gctx, id)
			if err != nil {
				return err
			}
			results[id-1] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	var orders []Order
	skipped := 0
	for _, r := range results {
		switch {
		case r.order.ID == 0:
		case !r.valid:
			skipped++
		default:
			orders = append(orders, r.order)
		}
	}
	return orders, skipped, nil
}

func (l *Loop) fetch(ctx context.Context, id uint64) (loaded, error) {
	if hit, ok := l.cache.Get(id); ok {
		return hit, nil
	}

	raw, err := l.ch.Query(ctx, chain.MethodReadOrderOwner, chain.ReadOrderOwnerArgs{OrderID: id})
	if err != nil {
		return loaded{}, l.readError(id, err)
	}
	var owner common.Address
	if err := json.Unmarshal(raw, &owner); err != nil {
		return loaded{}, fmt.Errorf("decode owner of %d: %w", id, err)
	}

	raw, err = l.ch.Query(ctx, chain.MethodReadConfidential, chain.ReadConfidentialArgs{OrderID: id})
	if err != nil {
		return loaded{}, l.readError(id, err)
	}
	var payload hexutil.Bytes
	if err := json.Unmarshal(raw, &payload); err != nil {
		return loaded{}, fmt.Errorf("decode payload of %d: %w", id, err)
	}

	out := loaded{order: Order{ID: id, Owner: owner}}
	t, err := terms.Decode(payload)
	switch {
	case err != nil:
		l.log.Warnw("order_undecodable", "order_id", id, "err", err)
	case t.Owner != owner:
		l.log.Warnw("order_owner_mismatch", "order_id", id, "recorded", owner.Hex(), "claimed", t.Owner.Hex())
	default:
		out.order.Terms = t
		out.valid = true
	}
	l.cache.Add(id, out)
	return out, nil
}

func (l *Loop) readError(id uint64, err error) error {
	if errors.Is(err, ledger.ErrUnauthorizedAccess) {
		return fmt.Errorf("%w: read of order %d: %v", errNotOracle, id, err)
	}
	return fmt.Errorf("read order %d: %w", id, err)
}

func (l *Loop) settle(ctx context.Context, log *zap.SugaredLogger, cycle uuid.UUID, p Pair) (storage.MatchOutcome, error) {
	m := p.Match()
	rec, ok, err := l.records.Get(m.BuyID, m.SellID)
	if err != nil {
		return "", fmt.Errorf("read match record: %w", err)
	}
	if ok && rec.Outcome == storage.MatchSettled {
		return "", nil
	}
	if !ok {
		rec.ID = uuid.New()
	}
	rec.CycleID = cycle
	rec.BuyID, rec.SellID = m.BuyID, m.SellID
	rec.Buyer, rec.Seller = m.Buyer, m.Seller
	rec.Instrument, rec.Amount, rec.Price = m.Instrument, m.Amount, m.Price
	rec.Reason = ""

	r, err := l.ch.SignSubmit(ctx, chain.MethodExecuteMatch, m)
	if err != nil {
		return "", l.submitError(log, chain.MethodExecuteMatch, err)
	}

	rec.TxHash = r.TxHash
	rec.UpdatedAt = l.clock.Now()
	var fatal error
	switch r.Status {
	case chain.StatusSuccess:
		rec.Outcome = storage.MatchSettled
		log.Infow("match_settled",
			"buy_id", m.BuyID, "sell_id", m.SellID,
			"instrument", m.Instrument.Hex(),
			"amount", m.Amount.String(), "price", m.Price.String(),
			"tx", r.TxHash.Hex(),
		)
	case chain.StatusPending:
		rec.Outcome = storage.MatchPending
		log.Infow("match_pending", "buy_id", m.BuyID, "sell_id", m.SellID, "tx", r.TxHash.Hex())
	default:
		rec.Outcome, rec.Reason = storage.MatchFailed, r.Error
		if errors.Is(r.Err(), ledger.ErrUnauthorizedAccess) {
			log.Errorw("attested_origin_rejected", "method", chain.MethodExecuteMatch, "buy_id", m.BuyID, "sell_id", m.SellID, "reason", r.Error)
			fatal = fmt.Errorf("%w: %s", ErrOriginRejected, r.Error)
		} else {
			log.Warnw("match_rejected", "buy_id", m.BuyID, "sell_id", m.SellID, "code", r.Code, "reason", r.Error)
		}
	}
	if err := l.records.Put(rec); err != nil {
		return "", fmt.Errorf("write match record: %w", err)
	}
	return rec.Outcome, fatal
}

// submitError classifies a failed channel submission. An app id the
// platform does not endorse the attestation key for stops the loop; an
// unendorsed key is reported loudly but retried.
func (l *Loop) submitError(log *zap.SugaredLogger, method string, err error) error {
	if errors.Is(err, chain.ErrOriginMismatch) {
		log.Errorw("attested_origin_rejected", "method", method, "err", err)
		return fmt.Errorf("%w: %w", ErrOriginRejected, err)
	}
	if errors.Is(err, chain.ErrInvalidTx) {
		log.Errorw("submission_refused", "method", method, "err", err)
	}
	if errors.Is(err, channel.ErrChannelUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w", method, err)
}
