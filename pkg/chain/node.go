package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/tricodex/ethdam-2025-sub001/pkg/ledger"
	"github.com/tricodex/ethdam-2025-sub001/pkg/token"
	"github.com/tricodex/ethdam-2025-sub001/pkg/util"
)

type Config struct {
	ChainID        uint64
	BlockTime      time.Duration
	MaxTxsPerBlock int
	MaxArgsBytes   int
	MempoolSize    int
	Faucet         bool
	// MaxQueryTTL bounds how far ahead a signed query's deadline may be.
	MaxQueryTTL time.Duration
}

// Node applies transactions to the ledger one at a time, in blocks.
type Node struct {
	cfg      Config
	ledger   *ledger.Ledger
	bank     *token.Bank
	registry *Registry
	mempool  *Mempool
	state    StateStore
	wal      WAL
	clock    util.Clock
	log      *zap.SugaredLogger

	// mu serializes admission and block production.
	mu      sync.Mutex
	height  uint64
	events  []ledger.Event
	pending map[common.Address]uint64

	subsMu sync.RWMutex
	subs   []func(Receipt)
}

func NewNode(cfg Config, l *ledger.Ledger, bank *token.Bank, registry *Registry, state StateStore, wal WAL, clock util.Clock, log *zap.SugaredLogger) (*Node, error) {
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.BlockTime <= 0 {
		cfg.BlockTime = 500 * time.Millisecond
	}
	if cfg.MaxQueryTTL <= 0 {
		cfg.MaxQueryTTL = 5 * time.Minute
	}
	n := &Node{
		cfg:      cfg,
		ledger:   l,
		bank:     bank,
		registry: registry,
		mempool:  NewMempool(cfg.MempoolSize),
		state:    state,
		wal:      wal,
		clock:    clock,
		log:      log,
		pending:  make(map[common.Address]uint64),
	}
	latest, ok, err := state.LatestBlock()
	if err != nil {
		return nil, fmt.Errorf("load latest block: %w", err)
	}
	if ok {
		n.height = latest.Height
	}
	l.SetEventHandler(func(e ledger.Event) { n.events = append(n.events, e) })
	return n, nil
}

func (n *Node) ChainID() uint64 { return n.cfg.ChainID }

func (n *Node) Ledger() *ledger.Ledger { return n.ledger }

// Subscribe registers fn to receive every applied receipt.
func (n *Node) Subscribe(fn func(Receipt)) {
	n.subsMu.Lock()
	n.subs = append(n.subs, fn)
	n.subsMu.Unlock()
}

// Submit admits a signed transaction and returns its hash. The receipt is
// pending until the transaction is applied.
func (n *Node) Submit(tx *Tx) (common.Hash, error) {
	if n.cfg.MaxArgsBytes > 0 && len(tx.Args) > n.cfg.MaxArgsBytes {
		return common.Hash{}, ErrTooLarge
	}
	if tx.ChainID != n.cfg.ChainID {
		return common.Hash{}, fmt.Errorf("%w: got %d, want %d", ErrWrongChain, tx.ChainID, n.cfg.ChainID)
	}
	if !isTxMethod(tx.Method) {
		return common.Hash{}, fmt.Errorf("%w: %q", ErrUnknownMethod, tx.Method)
	}
	if n.expired(tx.Deadline) {
		return common.Hash{}, ErrExpired
	}
	sender, err := tx.Sender()
	if err != nil {
		return common.Hash{}, err
	}
	if _, err := n.registry.Origin(tx); err != nil {
		if errors.Is(err, ErrOriginMismatch) {
			n.log.Errorw("attested_origin_mismatch", "sender", sender.Hex(), "method", tx.Method, "err", err)
		}
		return common.Hash{}, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	hash := tx.Hash()
	if _, ok, err := n.state.Receipt(hash); err != nil {
		return common.Hash{}, err
	} else if ok {
		return hash, ErrAlreadyKnown
	}

	confirmed, err := n.state.Nonce(sender)
	if err != nil {
		return common.Hash{}, err
	}
	if tx.Nonce < confirmed {
		return common.Hash{}, fmt.Errorf("%w: got %d, want >= %d", ErrNonceTooLow, tx.Nonce, confirmed)
	}

	if err := n.mempool.Push(tx); err != nil {
		return common.Hash{}, err
	}
	if tx.Nonce+1 > n.pending[sender] {
		n.pending[sender] = tx.Nonce + 1
	}
	pending := Receipt{TxHash: hash, Status: StatusPending, Method: tx.Method, Sender: sender}
	if err := n.state.SaveReceipt(pending); err != nil {
		return common.Hash{}, err
	}

	n.log.Debugw("tx_admitted", "hash", hash.Hex(), "method", tx.Method, "sender", sender.Hex(), "nonce", tx.Nonce, "attested", tx.Attestation != nil)
	return hash, nil
}

// PendingNonce is the next nonce sender should use, counting pooled txs.
func (n *Node) PendingNonce(sender common.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	confirmed, err := n.state.Nonce(sender)
	if err != nil {
		return 0, err
	}
	if p := n.pending[sender]; p > confirmed {
		return p, nil
	}
	return confirmed, nil
}

func (n *Node) Receipt(hash common.Hash) (Receipt, bool, error) {
	return n.state.Receipt(hash)
}

type NodeStatus struct {
	ChainID uint64 `json:"chainId"`
	Height  uint64 `json:"height"`
	Mempool int    `json:"mempool"`
}

func (n *Node) Status() NodeStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return NodeStatus{ChainID: n.cfg.ChainID, Height: n.height, Mempool: n.mempool.Len()}
}

// Run produces a block every BlockTime until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	n.log.Infow("node_started", "chain_id", n.cfg.ChainID, "block_time_ms", n.cfg.BlockTime.Milliseconds(), "height", n.height)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-n.clock.After(n.cfg.BlockTime):
		}
		if _, err := n.ProduceBlock(); err != nil {
			n.log.Errorw("block_failed", "err", err)
		}
	}
}

// ProduceBlock drains the mempool into a new block. An empty pool yields no block.
func (n *Node) ProduceBlock() ([]Receipt, error) {
	n.mu.Lock()
	txs := n.mempool.Select(n.cfg.MaxTxsPerBlock)
	if len(txs) == 0 {
		n.mu.Unlock()
		return nil, nil
	}

	height := n.height + 1
	block := Block{Height: height, Time: n.clock.Now().Unix()}
	receipts := make([]Receipt, 0, len(txs))
	var firstErr error
	for _, tx := range txs {
		r := n.apply(tx, height)
		if err := n.state.SaveReceipt(r); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("save receipt %s: %w", r.TxHash.Hex(), err)
		}
		if n.wal != nil {
			if line, err := json.Marshal(r); err == nil {
				n.wal.Append(string(line))
			}
		}
		block.TxHashes = append(block.TxHashes, r.TxHash)
		receipts = append(receipts, r)
	}
	if err := n.state.SaveBlock(block); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("save block %d: %w", height, err)
	}
	n.height = height
	n.mu.Unlock()

	n.log.Infow("block_produced", "height", height, "txs", len(receipts))

	n.subsMu.RLock()
	subs := n.subs
	n.subsMu.RUnlock()
	for _, r := range receipts {
		for _, fn := range subs {
			fn(r)
		}
	}
	return receipts, firstErr
}

func (n *Node) apply(tx *Tx, height uint64) Receipt {
	r := Receipt{TxHash: tx.Hash(), Method: tx.Method, Block: height, Status: StatusReverted}

	sender, err := tx.Sender()
	if err != nil {
		r.Code, r.Error = CodeInvalidTx, err.Error()
		return r
	}
	r.Sender = sender

	if n.expired(tx.Deadline) {
		r.Code, r.Error = CodeExpired, ErrExpired.Error()
		return r
	}

	expected, err := n.state.Nonce(sender)
	if err != nil {
		r.Code, r.Error = ledger.CodeInternal, err.Error()
		return r
	}
	if tx.Nonce != expected {
		delete(n.pending, sender)
		r.Code, r.Error = CodeBadNonce, fmt.Sprintf("nonce %d, want %d", tx.Nonce, expected)
		return r
	}

	origin, err := n.registry.Origin(tx)
	if err != nil {
		r.Code, r.Error = CodeInvalidTx, err.Error()
		return r
	}

	n.events = nil
	result, execErr := n.execute(ledger.Caller{Sender: sender, Origin: origin}, tx)
	if err := n.state.SetNonce(sender, expected+1); err != nil {
		n.log.Errorw("nonce_write_failed", "sender", sender.Hex(), "err", err)
	}

	if execErr != nil {
		r.Code, r.Error = ledger.Code(execErr), execErr.Error()
		n.log.Infow("tx_reverted", "hash", r.TxHash.Hex(), "method", tx.Method, "code", r.Code, "err", execErr)
		return r
	}

	r.Status = StatusSuccess
	if result != nil {
		if b, err := json.Marshal(result); err == nil {
			r.Result = b
		}
	}
	r.Events = n.events
	n.events = nil
	return r
}

// Query answers a read. A signed query is attributed to its signer and must
// carry a deadline no further than MaxQueryTTL ahead; an unsigned one has no
// sender.
func (n *Node) Query(q *Tx) (json.RawMessage, error) {
	if q.ChainID != n.cfg.ChainID {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrWrongChain, q.ChainID, n.cfg.ChainID)
	}
	if n.expired(q.Deadline) {
		return nil, ErrExpired
	}
	var caller ledger.Caller
	if len(q.Signature) > 0 {
		limit := uint64(n.clock.Now().Add(n.cfg.MaxQueryTTL).Unix())
		if q.Deadline == 0 || q.Deadline > limit {
			return nil, ErrUnboundedQuery
		}
		sender, err := q.Sender()
		if err != nil {
			return nil, err
		}
		caller.Sender = sender
	}

	result, err := n.query(caller, q)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

// Mint credits devnet funds when the faucet is enabled.
func (n *Node) Mint(asset, to common.Address, amount *big.Int) error {
	if !n.cfg.Faucet || n.bank == nil {
		return ErrFaucetDisabled
	}
	assets := n.ledger.Assets()
	if asset != assets[0] && asset != assets[1] {
		return fmt.Errorf("%w: %s", ledger.ErrInvalidInstrument, asset.Hex())
	}
	if err := n.bank.Mint(asset, to, amount); err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrInvalidArgument, err)
	}
	n.log.Infow("faucet_mint", "asset", asset.Hex(), "to", to.Hex(), "amount", amount.String())
	return nil
}

// Balances returns holder's balance of both assets.
func (n *Node) Balances(holder common.Address) map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int, 2)
	if n.bank == nil {
		return out
	}
	for _, a := range n.ledger.Assets() {
		out[a] = n.bank.BalanceOf(a, holder)
	}
	return out
}

func (n *Node) expired(deadline uint64) bool {
	return deadline != 0 && uint64(n.clock.Now().Unix()) > deadline
}
