// Package ledger is the authoritative order book: placement, confidential
// reads, oracle rotation and settlement, with every authorization decision.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/tricodex/ethdam-2025-sub001/pkg/auth"
	"github.com/tricodex/ethdam-2025-sub001/pkg/token"
)

var (
	errNoSender     = errors.New("call has no sender")
	errNotPermitted = errors.New("caller is neither the subject nor the oracle")
	errOtherSubject = errors.New("identity assertion resolves to a different address")
)

// Bank is the token-transfer collaborator. Transfers made inside fn are
// applied only if fn returns nil.
type Bank interface {
	Atomically(fn func(token.Transferer) error) error
}

// Config names the two tradable assets. Each is the consideration asset of
// trades in the other.
type Config struct {
	Assets [2]common.Address
}

type Ledger struct {
	mu sync.Mutex

	store  Store
	bank   Bank
	users  *auth.UserVerifier
	oracle *auth.OracleVerifier
	assets [2]common.Address
	log    *zap.SugaredLogger

	onEvent func(Event)
}

func New(cfg Config, store Store, bank Bank, users *auth.UserVerifier, oracle *auth.OracleVerifier, log *zap.SugaredLogger) (*Ledger, error) {
	if cfg.Assets[0] == (common.Address{}) || cfg.Assets[1] == (common.Address{}) || cfg.Assets[0] == cfg.Assets[1] {
		return nil, fmt.Errorf("ledger needs two distinct non-zero assets")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Ledger{
		store:  store,
		bank:   bank,
		users:  users,
		oracle: oracle,
		assets: cfg.Assets,
		log:    log,
	}, nil
}

// SetEventHandler installs the notification sink. It is called with the
// ledger lock held and must not call back into the ledger.
func (l *Ledger) SetEventHandler(fn func(Event)) {
	l.mu.Lock()
	l.onEvent = fn
	l.mu.Unlock()
}

func (l *Ledger) Assets() [2]common.Address { return l.assets }

func (l *Ledger) emit(e Event) {
	if l.onEvent != nil {
		l.onEvent(e)
	}
}

// Place records a new order owned by the caller and returns its id.
func (l *Ledger) Place(caller Caller, payload []byte) (uint64, error) {
	if caller.Sender == (common.Address{}) {
		return 0, unauthorized(errNoSender)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	count, err := l.store.OrderCount()
	if err != nil {
		return 0, err
	}
	o := Order{
		ID:      count + 1,
		Owner:   caller.Sender,
		Payload: append([]byte(nil), payload...),
	}
	if err := l.store.AppendOrder(o); err != nil {
		return 0, fmt.Errorf("append order: %w", err)
	}

	owner := o.Owner
	l.emit(Event{Kind: EventOrderPlaced, OrderID: o.ID, Owner: &owner})
	l.log.Infow("order_placed", "order_id", o.ID, "owner", owner.Hex())
	return o.ID, nil
}

// ReadConfidential returns the payload of id to its owner or the oracle.
func (l *Ledger) ReadConfidential(caller Caller, assertion []byte, id uint64) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, err := l.order(id)
	if err != nil {
		return nil, err
	}
	if err := l.authorize("read_confidential", caller, assertion, o.Owner); err != nil {
		return nil, err
	}
	return append([]byte(nil), o.Payload...), nil
}

// ReadOrderOwner returns the owner of id under the same rule as ReadConfidential.
func (l *Ledger) ReadOrderOwner(caller Caller, assertion []byte, id uint64) (common.Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, err := l.order(id)
	if err != nil {
		return common.Address{}, err
	}
	if err := l.authorize("read_order_owner", caller, assertion, o.Owner); err != nil {
		return common.Address{}, err
	}
	return o.Owner, nil
}

// ReadOwnedIDs lists the ids placed by subject in placement order. An
// authorized subject without orders gets an empty, non-nil slice.
func (l *Ledger) ReadOwnedIDs(caller Caller, assertion []byte, subject common.Address) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.authorize("read_owned_ids", caller, assertion, subject); err != nil {
		return nil, err
	}
	ids, err := l.store.OwnedIDs(subject)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []uint64{}
	}
	return ids, nil
}

// Exists reports whether id was ever placed.
func (l *Ledger) Exists(id uint64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	count, err := l.store.OrderCount()
	if err != nil {
		return false, err
	}
	return id != 0 && id <= count, nil
}

func (l *Ledger) TotalOrders() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.OrderCount()
}

func (l *Ledger) IsFilled(id uint64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, err := l.order(id)
	if err != nil {
		return false, err
	}
	return o.Filled, nil
}

func (l *Ledger) OracleAddress() (OracleAddress, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Oracle()
}

// SetOracleAddress names the key that acts as the oracle for reads. Only an
// attested call may rotate it; a user assertion is never consulted.
func (l *Ledger) SetOracleAddress(caller Caller, addr common.Address) (OracleAddress, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireOracle("set_oracle_address", caller); err != nil {
		return OracleAddress{}, err
	}
	if addr == (common.Address{}) {
		return OracleAddress{}, fmt.Errorf("%w: oracle address is zero", ErrInvalidArgument)
	}

	cur, err := l.store.Oracle()
	if err != nil {
		return OracleAddress{}, err
	}
	next := OracleAddress{Address: addr, Version: cur.Version + 1}
	if err := l.store.SetOracle(next); err != nil {
		return OracleAddress{}, fmt.Errorf("store oracle address: %w", err)
	}

	l.emit(Event{Kind: EventOracleRotated, Oracle: &addr, Version: next.Version})
	l.log.Infow("oracle_rotated", "oracle", addr.Hex(), "version", next.Version, "previous", cur.Address.Hex())
	return next, nil
}

func (l *Ledger) order(id uint64) (Order, error) {
	if id == 0 {
		return Order{}, ErrOrderDoesNotExist
	}
	o, ok, err := l.store.Order(id)
	if err != nil {
		return Order{}, err
	}
	if !ok {
		return Order{}, fmt.Errorf("%w: id %d", ErrOrderDoesNotExist, id)
	}
	return o, nil
}

// authorize applies the read rule: the caller is the subject, or the caller
// is the current oracle, or the user assertion resolves to the subject.
func (l *Ledger) authorize(op string, caller Caller, assertion []byte, subject common.Address) error {
	zero := common.Address{}
	if caller.Sender != zero && caller.Sender == subject {
		return nil
	}

	cur, err := l.store.Oracle()
	if err != nil {
		return err
	}
	if cur.Address != zero && caller.Sender == cur.Address {
		return nil
	}

	reason := errNotPermitted
	if len(assertion) > 0 {
		p, err := l.users.Verify(assertion)
		switch {
		case err != nil:
			reason = err
		case p.Address == subject:
			return nil
		default:
			reason = errOtherSubject
		}
	}

	l.log.Warnw("access_denied", "op", op, "sender", caller.Sender.Hex(), "subject", subject.Hex(), "reason", reason.Error())
	return unauthorized(reason)
}

// requireOracle admits only calls whose attested origin matches.
func (l *Ledger) requireOracle(op string, caller Caller) error {
	if _, err := l.oracle.Verify(caller.Origin); err != nil {
		l.log.Errorw("oracle_path_rejected", "op", op, "sender", caller.Sender.Hex(), "reason", err.Error())
		return unauthorized(err)
	}
	return nil
}
