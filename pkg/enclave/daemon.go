// Package enclave is a development stand-in for the attested environment's
// daemon. It derives keys that never leave the process, signs transactions
// with them and attaches attestations for the configured app.
package enclave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tricodex/ethdam-2025-sub001/pkg/api"
	"github.com/tricodex/ethdam-2025-sub001/pkg/chain"
	"github.com/tricodex/ethdam-2025-sub001/pkg/crypto"
	"github.com/tricodex/ethdam-2025-sub001/pkg/util"
)

// Node is the ledger surface the daemon needs.
type Node interface {
	PendingNonce(ctx context.Context, addr common.Address) (uint64, error)
	SubmitTx(ctx context.Context, tx *chain.Tx) (common.Hash, error)
	WaitReceipt(ctx context.Context, hash common.Hash, every time.Duration) (chain.Receipt, error)
	Query(ctx context.Context, q *chain.Tx) (json.RawMessage, error)
}

type Config struct {
	AppID          crypto.AppID
	MasterSecret   []byte
	ChainID        uint64
	ConfirmTimeout time.Duration
	TxTTL          time.Duration
	PollInterval   time.Duration
}

type Daemon struct {
	cfg      Config
	node     Node
	attester *crypto.Signer
	clock    util.Clock
	log      *zap.SugaredLogger

	keysMu sync.Mutex
	keys   map[string]*crypto.Signer

	// submitMu keeps nonce assignment and submission in one step.
	submitMu sync.Mutex
}

func New(cfg Config, node Node, clock util.Clock, log *zap.SugaredLogger) (*Daemon, error) {
	if len(cfg.MasterSecret) < 32 {
		return nil, fmt.Errorf("master secret must be at least 32 bytes, got %d", len(cfg.MasterSecret))
	}
	if cfg.AppID.IsZero() {
		return nil, errors.New("app id is not set")
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 10 * time.Second
	}
	if cfg.TxTTL <= 0 {
		cfg.TxTTL = time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	attester, err := deriveKey(cfg.MasterSecret, cfg.AppID, attestationInfo)
	if err != nil {
		return nil, fmt.Errorf("attestation key: %w", err)
	}
	return &Daemon{
		cfg:      cfg,
		node:     node,
		attester: attester,
		clock:    clock,
		log:      log,
		keys:     make(map[string]*crypto.Signer),
	}, nil
}

// AttestationAddress is the key the ledger platform must endorse for AppID.
func (d *Daemon) AttestationAddress() common.Address { return d.attester.Address() }

func (d *Daemon) AppID() crypto.AppID { return d.cfg.AppID }

func (d *Daemon) key(id string) (*crypto.Signer, error) {
	d.keysMu.Lock()
	defer d.keysMu.Unlock()
	if s, ok := d.keys[id]; ok {
		return s, nil
	}
	if id == attestationInfo {
		return nil, fmt.Errorf("key id %q is reserved", id)
	}
	s, err := deriveKey(d.cfg.MasterSecret, d.cfg.AppID, id)
	if err != nil {
		return nil, err
	}
	d.keys[id] = s
	return s, nil
}

func (d *Daemon) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(PathKeysGenerate, d.handleKeysGenerate).Methods("POST")
	r.HandleFunc(PathSignSubmit, d.handleSignSubmit).Methods("POST")
	r.HandleFunc(PathStateCall, d.handleStateCall).Methods("POST")
	r.HandleFunc(PathInfo, d.handleInfo).Methods("GET")
	return r
}

// Serve listens on a unix socket until ctx is done. A stale socket file is replaced.
func (d *Daemon) Serve(ctx context.Context, socket string) error {
	if err := os.Remove(socket); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", socket)
	if err != nil {
		return fmt.Errorf("listen %s: %w", socket, err)
	}
	defer os.Remove(socket)

	srv := &http.Server{Handler: d.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		d.log.Infow("appd_listening", "socket", socket, "app_id", d.cfg.AppID.String(), "attestation_key", d.attester.Address().Hex())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (d *Daemon) handleKeysGenerate(w http.ResponseWriter, r *http.Request) {
	var req KeyRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Kind != KindSecp256k1 {
		badRequest(w, "unsupported key kind", req.Kind)
		return
	}
	s, err := d.key(req.KeyID)
	if err != nil {
		badRequest(w, "key generation failed", err.Error())
		return
	}
	respondJSON(w, KeyResponse{KeyID: req.KeyID, Address: s.Address().Hex()})
}

func (d *Daemon) handleSignSubmit(w http.ResponseWriter, r *http.Request) {
	var req SignSubmitRequest
	if !decode(w, r, &req) {
		return
	}
	s, err := d.key(req.KeyID)
	if err != nil {
		badRequest(w, "unknown key", err.Error())
		return
	}

	receipt, err := d.signSubmit(r.Context(), s, req.Method, req.Args)
	if err != nil {
		d.fail(w, "sign-submit failed", err)
		return
	}
	respondJSON(w, receipt)
}

// signSubmit returns the receipt, pending if the node has not applied the
// transaction within ConfirmTimeout or could not be asked.
func (d *Daemon) signSubmit(ctx context.Context, s *crypto.Signer, method string, args json.RawMessage) (chain.Receipt, error) {
	hash, err := d.submit(ctx, s, method, args)
	if err != nil {
		return chain.Receipt{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, d.cfg.ConfirmTimeout)
	defer cancel()
	receipt, err := d.node.WaitReceipt(waitCtx, hash, d.cfg.PollInterval)
	if err != nil {
		if ctx.Err() != nil {
			return chain.Receipt{}, ctx.Err()
		}
		// Submitted but not confirmed yet: pending, not failed.
		d.log.Infow("tx_unconfirmed", "hash", hash.Hex(), "method", method, "timeout", d.cfg.ConfirmTimeout, "err", err)
		return chain.Receipt{TxHash: hash, Status: chain.StatusPending, Method: method, Sender: s.Address()}, nil
	}
	d.log.Infow("tx_confirmed", "hash", hash.Hex(), "method", method, "status", receipt.Status, "code", receipt.Code)
	return receipt, nil
}

func (d *Daemon) submit(ctx context.Context, s *crypto.Signer, method string, args json.RawMessage) (common.Hash, error) {
	d.submitMu.Lock()
	defer d.submitMu.Unlock()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		nonce, err := d.node.PendingNonce(ctx, s.Address())
		if err != nil {
			return common.Hash{}, err
		}
		deadline := uint64(d.clock.Now().Add(d.cfg.TxTTL).Unix())
		tx := &chain.Tx{ChainID: d.cfg.ChainID, Method: method, Args: args, Nonce: nonce, Deadline: deadline}
		if err := tx.Sign(s); err != nil {
			return common.Hash{}, err
		}
		if err := tx.Attest(d.cfg.AppID, d.attester); err != nil {
			return common.Hash{}, err
		}

		hash, err := d.node.SubmitTx(ctx, tx)
		if err == nil {
			d.log.Debugw("tx_submitted", "hash", hash.Hex(), "method", method, "sender", s.Address().Hex(), "nonce", nonce)
			return hash, nil
		}
		if !errors.Is(err, chain.ErrNonceTooLow) {
			return common.Hash{}, err
		}
		lastErr = err
	}
	return common.Hash{}, lastErr
}

func (d *Daemon) handleStateCall(w http.ResponseWriter, r *http.Request) {
	var req StateCallRequest
	if !decode(w, r, &req) {
		return
	}
	q := &chain.Tx{
		ChainID:  d.cfg.ChainID,
		Method:   req.Method,
		Args:     req.Args,
		Deadline: uint64(d.clock.Now().Add(d.cfg.TxTTL).Unix()),
	}
	if req.KeyID != "" {
		s, err := d.key(req.KeyID)
		if err != nil {
			badRequest(w, "unknown key", err.Error())
			return
		}
		if err := q.Sign(s); err != nil {
			d.fail(w, "sign failed", err)
			return
		}
	}

	result, err := d.node.Query(r.Context(), q)
	if err != nil {
		d.fail(w, "state call failed", err)
		return
	}
	respondJSON(w, StateCallResponse{Result: result})
}

func (d *Daemon) handleInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, InfoResponse{AppID: d.cfg.AppID.String(), Attestation: d.attester.Address().Hex()})
}

func (d *Daemon) fail(w http.ResponseWriter, what string, err error) {
	status, code := api.Classify(err)
	if code == api.CodeTransientNetwork {
		d.log.Warnw("node_unreachable", "what", what, "err", err)
	}
	respondError(w, status, code, what, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err == nil {
		err = json.Unmarshal(body, v)
	}
	if err != nil {
		badRequest(w, "invalid JSON", err.Error())
		return false
	}
	return true
}

func badRequest(w http.ResponseWriter, error, message string) {
	respondError(w, http.StatusBadRequest, api.CodeBadRequest, error, message)
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, error, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: error, Code: code, Message: message})
}
