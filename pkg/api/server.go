package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/tricodex/ethdam-2025-sub001/pkg/chain"
)

const maxBodyBytes = 1 << 20

// Server handles REST API and WebSocket connections
type Server struct {
	node   *chain.Node
	router *mux.Router
	hub    *Hub
	cors   []string
	log    *zap.SugaredLogger
}

// NewServer wires the REST routes and forwards applied receipts to
// WebSocket subscribers.
func NewServer(node *chain.Node, corsOrigins []string, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		node:   node,
		router: mux.NewRouter(),
		hub:    NewHub(log.Named("ws")),
		cors:   corsOrigins,
		log:    log,
	}
	s.setupRoutes()
	node.Subscribe(s.broadcastReceipt)
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Transactions and queries
	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")
	api.HandleFunc("/tx/{hash}", s.handleGetReceipt).Methods("GET")
	api.HandleFunc("/query", s.handleQuery).Methods("POST")

	// Public ledger reads
	api.HandleFunc("/orders/count", s.handleOrderCount).Methods("GET")
	api.HandleFunc("/orders/{id}/exists", s.handleOrderExists).Methods("GET")
	api.HandleFunc("/orders/{id}/filled", s.handleOrderFilled).Methods("GET")
	api.HandleFunc("/oracle", s.handleOracle).Methods("GET")

	// Accounts
	api.HandleFunc("/accounts/{address}/nonce", s.handleNonce).Methods("GET")
	api.HandleFunc("/accounts/{address}/balances", s.handleBalances).Methods("GET")

	api.HandleFunc("/chain/status", s.handleChainStatus).Methods("GET")
	api.HandleFunc("/faucet", s.handleFaucet).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cors,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// RunHub serves WebSocket subscribers until ctx is done.
func (s *Server) RunHub(ctx context.Context) { s.hub.Run(ctx) }

// Start serves on addr until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the hub and serves ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.RunHub(ctx)

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("api_listening", "addr", ln.Addr().String())
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

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	var tx chain.Tx
	if !s.decodeBody(w, r, &tx) {
		return
	}
	hash, err := s.node.Submit(&tx)
	if err != nil {
		s.fail(w, "tx rejected", err)
		return
	}
	respondJSON(w, SubmitTxResponse{TxHash: hash, Status: chain.StatusPending})
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["hash"]
	hash, err := decodeHash(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeBadRequest, "invalid tx hash", err.Error())
		return
	}
	receipt, ok, err := s.node.Receipt(hash)
	if err != nil {
		s.fail(w, "receipt lookup failed", err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, CodeNotFound, "unknown transaction", raw)
		return
	}
	respondJSON(w, receipt)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var q chain.Tx
	if !s.decodeBody(w, r, &q) {
		return
	}
	result, err := s.node.Query(&q)
	if err != nil {
		s.fail(w, "query failed", err)
		return
	}
	respondJSON(w, QueryResponse{Result: result})
}

func (s *Server) handleOrderCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.node.Ledger().TotalOrders()
	if err != nil {
		s.fail(w, "count failed", err)
		return
	}
	respondJSON(w, CountResponse{Count: n})
}

func (s *Server) handleOrderExists(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	exists, err := s.node.Ledger().Exists(id)
	if err != nil {
		s.fail(w, "exists failed", err)
		return
	}
	respondJSON(w, ExistsResponse{OrderID: id, Exists: exists})
}

func (s *Server) handleOrderFilled(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	filled, err := s.node.Ledger().IsFilled(id)
	if err != nil {
		s.fail(w, "filled lookup failed", err)
		return
	}
	respondJSON(w, FilledResponse{OrderID: id, Filled: filled})
}

func (s *Server) handleOracle(w http.ResponseWriter, r *http.Request) {
	cur, err := s.node.Ledger().OracleAddress()
	if err != nil {
		s.fail(w, "oracle lookup failed", err)
		return
	}
	respondJSON(w, cur)
}

func (s *Server) handleNonce(w http.ResponseWriter, r *http.Request) {
	addr, ok := address(w, r)
	if !ok {
		return
	}
	nonce, err := s.node.PendingNonce(addr)
	if err != nil {
		s.fail(w, "nonce lookup failed", err)
		return
	}
	respondJSON(w, NonceResponse{Address: addr, Nonce: nonce})
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	addr, ok := address(w, r)
	if !ok {
		return
	}
	resp := BalancesResponse{Address: addr, Balances: make(map[common.Address]string)}
	for asset, amount := range s.node.Balances(addr) {
		resp.Balances[asset] = amount.String()
	}
	respondJSON(w, resp)
}

func (s *Server) handleChainStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.node.Status())
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		respondError(w, http.StatusBadRequest, CodeBadRequest, "invalid amount", req.Amount)
		return
	}
	if err := s.node.Mint(req.Asset, req.To, amount); err != nil {
		s.fail(w, "faucet failed", err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast
// ==============================

func (s *Server) broadcastReceipt(r chain.Receipt) {
	for _, e := range r.Events {
		ch := channelFor(e.Kind)
		if ch == "" {
			continue
		}
		s.hub.BroadcastToChannel(ch, WSEvent{Channel: ch, Block: r.Block, TxHash: r.TxHash, Event: e})
	}
}

// ==============================
// Helper Functions
// ==============================

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeBadRequest, "failed to read body", err.Error())
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		respondError(w, http.StatusBadRequest, CodeBadRequest, "invalid JSON", err.Error())
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, what string, err error) {
	status, code := Classify(err)
	if status >= http.StatusInternalServerError {
		s.log.Errorw("api_error", "what", what, "code", code, "err", err)
	} else {
		s.log.Debugw("api_rejected", "what", what, "code", code, "err", err)
	}
	respondError(w, status, code, what, err.Error())
}

func orderID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeBadRequest, "invalid order id", raw)
		return 0, false
	}
	return id, true
}

func address(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := mux.Vars(r)["address"]
	if !common.IsHexAddress(raw) {
		respondError(w, http.StatusBadRequest, CodeBadRequest, "invalid address", raw)
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func decodeHash(s string) (common.Hash, error) {
	var h common.Hash
	if err := h.UnmarshalText([]byte(s)); err != nil {
		return h, fmt.Errorf("hash %q: %w", s, err)
	}
	return h, nil
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, error, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Code:    code,
		Message: message,
	})
}
