// Package channel is the oracle's only path to the ledger: every call goes
// through the attested environment's daemon, which signs with a key that
// never leaves it and attaches the attestation.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/tricodex/ethdam-2025-sub001/pkg/api"
	"github.com/tricodex/ethdam-2025-sub001/pkg/chain"
	"github.com/tricodex/ethdam-2025-sub001/pkg/enclave"
)

// ErrChannelUnavailable covers an unreachable daemon, an unreachable node
// behind it and an open circuit. The call may be retried later.
var ErrChannelUnavailable = errors.New("authenticated channel unavailable")

type Config struct {
	Socket          string
	KeyID           string
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

type Channel struct {
	cfg  Config
	http *http.Client
	cb   *gobreaker.CircuitBreaker[[]byte]
	log  *zap.SugaredLogger

	mu      sync.Mutex
	address common.Address
}

func New(cfg Config, log *zap.SugaredLogger) *Channel {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	socket := cfg.Socket
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socket)
		},
	}

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "appd",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// Ledger rejections are answers, not outages.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrChannelUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnw("circuit_state_changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Channel{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		cb:   cb,
		log:  log,
	}
}

// Address returns the address of the channel's signing key, creating the key
// on first use.
func (c *Channel) Address(ctx context.Context) (common.Address, error) {
	c.mu.Lock()
	addr := c.address
	c.mu.Unlock()
	if addr != (common.Address{}) {
		return addr, nil
	}

	raw, err := c.post(ctx, enclave.PathKeysGenerate, enclave.KeyRequest{KeyID: c.cfg.KeyID, Kind: enclave.KindSecp256k1})
	if err != nil {
		return common.Address{}, err
	}
	var resp enclave.KeyResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return common.Address{}, fmt.Errorf("decode key response: %w", err)
	}
	if !common.IsHexAddress(resp.Address) {
		return common.Address{}, fmt.Errorf("daemon returned %q as address", resp.Address)
	}
	addr = common.HexToAddress(resp.Address)

	c.mu.Lock()
	c.address = addr
	c.mu.Unlock()
	return addr, nil
}

// Query runs a read signed by the channel's key.
func (c *Channel) Query(ctx context.Context, method string, args any) (json.RawMessage, error) {
	raw, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}
	body, err := c.post(ctx, enclave.PathStateCall, enclave.StateCallRequest{KeyID: c.cfg.KeyID, Method: method, Args: raw})
	if err != nil {
		return nil, err
	}
	var resp enclave.StateCallResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode %s result: %w", method, err)
	}
	return resp.Result, nil
}

// SignSubmit sends an attested transaction. The receipt may still be
// pending; a reverted receipt is returned without error.
func (c *Channel) SignSubmit(ctx context.Context, method string, args any) (chain.Receipt, error) {
	raw, err := encodeArgs(args)
	if err != nil {
		return chain.Receipt{}, err
	}
	body, err := c.post(ctx, enclave.PathSignSubmit, enclave.SignSubmitRequest{KeyID: c.cfg.KeyID, Method: method, Args: raw})
	if err != nil {
		return chain.Receipt{}, err
	}
	var r chain.Receipt
	if err := json.Unmarshal(body, &r); err != nil {
		return chain.Receipt{}, fmt.Errorf("decode receipt: %w", err)
	}
	return r, nil
}

func (c *Channel) post(ctx context.Context, path string, in any) ([]byte, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	body, err := c.cb.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://appd"+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, fmt.Errorf("%w: read: %v", ErrChannelUnavailable, err)
		}
		if resp.StatusCode < http.StatusBadRequest {
			return raw, nil
		}

		var e api.ErrorResponse
		if err := json.Unmarshal(raw, &e); err != nil || e.Code == "" {
			if resp.StatusCode >= http.StatusInternalServerError {
				return nil, fmt.Errorf("%w: %s", ErrChannelUnavailable, resp.Status)
			}
			return nil, fmt.Errorf("%s: %s", path, resp.Status)
		}
		apiErr := api.DecodeError(resp.StatusCode, e)
		if errors.Is(apiErr, api.ErrTransientNetwork) {
			return nil, fmt.Errorf("%w: %w", ErrChannelUnavailable, apiErr)
		}
		return nil, apiErr
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrChannelUnavailable, err)
	}
	return body, err
}

func encodeArgs(args any) (json.RawMessage, error) {
	if args == nil {
		return nil, nil
	}
	if raw, ok := args.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}
	return b, nil
}
