package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tricodex/ethdam-2025-sub001/pkg/chain"
	"github.com/tricodex/ethdam-2025-sub001/pkg/ledger"
)

// Client calls a node's REST API. Network failures and 5xx responses are
// reported as ErrTransientNetwork; API errors keep their ledger or
// platform sentinel.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) SubmitTx(ctx context.Context, tx *chain.Tx) (common.Hash, error) {
	var resp SubmitTxResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/tx", tx, &resp); err != nil {
		return common.Hash{}, err
	}
	return resp.TxHash, nil
}

func (c *Client) Receipt(ctx context.Context, hash common.Hash) (chain.Receipt, error) {
	var r chain.Receipt
	err := c.do(ctx, http.MethodGet, "/api/v1/tx/"+hash.Hex(), nil, &r)
	return r, err
}

// WaitReceipt polls until the receipt leaves pending. If ctx ends first it
// returns the last pending receipt together with ctx.Err().
func (c *Client) WaitReceipt(ctx context.Context, hash common.Hash, every time.Duration) (chain.Receipt, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		r, err := c.Receipt(ctx, hash)
		if err == nil && r.Status != chain.StatusPending {
			return r, nil
		}
		if err != nil && ctx.Err() == nil {
			return r, err
		}
		if r.TxHash == (common.Hash{}) {
			r = chain.Receipt{TxHash: hash, Status: chain.StatusPending}
		}
		select {
		case <-ctx.Done():
			return r, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) Query(ctx context.Context, q *chain.Tx) (json.RawMessage, error) {
	var resp QueryResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/query", q, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

func (c *Client) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	var resp NonceResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+addr.Hex()+"/nonce", nil, &resp)
	return resp.Nonce, err
}

func (c *Client) Balances(ctx context.Context, addr common.Address) (map[common.Address]*big.Int, error) {
	var resp BalancesResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+addr.Hex()+"/balances", nil, &resp); err != nil {
		return nil, err
	}
	out := make(map[common.Address]*big.Int, len(resp.Balances))
	for asset, s := range resp.Balances {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("balance %q of %s is not a number", s, asset.Hex())
		}
		out[asset] = v
	}
	return out, nil
}

func (c *Client) TotalOrders(ctx context.Context) (uint64, error) {
	var resp CountResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/orders/count", nil, &resp)
	return resp.Count, err
}

func (c *Client) Exists(ctx context.Context, id uint64) (bool, error) {
	var resp ExistsResponse
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/orders/%d/exists", id), nil, &resp)
	return resp.Exists, err
}

func (c *Client) IsFilled(ctx context.Context, id uint64) (bool, error) {
	var resp FilledResponse
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/orders/%d/filled", id), nil, &resp)
	return resp.Filled, err
}

func (c *Client) OracleAddress(ctx context.Context) (ledger.OracleAddress, error) {
	var resp ledger.OracleAddress
	err := c.do(ctx, http.MethodGet, "/api/v1/oracle", nil, &resp)
	return resp, err
}

func (c *Client) Status(ctx context.Context) (chain.NodeStatus, error) {
	var resp chain.NodeStatus
	err := c.do(ctx, http.MethodGet, "/api/v1/chain/status", nil, &resp)
	return resp, err
}

func (c *Client) Faucet(ctx context.Context, asset, to common.Address, amount *big.Int) error {
	req := FaucetRequest{Asset: asset, To: to, Amount: amount.String()}
	return c.do(ctx, http.MethodPost, "/api/v1/faucet", req, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Join(ctxErr, fmt.Errorf("%w: %v", ErrTransientNetwork, err))
		}
		return fmt.Errorf("%w: %v", ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrTransientNetwork, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var e ErrorResponse
		if err := json.Unmarshal(raw, &e); err != nil || e.Code == "" {
			if resp.StatusCode >= http.StatusInternalServerError {
				return fmt.Errorf("%w: %s", ErrTransientNetwork, resp.Status)
			}
			return fmt.Errorf("%s %s: %s", method, path, resp.Status)
		}
		return DecodeError(resp.StatusCode, e)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
