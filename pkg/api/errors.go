package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tricodex/ethdam-2025-sub001/pkg/chain"
	"github.com/tricodex/ethdam-2025-sub001/pkg/ledger"
)

// Codes outside the ledger taxonomy.
const (
	CodeNotFound         = "not_found"
	CodeMempoolFull      = "mempool_full"
	CodeFaucetDisabled   = "faucet_disabled"
	CodeBadRequest       = "bad_request"
	CodeTransientNetwork = "transient_network"
)

var (
	// ErrTransientNetwork means the node could not be reached or failed
	// internally. The call may be retried.
	ErrTransientNetwork = errors.New("node unavailable")
	ErrNotFound         = errors.New("not found")
)

// Classify maps an error to an HTTP status and code.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, chain.ErrNonceTooLow):
		return http.StatusBadRequest, chain.CodeBadNonce
	case errors.Is(err, chain.ErrExpired):
		return http.StatusBadRequest, chain.CodeExpired
	case errors.Is(err, chain.ErrOriginMismatch):
		return http.StatusForbidden, chain.CodeOriginMismatch
	case errors.Is(err, chain.ErrInvalidTx):
		return http.StatusBadRequest, chain.CodeInvalidTx
	case errors.Is(err, chain.ErrMempoolFull):
		return http.StatusServiceUnavailable, CodeMempoolFull
	case errors.Is(err, chain.ErrFaucetDisabled):
		return http.StatusForbidden, CodeFaucetDisabled
	case errors.Is(err, ErrTransientNetwork):
		return http.StatusBadGateway, CodeTransientNetwork
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	}

	code := ledger.Code(err)
	switch code {
	case ledger.CodeUnauthorizedAccess:
		return http.StatusForbidden, code
	case ledger.CodeOrderDoesNotExist:
		return http.StatusNotFound, code
	case ledger.CodeInternal:
		return http.StatusInternalServerError, code
	}
	return http.StatusBadRequest, code
}

// DecodeError is the client-side inverse of Classify.
func DecodeError(status int, body ErrorResponse) error {
	msg := body.Message
	if msg == "" {
		msg = body.Error
	}
	switch body.Code {
	case chain.CodeBadNonce:
		return decodeAdmission(chain.ErrNonceTooLow, msg)
	case chain.CodeExpired:
		return decodeAdmission(chain.ErrExpired, msg)
	case chain.CodeOriginMismatch:
		return decodeAdmission(chain.ErrOriginMismatch, msg)
	case chain.CodeInvalidTx, CodeBadRequest:
		return decodeAdmission(chain.ErrInvalidTx, msg)
	case CodeMempoolFull:
		return fmt.Errorf("%w: %w", ErrTransientNetwork, chain.ErrMempoolFull)
	case CodeFaucetDisabled:
		return chain.ErrFaucetDisabled
	case CodeNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case CodeTransientNetwork:
		return fmt.Errorf("%w: %s", ErrTransientNetwork, msg)
	}
	if status >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %d %s", ErrTransientNetwork, status, msg)
	}
	return ledger.FromCode(body.Code, msg)
}

// admissionErrors are matched by message prefix, most specific first.
var admissionErrors = []error{
	chain.ErrOriginMismatch,
	chain.ErrInvalidAttestation,
	chain.ErrUnboundedQuery,
	chain.ErrNonceTooLow,
	chain.ErrExpired,
	chain.ErrUnsigned,
	chain.ErrInvalidSignature,
	chain.ErrWrongChain,
	chain.ErrUnknownMethod,
	chain.ErrTooLarge,
	chain.ErrAlreadyKnown,
}

// decodeAdmission rebuilds the admission sentinel msg was produced from, so
// an error that crossed several hops keeps one prefix and stays matchable.
func decodeAdmission(fallback error, msg string) error {
	for _, e := range admissionErrors {
		if rest, ok := strings.CutPrefix(msg, e.Error()); ok {
			if rest == "" {
				return e
			}
			return fmt.Errorf("%w%s", e, rest)
		}
	}
	if rest, ok := strings.CutPrefix(msg, chain.ErrInvalidTx.Error()+": "); ok {
		msg = rest
	}
	return fmt.Errorf("%w: %s", fallback, msg)
}
