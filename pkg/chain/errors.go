package chain

import (
	"errors"
	"fmt"
)

// ErrInvalidTx is the parent of every admission failure.
var ErrInvalidTx = errors.New("invalid transaction")

var (
	ErrUnsigned           = fmt.Errorf("%w: unsigned", ErrInvalidTx)
	ErrInvalidSignature   = fmt.Errorf("%w: bad signature", ErrInvalidTx)
	ErrWrongChain         = fmt.Errorf("%w: wrong chain id", ErrInvalidTx)
	ErrExpired            = fmt.Errorf("%w: deadline passed", ErrInvalidTx)
	ErrNonceTooLow        = fmt.Errorf("%w: nonce too low", ErrInvalidTx)
	ErrUnknownMethod      = fmt.Errorf("%w: unknown method", ErrInvalidTx)
	ErrInvalidAttestation = fmt.Errorf("%w: attestation not from an endorsed key", ErrInvalidTx)
	ErrTooLarge           = fmt.Errorf("%w: too large", ErrInvalidTx)
	ErrAlreadyKnown       = fmt.Errorf("%w: already known", ErrInvalidTx)
	ErrUnboundedQuery     = fmt.Errorf("%w: signed query needs a deadline within the query ttl", ErrInvalidTx)
	ErrMempoolFull        = errors.New("mempool full")
	ErrFaucetDisabled     = errors.New("faucet disabled")

	// ErrOriginMismatch is an attestation by an endorsed key that claims an
	// app the key is not endorsed for: the attested environment and the
	// ledger disagree on the app id.
	ErrOriginMismatch = fmt.Errorf("%w: attested app id differs from the key's endorsement", ErrInvalidAttestation)
)

// Codes used in reverted receipts for platform-level rejections.
const (
	CodeInvalidTx = "invalid_tx"
	CodeBadNonce  = "bad_nonce"
	CodeExpired   = "expired"

	CodeOriginMismatch = "origin_mismatch"
)
