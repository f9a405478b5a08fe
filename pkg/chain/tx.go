// Package chain is the ledger platform: it authenticates signed transactions
// and queries, verifies attestations, serializes execution against the
// ledger in blocks and keeps receipts.
package chain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/tricodex/ethdam-2025-sub001/pkg/crypto"
)

// Attestation is attached by the attested environment. Signature is made by
// a key the platform has endorsed for AppID, over the transaction's sighash.
type Attestation struct {
	AppID     crypto.AppID  `json:"appId"`
	Signature hexutil.Bytes `json:"signature"`
}

// Tx is the signed envelope for both state-changing calls and queries.
// Queries ignore Nonce and Attestation and may be unsigned.
type Tx struct {
	ChainID     uint64          `json:"chainId"`
	Method      string          `json:"method"`
	Args        json.RawMessage `json:"args,omitempty"`
	Nonce       uint64          `json:"nonce"`
	Deadline    uint64          `json:"deadline"` // unix seconds, 0 = none
	Signature   hexutil.Bytes   `json:"signature,omitempty"`
	Attestation *Attestation    `json:"attestation,omitempty"`
}

type sigPayload struct {
	ChainID  uint64
	Method   string
	Args     []byte
	Nonce    uint64
	Deadline uint64
}

type hashPayload struct {
	Body      sigPayload
	Signature []byte
	AppID     []byte
	AttSig    []byte
}

type attestPayload struct {
	AppID   []byte
	SigHash []byte
}

// NewTx builds an unsigned transaction with JSON-encoded args.
func NewTx(chainID uint64, method string, args any, nonce, deadline uint64) (*Tx, error) {
	var raw json.RawMessage
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("encode %s args: %w", method, err)
		}
		raw = b
	}
	return &Tx{ChainID: chainID, Method: method, Args: raw, Nonce: nonce, Deadline: deadline}, nil
}

func (tx *Tx) body() sigPayload {
	args := []byte(tx.Args)
	if len(args) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, args); err == nil {
			args = buf.Bytes()
		}
	}
	return sigPayload{
		ChainID:  tx.ChainID,
		Method:   tx.Method,
		Args:     args,
		Nonce:    tx.Nonce,
		Deadline: tx.Deadline,
	}
}

func rlpHash(v any) common.Hash {
	b, err := rlp.EncodeToBytes(v)
	if err != nil {
		panic(fmt.Errorf("rlp encode: %w", err))
	}
	return ethcrypto.Keccak256Hash(b)
}

// SigHash is what the sender signs.
func (tx *Tx) SigHash() common.Hash {
	return rlpHash(tx.body())
}

// Hash identifies the transaction, including its signatures.
func (tx *Tx) Hash() common.Hash {
	p := hashPayload{Body: tx.body(), Signature: tx.Signature}
	if tx.Attestation != nil {
		p.AppID = tx.Attestation.AppID[:]
		p.AttSig = tx.Attestation.Signature
	}
	return rlpHash(p)
}

func (tx *Tx) Sign(s *crypto.Signer) error {
	sig, err := s.Sign(tx.SigHash().Bytes())
	if err != nil {
		return err
	}
	tx.Signature = sig
	return nil
}

// Sender recovers the signing address.
func (tx *Tx) Sender() (common.Address, error) {
	if len(tx.Signature) == 0 {
		return common.Address{}, ErrUnsigned
	}
	addr, err := crypto.RecoverAddress(tx.SigHash().Bytes(), tx.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return addr, nil
}

// AttestationHash is what the attestation key signs for app.
func (tx *Tx) AttestationHash(app crypto.AppID) common.Hash {
	return rlpHash(attestPayload{AppID: app[:], SigHash: tx.SigHash().Bytes()})
}

// Attest attaches an attestation for app made with the endorsed key.
func (tx *Tx) Attest(app crypto.AppID, key *crypto.Signer) error {
	sig, err := key.Sign(tx.AttestationHash(app).Bytes())
	if err != nil {
		return err
	}
	tx.Attestation = &Attestation{AppID: app, Signature: sig}
	return nil
}

// DecodeArgs unmarshals the call arguments strictly.
func (tx *Tx) DecodeArgs(v any) error {
	if len(tx.Args) == 0 {
		return fmt.Errorf("%s: missing args", tx.Method)
	}
	dec := json.NewDecoder(bytes.NewReader(tx.Args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%s args: %w", tx.Method, err)
	}
	return nil
}
