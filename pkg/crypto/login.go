package crypto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

var loginType = []apitypes.Type{
	{Name: "address", Type: "address"},
	{Name: "issuedAt", Type: "uint256"},
	{Name: "expiresAt", Type: "uint256"},
}

// AssertionDomain is the wire form of the EIP-712 domain carried inside an assertion.
type AssertionDomain struct {
	Name              string         `json:"name"`
	Version           string         `json:"version"`
	ChainID           uint64         `json:"chainId"`
	VerifyingContract common.Address `json:"verifyingContract"`
}

// Assertion is a signed login statement: the holder of Address asserts it
// for Domain during [IssuedAt, ExpiresAt]. It grants no capability by itself.
type Assertion struct {
	Domain    AssertionDomain `json:"domain"`
	Address   common.Address  `json:"address"`
	IssuedAt  int64           `json:"issuedAt"`
	ExpiresAt int64           `json:"expiresAt"`
	Signature hexutil.Bytes   `json:"signature"`
}

// LoginDigest returns the EIP-712 digest a wallet signs for a login.
func LoginDigest(domain EIP712Domain, address common.Address, issuedAt, expiresAt int64) ([]byte, error) {
	return hashTypedData(domain, "Login", loginType, apitypes.TypedDataMessage{
		"address":   address.Hex(),
		"issuedAt":  fmt.Sprintf("%d", issuedAt),
		"expiresAt": fmt.Sprintf("%d", expiresAt),
	})
}

// SignLogin produces an encoded assertion valid for ttl starting at now.
func SignLogin(s *Signer, domain EIP712Domain, now time.Time, ttl time.Duration) ([]byte, error) {
	a := &Assertion{
		Domain:    assertionDomain(domain),
		Address:   s.Address(),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	digest, err := a.Digest()
	if err != nil {
		return nil, err
	}
	sig, err := s.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("failed to sign login: %w", err)
	}
	a.Signature = sig
	return a.Encode()
}

// DecodeAssertion parses an encoded assertion. It checks shape only;
// the domain, signature and validity window are checked by the verifier.
func DecodeAssertion(token []byte) (*Assertion, error) {
	dec := json.NewDecoder(bytes.NewReader(token))
	dec.DisallowUnknownFields()
	var a Assertion
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("decode assertion: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode assertion: trailing data")
	}
	if a.Address == (common.Address{}) {
		return nil, fmt.Errorf("assertion address is empty")
	}
	if len(a.Signature) != 65 {
		return nil, fmt.Errorf("assertion signature must be 65 bytes, got %d", len(a.Signature))
	}
	if a.ExpiresAt <= a.IssuedAt {
		return nil, fmt.Errorf("assertion expiry %d not after issue time %d", a.ExpiresAt, a.IssuedAt)
	}
	return &a, nil
}

func (a *Assertion) Encode() ([]byte, error) {
	return json.Marshal(a)
}

// EIP712Domain converts the carried domain back to its typed form.
func (a *Assertion) EIP712Domain() EIP712Domain {
	return EIP712Domain{
		Name:              a.Domain.Name,
		Version:           a.Domain.Version,
		ChainID:           new(big.Int).SetUint64(a.Domain.ChainID),
		VerifyingContract: a.Domain.VerifyingContract,
	}
}

func (a *Assertion) Digest() ([]byte, error) {
	return LoginDigest(a.EIP712Domain(), a.Address, a.IssuedAt, a.ExpiresAt)
}

// Signer recovers the address that produced the signature.
func (a *Assertion) Signer() (common.Address, error) {
	digest, err := a.Digest()
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(digest, a.Signature)
}

func assertionDomain(d EIP712Domain) AssertionDomain {
	var chainID uint64
	if d.ChainID != nil {
		chainID = d.ChainID.Uint64()
	}
	return AssertionDomain{
		Name:              d.Name,
		Version:           d.Version,
		ChainID:           chainID,
		VerifyingContract: d.VerifyingContract,
	}
}
