// Package auth holds the two caller checks: the user path, which resolves a
// signed login assertion to an address, and the oracle path, which compares
// a platform-attested origin against the configured execution image.
// The two are separate types on purpose and never fold into one predicate.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tricodex/ethdam-2025-sub001/pkg/crypto"
	"github.com/tricodex/ethdam-2025-sub001/pkg/util"
)

// ErrUnauthorized is matched by every rejection below.
var ErrUnauthorized = errors.New("unauthorized")

var (
	ErrMalformedAssertion   = fmt.Errorf("%w: malformed identity assertion", ErrUnauthorized)
	ErrDomainMismatch       = fmt.Errorf("%w: identity assertion bound to another domain", ErrUnauthorized)
	ErrSignatureMismatch    = fmt.Errorf("%w: identity assertion signature does not match address", ErrUnauthorized)
	ErrAssertionExpired     = fmt.Errorf("%w: identity assertion expired", ErrUnauthorized)
	ErrAssertionNotYetValid = fmt.Errorf("%w: identity assertion not yet valid", ErrUnauthorized)

	ErrNotAttested    = fmt.Errorf("%w: call carries no attested origin", ErrUnauthorized)
	ErrOriginMismatch = fmt.Errorf("%w: attested origin does not match configured app id", ErrUnauthorized)
)

type Role int

const (
	RoleUser Role = iota + 1
	RoleOracle
)

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleOracle:
		return "oracle"
	default:
		return "unknown"
	}
}

// Principal is what a successful check resolves to.
type Principal struct {
	Role    Role
	Address common.Address // set for RoleUser
	AppID   crypto.AppID   // set for RoleOracle
}

// UserVerifier checks login assertions against one deployment domain.
type UserVerifier struct {
	domain crypto.EIP712Domain
	clock  util.Clock
	skew   time.Duration
}

// NewUserVerifier accepts assertions whose validity window, widened by skew
// on both ends, contains the clock's current time.
func NewUserVerifier(domain crypto.EIP712Domain, clock util.Clock, skew time.Duration) *UserVerifier {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &UserVerifier{domain: domain, clock: clock, skew: skew}
}

func (v *UserVerifier) Domain() crypto.EIP712Domain { return v.domain }

// Verify checks, in order: encoding, domain, signature, validity window.
func (v *UserVerifier) Verify(token []byte) (Principal, error) {
	a, err := crypto.DecodeAssertion(token)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrMalformedAssertion, err)
	}
	if !a.EIP712Domain().Equal(v.domain) {
		return Principal{}, ErrDomainMismatch
	}
	signer, err := a.Signer()
	if err != nil || signer != a.Address {
		return Principal{}, ErrSignatureMismatch
	}

	now := v.clock.Now()
	if now.Add(-v.skew).Unix() >= a.ExpiresAt {
		return Principal{}, ErrAssertionExpired
	}
	if now.Add(v.skew).Unix() < a.IssuedAt {
		return Principal{}, ErrAssertionNotYetValid
	}

	return Principal{Role: RoleUser, Address: a.Address}, nil
}

// OracleVerifier compares attested origins with a single target identifier.
type OracleVerifier struct {
	target crypto.AppID
}

func NewOracleVerifier(target crypto.AppID) *OracleVerifier {
	return &OracleVerifier{target: target}
}

func (v *OracleVerifier) Target() crypto.AppID { return v.target }

// Verify takes the origin the platform attached to the call; nil means the
// call was not attested.
func (v *OracleVerifier) Verify(origin *crypto.AppID) (Principal, error) {
	if origin == nil {
		return Principal{}, ErrNotAttested
	}
	if *origin != v.target {
		return Principal{}, ErrOriginMismatch
	}
	return Principal{Role: RoleOracle, AppID: *origin}, nil
}
