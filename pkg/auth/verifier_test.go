package auth

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tricodex/ethdam-2025-sub001/pkg/crypto"
	"github.com/tricodex/ethdam-2025-sub001/pkg/util"
)

var start = time.Unix(1_700_000_000, 0)

func newUserVerifier(t *testing.T) (*UserVerifier, *util.ManualClock) {
	t.Helper()
	clock := util.NewManualClock(start)
	return NewUserVerifier(crypto.DefaultDomain(), clock, 0), clock
}

func TestUserVerifierAccepts(t *testing.T) {
	v, _ := newUserVerifier(t)
	signer, err := crypto.GenerateKey()
	require.NoError(t, err)

	token, err := crypto.SignLogin(signer, crypto.DefaultDomain(), start, time.Minute)
	require.NoError(t, err)

	p, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, RoleUser, p.Role)
	assert.Equal(t, signer.Address(), p.Address)
}

func TestUserVerifierExpiredIsDistinctFromSignatureMismatch(t *testing.T) {
	v, clock := newUserVerifier(t)
	signer, _ := crypto.GenerateKey()

	token, err := crypto.SignLogin(signer, crypto.DefaultDomain(), start, time.Minute)
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	_, err = v.Verify(token)
	require.ErrorIs(t, err, ErrAssertionExpired)
	assert.NotErrorIs(t, err, ErrSignatureMismatch)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestUserVerifierSignatureMismatch(t *testing.T) {
	v, _ := newUserVerifier(t)
	signer, _ := crypto.GenerateKey()
	other, _ := crypto.GenerateKey()

	token, err := crypto.SignLogin(signer, crypto.DefaultDomain(), start, time.Minute)
	require.NoError(t, err)
	a, err := crypto.DecodeAssertion(token)
	require.NoError(t, err)
	a.Address = other.Address()
	forged, err := a.Encode()
	require.NoError(t, err)

	_, err = v.Verify(forged)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
	assert.NotErrorIs(t, err, ErrAssertionExpired)
}

func TestUserVerifierDomainMismatch(t *testing.T) {
	v, _ := newUserVerifier(t)
	signer, _ := crypto.GenerateKey()

	other := crypto.DefaultDomain()
	other.VerifyingContract = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	token, err := crypto.SignLogin(signer, other, start, time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrDomainMismatch)

	other = crypto.DefaultDomain()
	other.ChainID = big.NewInt(1)
	token, err = crypto.SignLogin(signer, other, start, time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrDomainMismatch)
}

func TestUserVerifierMalformed(t *testing.T) {
	v, _ := newUserVerifier(t)
	_, err := v.Verify([]byte("{not json"))
	assert.ErrorIs(t, err, ErrMalformedAssertion)
	_, err = v.Verify(nil)
	assert.ErrorIs(t, err, ErrMalformedAssertion)
}

func TestUserVerifierNotYetValid(t *testing.T) {
	v, _ := newUserVerifier(t)
	signer, _ := crypto.GenerateKey()
	token, err := crypto.SignLogin(signer, crypto.DefaultDomain(), start.Add(time.Hour), time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrAssertionNotYetValid)
}

func TestUserVerifierSkew(t *testing.T) {
	clock := util.NewManualClock(start)
	v := NewUserVerifier(crypto.DefaultDomain(), clock, 30*time.Second)
	signer, _ := crypto.GenerateKey()
	token, err := crypto.SignLogin(signer, crypto.DefaultDomain(), start, time.Minute)
	require.NoError(t, err)

	clock.Advance(time.Minute + 10*time.Second)
	_, err = v.Verify(token)
	assert.NoError(t, err)

	clock.Advance(30 * time.Second)
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrAssertionExpired)
}

func TestOracleVerifier(t *testing.T) {
	var target crypto.AppID
	target[0] = 1
	target[20] = 9
	v := NewOracleVerifier(target)

	p, err := v.Verify(&target)
	require.NoError(t, err)
	assert.Equal(t, RoleOracle, p.Role)
	assert.Equal(t, target, p.AppID)

	_, err = v.Verify(nil)
	assert.ErrorIs(t, err, ErrNotAttested)

	other := target
	other[20] = 8
	_, err = v.Verify(&other)
	assert.ErrorIs(t, err, ErrOriginMismatch)
	assert.True(t, errors.Is(err, ErrUnauthorized))
}
