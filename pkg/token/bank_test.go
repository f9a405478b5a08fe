package token

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	water = common.HexToAddress("0x000000000000000000000000000000000000a001")
	fire  = common.HexToAddress("0x000000000000000000000000000000000000f002")
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func TestTransfer(t *testing.T) {
	b := NewBank()
	require.NoError(t, b.Mint(water, alice, big.NewInt(10)))

	assert.True(t, b.Transfer(water, alice, bob, big.NewInt(4)))
	assert.Equal(t, int64(6), b.BalanceOf(water, alice).Int64())
	assert.Equal(t, int64(4), b.BalanceOf(water, bob).Int64())

	assert.False(t, b.Transfer(water, alice, bob, big.NewInt(7)))
	assert.Equal(t, int64(6), b.BalanceOf(water, alice).Int64())
	assert.Equal(t, int64(0), b.BalanceOf(fire, alice).Int64())
}

func TestAtomicallyDiscardsOnError(t *testing.T) {
	b := NewBank()
	require.NoError(t, b.Mint(fire, alice, big.NewInt(50)))

	errLeg := errors.New("second leg")
	err := b.Atomically(func(tx Transferer) error {
		if !tx.Transfer(fire, alice, bob, big.NewInt(50)) {
			t.Fatal("first leg should succeed")
		}
		if !tx.Transfer(water, bob, alice, big.NewInt(5)) {
			return errLeg
		}
		return nil
	})
	require.ErrorIs(t, err, errLeg)
	assert.Equal(t, int64(50), b.BalanceOf(fire, alice).Int64())
	assert.Equal(t, int64(0), b.BalanceOf(fire, bob).Int64())
}

func TestAtomicallyAppliesBothLegs(t *testing.T) {
	b := NewBank()
	require.NoError(t, b.Mint(fire, alice, big.NewInt(50)))
	require.NoError(t, b.Mint(water, bob, big.NewInt(5)))

	err := b.Atomically(func(tx Transferer) error {
		tx.Transfer(fire, alice, bob, big.NewInt(50))
		tx.Transfer(water, bob, alice, big.NewInt(5))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(50), b.BalanceOf(fire, bob).Int64())
	assert.Equal(t, int64(5), b.BalanceOf(water, alice).Int64())
}

func TestOverlaySeesStagedBalance(t *testing.T) {
	b := NewBank()
	require.NoError(t, b.Mint(water, alice, big.NewInt(3)))

	err := b.Atomically(func(tx Transferer) error {
		require.True(t, tx.Transfer(water, alice, bob, big.NewInt(3)))
		assert.False(t, tx.Transfer(water, alice, bob, big.NewInt(1)))
		assert.True(t, tx.Transfer(water, bob, alice, big.NewInt(3)))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), b.BalanceOf(water, alice).Int64())
}

func TestMintRejectsNonPositive(t *testing.T) {
	b := NewBank()
	assert.Error(t, b.Mint(water, alice, big.NewInt(0)))
	assert.Error(t, b.Mint(water, alice, nil))
}
