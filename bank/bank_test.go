package bank

import (
	"context"
	"math"
	"testing"

	"github.com/0x5487/darkpool/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("AllLegsApplied", func(t *testing.T) {
		b := New()
		require.NoError(t, b.Deposit("buyer", 1_000_000))

		receipt, err := b.Execute(ctx, []protocol.Transfer{
			{From: "buyer", To: "seller", Amount: 997_000},
			{From: "buyer", To: "fees", Amount: 3_000},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, receipt)

		assert.Equal(t, uint64(0), b.Balance("buyer"))
		assert.Equal(t, uint64(997_000), b.Balance("seller"))
		assert.Equal(t, uint64(3_000), b.Balance("fees"))
	})

	t.Run("SecondLegFailsNothingApplied", func(t *testing.T) {
		b := New()
		require.NoError(t, b.Deposit("buyer", 1_000))

		_, err := b.Execute(ctx, []protocol.Transfer{
			{From: "buyer", To: "seller", Amount: 900},
			{From: "buyer", To: "fees", Amount: 200},
		})
		assert.ErrorIs(t, err, ErrInsufficientFunds)

		assert.Equal(t, uint64(1_000), b.Balance("buyer"))
		assert.Equal(t, uint64(0), b.Balance("seller"))
		assert.Equal(t, uint64(0), b.Balance("fees"))
	})

	t.Run("Overflow", func(t *testing.T) {
		b := New()
		require.NoError(t, b.Deposit("buyer", 10))
		require.NoError(t, b.Deposit("seller", math.MaxUint64))

		_, err := b.Execute(ctx, []protocol.Transfer{{From: "buyer", To: "seller", Amount: 10}})
		assert.ErrorIs(t, err, ErrBalanceOverflow)
		assert.Equal(t, uint64(10), b.Balance("buyer"))
	})

	t.Run("InvalidTransfer", func(t *testing.T) {
		b := New()
		_, err := b.Execute(ctx, []protocol.Transfer{{From: "buyer", To: "seller"}})
		assert.ErrorIs(t, err, ErrInvalidTransfer)

		_, err = b.Execute(ctx, []protocol.Transfer{{To: "seller", Amount: 1}})
		assert.ErrorIs(t, err, ErrInvalidTransfer)
	})

	t.Run("CancelledContext", func(t *testing.T) {
		b := New()
		require.NoError(t, b.Deposit("buyer", 10))

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := b.Execute(cctx, []protocol.Transfer{{From: "buyer", To: "seller", Amount: 1}})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, uint64(10), b.Balance("buyer"))
	})
}

func TestRevert(t *testing.T) {
	ctx := context.Background()
	b := New()
	require.NoError(t, b.Deposit("buyer", 100))

	receipt, err := b.Execute(ctx, []protocol.Transfer{
		{From: "buyer", To: "seller", Amount: 90},
		{From: "buyer", To: "fees", Amount: 10},
	})
	require.NoError(t, err)

	require.NoError(t, b.Revert(ctx, receipt))
	assert.Equal(t, uint64(100), b.Balance("buyer"))
	assert.Equal(t, uint64(0), b.Balance("seller"))
	assert.Equal(t, uint64(0), b.Balance("fees"))

	assert.ErrorIs(t, b.Revert(ctx, receipt), ErrUnknownReceipt)
}

func TestRevertAfterFundsMoved(t *testing.T) {
	ctx := context.Background()
	b := New()
	require.NoError(t, b.Deposit("buyer", 100))

	receipt, err := b.Execute(ctx, []protocol.Transfer{{From: "buyer", To: "seller", Amount: 100}})
	require.NoError(t, err)
	_, err = b.Execute(ctx, []protocol.Transfer{{From: "seller", To: "other", Amount: 60}})
	require.NoError(t, err)

	assert.ErrorIs(t, b.Revert(ctx, receipt), ErrInsufficientFunds)
	assert.Equal(t, uint64(40), b.Balance("seller"))
}

func TestBalances(t *testing.T) {
	b := New()
	require.NoError(t, b.Deposit("carol", 3))
	require.NoError(t, b.Deposit("alice", 1))
	require.NoError(t, b.Deposit("bob", 2))

	assert.Equal(t, []Account{
		{Name: "alice", Balance: 1},
		{Name: "bob", Balance: 2},
		{Name: "carol", Balance: 3},
	}, b.Balances())

	assert.ErrorIs(t, b.Deposit("", 1), ErrInvalidTransfer)
}
