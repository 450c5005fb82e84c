package darkpool

import (
	"context"
	"math"
	"math/big"
	"testing"

	"github.com/0x5487/darkpool/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSplitFee(t *testing.T) {
	tests := []struct {
		name     string
		fill     uint64
		bps      uint16
		transfer uint64
		fee      uint64
	}{
		{"ThirtyBps", 1_000_000, 30, 997_000, 3_000},
		{"NoFee", 1_000_000, 0, 1_000_000, 0},
		{"FullFee", 1_000_000, MaxFeeBasisPoints, 0, 1_000_000},
		{"RoundsDown", 333, 30, 333, 0},
		{"MaxFill", math.MaxUint64, 10, math.MaxUint64 - math.MaxUint64/1000, math.MaxUint64 / 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transfer, fee, err := SplitFee(tt.fill, tt.bps)
			require.NoError(t, err)
			assert.Equal(t, tt.transfer, transfer)
			assert.Equal(t, tt.fee, fee)
		})
	}

	_, _, err := SplitFee(100, MaxFeeBasisPoints+1)
	assert.ErrorIs(t, err, ErrInvalidFeeRate)
}

func TestSplitFeeProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		fill := rapid.Uint64().Draw(t, "fill")
		bps := rapid.Uint16Range(0, MaxFeeBasisPoints).Draw(t, "bps")

		transfer, fee, err := SplitFee(fill, bps)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if transfer+fee != fill {
			t.Fatalf("transfer %d + fee %d != fill %d", transfer, fee, fill)
		}

		want := new(big.Int).Mul(new(big.Int).SetUint64(fill), big.NewInt(int64(bps)))
		want.Quo(want, big.NewInt(MaxFeeBasisPoints))
		if want.Uint64() != fee {
			t.Fatalf("fee %d, want %s", fee, want)
		}
	})
}

func TestSettleTrade(t *testing.T) {
	ctx := context.Background()

	t.Run("FeeSplitAndVolume", func(t *testing.T) {
		tp := newTestPool(t)
		tp.mustInitialize(t, 30)
		exec, buy, sell := tp.mustMatch(t)

		settlement, err := tp.SettleTrade(ctx, &protocol.SettleTradeCommand{ExecutionID: exec.ID, FillAmount: 1_000_000})
		require.NoError(t, err)
		assert.Equal(t, uint64(997_000), settlement.TransferAmount)
		assert.Equal(t, uint64(3_000), settlement.FeeAmount)
		assert.NotEmpty(t, settlement.Receipt)

		assert.Equal(t, [][]protocol.Transfer{{
			{From: "buyer", To: "seller", Amount: 997_000},
			{From: "buyer", To: testFeeAccount, Amount: 3_000},
		}}, tp.transfers.applied())

		stored, err := tp.TradeExecution(exec.ID)
		require.NoError(t, err)
		assert.Equal(t, protocol.ExecutionStatusSettled, stored.Status)
		assert.Equal(t, uint64(1_000_000), stored.FillAmount)
		assert.NotZero(t, stored.SettledAt)

		for _, id := range []string{buy.ID, sell.ID} {
			order, err := tp.Order(id)
			require.NoError(t, err)
			assert.Equal(t, protocol.OrderStatusSettled, order.Status)
		}

		pool, err := tp.Pool()
		require.NoError(t, err)
		assert.Equal(t, uint64(1_000_000), pool.TotalVolume)

		e := tp.events.Get(tp.events.Count() - 1)
		assert.Equal(t, protocol.EventTradeSettled, e.Type)
		assert.Equal(t, exec.ID, e.ExecutionID)
		assert.Equal(t, uint64(997_000), e.Amount)
		assert.Equal(t, uint64(3_000), e.Fee)
	})

	t.Run("NoFeeLegWithoutFee", func(t *testing.T) {
		tp := newTestPool(t)
		tp.mustInitialize(t, 0)
		exec, _, _ := tp.mustMatch(t)

		_, err := tp.SettleTrade(ctx, &protocol.SettleTradeCommand{ExecutionID: exec.ID, FillAmount: 500})
		require.NoError(t, err)
		assert.Equal(t, [][]protocol.Transfer{{
			{From: "buyer", To: "seller", Amount: 500},
		}}, tp.transfers.applied())
	})

	t.Run("SettleTwice", func(t *testing.T) {
		tp := newTestPool(t)
		tp.mustInitialize(t, 30)
		exec, _, _ := tp.mustMatch(t)

		_, err := tp.SettleTrade(ctx, &protocol.SettleTradeCommand{ExecutionID: exec.ID, FillAmount: 1_000_000})
		require.NoError(t, err)

		_, err = tp.SettleTrade(ctx, &protocol.SettleTradeCommand{ExecutionID: exec.ID, FillAmount: 1_000_000})
		assert.ErrorIs(t, err, ErrTradeNotMatched)
		assert.ErrorIs(t, err, ErrInvalidState)

		stored, err := tp.TradeExecution(exec.ID)
		require.NoError(t, err)
		assert.Equal(t, protocol.ExecutionStatusSettled, stored.Status)

		pool, err := tp.Pool()
		require.NoError(t, err)
		assert.Equal(t, uint64(1_000_000), pool.TotalVolume)
		assert.Len(t, tp.transfers.applied(), 1)
	})

	t.Run("TransferFailure", func(t *testing.T) {
		tp := newTestPool(t)
		tp.mustInitialize(t, 30)
		exec, buy, _ := tp.mustMatch(t)
		events := tp.events.Count()

		tp.transfers.setErr(errInjected)
		_, err := tp.SettleTrade(ctx, &protocol.SettleTradeCommand{ExecutionID: exec.ID, FillAmount: 1_000_000})
		assert.ErrorIs(t, err, errInjected)

		stored, err := tp.TradeExecution(exec.ID)
		require.NoError(t, err)
		assert.Equal(t, protocol.ExecutionStatusMatched, stored.Status)

		order, err := tp.Order(buy.ID)
		require.NoError(t, err)
		assert.Equal(t, protocol.OrderStatusMatched, order.Status)

		pool, err := tp.Pool()
		require.NoError(t, err)
		assert.Zero(t, pool.TotalVolume)
		assert.Equal(t, events, tp.events.Count())

		// settlement can be retried once transfers work again
		tp.transfers.setErr(nil)
		_, err = tp.SettleTrade(ctx, &protocol.SettleTradeCommand{ExecutionID: exec.ID, FillAmount: 1_000_000})
		require.NoError(t, err)
	})

	t.Run("RevertOnCommitFailure", func(t *testing.T) {
		tp := newTestPool(t)
		tp.mustInitialize(t, 30)
		exec, _, _ := tp.mustMatch(t)

		tp.db.failCommit.Store(true)
		_, err := tp.SettleTrade(ctx, &protocol.SettleTradeCommand{ExecutionID: exec.ID, FillAmount: 1_000_000})
		tp.db.failCommit.Store(false)
		assert.ErrorIs(t, err, errInjected)

		assert.Empty(t, tp.transfers.applied())
		assert.Len(t, tp.transfers.reverted, 1)

		stored, err := tp.TradeExecution(exec.ID)
		require.NoError(t, err)
		assert.Equal(t, protocol.ExecutionStatusMatched, stored.Status)

		stats, err := tp.Stats(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.TotalVolume)
	})

	t.Run("VolumeOverflow", func(t *testing.T) {
		tp := newTestPool(t)
		tp.mustInitialize(t, 0)

		first, _, _ := tp.mustMatch(t)
		_, err := tp.SettleTrade(ctx, &protocol.SettleTradeCommand{ExecutionID: first.ID, FillAmount: math.MaxUint64})
		require.NoError(t, err)

		second, _, _ := tp.mustMatch(t)
		_, err = tp.SettleTrade(ctx, &protocol.SettleTradeCommand{ExecutionID: second.ID, FillAmount: 1})
		assert.ErrorIs(t, err, ErrVolumeOverflow)
		assert.Len(t, tp.transfers.applied(), 1)
	})

	t.Run("InvalidParams", func(t *testing.T) {
		tp := newTestPool(t)
		tp.mustInitialize(t, 0)
		exec, _, _ := tp.mustMatch(t)

		_, err := tp.SettleTrade(ctx, &protocol.SettleTradeCommand{ExecutionID: exec.ID})
		assert.ErrorIs(t, err, ErrInvalidParam)

		_, err = tp.SettleTrade(ctx, &protocol.SettleTradeCommand{ExecutionID: "missing", FillAmount: 1})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
