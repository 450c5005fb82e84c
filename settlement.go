package darkpool

import (
	"context"
	"fmt"
	"math"
	"math/bits"

	"github.com/0x5487/darkpool/protocol"
)

// SplitFee splits a gross fill amount into the amount paid to the seller and the pool fee.
// The fee is floor(fill * bps / 10000), computed in 128 bits so that no fill amount can
// overflow. transfer + fee always equals fill.
func SplitFee(fill uint64, bps uint16) (transfer, fee uint64, err error) {
	if bps > MaxFeeBasisPoints {
		return 0, 0, ErrInvalidFeeRate
	}
	hi, lo := bits.Mul64(fill, uint64(bps))
	fee, _ = bits.Div64(hi, lo, MaxFeeBasisPoints)
	return fill - fee, fee, nil
}

// settleTrade pays out a Matched execution. The transfers are applied before the ledger
// commit; a commit failure reverts them, so the ledger and the token balances never
// disagree about whether a trade was paid.
func (d *DarkPool) settleTrade(ctx context.Context, cmd *protocol.SettleTradeCommand) (*Settlement, error) {
	if d.pool == nil {
		return nil, ErrNotInitialized
	}

	exec, err := d.ledger.TradeExecution(cmd.ExecutionID)
	if err != nil {
		return nil, err
	}
	if exec.Status != protocol.ExecutionStatusMatched {
		return nil, ErrTradeNotMatched
	}
	if cmd.FillAmount == 0 {
		return nil, fmt.Errorf("%w: fill amount must be positive", ErrInvalidParam)
	}
	if d.pool.TotalVolume > math.MaxUint64-cmd.FillAmount {
		return nil, ErrVolumeOverflow
	}

	transferAmount, fee, err := SplitFee(cmd.FillAmount, d.pool.FeeBasisPoints)
	if err != nil {
		return nil, err
	}

	buy, err := d.ledger.Order(exec.BuyOrderID)
	if err != nil {
		return nil, err
	}
	sell, err := d.ledger.Order(exec.SellOrderID)
	if err != nil {
		return nil, err
	}

	legs := make([]protocol.Transfer, 0, 2)
	if transferAmount > 0 {
		legs = append(legs, protocol.Transfer{From: exec.Buyer, To: exec.Seller, Amount: transferAmount})
	}
	if fee > 0 {
		legs = append(legs, protocol.Transfer{From: exec.Buyer, To: d.pool.FeeAccount, Amount: fee})
	}

	transferCtx, cancel := context.WithTimeout(ctx, d.cfg.TransferTimeout)
	defer cancel()

	receipt, err := d.transfers.Execute(transferCtx, legs)
	if err != nil {
		logger.Warn("settlement transfer failed", "execution_id", exec.ID, "error", err)
		return nil, fmt.Errorf("settle %s: transfer: %w", exec.ID, err)
	}

	now := unixNano(d.now())
	exec.Status = protocol.ExecutionStatusSettled
	exec.SettledAt = now
	exec.FillAmount = cmd.FillAmount
	exec.FeeAmount = fee
	exec.TransferAmount = transferAmount

	// The orders pass through Executed once the transfers are final; both transitions
	// land in this batch, so only Settled is ever stored.
	for _, order := range []*Order{buy, sell} {
		order.Status = protocol.OrderStatusSettled
		order.UpdatedAt = now
	}

	pool := clonePool(d.pool)
	pool.TotalVolume += cmd.FillAmount

	batch := d.ledger.newBatch()
	batch.putExecution(exec)
	batch.putOrder(buy)
	batch.putOrder(sell)
	batch.putPool(pool)
	if err := batch.commit(); err != nil {
		logger.Error("failed to record settlement, reverting transfers",
			"execution_id", exec.ID,
			"receipt", receipt,
			"error", err,
		)
		if rerr := d.transfers.Revert(context.WithoutCancel(ctx), receipt); rerr != nil {
			logger.Error("failed to revert settlement transfers", "execution_id", exec.ID, "receipt", receipt, "error", rerr)
			return nil, fmt.Errorf("%w: settle %s: commit: %v; revert: %v", ErrInternal, exec.ID, err, rerr)
		}
		return nil, err
	}
	d.pool = pool

	d.metrics.TradesSettled.Add(1)
	d.metrics.FeesCollected.Add(float64(fee))
	d.metrics.TotalVolume.Set(float64(pool.TotalVolume))
	d.publisher.Publish(NewTradeSettledEvent(d.nextSeqID(), exec))

	logger.Info("trade settled",
		"execution_id", exec.ID,
		"fill_amount", cmd.FillAmount,
		"fee", fee,
		"receipt", receipt,
	)
	return &Settlement{
		ExecutionID:    exec.ID,
		FillAmount:     cmd.FillAmount,
		TransferAmount: transferAmount,
		FeeAmount:      fee,
		Receipt:        receipt,
	}, nil
}
