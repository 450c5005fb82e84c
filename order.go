package darkpool

import (
	"fmt"
	"math"

	"github.com/0x5487/darkpool/protocol"
)

func (d *DarkPool) initialize(cmd *protocol.InitializeCommand) (*PoolConfig, error) {
	if d.pool != nil {
		return nil, ErrAlreadyInitialized
	}
	if len(cmd.Authority) == 0 {
		return nil, fmt.Errorf("%w: authority is required", ErrInvalidParam)
	}
	if cmd.FeeBasisPoints > MaxFeeBasisPoints {
		return nil, ErrInvalidFeeRate
	}
	if cmd.FeeBasisPoints > 0 && len(cmd.FeeAccount) == 0 {
		return nil, fmt.Errorf("%w: fee account is required when a fee is charged", ErrInvalidParam)
	}

	pool := &PoolConfig{
		Authority:      cmd.Authority,
		FeeBasisPoints: cmd.FeeBasisPoints,
		FeeAccount:     cmd.FeeAccount,
		SchemaVersion:  LedgerSchemaVersion,
		CreatedAt:      unixNano(d.now()),
	}

	batch := d.ledger.newBatch()
	batch.putPool(pool)
	if err := batch.commit(); err != nil {
		return nil, err
	}
	d.pool = pool

	logger.Info("dark pool initialized", "authority", pool.Authority, "fee_bps", pool.FeeBasisPoints)
	return clonePool(pool), nil
}

func (d *DarkPool) submitOrder(cmd *protocol.SubmitOrderCommand) (*Order, error) {
	if d.pool == nil {
		return nil, ErrNotInitialized
	}
	if len(cmd.Owner) == 0 {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidParam)
	}
	if len(cmd.EncryptedData) == 0 {
		return nil, ErrEmptyOrderData
	}
	if len(cmd.EncryptedData) > MaxOrderDataSize {
		return nil, ErrOrderDataTooLarge
	}
	if !cmd.Side.Valid() {
		return nil, ErrInvalidSide
	}
	if d.pool.ActiveOrders == math.MaxUint32 {
		return nil, fmt.Errorf("%w: active order counter overflow", ErrInternal)
	}

	seq, err := d.ledger.NextOrderSeq(cmd.Owner)
	if err != nil {
		return nil, err
	}

	now := unixNano(d.now())
	order := &Order{
		ID:            OrderID(cmd.Owner, seq),
		Owner:         cmd.Owner,
		Seq:           seq,
		EncryptedData: append([]byte(nil), cmd.EncryptedData...),
		Side:          cmd.Side,
		Status:        protocol.OrderStatusSubmitted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	pool := clonePool(d.pool)
	pool.ActiveOrders++

	batch := d.ledger.newBatch()
	batch.putOrder(order)
	batch.putOrderSeq(cmd.Owner, seq+1)
	batch.putPool(pool)
	if err := batch.commit(); err != nil {
		return nil, err
	}
	d.pool = pool

	d.metrics.OrdersSubmitted.Add(1)
	d.metrics.ActiveOrders.Set(float64(pool.ActiveOrders))
	d.publisher.Publish(NewOrderSubmittedEvent(d.nextSeqID(), order))

	logger.Debug("order submitted", "order_id", order.ID, "owner", order.Owner, "side", order.Side.String())
	return cloneOrder(order), nil
}

// cancelOrder only accepts Submitted orders. An order that entered matching is locked
// until its request resolves, so it can never be cancelled underneath a computation.
func (d *DarkPool) cancelOrder(cmd *protocol.CancelOrderCommand) (*Order, error) {
	if d.pool == nil {
		return nil, ErrNotInitialized
	}

	order, err := d.ledger.Order(cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Owner != cmd.Owner {
		return nil, ErrUnauthorized
	}
	if order.Status != protocol.OrderStatusSubmitted {
		return nil, ErrCannotCancelOrder
	}

	order.Status = protocol.OrderStatusCancelled
	order.UpdatedAt = unixNano(d.now())

	pool := clonePool(d.pool)
	if pool.ActiveOrders > 0 {
		pool.ActiveOrders--
	}

	batch := d.ledger.newBatch()
	batch.putOrder(order)
	batch.putPool(pool)
	if err := batch.commit(); err != nil {
		return nil, err
	}
	d.pool = pool

	d.metrics.OrdersCancelled.Add(1)
	d.metrics.ActiveOrders.Set(float64(pool.ActiveOrders))
	d.publisher.Publish(NewOrderCancelledEvent(d.nextSeqID(), order))

	logger.Debug("order cancelled", "order_id", order.ID, "owner", order.Owner)
	return cloneOrder(order), nil
}
