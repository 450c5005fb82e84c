package darkpool

import (
	"fmt"
	"sync"

	"github.com/0x5487/darkpool/protocol"
	"github.com/igrmk/treemap/v2"
)

// ErrSequenceGap is returned by PoolView.Replay when an event is missing from the stream.
var ErrSequenceGap = fmt.Errorf("%w: event sequence gap", ErrInvalidState)

// PoolView maintains the public pool counters of a DarkPool from its event stream alone.
// It is designed for downstream services that receive events through a message queue
// and never read the ledger. Events must be replayed in SequenceID order; duplicates
// delivered by an at-least-once transport are skipped.
type PoolView struct {
	mu      sync.RWMutex
	seqID   uint64                           // Last applied SequenceID
	owners  *treemap.TreeMap[string, uint32] // Owner -> submitted and not cancelled orders
	pending *treemap.TreeMap[string, int64]  // Request ID -> requested at
	volume  uint64                           // Gross settled notional
	fees    uint64
}

// NewPoolView creates an empty view, ready to replay from the first event.
func NewPoolView() *PoolView {
	return &PoolView{
		owners:  treemap.New[string, uint32](),
		pending: treemap.New[string, int64](),
	}
}

// Publish replays events, so a PoolView can be handed to a DarkPool as its PublishLog.
// A sequence gap is logged and the remaining events are dropped.
func (v *PoolView) Publish(events ...*Event) {
	for _, e := range events {
		if err := v.Replay(e); err != nil {
			logger.Warn("pool view replay failed", "seq_id", e.SequenceID, "error", err)
			return
		}
	}
}

// Replay applies one event. Events at or below the last applied SequenceID are ignored.
func (v *PoolView) Replay(e *Event) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if e.SequenceID <= v.seqID {
		return nil
	}
	if e.SequenceID != v.seqID+1 {
		return fmt.Errorf("%w: expected %d, got %d", ErrSequenceGap, v.seqID+1, e.SequenceID)
	}

	switch e.Type {
	case protocol.EventOrderSubmitted:
		n, _ := v.owners.Get(e.Owner)
		v.owners.Set(e.Owner, n+1)
	case protocol.EventOrderCancelled:
		if n, ok := v.owners.Get(e.Owner); ok {
			if n <= 1 {
				v.owners.Del(e.Owner)
			} else {
				v.owners.Set(e.Owner, n-1)
			}
		}
	case protocol.EventMatchingRequested:
		v.pending.Set(e.RequestID, e.Timestamp)
	case protocol.EventMatchCompleted, protocol.EventMatchFailed:
		v.pending.Del(e.RequestID)
	case protocol.EventTradeSettled:
		v.volume += e.Amount + e.Fee
		v.fees += e.Fee
	}

	v.seqID = e.SequenceID
	return nil
}

// SequenceID returns the last applied sequence ID, used for gap detection during rebuild.
func (v *PoolView) SequenceID() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.seqID
}

// Stats returns the counters as the DarkPool reports them.
func (v *PoolView) Stats() *Stats {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var active uint32
	for it := v.owners.Iterator(); it.Valid(); it.Next() {
		active += it.Value()
	}
	return &Stats{
		TotalVolume:     v.volume,
		ActiveOrders:    active,
		PendingRequests: v.pending.Len(),
	}
}

// ActiveOrders returns the number of live orders of owner.
func (v *PoolView) ActiveOrders(owner string) uint32 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	n, _ := v.owners.Get(owner)
	return n
}

// Owners returns the owners with live orders, in ascending order.
func (v *PoolView) Owners() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]string, 0, v.owners.Len())
	for it := v.owners.Iterator(); it.Valid(); it.Next() {
		out = append(out, it.Key())
	}
	return out
}

// Fees returns the fees collected by settled trades.
func (v *PoolView) Fees() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.fees
}
