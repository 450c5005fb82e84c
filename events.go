package darkpool

import (
	"time"

	"github.com/0x5487/darkpool/protocol"
	"github.com/rs/xid"
)

// Event is emitted to off-chain observers after an operation commits.
// Delivery is at-least-once; ID is unique per event so observers can drop duplicates.
// SequenceID increases by one per event within a DarkPool instance.
type Event struct {
	ID          string             `json:"id"`
	SequenceID  uint64             `json:"seq_id"`
	Type        protocol.EventType `json:"type"`
	OrderID     string             `json:"order_id,omitempty"`
	Owner       string             `json:"owner,omitempty"`
	RequestID   string             `json:"request_id,omitempty"`
	ExecutionID string             `json:"execution_id,omitempty"`
	BuyCount    uint32             `json:"buy_count,omitempty"`  // MatchingRequested only
	SellCount   uint32             `json:"sell_count,omitempty"` // MatchingRequested only
	Amount      uint64             `json:"amount,omitempty"`     // TradeSettled: amount paid to the seller
	Fee         uint64             `json:"fee,omitempty"`        // TradeSettled only
	Reason      string             `json:"reason,omitempty"`     // MatchFailed only
	Timestamp   int64              `json:"timestamp"`            // Unix nano
}

func newEvent(seqID uint64, typ protocol.EventType, ts int64) *Event {
	return &Event{
		ID:         xid.New().String(),
		SequenceID: seqID,
		Type:       typ,
		Timestamp:  ts,
	}
}

func NewOrderSubmittedEvent(seqID uint64, order *Order) *Event {
	e := newEvent(seqID, protocol.EventOrderSubmitted, order.CreatedAt)
	e.OrderID = order.ID
	e.Owner = order.Owner
	return e
}

func NewMatchingRequestedEvent(seqID uint64, req *MatchingRequest) *Event {
	e := newEvent(seqID, protocol.EventMatchingRequested, req.RequestedAt)
	e.RequestID = req.ID
	e.BuyCount = uint32(len(req.BuyOrders))
	e.SellCount = uint32(len(req.SellOrders))
	return e
}

func NewMatchCompletedEvent(seqID uint64, req *MatchingRequest, exec *TradeExecution) *Event {
	e := newEvent(seqID, protocol.EventMatchCompleted, exec.MatchedAt)
	e.RequestID = req.ID
	e.ExecutionID = exec.ID
	return e
}

func NewMatchFailedEvent(seqID uint64, req *MatchingRequest) *Event {
	e := newEvent(seqID, protocol.EventMatchFailed, req.ResolvedAt)
	e.RequestID = req.ID
	e.Reason = req.FailureReason
	return e
}

func NewTradeSettledEvent(seqID uint64, exec *TradeExecution) *Event {
	e := newEvent(seqID, protocol.EventTradeSettled, exec.SettledAt)
	e.ExecutionID = exec.ID
	e.Amount = exec.TransferAmount
	e.Fee = exec.FeeAmount
	return e
}

func NewOrderCancelledEvent(seqID uint64, order *Order) *Event {
	e := newEvent(seqID, protocol.EventOrderCancelled, order.UpdatedAt)
	e.OrderID = order.ID
	e.Owner = order.Owner
	return e
}

func unixNano(t time.Time) int64 {
	return t.UTC().UnixNano()
}
