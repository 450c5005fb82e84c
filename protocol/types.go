package protocol

import (
	"fmt"
	"strings"
)

// Side represents the order side (Buy/Sell).
type Side int8

const (
	SideBuy  Side = 1
	SideSell Side = 2
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// Valid reports whether s is one of the defined sides.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderStatus is the lifecycle state of an order.
//
//	Submitted -> InMatching -> Matched -> Executed -> Settled
//	Submitted -> Cancelled
type OrderStatus uint8

const (
	OrderStatusSubmitted  OrderStatus = 0
	OrderStatusInMatching OrderStatus = 1
	OrderStatusMatched    OrderStatus = 2
	OrderStatusExecuted   OrderStatus = 3
	OrderStatusSettled    OrderStatus = 4
	OrderStatusCancelled  OrderStatus = 5
)

var orderStatusNames = []string{"submitted", "in_matching", "matched", "executed", "settled", "cancelled"}

func (s OrderStatus) String() string {
	if int(s) < len(orderStatusNames) {
		return orderStatusNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further transition is allowed out of s.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusSettled || s == OrderStatusCancelled
}

func (s OrderStatus) MarshalText() ([]byte, error) {
	if int(s) >= len(orderStatusNames) {
		return nil, fmt.Errorf("protocol: invalid order status %d", s)
	}
	return []byte(s.String()), nil
}

func (s *OrderStatus) UnmarshalText(b []byte) error {
	i, err := parseName(orderStatusNames, string(b))
	if err != nil {
		return fmt.Errorf("protocol: order status: %w", err)
	}
	*s = OrderStatus(i)
	return nil
}

// MatchingStatus is the state of a matching request. Pending is the only non-terminal state.
type MatchingStatus uint8

const (
	MatchingStatusPending   MatchingStatus = 0
	MatchingStatusCompleted MatchingStatus = 1
	MatchingStatusFailed    MatchingStatus = 2
)

var matchingStatusNames = []string{"pending", "completed", "failed"}

func (s MatchingStatus) String() string {
	if int(s) < len(matchingStatusNames) {
		return matchingStatusNames[s]
	}
	return "unknown"
}

func (s MatchingStatus) MarshalText() ([]byte, error) {
	if int(s) >= len(matchingStatusNames) {
		return nil, fmt.Errorf("protocol: invalid matching status %d", s)
	}
	return []byte(s.String()), nil
}

func (s *MatchingStatus) UnmarshalText(b []byte) error {
	i, err := parseName(matchingStatusNames, string(b))
	if err != nil {
		return fmt.Errorf("protocol: matching status: %w", err)
	}
	*s = MatchingStatus(i)
	return nil
}

// ExecutionStatus is the state of a trade execution.
type ExecutionStatus uint8

const (
	ExecutionStatusMatched ExecutionStatus = 0
	ExecutionStatusSettled ExecutionStatus = 1
)

var executionStatusNames = []string{"matched", "settled"}

func (s ExecutionStatus) String() string {
	if int(s) < len(executionStatusNames) {
		return executionStatusNames[s]
	}
	return "unknown"
}

func (s ExecutionStatus) MarshalText() ([]byte, error) {
	if int(s) >= len(executionStatusNames) {
		return nil, fmt.Errorf("protocol: invalid execution status %d", s)
	}
	return []byte(s.String()), nil
}

func (s *ExecutionStatus) UnmarshalText(b []byte) error {
	i, err := parseName(executionStatusNames, string(b))
	if err != nil {
		return fmt.Errorf("protocol: execution status: %w", err)
	}
	*s = ExecutionStatus(i)
	return nil
}

// EventType identifies an event emitted to off-chain observers.
type EventType string

const (
	EventOrderSubmitted    EventType = "order_submitted"
	EventMatchingRequested EventType = "matching_requested"
	EventMatchCompleted    EventType = "match_completed"
	EventMatchFailed       EventType = "match_failed"
	EventTradeSettled      EventType = "trade_settled"
	EventOrderCancelled    EventType = "order_cancelled"
)

func parseName(names []string, s string) (int, error) {
	s = strings.ToLower(s)
	for i, name := range names {
		if name == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown value %q", s)
}
