package darkpool

import (
	"github.com/0x5487/darkpool/mpc"
	"github.com/0x5487/darkpool/protocol"
)

type Side = protocol.Side

const (
	Buy  Side = protocol.SideBuy
	Sell Side = protocol.SideSell
)

type (
	OrderStatus     = protocol.OrderStatus
	MatchingStatus  = protocol.MatchingStatus
	ExecutionStatus = protocol.ExecutionStatus
)

// PoolConfig is the dark pool configuration and running totals.
// There is exactly one per ledger, created by Initialize.
type PoolConfig struct {
	Authority      string `json:"authority"`
	FeeBasisPoints uint16 `json:"fee_basis_points"`
	FeeAccount     string `json:"fee_account"`
	TotalVolume    uint64 `json:"total_volume"`  // Gross notional settled, never decreases
	ActiveOrders   uint32 `json:"active_orders"` // Submitted and not cancelled
	SchemaVersion  int    `json:"schema_version"`
	CreatedAt      int64  `json:"created_at"` // Unix nano
}

// Order is a sealed order resting in the pool.
// The pool never sees price or quantity; EncryptedData is opened only by the compute service.
type Order struct {
	ID                string      `json:"id"`
	Owner             string      `json:"owner"`
	Seq               uint64      `json:"seq"` // Per-owner sequence the ID is derived from
	EncryptedData     []byte      `json:"encrypted_data"`
	Side              Side        `json:"side"`
	Status            OrderStatus `json:"status"`
	CreatedAt         int64       `json:"created_at"` // Unix nano
	UpdatedAt         int64       `json:"updated_at"` // Unix nano
	ComputeRequestID  string      `json:"compute_request_id,omitempty"`
	MatchingRequestID string      `json:"matching_request_id,omitempty"`
}

// MatchingRequest asks the compute service to match the head pair of its order lists.
type MatchingRequest struct {
	ID               string         `json:"id"`
	Authority        string         `json:"authority"`
	Seq              uint64         `json:"seq"`
	BuyOrders        []string       `json:"buy_orders"`
	SellOrders       []string       `json:"sell_orders"`
	BuyOrderID       string         `json:"buy_order_id"`  // Pair dispatched to the compute service
	SellOrderID      string         `json:"sell_order_id"` // Pair dispatched to the compute service
	Status           MatchingStatus `json:"status"`
	RequestedAt      int64          `json:"requested_at"` // Unix nano
	ResolvedAt       int64          `json:"resolved_at,omitempty"`
	ComputeRequestID string         `json:"compute_request_id"`
	Nonce            mpc.Nonce      `json:"nonce"` // Echoed by the compute service in its result
	FailureReason    string         `json:"failure_reason,omitempty"`
}

// TradeExecution is the recorded outcome of a completed matching request.
type TradeExecution struct {
	ID                 string          `json:"id"`
	MatchingRequest    string          `json:"matching_request"`
	BuyOrderID         string          `json:"buy_order_id"`
	SellOrderID        string          `json:"sell_order_id"`
	Buyer              string          `json:"buyer"`
	Seller             string          `json:"seller"`
	EncryptedMatchData []byte          `json:"encrypted_match_data"`
	Proof              []byte          `json:"proof"`
	Status             ExecutionStatus `json:"status"`
	MatchedAt          int64           `json:"matched_at"` // Unix nano
	SettledAt          int64           `json:"settled_at,omitempty"`
	FillAmount         uint64          `json:"fill_amount,omitempty"`
	FeeAmount          uint64          `json:"fee_amount,omitempty"`
	TransferAmount     uint64          `json:"transfer_amount,omitempty"`
}

// Settlement is the result of settling a trade execution.
type Settlement struct {
	ExecutionID    string `json:"execution_id"`
	FillAmount     uint64 `json:"fill_amount"`
	TransferAmount uint64 `json:"transfer_amount"`
	FeeAmount      uint64 `json:"fee_amount"`
	Receipt        string `json:"receipt"`
}

// Stats is a point-in-time view of the pool counters.
type Stats struct {
	TotalVolume     uint64 `json:"total_volume"`
	ActiveOrders    uint32 `json:"active_orders"`
	PendingRequests int    `json:"pending_requests"`
}

func clonePool(p *PoolConfig) *PoolConfig {
	cpy := *p
	return &cpy
}

func cloneOrder(o *Order) *Order {
	cpy := *o
	cpy.EncryptedData = append([]byte(nil), o.EncryptedData...)
	return &cpy
}

func cloneRequest(r *MatchingRequest) *MatchingRequest {
	cpy := *r
	cpy.BuyOrders = append([]string(nil), r.BuyOrders...)
	cpy.SellOrders = append([]string(nil), r.SellOrders...)
	return &cpy
}

func cloneExecution(e *TradeExecution) *TradeExecution {
	cpy := *e
	cpy.EncryptedMatchData = append([]byte(nil), e.EncryptedMatchData...)
	cpy.Proof = append([]byte(nil), e.Proof...)
	return &cpy
}
