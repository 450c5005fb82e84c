package protocol

// CommandType defines the type of the command (using uint8 for memory alignment and performance)
type CommandType uint8

// Command Type Numbering Strategy:
// - 0-50:  Pool administration commands
// - 51+:   Order flow commands
const (
	CmdUnknown    CommandType = 0
	CmdInitialize CommandType = 1

	CmdSubmitOrder     CommandType = 51
	CmdCancelOrder     CommandType = 52
	CmdRequestMatching CommandType = 53
	CmdResolveMatch    CommandType = 54
	CmdSettleTrade     CommandType = 55
)

// Command is the standard carrier for commands entering the dark pool.
type Command struct {
	// Version is the protocol version for backward compatibility.
	Version uint8 `json:"version"`

	// SeqID is used for global ordering and deduplication by the transport.
	SeqID uint64 `json:"seq_id"`

	// Type identifies the payload type for fast routing.
	Type CommandType `json:"type"`

	// Payload contains the serialized business data (e.g., JSON bytes of SubmitOrderCommand).
	Payload []byte `json:"payload"`

	// Metadata stores non-business context (e.g., Tracing ID, Source IP).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// InitializeCommand creates the pool configuration. It is accepted once per ledger.
type InitializeCommand struct {
	Authority      string `json:"authority"`
	FeeBasisPoints uint16 `json:"fee_basis_points"`
	FeeAccount     string `json:"fee_account"`
}

// SubmitOrderCommand is the payload for submitting a sealed order.
// EncryptedData is opaque to the pool; only the compute service can open it.
type SubmitOrderCommand struct {
	Owner         string `json:"owner"`
	EncryptedData []byte `json:"encrypted_data"`
	Side          Side   `json:"side"`
}

// CancelOrderCommand is the payload for cancelling a submitted order.
type CancelOrderCommand struct {
	OrderID string `json:"order_id"`
	Owner   string `json:"owner"`
}

// RequestMatchingCommand is the payload for starting a secure matching computation.
// Both lists must hold between 1 and MaxOrdersPerSide ids.
type RequestMatchingCommand struct {
	Authority  string   `json:"authority"`
	BuyOrders  []string `json:"buy_orders"`
	SellOrders []string `json:"sell_orders"`
}

// SettleTradeCommand is the payload for settling a matched trade.
// FillAmount is the gross notional, in token units, moved from buyer to seller.
type SettleTradeCommand struct {
	ExecutionID string `json:"execution_id"`
	FillAmount  uint64 `json:"fill_amount"`
}
