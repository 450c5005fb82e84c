package darkpool

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by a dark pool operation wraps at most one of these,
// so callers can tell a bad input (fix and resubmit) from a state conflict (abandon) or a
// failed computation (request matching again).
var (
	ErrValidation   = errors.New("validation error")
	ErrInvalidState = errors.New("invalid state")
	ErrComputation  = errors.New("computation error")
)

var (
	ErrInternal     = errors.New("internal server error")
	ErrTimeout      = errors.New("timeout")
	ErrShutdown     = errors.New("dark pool is shutting down")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")

	ErrUnknownCorrelator = fmt.Errorf("%w: unknown compute correlator", ErrNotFound)
)

var (
	ErrEmptyOrderData    = fmt.Errorf("%w: order data cannot be empty", ErrValidation)
	ErrOrderDataTooLarge = fmt.Errorf("%w: order data exceeds maximum size", ErrValidation)
	ErrInvalidSide       = fmt.Errorf("%w: invalid order side", ErrValidation)
	ErrNoOrders          = fmt.Errorf("%w: no orders provided for matching", ErrValidation)
	ErrTooManyOrders     = fmt.Errorf("%w: too many orders provided for matching", ErrValidation)
	ErrDuplicateOrder    = fmt.Errorf("%w: order referenced more than once", ErrValidation)
	ErrSideMismatch      = fmt.Errorf("%w: order listed on the wrong side", ErrValidation)
	ErrMalformedOrder    = fmt.Errorf("%w: order data is not a sealed order", ErrValidation)
	ErrInvalidFeeRate    = fmt.Errorf("%w: fee basis points must be within [0, 10000]", ErrValidation)
	ErrMatchDataTooLarge = fmt.Errorf("%w: match data exceeds maximum size", ErrValidation)
	ErrVolumeOverflow    = fmt.Errorf("%w: amount overflows pool volume", ErrValidation)
	ErrInvalidParam      = fmt.Errorf("%w: the param is invalid", ErrValidation)

	ErrAlreadyInitialized   = fmt.Errorf("%w: dark pool already initialized", ErrInvalidState)
	ErrNotInitialized       = fmt.Errorf("%w: dark pool not initialized", ErrInvalidState)
	ErrInvalidMatchingState = fmt.Errorf("%w: invalid matching state", ErrInvalidState)
	ErrTradeNotMatched      = fmt.Errorf("%w: trade not matched yet", ErrInvalidState)
	ErrCannotCancelOrder    = fmt.Errorf("%w: cannot cancel order in current state", ErrInvalidState)
	ErrOrderNotAvailable    = fmt.Errorf("%w: order is not available for matching", ErrInvalidState)

	ErrAbortedComputation = fmt.Errorf("%w: the computation was aborted", ErrComputation)
	ErrProofRejected      = fmt.Errorf("%w: compute result proof rejected", ErrComputation)
	ErrComputeUnavailable = fmt.Errorf("%w: compute service unavailable", ErrComputation)
	ErrNonceMismatch      = fmt.Errorf("%w: result nonce does not match the request", ErrComputation)
)
