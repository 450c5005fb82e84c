package darkpool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/0x5487/darkpool/protocol"
)

// ComputeInvoker hands a matching computation to the secure computation service.
// Invoke must not wait for the computation: the result comes back later through
// DarkPool.ResolveMatch, carrying the request correlator.
type ComputeInvoker interface {
	Invoke(ctx context.Context, req *protocol.ComputeRequest) error
}

// Transferer moves tokens between accounts on the external ledger.
//
// Execute must apply all legs or none of them and return a receipt for the applied batch.
// Revert undoes a receipt; it is the compensating action used when the dark pool cannot
// record a settlement whose transfers already went through.
type Transferer interface {
	Execute(ctx context.Context, transfers []protocol.Transfer) (receipt string, err error)
	Revert(ctx context.Context, receipt string) error
}

// ProofVerifier checks the authenticity proof attached to a compute callback.
type ProofVerifier interface {
	Verify(correlator string, payload []byte, proof [protocol.ProofSize]byte) error
}

// Internal queries, kept apart from the protocol command numbering.
const (
	cmdStats   protocol.CommandType = 200
	cmdPending protocol.CommandType = 201
)

type command struct {
	ctx     context.Context
	typ     protocol.CommandType
	payload any
	resp    chan response
}

type response struct {
	data any
	err  error
}

// DarkPool is the confidential order matching and settlement state machine.
//
// All operations run on a single actor goroutine (Start), one at a time, so each one
// applies atomically and the Pending and Matched guards cannot be raced. Public methods
// enqueue a command and block until it has been processed or ctx is done.
type DarkPool struct {
	ledger    *Ledger
	compute   ComputeInvoker
	transfers Transferer
	publisher PublishLog
	metrics   *Metrics
	verifier  ProofVerifier
	cfg       Config
	now       func() time.Time
	rand      io.Reader

	// owned by the actor goroutine
	pool    *PoolConfig
	pending *pendingIndex

	seqID            atomic.Uint64
	isShutdown       atomic.Bool
	cmdChan          chan command
	done             chan struct{}
	shutdownComplete chan struct{}
}

// NewDarkPool creates a dark pool over ledger and restores its state.
// Call Start to begin processing commands.
func NewDarkPool(ledger *Ledger, compute ComputeInvoker, transfers Transferer, opts ...Option) (*DarkPool, error) {
	d := &DarkPool{
		ledger:           ledger,
		compute:          compute,
		transfers:        transfers,
		pending:          newPendingIndex(),
		done:             make(chan struct{}),
		shutdownComplete: make(chan struct{}),
	}
	defaultOptions(d)
	for _, opt := range opts {
		opt(d)
	}
	if err := d.cfg.Validate(); err != nil {
		return nil, err
	}
	d.cmdChan = make(chan command, d.cfg.CommandBuffer)

	if err := d.restore(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *DarkPool) restore() error {
	pool, err := d.ledger.Pool()
	switch {
	case errors.Is(err, ErrNotInitialized):
	case err != nil:
		return err
	default:
		d.pool = pool
		d.metrics.ActiveOrders.Set(float64(pool.ActiveOrders))
		d.metrics.TotalVolume.Set(float64(pool.TotalVolume))
	}

	pending, err := d.ledger.PendingRequests()
	if err != nil {
		return err
	}
	for _, req := range pending {
		d.pending.add(req)
	}
	d.metrics.PendingRequests.Set(float64(d.pending.len()))

	if len(pending) > 0 {
		logger.Info("restored pending matching requests", "count", len(pending))
	}
	return nil
}

// Initialize creates the pool configuration. It succeeds once per ledger.
func (d *DarkPool) Initialize(ctx context.Context, cmd *protocol.InitializeCommand) (*PoolConfig, error) {
	data, err := d.execute(ctx, protocol.CmdInitialize, cmd)
	if err != nil {
		return nil, err
	}
	return data.(*PoolConfig), nil
}

// SubmitOrder records a sealed order in Submitted status.
func (d *DarkPool) SubmitOrder(ctx context.Context, cmd *protocol.SubmitOrderCommand) (*Order, error) {
	data, err := d.execute(ctx, protocol.CmdSubmitOrder, cmd)
	if err != nil {
		return nil, err
	}
	return data.(*Order), nil
}

// CancelOrder cancels an order that has not entered matching. Only its owner may cancel it.
func (d *DarkPool) CancelOrder(ctx context.Context, cmd *protocol.CancelOrderCommand) (*Order, error) {
	data, err := d.execute(ctx, protocol.CmdCancelOrder, cmd)
	if err != nil {
		return nil, err
	}
	return data.(*Order), nil
}

// RequestMatching records a Pending matching request and hands its head buy/sell pair to
// the compute service. It returns without waiting for the computation.
func (d *DarkPool) RequestMatching(ctx context.Context, cmd *protocol.RequestMatchingCommand) (*MatchingRequest, error) {
	data, err := d.execute(ctx, protocol.CmdRequestMatching, cmd)
	if err != nil {
		return nil, err
	}
	return data.(*MatchingRequest), nil
}

// ResolveMatch consumes a compute callback. A successful computation completes the request
// and records a TradeExecution; an aborted one fails the request, releases its orders and
// returns ErrAbortedComputation. Callbacks for a request that is no longer Pending are
// rejected with ErrInvalidMatchingState.
func (d *DarkPool) ResolveMatch(ctx context.Context, cb *protocol.ComputeCallback) (*TradeExecution, error) {
	data, err := d.execute(ctx, protocol.CmdResolveMatch, cb)
	if err != nil {
		return nil, err
	}
	return data.(*TradeExecution), nil
}

// HandleCallback adapts ResolveMatch to a compute service callback handler.
func (d *DarkPool) HandleCallback(ctx context.Context, cb *protocol.ComputeCallback) error {
	_, err := d.ResolveMatch(ctx, cb)
	return err
}

// SettleTrade pays out a matched trade: the fill amount less the pool fee goes from buyer
// to seller, the fee to the fee account.
func (d *DarkPool) SettleTrade(ctx context.Context, cmd *protocol.SettleTradeCommand) (*Settlement, error) {
	data, err := d.execute(ctx, protocol.CmdSettleTrade, cmd)
	if err != nil {
		return nil, err
	}
	return data.(*Settlement), nil
}

// Stats returns the pool counters.
func (d *DarkPool) Stats(ctx context.Context) (*Stats, error) {
	data, err := d.execute(ctx, cmdStats, nil)
	if err != nil {
		return nil, err
	}
	return data.(*Stats), nil
}

// Pool returns the stored pool configuration.
func (d *DarkPool) Pool() (*PoolConfig, error) {
	return d.ledger.Pool()
}

// Order returns the stored order.
func (d *DarkPool) Order(id string) (*Order, error) {
	return d.ledger.Order(id)
}

// MatchingRequest returns the stored matching request.
func (d *DarkPool) MatchingRequest(id string) (*MatchingRequest, error) {
	return d.ledger.MatchingRequest(id)
}

// TradeExecution returns the stored trade execution.
func (d *DarkPool) TradeExecution(id string) (*TradeExecution, error) {
	return d.ledger.TradeExecution(id)
}

// ExecuteCommand decodes a protocol envelope and runs it, for transports that deliver
// serialized commands.
func (d *DarkPool) ExecuteCommand(ctx context.Context, serializer protocol.Serializer, cmd *protocol.Command) (any, error) {
	if cmd == nil {
		return nil, fmt.Errorf("%w: nil command", ErrInvalidParam)
	}

	var payload any
	switch cmd.Type {
	case protocol.CmdInitialize:
		payload = &protocol.InitializeCommand{}
	case protocol.CmdSubmitOrder:
		payload = &protocol.SubmitOrderCommand{}
	case protocol.CmdCancelOrder:
		payload = &protocol.CancelOrderCommand{}
	case protocol.CmdRequestMatching:
		payload = &protocol.RequestMatchingCommand{}
	case protocol.CmdResolveMatch:
		payload = &protocol.ComputeCallback{}
	case protocol.CmdSettleTrade:
		payload = &protocol.SettleTradeCommand{}
	default:
		return nil, ErrInvalidParam
	}

	if err := serializer.Unmarshal(cmd.Payload, payload); err != nil {
		logger.Warn("failed to unmarshal command", "type", cmd.Type, "seq_id", cmd.SeqID, "error", err)
		return nil, ErrInvalidParam
	}
	return d.execute(ctx, cmd.Type, payload)
}

// execute enqueues a command and waits for its response.
// If ctx ends after the command was enqueued, ErrTimeout is returned but the command may
// still be applied; look the record up before retrying.
func (d *DarkPool) execute(ctx context.Context, typ protocol.CommandType, payload any) (any, error) {
	if d.isShutdown.Load() {
		return nil, ErrShutdown
	}
	if isNilCommand(payload) {
		return nil, fmt.Errorf("%w: nil command", ErrInvalidParam)
	}

	resp := make(chan response, 1)
	select {
	case d.cmdChan <- command{ctx: ctx, typ: typ, payload: payload, resp: resp}:
	case <-d.shutdownComplete:
		return nil, ErrShutdown
	case <-ctx.Done():
		return nil, ErrTimeout
	}

	select {
	case r := <-resp:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ErrTimeout
	}
}

// Start runs the actor loop. It returns nil once Shutdown is called and all queued
// commands are drained.
func (d *DarkPool) Start() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-d.done:
			return d.drain()
		case cmd := <-d.cmdChan:
			d.process(cmd)
		}
	}
}

// Shutdown signals the dark pool to stop accepting commands and waits for queued commands
// to be processed. Returns ctx.Err() if ctx ends first.
func (d *DarkPool) Shutdown(ctx context.Context) error {
	if d.isShutdown.CompareAndSwap(false, true) {
		close(d.done)
	}

	select {
	case <-d.shutdownComplete:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *DarkPool) drain() error {
	defer close(d.shutdownComplete)

	for {
		select {
		case cmd := <-d.cmdChan:
			d.process(cmd)
		default:
			return nil
		}
	}
}

func (d *DarkPool) process(cmd command) {
	var (
		data any
		err  error
		op   string
	)

	switch cmd.typ {
	case protocol.CmdInitialize:
		op = "initialize"
		data, err = d.initialize(cmd.payload.(*protocol.InitializeCommand))
	case protocol.CmdSubmitOrder:
		op = "submit_order"
		data, err = d.submitOrder(cmd.payload.(*protocol.SubmitOrderCommand))
	case protocol.CmdCancelOrder:
		op = "cancel_order"
		data, err = d.cancelOrder(cmd.payload.(*protocol.CancelOrderCommand))
	case protocol.CmdRequestMatching:
		op = "request_matching"
		data, err = d.requestMatching(cmd.ctx, cmd.payload.(*protocol.RequestMatchingCommand))
	case protocol.CmdResolveMatch:
		op = "resolve_match"
		data, err = d.resolveMatch(cmd.payload.(*protocol.ComputeCallback))
	case protocol.CmdSettleTrade:
		op = "settle_trade"
		data, err = d.settleTrade(cmd.ctx, cmd.payload.(*protocol.SettleTradeCommand))
	case cmdStats:
		data = &Stats{
			TotalVolume:     d.poolOrZero().TotalVolume,
			ActiveOrders:    d.poolOrZero().ActiveOrders,
			PendingRequests: d.pending.len(),
		}
	case cmdPending:
		data = d.pending.ids(cmd.payload.(int))
	default:
		err = ErrInvalidParam
	}

	if err != nil {
		d.metrics.OperationErrors.With("operation", op, "class", errorClass(err)).Add(1)
		logger.Debug("operation failed", "operation", op, "error", err)
	}

	cmd.resp <- response{data: data, err: err}
}

// isNilCommand reports a typed nil command pointer, which the actor would dereference.
func isNilCommand(payload any) bool {
	switch p := payload.(type) {
	case *protocol.InitializeCommand:
		return p == nil
	case *protocol.SubmitOrderCommand:
		return p == nil
	case *protocol.CancelOrderCommand:
		return p == nil
	case *protocol.RequestMatchingCommand:
		return p == nil
	case *protocol.ComputeCallback:
		return p == nil
	case *protocol.SettleTradeCommand:
		return p == nil
	}
	return false
}

func (d *DarkPool) nextSeqID() uint64 {
	return d.seqID.Add(1)
}

func (d *DarkPool) poolOrZero() *PoolConfig {
	if d.pool == nil {
		return &PoolConfig{}
	}
	return d.pool
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInvalidState):
		return "state"
	case errors.Is(err, ErrComputation):
		return "computation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	default:
		return "internal"
	}
}
