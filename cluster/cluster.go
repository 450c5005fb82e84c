// Package cluster is a local secure computation service. It holds the compute key pair,
// opens sealed orders only inside its workers, runs the matching circuit and returns the
// result sealed for the buy order owner, signed so the receiver can check its origin.
package cluster

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/0x5487/darkpool/mpc"
	"github.com/0x5487/darkpool/protocol"
	"github.com/google/orderedcode"
	"golang.org/x/sync/errgroup"
)

var (
	ErrClosed         = errors.New("cluster: closed")
	ErrQueueFull      = errors.New("cluster: computation queue is full")
	ErrInvalidProof   = errors.New("cluster: invalid proof")
	ErrRecipientKey   = errors.New("cluster: recipient key does not own the buy order")
	ErrInvalidSignKey = errors.New("cluster: invalid signing key")
	ErrNilHandler     = errors.New("cluster: nil callback handler")
)

// CallbackHandler receives the outcome of every accepted computation, success or abort.
type CallbackHandler func(ctx context.Context, cb *protocol.ComputeCallback) error

// Cluster runs matching computations on a fixed pool of workers.
type Cluster struct {
	keys    mpc.KeyPair
	signKey ed25519.PrivateKey
	handler CallbackHandler
	opts    *options

	queue    chan *protocol.ComputeRequest
	quit     chan struct{}
	stopped  chan struct{}
	isClosed atomic.Bool
	stopOnce sync.Once

	completed atomic.Uint64
	aborted   atomic.Uint64
}

// New creates a cluster that computes with keys and signs results with signKey.
// Call Start to run the workers.
func New(keys mpc.KeyPair, signKey ed25519.PrivateKey, handler CallbackHandler, opts ...Option) (*Cluster, error) {
	if len(signKey) != ed25519.PrivateKeySize {
		return nil, ErrInvalidSignKey
	}
	if handler == nil {
		return nil, ErrNilHandler
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	return &Cluster{
		keys:    keys,
		signKey: signKey,
		handler: handler,
		opts:    o,
		queue:   make(chan *protocol.ComputeRequest, o.queueSize),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}, nil
}

// PublicKey is the key order owners seal their orders to.
func (c *Cluster) PublicKey() mpc.PublicKey {
	return c.keys.Public
}

// VerifyKey is the key that checks result proofs.
func (c *Cluster) VerifyKey() ed25519.PublicKey {
	return c.signKey.Public().(ed25519.PublicKey)
}

// Invoke queues a computation and returns without waiting for it. It never blocks: when
// the queue is full it fails with ErrQueueFull, so a caller that also serves the callbacks
// cannot stall the workers delivering them.
func (c *Cluster) Invoke(ctx context.Context, req *protocol.ComputeRequest) error {
	if c.isClosed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case c.queue <- req:
		return nil
	case <-c.quit:
		return ErrClosed
	default:
		return ErrQueueFull
	}
}

// Start runs the workers until Shutdown is called or ctx is done. Computations still queued
// when the workers stop are answered with an aborted callback.
func (c *Cluster) Start(ctx context.Context) error {
	defer close(c.stopped)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.opts.workers; i++ {
		g.Go(func() error {
			return c.work(gctx)
		})
	}
	err := g.Wait()

	c.isClosed.Store(true)
	c.abortQueued(context.WithoutCancel(ctx))
	return err
}

// Shutdown stops accepting computations and waits for the workers to finish.
func (c *Cluster) Shutdown(ctx context.Context) error {
	c.stopOnce.Do(func() {
		c.isClosed.Store(true)
		close(c.quit)
	})

	select {
	case <-c.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns how many computations completed and how many were aborted.
func (c *Cluster) Stats() (completed, aborted uint64) {
	return c.completed.Load(), c.aborted.Load()
}

func (c *Cluster) work(ctx context.Context) error {
	for {
		select {
		case <-c.quit:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case req := <-c.queue:
			c.process(ctx, req)
		}
	}
}

func (c *Cluster) process(ctx context.Context, req *protocol.ComputeRequest) {
	cb, err := c.compute(req)
	if err != nil {
		c.opts.logger.Warn("computation aborted", "correlator", req.Correlator, "error", err)
		cb = abortCallback(req.Correlator, err.Error())
		c.aborted.Add(1)
	} else {
		c.completed.Add(1)
	}
	c.deliver(ctx, cb)
}

func (c *Cluster) compute(req *protocol.ComputeRequest) (*protocol.ComputeCallback, error) {
	var buy, sell mpc.SealedOrder
	if err := buy.UnmarshalBinary(req.BuyOrder); err != nil {
		return nil, fmt.Errorf("buy order: %w", err)
	}
	if err := sell.UnmarshalBinary(req.SellOrder); err != nil {
		return nil, fmt.Errorf("sell order: %w", err)
	}
	if buy.Owner != mpc.PublicKey(req.RecipientKey) {
		return nil, ErrRecipientKey
	}

	result, err := mpc.MatchSealed(c.keys, &buy, &sell, mpc.Nonce(req.Nonce))
	if err != nil {
		return nil, err
	}

	cb := &protocol.ComputeCallback{
		Correlator: req.Correlator,
		Outcome:    protocol.ComputeSuccess,
		Nonce:      result.Nonce,
	}
	cb.Ciphertexts[0] = result.Matched
	cb.Ciphertexts[1] = result.FillPrice
	cb.Ciphertexts[2] = result.FillQuantity
	copy(cb.Proof[:], ed25519.Sign(c.signKey, signedMessage(cb.Correlator, cb.Payload())))
	return cb, nil
}

func (c *Cluster) deliver(ctx context.Context, cb *protocol.ComputeCallback) {
	if err := c.handler(ctx, cb); err != nil {
		// The dark pool answers every aborted callback with an error.
		level := slog.LevelWarn
		if cb.Outcome == protocol.ComputeAborted {
			level = slog.LevelDebug
		}
		c.opts.logger.Log(ctx, level, "callback not accepted",
			"correlator", cb.Correlator,
			"outcome", cb.Outcome.String(),
			"error", err,
		)
	}
}

func (c *Cluster) abortQueued(ctx context.Context) {
	for {
		select {
		case req := <-c.queue:
			c.aborted.Add(1)
			c.deliver(ctx, abortCallback(req.Correlator, ErrClosed.Error()))
		default:
			return
		}
	}
}

func abortCallback(correlator, reason string) *protocol.ComputeCallback {
	return &protocol.ComputeCallback{
		Correlator: correlator,
		Outcome:    protocol.ComputeAborted,
		Reason:     reason,
	}
}

// Verifier checks the proofs signed by a Cluster.
type Verifier struct {
	key ed25519.PublicKey
}

// NewVerifier returns a verifier for results signed by the holder of key's private half.
func NewVerifier(key ed25519.PublicKey) *Verifier {
	return &Verifier{key: key}
}

// Verify returns ErrInvalidProof unless proof signs correlator and payload.
func (v *Verifier) Verify(correlator string, payload []byte, proof [protocol.ProofSize]byte) error {
	if !ed25519.Verify(v.key, signedMessage(correlator, payload), proof[:]) {
		return ErrInvalidProof
	}
	return nil
}

func signedMessage(correlator string, payload []byte) []byte {
	msg, err := orderedcode.Append(nil, correlator, string(payload))
	if err != nil {
		panic(err)
	}
	return msg
}
