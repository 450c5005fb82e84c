package darkpool

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/0x5487/darkpool/mpc"
	"github.com/0x5487/darkpool/protocol"
	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"
)

const (
	testAuthority  = "authority"
	testFeeAccount = "fees"
)

var errInjected = errors.New("injected failure")

// recordingCompute captures compute requests instead of running them.
type recordingCompute struct {
	mu       sync.Mutex
	requests []*protocol.ComputeRequest
	err      error
}

func (c *recordingCompute) Invoke(_ context.Context, req *protocol.ComputeRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.requests = append(c.requests, req)
	return nil
}

func (c *recordingCompute) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *recordingCompute) last(t *testing.T) *protocol.ComputeRequest {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.requests)
	return c.requests[len(c.requests)-1]
}

func (c *recordingCompute) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// recordingTransferer records applied batches and reverts.
type recordingTransferer struct {
	mu       sync.Mutex
	batches  map[string][]protocol.Transfer
	reverted []string
	seq      int
	err      error
}

func newRecordingTransferer() *recordingTransferer {
	return &recordingTransferer{batches: make(map[string][]protocol.Transfer)}
}

func (r *recordingTransferer) Execute(_ context.Context, transfers []protocol.Transfer) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.seq++
	receipt := string(rune('a' + r.seq))
	r.batches[receipt] = append([]protocol.Transfer(nil), transfers...)
	return receipt, nil
}

func (r *recordingTransferer) Revert(_ context.Context, receipt string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.batches[receipt]; !ok {
		return errInjected
	}
	delete(r.batches, receipt)
	r.reverted = append(r.reverted, receipt)
	return nil
}

func (r *recordingTransferer) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *recordingTransferer) applied() [][]protocol.Transfer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]protocol.Transfer, 0, len(r.batches))
	for _, b := range r.batches {
		out = append(out, b)
	}
	return out
}

// faultyDB fails every batch commit while failCommit is set.
type faultyDB struct {
	dbm.DB
	failCommit atomic.Bool
}

func (db *faultyDB) NewBatch() dbm.Batch {
	return &faultyBatch{Batch: db.DB.NewBatch(), db: db}
}

type faultyBatch struct {
	dbm.Batch
	db *faultyDB
}

func (b *faultyBatch) WriteSync() error {
	if b.db.failCommit.Load() {
		return errInjected
	}
	return b.Batch.WriteSync()
}

type testPool struct {
	*DarkPool
	db        *faultyDB
	compute   *recordingCompute
	transfers *recordingTransferer
	events    *MemoryPublishLog
	mxe       mpc.KeyPair
}

func newTestPool(t *testing.T, opts ...Option) *testPool {
	t.Helper()
	return openTestPool(t, &faultyDB{DB: dbm.NewMemDB()}, opts...)
}

// openTestPool starts a DarkPool over db and shuts it down when the test ends.
func openTestPool(t *testing.T, db *faultyDB, opts ...Option) *testPool {
	t.Helper()

	mxe, err := mpc.GenerateKeyPair(rand.Reader)
	require.NoError(t, err)

	tp := &testPool{
		db:        db,
		compute:   &recordingCompute{},
		transfers: newRecordingTransferer(),
		events:    NewMemoryPublishLog(),
		mxe:       mxe,
	}

	opts = append([]Option{WithPublishLog(tp.events)}, opts...)
	tp.DarkPool, err = NewDarkPool(NewLedger(db), tp.compute, tp.transfers, opts...)
	require.NoError(t, err)

	go func() {
		_ = tp.Start()
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	})
	return tp
}

func (tp *testPool) mustInitialize(t *testing.T, bps uint16) *PoolConfig {
	t.Helper()
	pool, err := tp.Initialize(context.Background(), &protocol.InitializeCommand{
		Authority:      testAuthority,
		FeeBasisPoints: bps,
		FeeAccount:     testFeeAccount,
	})
	require.NoError(t, err)
	return pool
}

// submit seals o for a fresh trader key and submits it under owner.
func (tp *testPool) mustSubmit(t *testing.T, owner string, o mpc.Order) (*Order, mpc.KeyPair) {
	t.Helper()

	trader, err := mpc.GenerateKeyPair(rand.Reader)
	require.NoError(t, err)

	side := Sell
	if o.IsBuy {
		side = Buy
	}
	order, err := tp.SubmitOrder(context.Background(), &protocol.SubmitOrderCommand{
		Owner:         owner,
		EncryptedData: sealOrder(t, trader, tp.mxe.Public, o),
		Side:          side,
	})
	require.NoError(t, err)
	return order, trader
}

func (tp *testPool) mustRequest(t *testing.T, buys, sells []string) *MatchingRequest {
	t.Helper()
	req, err := tp.RequestMatching(context.Background(), &protocol.RequestMatchingCommand{
		Authority:  testAuthority,
		BuyOrders:  buys,
		SellOrders: sells,
	})
	require.NoError(t, err)
	return req
}

// compute runs the last recorded compute request the way the cluster would.
func (tp *testPool) computeLast(t *testing.T) *protocol.ComputeCallback {
	t.Helper()
	return runCompute(t, tp.mxe, tp.compute.last(t))
}

// matched drives a crossing buy/sell pair through to a Matched execution.
func (tp *testPool) mustMatch(t *testing.T) (*TradeExecution, *Order, *Order) {
	t.Helper()

	buy, _ := tp.mustSubmit(t, "buyer", mpc.Order{Price: 100, Quantity: 50, IsBuy: true})
	sell, _ := tp.mustSubmit(t, "seller", mpc.Order{Price: 98, Quantity: 30})
	tp.mustRequest(t, []string{buy.ID}, []string{sell.ID})

	exec, err := tp.ResolveMatch(context.Background(), tp.computeLast(t))
	require.NoError(t, err)
	return exec, buy, sell
}

func sealOrder(t *testing.T, trader mpc.KeyPair, mxe mpc.PublicKey, o mpc.Order) []byte {
	t.Helper()

	nonce, err := mpc.NewNonce(rand.Reader)
	require.NoError(t, err)
	sealed, err := mpc.SealOrder(trader, mxe, nonce, o)
	require.NoError(t, err)
	data, err := sealed.MarshalBinary()
	require.NoError(t, err)
	return data
}

func runCompute(t *testing.T, mxe mpc.KeyPair, req *protocol.ComputeRequest) *protocol.ComputeCallback {
	t.Helper()

	var buy, sell mpc.SealedOrder
	require.NoError(t, buy.UnmarshalBinary(req.BuyOrder))
	require.NoError(t, sell.UnmarshalBinary(req.SellOrder))

	result, err := mpc.MatchSealed(mxe, &buy, &sell, req.Nonce)
	require.NoError(t, err)

	cb := &protocol.ComputeCallback{
		Correlator: req.Correlator,
		Outcome:    protocol.ComputeSuccess,
		Nonce:      result.Nonce,
	}
	cb.Ciphertexts[0] = result.Matched
	cb.Ciphertexts[1] = result.FillPrice
	cb.Ciphertexts[2] = result.FillQuantity
	return cb
}

func abortCallback(correlator string) *protocol.ComputeCallback {
	return &protocol.ComputeCallback{
		Correlator: correlator,
		Outcome:    protocol.ComputeAborted,
		Reason:     "node failure",
	}
}

func eventTypes(events []*Event) []protocol.EventType {
	out := make([]protocol.EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}
