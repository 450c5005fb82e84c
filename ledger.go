package darkpool

import (
	"encoding/binary"
	"fmt"

	"github.com/0x5487/darkpool/protocol"
	dbm "github.com/tendermint/tm-db"
)

// Ledger is the durable store of the pool configuration, orders, matching requests and
// trade executions. Reads go straight to the database; every write goes through a
// ledgerBatch so that one dark pool operation lands atomically or not at all.
//
// Ledger is not safe for concurrent writers. The DarkPool actor is its only writer.
type Ledger struct {
	db         dbm.DB
	serializer protocol.Serializer
}

// NewLedger wraps db. Records are encoded with the default JSON serializer.
func NewLedger(db dbm.DB) *Ledger {
	return &Ledger{db: db, serializer: &protocol.DefaultJSONSerializer{}}
}

// Pool returns the pool configuration, or ErrNotInitialized.
func (l *Ledger) Pool() (*PoolConfig, error) {
	pool := &PoolConfig{}
	found, err := l.get(poolKey(), pool)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotInitialized
	}
	return pool, nil
}

// Order returns the order with the given id, or ErrNotFound.
func (l *Ledger) Order(id string) (*Order, error) {
	order := &Order{}
	return order, l.mustGet(recordKey(prefixOrder, id), order)
}

// MatchingRequest returns the matching request with the given id, or ErrNotFound.
func (l *Ledger) MatchingRequest(id string) (*MatchingRequest, error) {
	req := &MatchingRequest{}
	return req, l.mustGet(recordKey(prefixMatching, id), req)
}

// TradeExecution returns the trade execution with the given id, or ErrNotFound.
func (l *Ledger) TradeExecution(id string) (*TradeExecution, error) {
	exec := &TradeExecution{}
	return exec, l.mustGet(recordKey(prefixExecution, id), exec)
}

// RequestByCorrelator resolves a compute correlator to its matching request, or ErrUnknownCorrelator.
func (l *Ledger) RequestByCorrelator(correlator string) (*MatchingRequest, error) {
	bz, err := l.db.Get(recordKey(prefixCorrelator, correlator))
	if err != nil {
		return nil, fmt.Errorf("ledger: get correlator: %w", err)
	}
	if len(bz) == 0 {
		return nil, ErrUnknownCorrelator
	}
	return l.MatchingRequest(string(bz))
}

// NextOrderSeq returns the sequence the next order of owner will be derived from.
func (l *Ledger) NextOrderSeq(owner string) (uint64, error) {
	return l.counter(recordKey(prefixOwnerSeq, owner))
}

// NextRequestSeq returns the sequence the next matching request of authority will be derived from.
func (l *Ledger) NextRequestSeq(authority string) (uint64, error) {
	return l.counter(recordKey(prefixAuthSeq, authority))
}

// PendingRequests returns every matching request still waiting for its compute callback.
func (l *Ledger) PendingRequests() ([]*MatchingRequest, error) {
	start, end := prefixRange(prefixKey(prefixMatching))
	it, err := l.db.Iterator(start, end)
	if err != nil {
		return nil, fmt.Errorf("ledger: iterate requests: %w", err)
	}
	defer it.Close()

	var pending []*MatchingRequest
	for ; it.Valid(); it.Next() {
		req := &MatchingRequest{}
		if err := l.serializer.Unmarshal(it.Value(), req); err != nil {
			return nil, fmt.Errorf("ledger: decode request: %w", err)
		}
		if req.Status == protocol.MatchingStatusPending {
			pending = append(pending, req)
		}
	}
	return pending, it.Error()
}

func (l *Ledger) counter(key []byte) (uint64, error) {
	bz, err := l.db.Get(key)
	if err != nil {
		return 0, fmt.Errorf("ledger: get counter: %w", err)
	}
	if len(bz) == 0 {
		return 0, nil
	}
	return binary.BigEndian.Uint64(bz), nil
}

func (l *Ledger) get(key []byte, v any) (bool, error) {
	bz, err := l.db.Get(key)
	if err != nil {
		return false, fmt.Errorf("ledger: get: %w", err)
	}
	if len(bz) == 0 {
		return false, nil
	}
	if err := l.serializer.Unmarshal(bz, v); err != nil {
		return false, fmt.Errorf("ledger: decode: %w", err)
	}
	return true, nil
}

func (l *Ledger) mustGet(key []byte, v any) error {
	found, err := l.get(key, v)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// ledgerBatch collects the writes of one operation. Encoding errors are kept and
// reported by commit, so callers can queue writes without checking each one.
type ledgerBatch struct {
	ledger *Ledger
	batch  dbm.Batch
	err    error
}

func (l *Ledger) newBatch() *ledgerBatch {
	return &ledgerBatch{ledger: l, batch: l.db.NewBatch()}
}

func (b *ledgerBatch) put(key []byte, v any) {
	if b.err != nil {
		return
	}
	bz, err := b.ledger.serializer.Marshal(v)
	if err != nil {
		b.err = fmt.Errorf("ledger: encode: %w", err)
		return
	}
	b.set(key, bz)
}

func (b *ledgerBatch) set(key, value []byte) {
	if b.err != nil {
		return
	}
	if err := b.batch.Set(key, value); err != nil {
		b.err = fmt.Errorf("ledger: batch set: %w", err)
	}
}

func (b *ledgerBatch) putPool(pool *PoolConfig) { b.put(poolKey(), pool) }

func (b *ledgerBatch) putOrder(order *Order) { b.put(recordKey(prefixOrder, order.ID), order) }

func (b *ledgerBatch) putExecution(exec *TradeExecution) {
	b.put(recordKey(prefixExecution, exec.ID), exec)
}

func (b *ledgerBatch) putRequest(req *MatchingRequest) {
	b.put(recordKey(prefixMatching, req.ID), req)
	b.set(recordKey(prefixCorrelator, req.ComputeRequestID), []byte(req.ID))
}

func (b *ledgerBatch) putOrderSeq(owner string, next uint64) {
	b.set(recordKey(prefixOwnerSeq, owner), encodeCounter(next))
}

func (b *ledgerBatch) putRequestSeq(authority string, next uint64) {
	b.set(recordKey(prefixAuthSeq, authority), encodeCounter(next))
}

// commit writes the batch durably. Nothing is written if any queued write failed.
func (b *ledgerBatch) commit() error {
	defer b.batch.Close()

	if b.err != nil {
		return b.err
	}
	if err := b.batch.WriteSync(); err != nil {
		return fmt.Errorf("ledger: commit: %w", err)
	}
	return nil
}

// discard releases the batch without writing it.
func (b *ledgerBatch) discard() {
	_ = b.batch.Close()
}

func encodeCounter(v uint64) []byte {
	bz := make([]byte, 8)
	binary.BigEndian.PutUint64(bz, v)
	return bz
}

// prefixRange returns the iterator bounds covering every key that starts with prefix.
func prefixRange(prefix []byte) ([]byte, []byte) {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return prefix, end[:i+1]
		}
	}
	return prefix, nil
}
