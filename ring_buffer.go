package darkpool

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
)

// ErrRingBufferTimeout is returned when a RingBuffer does not drain before the shutdown deadline.
var ErrRingBufferTimeout = errors.New("ring buffer: shutdown timeout")

// BatchHandler consumes the entries of a RingBuffer in sequence order.
// batch is reused by the ring buffer once OnBatch returns and must not be retained.
type BatchHandler[T any] interface {
	OnBatch(batch []T)
}

type slot[T any] struct {
	seq   atomic.Int64
	value T
}

// RingBuffer is a multi-producer, single-consumer ring buffer.
//
// A Publish call claims consecutive sequences with a single CAS, so the entries of one
// call are never interleaved with another producer's. The consumer hands every run of
// written slots to the handler as one batch.
type RingBuffer[T any] struct {
	_        [56]byte
	claimed  atomic.Int64
	_        [56]byte
	consumed atomic.Int64
	_        [56]byte

	slots    []slot[T]
	mask     int64
	capacity int64
	batch    []T

	handler BatchHandler[T]

	closed atomic.Bool
	done   chan struct{}
}

// NewRingBuffer creates a RingBuffer. capacity must be a power of 2.
func NewRingBuffer[T any](capacity int64, handler BatchHandler[T]) *RingBuffer[T] {
	if capacity <= 0 || (capacity&(capacity-1)) != 0 {
		panic("size must be a power of 2")
	}

	rb := &RingBuffer[T]{
		slots:    make([]slot[T], capacity),
		mask:     capacity - 1,
		capacity: capacity,
		batch:    make([]T, 0, capacity),
		handler:  handler,
		done:     make(chan struct{}),
	}
	rb.claimed.Store(-1)
	rb.consumed.Store(-1)
	for i := range rb.slots {
		rb.slots[i].seq.Store(-1)
	}
	return rb
}

// Publish appends entries in order, blocking while the buffer is full. Entries published
// after Shutdown are dropped.
func (rb *RingBuffer[T]) Publish(entries ...T) {
	for len(entries) > 0 {
		if rb.closed.Load() {
			return
		}
		n := int64(len(entries))
		if n > rb.capacity {
			n = rb.capacity
		}
		first := rb.claim(n)
		for i := int64(0); i < n; i++ {
			s := &rb.slots[(first+i)&rb.mask]
			s.value = entries[i]
			s.seq.Store(first + i)
		}
		entries = entries[n:]
	}
}

// claim reserves n consecutive sequences and returns the first one.
func (rb *RingBuffer[T]) claim(n int64) int64 {
	for {
		current := rb.claimed.Load()
		last := current + n
		if last-rb.capacity > rb.consumed.Load() {
			runtime.Gosched()
			continue
		}
		if rb.claimed.CompareAndSwap(current, last) {
			return current + 1
		}
	}
}

// Start launches the consumer goroutine.
func (rb *RingBuffer[T]) Start() {
	go rb.consumerLoop()
}

// Shutdown stops accepting entries and waits until the consumer has handled every claimed slot.
func (rb *RingBuffer[T]) Shutdown(ctx context.Context) error {
	rb.closed.Store(true)

	select {
	case <-rb.done:
		return nil
	case <-ctx.Done():
		return ErrRingBufferTimeout
	}
}

func (rb *RingBuffer[T]) consumerLoop() {
	defer close(rb.done)

	next := rb.consumed.Load() + 1
	for {
		closed := rb.closed.Load()
		if n := rb.consumeBatch(next); n > 0 {
			next += n
			continue
		}
		if closed && next > rb.claimed.Load() {
			return
		}
		runtime.Gosched()
	}
}

// consumeBatch hands the written slots from next onwards to the handler and returns how
// many it consumed. A claimed slot that is not written yet ends the batch.
func (rb *RingBuffer[T]) consumeBatch(next int64) int64 {
	last := rb.claimed.Load()

	batch := rb.batch[:0]
	for seq := next; seq <= last; seq++ {
		s := &rb.slots[seq&rb.mask]
		if s.seq.Load() != seq {
			break
		}
		batch = append(batch, s.value)
	}
	if len(batch) == 0 {
		return 0
	}

	rb.handler.OnBatch(batch)

	var zero T
	for i := range batch {
		rb.slots[(next+int64(i))&rb.mask].value = zero
		batch[i] = zero
	}
	n := int64(len(batch))
	rb.consumed.Store(next + n - 1)
	return n
}

// ConsumerSequence returns the last consumed sequence.
func (rb *RingBuffer[T]) ConsumerSequence() int64 {
	return rb.consumed.Load()
}

// ProducerSequence returns the last claimed sequence.
func (rb *RingBuffer[T]) ProducerSequence() int64 {
	return rb.claimed.Load()
}

// Pending returns the number of claimed but unconsumed slots.
func (rb *RingBuffer[T]) Pending() int64 {
	return rb.claimed.Load() - rb.consumed.Load()
}
