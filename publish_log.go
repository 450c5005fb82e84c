package darkpool

import (
	"context"
	"log/slog"
	"sync"

	"github.com/0x5487/darkpool/protocol"
)

// PublishLog is an interface for publishing dark pool events to off-chain observers.
//
// Publish is called from the DarkPool actor after the operation that produced the events
// has committed. Implementations must not block for long; use AsyncPublishLog to move slow
// sinks off the actor.
type PublishLog interface {
	Publish(...*Event)
}

// MemoryPublishLog stores events in memory, useful for testing.
type MemoryPublishLog struct {
	mu     sync.RWMutex
	Events []*Event
}

// NewMemoryPublishLog creates a new MemoryPublishLog.
func NewMemoryPublishLog() *MemoryPublishLog {
	return &MemoryPublishLog{
		Events: make([]*Event, 0),
	}
}

// Publish appends events to the in-memory slice.
func (m *MemoryPublishLog) Publish(events ...*Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, event := range events {
		cpy := new(Event)
		*cpy = *event
		m.Events = append(m.Events, cpy)
	}
}

// Count returns the number of events stored.
func (m *MemoryPublishLog) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.Events)
}

// Get returns the event at the specified index.
func (m *MemoryPublishLog) Get(index int) *Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.Events[index]
}

// Logs returns a copy of all events stored.
func (m *MemoryPublishLog) Logs() []*Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*Event, len(m.Events))
	copy(events, m.Events)
	return events
}

// DiscardPublishLog discards all events, useful for benchmarking.
type DiscardPublishLog struct {
}

// NewDiscardPublishLog creates a new DiscardPublishLog.
func NewDiscardPublishLog() *DiscardPublishLog {
	return &DiscardPublishLog{}
}

// Publish does nothing.
func (p *DiscardPublishLog) Publish(events ...*Event) {

}

// LogPublishLog writes every event to a structured logger.
type LogPublishLog struct {
	logger *slog.Logger
}

// NewLogPublishLog creates a LogPublishLog writing to l.
func NewLogPublishLog(l *slog.Logger) *LogPublishLog {
	return &LogPublishLog{logger: l}
}

// Publish logs each event at info level.
func (p *LogPublishLog) Publish(events ...*Event) {
	for _, e := range events {
		attrs := []any{"id", e.ID, "seq_id", e.SequenceID, "type", string(e.Type)}
		if e.OrderID != "" {
			attrs = append(attrs, "order_id", e.OrderID, "owner", e.Owner)
		}
		if e.RequestID != "" {
			attrs = append(attrs, "request_id", e.RequestID)
		}
		if e.ExecutionID != "" {
			attrs = append(attrs, "execution_id", e.ExecutionID)
		}
		if e.Type == protocol.EventTradeSettled {
			attrs = append(attrs, "amount", e.Amount, "fee", e.Fee)
		}
		if e.Reason != "" {
			attrs = append(attrs, "reason", e.Reason)
		}
		p.logger.Info("dark pool event", attrs...)
	}
}

// MultiPublishLog forwards every event to each of its logs in turn.
type MultiPublishLog []PublishLog

// Publish forwards events to every log.
func (m MultiPublishLog) Publish(events ...*Event) {
	for _, p := range m {
		p.Publish(events...)
	}
}

// AsyncPublishLog hands events to a ring buffer and forwards them to next from a single
// consumer goroutine, preserving publish order. Events that queue up while next is busy are
// forwarded together in one Publish call.
type AsyncPublishLog struct {
	rb *RingBuffer[*Event]
}

type forwardHandler struct {
	next PublishLog
}

func (h forwardHandler) OnBatch(events []*Event) {
	h.next.Publish(events...)
}

// NewAsyncPublishLog creates and starts an AsyncPublishLog. capacity must be a power of 2.
func NewAsyncPublishLog(capacity int64, next PublishLog) *AsyncPublishLog {
	rb := NewRingBuffer[*Event](capacity, forwardHandler{next: next})
	rb.Start()
	return &AsyncPublishLog{rb: rb}
}

// Publish enqueues events. It blocks only while the ring buffer is full.
func (a *AsyncPublishLog) Publish(events ...*Event) {
	a.rb.Publish(events...)
}

// Pending returns the number of events not yet forwarded.
func (a *AsyncPublishLog) Pending() int64 {
	return a.rb.Pending()
}

// Shutdown stops accepting events and waits until every accepted event has been forwarded.
func (a *AsyncPublishLog) Shutdown(ctx context.Context) error {
	return a.rb.Shutdown(ctx)
}
