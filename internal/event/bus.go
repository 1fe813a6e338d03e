package event

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/arbiter/internal/logging"
)

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 256

// Handler is called for every message emitted on any contract.
type Handler func(Message)

type handlerEntry struct {
	id      string
	handler Handler
}

// stream is the history and live subscribers of one contract.
type stream struct {
	mu       sync.Mutex
	messages []Message
	subs     map[uint64]*Subscription
	seq      uint64
	last     time.Time
	removed  bool
}

// Bus is a per-contract append-only message log with pub-sub fan-out.
//
// Emission never blocks on subscribers: each subscription owns a bounded
// buffer and the oldest pending message is dropped when it is full.
// Messages of one contract reach each subscriber in emission order.
// Streams of different contracts are independent.
type Bus struct {
	mu       sync.RWMutex
	streams  map[string]*stream
	handlers []handlerEntry
	nextID   atomic.Uint64

	bufferSize int
	now        func() time.Time
	logger     *logging.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithBufferSize sets the per-subscriber buffer capacity.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithClock overrides the time source used for timestamps and cleanup.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// WithLogger sets the logger used to report handler panics and cleanup.
func WithLogger(l *logging.Logger) Option {
	return func(b *Bus) { b.logger = logging.OrNop(l) }
}

// NewBus creates a new event bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		streams:    make(map[string]*stream),
		bufferSize: DefaultBufferSize,
		now:        time.Now,
		logger:     logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// stream returns the stream for contractID, creating it on first use.
func (b *Bus) stream(contractID string) *stream {
	b.mu.RLock()
	s, ok := b.streams[contractID]
	b.mu.RUnlock()
	if ok {
		return s
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok = b.streams[contractID]; ok {
		return s
	}
	s = &stream{subs: make(map[uint64]*Subscription)}
	b.streams[contractID] = s
	return s
}

// Emit appends msg to its contract's history and delivers it to current
// subscribers. Missing ID and timestamp are filled in; timestamps never go
// backwards within a contract. The stored message is returned.
func (b *Bus) Emit(msg Message) Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Metadata.Timestamp.IsZero() {
		msg.Metadata.Timestamp = b.now()
	}

	for {
		s := b.stream(msg.ContractID)
		s.mu.Lock()
		if s.removed {
			// Lost a race with Cleanup; the next lookup creates a fresh stream.
			s.mu.Unlock()
			continue
		}
		if msg.Metadata.Timestamp.Before(s.last) {
			msg.Metadata.Timestamp = s.last
		}
		s.seq++
		msg.Seq = s.seq
		s.last = msg.Metadata.Timestamp
		s.messages = append(s.messages, msg)
		for _, sub := range s.subs {
			sub.deliver(msg)
		}
		s.mu.Unlock()
		break
	}

	b.mu.RLock()
	handlers := make([]handlerEntry, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.safeCall(h.handler, msg)
	}
	return msg
}

// safeCall invokes a handler and recovers from any panics so one
// misbehaving handler cannot block delivery to the others.
func (b *Bus) safeCall(handler Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"contract_id", msg.ContractID,
				"message_type", string(msg.MessageType),
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	handler(msg)
}

// Subscribe returns a live subscription to contractID's future messages.
func (b *Bus) Subscribe(contractID string) *Subscription {
	_, sub := b.subscribe(contractID, false)
	return sub
}

// SubscribeWithHistory atomically snapshots contractID's history and
// subscribes, so no message falls between the two.
func (b *Bus) SubscribeWithHistory(contractID string) ([]Message, *Subscription) {
	return b.subscribe(contractID, true)
}

func (b *Bus) subscribe(contractID string, withHistory bool) ([]Message, *Subscription) {
	sub := &Subscription{
		id:         b.nextID.Add(1),
		contractID: contractID,
		ch:         make(chan Message, b.bufferSize),
		bus:        b,
	}

	for {
		s := b.stream(contractID)
		s.mu.Lock()
		if s.removed {
			s.mu.Unlock()
			continue
		}
		var history []Message
		if withHistory {
			history = make([]Message, len(s.messages))
			copy(history, s.messages)
		}
		s.subs[sub.id] = sub
		s.mu.Unlock()
		return history, sub
	}
}

// SubscribeAll registers a handler called synchronously for every message on
// every contract, after subscriber delivery. It returns an id for Unsubscribe.
func (b *Bus) SubscribeAll(handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	b.handlers = append(b.handlers, handlerEntry{id: id, handler: handler})
	return id
}

// Unsubscribe removes a SubscribeAll handler. It reports whether the id was found.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, h := range b.handlers {
		if h.id == id {
			b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
			return true
		}
	}
	return false
}

// History returns a copy of contractID's messages in emission order.
func (b *Bus) History(contractID string) []Message {
	b.mu.RLock()
	s, ok := b.streams[contractID]
	b.mu.RUnlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Contracts returns the ids of contracts with a live stream.
func (b *Bus) Contracts() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.streams))
	for id := range b.streams {
		ids = append(ids, id)
	}
	return ids
}

// Cleanup deletes the history of every contract whose last message is older
// than maxAge. Streams with live subscribers keep their subscribers and only
// lose their history. It returns the number of histories deleted.
func (b *Bus) Cleanup(maxAge time.Duration) int {
	cutoff := b.now().Add(-maxAge)

	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for id, s := range b.streams {
		s.mu.Lock()
		if s.last.IsZero() || !s.last.Before(cutoff) || len(s.messages) == 0 {
			s.mu.Unlock()
			continue
		}
		s.messages = nil
		if len(s.subs) == 0 {
			s.removed = true
			delete(b.streams, id)
		}
		s.mu.Unlock()
		removed++
	}
	return removed
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (b *Bus) RunCleanup(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 || maxAge <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := b.Cleanup(maxAge); n > 0 {
				b.logger.Debug("event histories cleaned up", "removed", n, "max_age", maxAge.String())
			}
		}
	}
}

// SubscriptionCount returns the number of live channel subscriptions plus
// SubscribeAll handlers.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := len(b.handlers)
	for _, s := range b.streams {
		s.mu.Lock()
		count += len(s.subs)
		s.mu.Unlock()
	}
	return count
}

// Subscription is a live, ordered feed of one contract's messages.
type Subscription struct {
	id         uint64
	contractID string
	ch         chan Message
	bus        *Bus
	dropped    atomic.Uint64
	closeOnce  sync.Once
}

// C returns the channel messages are delivered on. It is closed by Close.
func (s *Subscription) C() <-chan Message {
	return s.ch
}

// ContractID returns the contract this subscription follows.
func (s *Subscription) ContractID() string {
	return s.contractID
}

// Dropped returns how many messages were discarded because the buffer was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// deliver enqueues msg without blocking, evicting the oldest pending message
// when the buffer is full. Callers hold the stream lock, so there is a single
// sender per subscription at a time.
func (s *Subscription) deliver(msg Message) {
	select {
	case s.ch <- msg:
		return
	default:
	}

	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}

	select {
	case s.ch <- msg:
	default:
		s.dropped.Add(1)
	}
}

// Close detaches the subscription and closes its channel. It is safe to call
// more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		b := s.bus
		b.mu.RLock()
		st, ok := b.streams[s.contractID]
		b.mu.RUnlock()

		if ok {
			st.mu.Lock()
			delete(st.subs, s.id)
			close(s.ch)
			st.mu.Unlock()
			return
		}
		close(s.ch)
	})
}
