package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cell0os/core/pkg/protocol"
)

// EventPublisher is the subscribe/broadcast contract the gateway and the
// rest of the core depend on, matching spec §4.3.
type EventPublisher interface {
	Subscribe(id string, kinds []string, handler func(protocol.EventFrame)) *Subscriber
	Unsubscribe(id string)
	Publish(kind string, payload any)
}

// Subscriber tracks one WS client's filter + drop counter.
type Subscriber struct {
	ID         string
	kinds      map[string]bool // empty = all kinds
	handler    func(protocol.EventFrame)
	mu         sync.Mutex
	dropCount  int
	queue      chan protocol.EventFrame
	closed     chan struct{}
}

func (s *Subscriber) wantsKind(kind string) bool {
	if len(s.kinds) == 0 {
		return true
	}
	return s.kinds[kind]
}

// EventBus is the in-process pub/sub hub backing the /events WebSocket
// stream (C9). It keeps a bounded replay ring buffer and never blocks the
// producer: a subscriber that can't drain fast enough silently drops its
// oldest queued events and is told so via one `log` event with the
// running drop count.
type EventBus struct {
	mu          sync.RWMutex
	subs        map[string]*Subscriber
	ring        []protocol.EventFrame
	ringSize    int
	ringPos     int
	ringFilled  bool
	queueDepth  int
	now         func() time.Time
}

// NewEventBus creates a bus with a replay buffer of ringSize events and a
// per-subscriber outbound queue depth of queueDepth before drops begin.
func NewEventBus(ringSize, queueDepth int) *EventBus {
	if ringSize <= 0 {
		ringSize = 256
	}
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &EventBus{
		subs:       make(map[string]*Subscriber),
		ring:       make([]protocol.EventFrame, ringSize),
		ringSize:   ringSize,
		queueDepth: queueDepth,
		now:        time.Now,
	}
}

// Subscribe registers a new client. kinds is the filter (nil/empty = all
// kinds); the new subscriber immediately receives a bounded replay of the
// ring buffer, oldest first.
func (b *EventBus) Subscribe(id string, kinds []string, handler func(protocol.EventFrame)) *Subscriber {
	b.mu.Lock()
	sub := &Subscriber{
		ID:      id,
		handler: handler,
		queue:   make(chan protocol.EventFrame, b.queueDepth),
		closed:  make(chan struct{}),
	}
	if len(kinds) > 0 {
		sub.kinds = make(map[string]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}
	b.subs[id] = sub
	replay := b.replaySnapshot()
	b.mu.Unlock()

	go sub.drain()

	for _, e := range replay {
		if sub.wantsKind(e.Kind) {
			sub.enqueue(e)
		}
	}
	return sub
}

// Unsubscribe removes a client and stops its drain goroutine.
func (b *EventBus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		close(sub.closed)
	}
}

// Publish appends to the replay ring and fans out to every matching
// subscriber without blocking on any single slow client.
func (b *EventBus) Publish(kind string, payload any) {
	frame := protocol.EventFrame{Kind: kind, TS: b.now().UnixMilli(), Payload: payload}

	b.mu.Lock()
	b.ring[b.ringPos] = frame
	b.ringPos = (b.ringPos + 1) % b.ringSize
	if b.ringPos == 0 {
		b.ringFilled = true
	}
	subs := make([]*Subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		if s.wantsKind(frame.Kind) {
			s.enqueue(frame)
		}
	}
}

// replaySnapshot returns the ring buffer contents in chronological order.
// Caller must hold b.mu.
func (b *EventBus) replaySnapshot() []protocol.EventFrame {
	if !b.ringFilled {
		out := make([]protocol.EventFrame, b.ringPos)
		copy(out, b.ring[:b.ringPos])
		return out
	}
	out := make([]protocol.EventFrame, b.ringSize)
	copy(out, b.ring[b.ringPos:])
	copy(out[b.ringSize-b.ringPos:], b.ring[:b.ringPos])
	return out
}

// enqueue never blocks: on a full queue it drops the oldest buffered
// events (room for f plus the notice) and emits one `log` event noting
// the running drop count.
func (s *Subscriber) enqueue(f protocol.EventFrame) {
	select {
	case s.queue <- f:
		return
	default:
	}
	s.mu.Lock()
	// Drop the two oldest queued frames: one slot for f, one for the notice.
	for i := 0; i < 2; i++ {
		select {
		case <-s.queue:
			s.dropCount++
		default:
		}
	}
	drop := s.dropCount
	s.mu.Unlock()

	select {
	case s.queue <- f:
	default:
	}

	// Best-effort notice; never block on this either.
	select {
	case s.queue <- protocol.EventFrame{Kind: protocol.EventLog, TS: time.Now().UnixMilli(), Payload: map[string]any{
		"level": "warn", "message": "client too slow, dropping oldest buffered events", "drop_count": drop,
	}}:
	default:
	}
}

func (s *Subscriber) drain() {
	for {
		select {
		case <-s.closed:
			return
		case f := <-s.queue:
			s.handler(f)
		}
	}
}

// StartHeartbeat emits a heartbeat event every interval until stop is
// closed. The bus never disconnects a subscriber (it has no notion of
// client liveness beyond queue draining); the gateway drops a WS client
// only when its pong read deadline expires.
func (b *EventBus) StartHeartbeat(stop <-chan struct{}, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	t := time.NewTicker(interval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				b.Publish(protocol.EventHeartbeat, map[string]any{"ts": b.now().UnixMilli()})
			}
		}
	}()
	slog.Debug("event bus heartbeat started", "interval", interval)
}
