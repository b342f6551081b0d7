package bus

import (
	"context"
	"sync"
)

// MessageBus is the concrete in-process MessageRouter: channel adapters
// publish InboundMessage onto it, the COL pipeline consumes and eventually
// publishes OutboundMessage back, and the owning channel adapter delivers it
// (I7: only the adapter that owns a channel may speak on it).
type MessageBus struct {
	mu       sync.RWMutex
	inbound  chan InboundMessage
	outSubs  map[string][]func(OutboundMessage)
}

// NewMessageBus creates a bus with the given inbound buffer depth.
func NewMessageBus(inboundBuffer int) *MessageBus {
	if inboundBuffer <= 0 {
		inboundBuffer = 256
	}
	return &MessageBus{
		inbound: make(chan InboundMessage, inboundBuffer),
		outSubs: make(map[string][]func(OutboundMessage)),
	}
}

// PublishInbound enqueues a normalized inbound message. Blocks only if the
// inbound buffer is saturated, which signals the COL pipeline is falling
// behind — deliberately back-pressures the channel adapters rather than
// dropping messages.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	b.inbound <- msg
}

// ConsumeInbound blocks until a message is available or ctx is done.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case m := <-b.inbound:
		return m, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// Inbound exposes the raw channel for select-loop composition (e.g. with
// context cancellation and shutdown signals together).
func (b *MessageBus) Inbound() <-chan InboundMessage {
	return b.inbound
}

// PublishOutbound delivers msg to every handler subscribed to msg.Channel.
// Channel adapters subscribe exactly once for the channel they own.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	b.mu.RLock()
	handlers := append([]func(OutboundMessage){}, b.outSubs[msg.Channel]...)
	b.mu.RUnlock()
	for _, h := range handlers {
		h(msg)
	}
}

// SubscribeOutbound registers handler to receive every OutboundMessage
// addressed to channel.
func (b *MessageBus) SubscribeOutbound(channel string, handler func(OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outSubs[channel] = append(b.outSubs[channel], handler)
}
