package mesh

import "sync"

// PubSub implements the mesh's publish/subscribe, multicast, and
// broadcast messaging primitives (spec §4.5).
type PubSub struct {
	mu     sync.RWMutex
	topics map[string][]func(event any)
}

func NewPubSub() *PubSub {
	return &PubSub{topics: make(map[string][]func(event any))}
}

func (p *PubSub) Subscribe(topic string, handler func(event any)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics[topic] = append(p.topics[topic], handler)
}

func (p *PubSub) Publish(topic string, event any) {
	p.mu.RLock()
	handlers := append([]func(any){}, p.topics[topic]...)
	p.mu.RUnlock()
	for _, h := range handlers {
		h(event)
	}
}

// Multicast fans an event out to every agent in a named group.
func (p *PubSub) Multicast(registry *Registry, groupID string, event any) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	for _, e := range registry.byDomain[groupID] {
		if e.state == StateOnline || e.state == StateDegraded {
			go dispatchEvent(e.agent, event)
		}
	}
}

// Broadcast fans an event out to every agent in a domain (group = domain).
func (p *PubSub) Broadcast(registry *Registry, domain string, event any) {
	for _, e := range registry.Routable(domain) {
		go dispatchEvent(e.agent, event)
	}
}

// dispatchEvent is a best-effort notify-only call; agents that want to
// react to broadcast events implement EventReceiver.
func dispatchEvent(a Agent, event any) {
	if receiver, ok := a.(EventReceiver); ok {
		receiver.OnEvent(event)
	}
}

// EventReceiver is optionally implemented by agents that want to observe
// multicast/broadcast traffic outside the normal Handle dispatch path.
type EventReceiver interface {
	OnEvent(event any)
}
