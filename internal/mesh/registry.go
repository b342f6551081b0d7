package mesh

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// registeredAgent pairs an Agent with its live state and last-known
// descriptor (refreshed by health pings, not necessarily every Handle).
type registeredAgent struct {
	agent Agent
	state State
	desc  Descriptor
}

// Registry tracks every agent by domain and services routing lookups.
// Duplicates in the same domain are allowed and all participate in
// routing (spec §4.5 registration).
type Registry struct {
	mu     sync.RWMutex
	byDomain map[string][]*registeredAgent
	byID     map[string]*registeredAgent

	// descriptorCache holds a bounded copy of descriptors, updated on
	// Register, UpdateLoad and Unregister. Routing does not read it: the
	// strategies scan the registered entries' descriptors directly.
	descriptorCache *lru.Cache[string, Descriptor]
}

func NewRegistry(descriptorCacheSize int) *Registry {
	if descriptorCacheSize <= 0 {
		descriptorCacheSize = 512
	}
	cache, _ := lru.New[string, Descriptor](descriptorCacheSize)
	return &Registry{
		byDomain:        make(map[string][]*registeredAgent),
		byID:            make(map[string]*registeredAgent),
		descriptorCache: cache,
	}
}

// Register adds an agent in proposed state; call SetState(id, StateOnline)
// once its first health ping succeeds.
func (r *Registry) Register(a Agent) {
	desc := a.Descriptor()
	entry := &registeredAgent{agent: a, state: StateProposed, desc: desc}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byDomain[desc.Domain] = append(r.byDomain[desc.Domain], entry)
	r.byID[desc.ID] = entry
	r.descriptorCache.Add(desc.ID, desc)
}

// Unregister removes an agent entirely (process shutdown).
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	r.descriptorCache.Remove(id)
	list := r.byDomain[entry.desc.Domain]
	for i, e := range list {
		if e.desc.ID == id {
			r.byDomain[entry.desc.Domain] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// SetState transitions an agent's health state (health pings drive this).
func (r *Registry) SetState(id string, state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.byID[id]; ok {
		entry.state = state
	}
}

// UpdateLoad refreshes an agent's reported load for least_loaded routing.
func (r *Registry) UpdateLoad(id string, load int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.byID[id]; ok {
		entry.desc.Load = load
		r.descriptorCache.Add(id, entry.desc)
	}
}

// Routable returns every online or degraded agent in a domain. Offline
// agents are excluded entirely (spec §4.5).
func (r *Registry) Routable(domain string) []*registeredAgent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*registeredAgent
	for _, e := range r.byDomain[domain] {
		if e.state == StateOnline || e.state == StateDegraded {
			out = append(out, e)
		}
	}
	return out
}

func (r *Registry) ByID(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return e.agent, true
}
