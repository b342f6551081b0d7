package mesh

import (
	"math/rand"
	"sync"
)

// Strategy selects one agent from a routable set. Default is
// least_loaded, with ties on load broken by the higher descriptor
// Priority (spec §4.5).
type Strategy string

const (
	LeastLoaded        Strategy = "least_loaded"
	CapabilityPriority Strategy = "capability_priority"
	RoundRobin         Strategy = "round_robin"
	Random             Strategy = "random"
	Sticky             Strategy = "sticky"
	Broadcast          Strategy = "broadcast"
)

// Router selects a routing target given a domain's routable agents.
type Router struct {
	mu          sync.Mutex
	roundRobinI map[string]int          // domain -> next index
	affinity    map[string]string       // sessionKey -> agentID, for sticky
}

func NewRouter() *Router {
	return &Router{
		roundRobinI: make(map[string]int),
		affinity:    make(map[string]string),
	}
}

// Select picks one agent for the given strategy. capability, when
// non-empty, is used as the tiebreak key for capability_priority.
// sessionKey is used for sticky affinity. Returns nil if candidates is
// empty.
func (r *Router) Select(strategy Strategy, domain, capability, sessionKey string, candidates []*registeredAgent) *registeredAgent {
	if len(candidates) == 0 {
		return nil
	}
	switch strategy {
	case CapabilityPriority:
		return selectCapabilityPriority(candidates, capability)
	case RoundRobin:
		return r.selectRoundRobin(domain, candidates)
	case Random:
		return candidates[rand.Intn(len(candidates))]
	case Sticky:
		return r.selectSticky(sessionKey, candidates)
	case Broadcast:
		// Broadcast is handled by the caller (dispatch to all); Select
		// returns the first candidate as a representative leader.
		return candidates[0]
	default: // LeastLoaded
		return selectLeastLoaded(candidates)
	}
}

func selectLeastLoaded(candidates []*registeredAgent) *registeredAgent {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.desc.Load < best.desc.Load ||
			(c.desc.Load == best.desc.Load && c.desc.Priority > best.desc.Priority) {
			best = c
		}
	}
	return best
}

func selectCapabilityPriority(candidates []*registeredAgent, capability string) *registeredAgent {
	best := candidates[0]
	bestPriority := best.desc.Capabilities[capability]
	for _, c := range candidates[1:] {
		p := c.desc.Capabilities[capability]
		if p > bestPriority || (p == bestPriority && c.desc.Load < best.desc.Load) {
			best = c
			bestPriority = p
		}
	}
	return best
}

func (r *Router) selectRoundRobin(domain string, candidates []*registeredAgent) *registeredAgent {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.roundRobinI[domain] % len(candidates)
	r.roundRobinI[domain] = i + 1
	return candidates[i]
}

func (r *Router) selectSticky(sessionKey string, candidates []*registeredAgent) *registeredAgent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.affinity[sessionKey]; ok {
		for _, c := range candidates {
			if c.desc.ID == id {
				return c
			}
		}
	}
	chosen := selectLeastLoaded(candidates)
	r.affinity[sessionKey] = chosen.desc.ID
	return chosen
}

// ClearAffinity drops a session's sticky binding (session close or reset).
func (r *Router) ClearAffinity(sessionKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.affinity, sessionKey)
}
