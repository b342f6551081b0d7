// Package mesh dispatches COL-resolved intents across a pool of typed
// agents, grounded on the registry/dispatch shape of
// internal/channels/manager.go generalized from channels to agents:
// agents register a descriptor instead of a name, and dispatch picks one
// by routing strategy instead of always targeting the single owner.
package mesh

import (
	"context"
	"sync"
)

// State is an agent's position in the proposed → online → degraded →
// offline state machine (spec §4.5).
type State string

const (
	StateProposed State = "proposed"
	StateOnline   State = "online"
	StateDegraded State = "degraded"
	StateOffline  State = "offline"
)

// Descriptor is what an agent publishes on registration.
type Descriptor struct {
	ID           string
	Domain       string
	Capabilities map[string]int // capability name -> priority
	Priority     int
	Load         int
}

// Result is what an agent's Handle call returns.
type Result struct {
	Content    string
	ActualCost int
	Err        error
}

// Agent is a typed dispatch target. Handle receives a ContextToken that
// becomes invalid if the owning pipeline was superseded (fencing,
// spec §4.5); long-running handlers must check Token.Valid() at yield
// points and abort cooperatively.
type Agent interface {
	Descriptor() Descriptor
	Handle(ctx context.Context, intent HandleIntent, token *ContextToken, onChunk func(string)) Result
}

// HandleIntent is the subset of col.Intent the mesh needs, re-declared
// here (rather than importing internal/col) so the mesh has no
// dependency on the pipeline package — col depends on mesh's
// AgentDispatcher instead, avoiding an import cycle.
type HandleIntent struct {
	SovereignID     string
	Domain          string
	ConversationKey string
	Text            string
	PolicyProfile   string
}

// ContextToken is handed to an agent's Handle call and invalidated when
// the session's pipeline is superseded (e.g. a duplicate fingerprint
// resolved via a different leader, or a session reset).
type ContextToken struct {
	mu    sync.RWMutex
	valid bool
}

func newContextToken() *ContextToken {
	return &ContextToken{valid: true}
}

func (t *ContextToken) Valid() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.valid
}

func (t *ContextToken) Invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.valid = false
}
