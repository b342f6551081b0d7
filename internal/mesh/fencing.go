package mesh

import "sync"

// Fence issues and invalidates ContextTokens per session, implementing
// spec §4.5's fencing contract: a session's in-flight Handle call must
// observe its token going invalid once the pipeline has been superseded
// (a new leader took over the same fingerprint, or the session reset).
type Fence struct {
	mu     sync.Mutex
	tokens map[string]*ContextToken // sessionKey -> current token
}

func NewFence() *Fence {
	return &Fence{tokens: make(map[string]*ContextToken)}
}

// Issue creates a new token for sessionKey, invalidating whatever token
// was previously outstanding for it.
func (f *Fence) Issue(sessionKey string) *ContextToken {
	f.mu.Lock()
	defer f.mu.Unlock()
	if prev, ok := f.tokens[sessionKey]; ok {
		prev.Invalidate()
	}
	tok := newContextToken()
	f.tokens[sessionKey] = tok
	return tok
}

// Supersede invalidates the current token for sessionKey without
// issuing a new one (session reset/close).
func (f *Fence) Supersede(sessionKey string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tok, ok := f.tokens[sessionKey]; ok {
		tok.Invalidate()
		delete(f.tokens, sessionKey)
	}
}
