// Package identity resolves every inbound channel message to a Sovereign
// Identity before it is allowed anywhere near the COL pipeline. This is
// invariant I1: an InboundMessage with no resolvable sovereignId must never
// reach STOP.
package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cell0os/core/internal/cerr"
)

// Principal is one registered human behind zero or more channel identities.
type Principal struct {
	SovereignID string            `json:"sovereignId"`
	DisplayName string            `json:"displayName,omitempty"`
	Role        string            `json:"role,omitempty"` // "owner" | "trusted" | "guest"
	Handles     map[string]string `json:"handles"`         // channel -> sender id on that channel
}

// handleKey uniquely identifies one (channel, sender) pair.
func handleKey(channel, sender string) string {
	return channel + "\x00" + normalizeSender(sender)
}

// normalizeSender strips the compound "id|username" suffix channels like
// Telegram attach to senderID, matching on the stable id portion.
func normalizeSender(sender string) string {
	sender = strings.TrimPrefix(sender, "@")
	if idx := strings.IndexByte(sender, '|'); idx > 0 {
		return sender[:idx]
	}
	return sender
}

// Registry is the in-memory + on-disk allowlist mapping (channel, sender) to
// a SovereignID. Resolution happens here; the gateway ingress loop is what
// enforces I1 by dropping senders that do not resolve.
type Registry struct {
	mu         sync.RWMutex
	path       string
	principals map[string]*Principal // keyed by SovereignID
	handles    map[string]string     // handleKey -> SovereignID
}

// Load reads the allowlist from path, creating an empty registry if the
// file doesn't exist yet (first run, before any pairing has happened).
func Load(path string) (*Registry, error) {
	r := &Registry{
		path:       path,
		principals: make(map[string]*Principal),
		handles:    make(map[string]string),
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read identity allowlist: %w", err)
	}
	var list []*Principal
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse identity allowlist: %w", err)
	}
	for _, p := range list {
		r.index(p)
	}
	return r, nil
}

func (r *Registry) index(p *Principal) {
	r.principals[p.SovereignID] = p
	for channel, sender := range p.Handles {
		r.handles[handleKey(channel, sender)] = p.SovereignID
	}
}

// Resolve maps a (channel, sender) pair to its SovereignID. A miss returns a
// cerr.Unauthorized — callers (the gateway ingress path) must reject the
// message before it is handed to COL, never synthesize an identity.
func (r *Registry) Resolve(channel, sender string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.handles[handleKey(channel, sender)]
	if !ok {
		return "", cerr.New(cerr.Unauthorized, "identity.unresolved",
			"sender is not registered to any sovereign identity").
			WithDetails(map[string]any{"channel": channel})
	}
	return sid, nil
}

// Principal returns the full principal record for a resolved SovereignID.
func (r *Registry) Principal(sovereignID string) (*Principal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.principals[sovereignID]
	return p, ok
}

// IsOwner reports whether sovereignID has the "owner" role — the role
// permitted to run META-domain goals and admin-only HTTP endpoints.
func (r *Registry) IsOwner(sovereignID string) bool {
	p, ok := r.Principal(sovereignID)
	return ok && p.Role == "owner"
}

// Pair registers a new (channel, sender) handle under sovereignID, creating
// the principal if it doesn't already exist. Used by the pairing-code flow
// (DMPolicy "pairing").
func (r *Registry) Pair(sovereignID, displayName, role, channel, sender string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.principals[sovereignID]
	if !ok {
		p = &Principal{SovereignID: sovereignID, DisplayName: displayName, Role: role, Handles: map[string]string{}}
		r.principals[sovereignID] = p
	}
	if p.Role == "" {
		p.Role = role
	}
	p.Handles[channel] = sender
	r.handles[handleKey(channel, sender)] = sovereignID
	return r.persistLocked()
}

// Unpair removes one channel handle from a sovereign identity. The
// principal record itself is kept even with zero handles, so history
// (e.g. checkpoint attribution) still resolves by SovereignID.
func (r *Registry) Unpair(sovereignID, channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.principals[sovereignID]
	if !ok {
		return cerr.New(cerr.Validation, "identity.unknown", "no such sovereign identity")
	}
	if sender, ok := p.Handles[channel]; ok {
		delete(r.handles, handleKey(channel, sender))
		delete(p.Handles, channel)
	}
	return r.persistLocked()
}

func (r *Registry) persistLocked() error {
	if r.path == "" {
		return nil
	}
	list := make([]*Principal, 0, len(r.principals))
	for _, p := range r.principals {
		list = append(list, p)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(r.path, data, 0o600)
}

// Count returns the number of registered sovereign identities, used by
// the gateway to flag first run when it drops an unresolved sender.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.principals)
}
