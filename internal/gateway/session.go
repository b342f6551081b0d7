// Package gateway owns the HTTP/WebSocket surface spec §6 describes: the
// single process every channel adapter, the CLI, and the web portal speak
// to. The Gateway is also the exclusive owner of Session state (spec §3)
// and the enforcement point for I1 — an unresolved sender's message is
// routed to pairing here, never handed to col.Pipeline.Run.
package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cell0os/core/internal/col"
)

// LogEntry is one line of a session's running conversation log.
type LogEntry struct {
	Role    string    `json:"role"` // "user" | "assistant" | "system"
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Session is the composite (sovereignId, domain, conversationKey) unit of
// state the Gateway tracks across every channel and the web portal alike.
// It satisfies col.SessionStore.
type Session struct {
	Key             string `json:"key"`
	SovereignID     string `json:"sovereignId"`
	Domain          string `json:"domain"`
	ConversationKey string `json:"conversationKey"`
	Channel         string `json:"channel,omitempty"`

	Log []LogEntry `json:"log"`

	ActiveAgentIDs   []string `json:"activeAgentIds,omitempty"`
	LastCheckpointID string   `json:"lastCheckpointId,omitempty"`
	PolicyProfile    string   `json:"policyProfile,omitempty"`
	Taint            string   `json:"taint,omitempty"` // non-empty once any LOAD resolved a destructive op, sticky for the session's lifetime

	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`

	// results caches terminal PipelineResults by operationId so a retried
	// STOP fingerprint (same content, same session, after the original
	// already completed) returns the prior result instead of re-running
	// EXECUTE — the idempotency half of I3 that the in-flight coalescer
	// alone can't provide once the first call has already returned.
	results map[string]col.PipelineResult
}

func newSession(sovereignID, domain, conversationKey, channel string) *Session {
	now := time.Now().UTC()
	return &Session{
		Key:             col.SessionKey(sovereignID, domain, conversationKey),
		SovereignID:     sovereignID,
		Domain:          domain,
		ConversationKey: conversationKey,
		Channel:         channel,
		Created:         now,
		Updated:         now,
		results:         make(map[string]col.PipelineResult),
	}
}

// SessionManager holds every live Session in memory, compacted by a
// token-bounded log tail rather than the teacher's plain message-count
// truncate, and persisted only through the Gateway's optional
// SessionFlusher on a flush interval the Gateway drives.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	maxLogTokens int
	estimate     func(string) int // token estimator, internal/tokenbudget.Estimator.Estimate
}

// NewSessionManager creates an empty, in-memory session table.
// maxLogTokens bounds AppendLog's per-session log tail (0 disables
// compaction); estimate should be internal/tokenbudget.Estimator.Estimate.
func NewSessionManager(maxLogTokens int, estimate func(string) int) *SessionManager {
	if estimate == nil {
		estimate = func(s string) int { return len(s)/4 + 1 }
	}
	return &SessionManager{
		sessions:     make(map[string]*Session),
		maxLogTokens: maxLogTokens,
		estimate:     estimate,
	}
}

// GetOrCreate returns the existing Session for the composite key or
// creates a fresh one.
func (m *SessionManager) GetOrCreate(sovereignID, domain, conversationKey, channel string) *Session {
	key := col.SessionKey(sovereignID, domain, conversationKey)
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		return s
	}
	s := newSession(sovereignID, domain, conversationKey, channel)
	m.sessions[key] = s
	return s
}

// Get returns the Session for key, if any.
func (m *SessionManager) Get(key string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	return s, ok
}

// AppendLog implements col.SessionStore: it records one log line and
// compacts the tail to stay within maxLogTokens, dropping the oldest
// entries first — generalizing the teacher's TruncateHistory (which
// truncates by message count) to a token budget, since LOAD's
// MemoryContext slice is itself token-bounded.
func (m *SessionManager) AppendLog(sessionKey, role, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionKey]
	if !ok {
		return
	}
	s.Log = append(s.Log, LogEntry{Role: role, Content: content, At: time.Now().UTC()})
	s.Updated = time.Now().UTC()
	if m.maxLogTokens <= 0 {
		return
	}
	total := 0
	cut := len(s.Log)
	for i := len(s.Log) - 1; i >= 0; i-- {
		total += m.estimate(s.Log[i].Content)
		if total > m.maxLogTokens {
			cut = i + 1
			break
		}
		cut = i
	}
	if cut > 0 {
		s.Log = s.Log[cut:]
	}
}

// RecordResult implements col.SessionStore: it caches a terminal
// PipelineResult by operationId for STOP-phase idempotent replay, and
// marks the session Taint sticky once any recorded result took a
// destructive, checkpointed path.
func (m *SessionManager) RecordResult(operationID, sessionKey string, result col.PipelineResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionKey]
	if !ok {
		return
	}
	s.results[operationID] = result
	if result.Apply.CheckpointID != "" {
		s.Taint = "destructive"
	}
	s.Updated = time.Now().UTC()
}

// PriorResult implements col.SessionStore.
func (m *SessionManager) PriorResult(operationID string) (col.PipelineResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if r, ok := s.results[operationID]; ok {
			return r, true
		}
	}
	return col.PipelineResult{}, false
}

// SetActiveAgents records which mesh agents are currently resolved onto a
// session.
func (m *SessionManager) SetActiveAgents(sessionKey string, agentIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionKey]; ok {
		s.ActiveAgentIDs = agentIDs
	}
}

// List returns a snapshot of every live session, for chat.conversations.list
// and the session flusher.
func (m *SessionManager) List() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	return out
}

// Count returns the number of live sessions, for the gateway's stats.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Snapshot implements memory.SnapshotSource: it captures every live
// session belonging to (sovereignID, domain) as JSON, the state a
// checkpoint.Create call compresses and chains. The Gateway is the sole
// owner of Sessions (spec §3), so this is the only place a checkpoint's
// bytes can come from.
func (m *SessionManager) Snapshot(_ context.Context, sovereignID, domain string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []Session
	for _, s := range m.sessions {
		if s.SovereignID == sovereignID && s.Domain == domain {
			matched = append(matched, *s)
		}
	}
	return json.Marshal(matched)
}

// Restore re-hydrates sessions previously captured by Snapshot, replacing
// whatever live state currently exists for the same (sovereignId, domain,
// conversationKey) triples — the counterpart checkpoint.restore drives.
func (m *SessionManager) Restore(raw []byte) error {
	var sessions []Session
	if err := json.Unmarshal(raw, &sessions); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range sessions {
		cp := s
		cp.results = make(map[string]col.PipelineResult)
		m.sessions[cp.Key] = &cp
	}
	return nil
}
