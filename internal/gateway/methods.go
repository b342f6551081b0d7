package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/cell0os/core/internal/bus"
	"github.com/cell0os/core/internal/channels"
	"github.com/cell0os/core/internal/col"
	"github.com/cell0os/core/internal/config"
	"github.com/cell0os/core/internal/memory"
	"github.com/cell0os/core/pkg/protocol"
)

// HandlerFunc answers one RequestFrame on behalf of a connected Client.
type HandlerFunc func(ctx context.Context, client *Client, req *protocol.RequestFrame)

// MethodRouter dispatches WebSocket RPC frames by method name, plus the
// fixed set of protocol-level control frames (subscribe/ping/get_history/
// get_stats) that exist outside the registered-method table. Grounded on
// the teacher's gateway.MethodRouter (referenced throughout
// pdtkts-goclaw/internal/gateway/methods/*.go, whose own definition
// wasn't present in the retrieved pack, so the Register/Dispatch shape is
// rebuilt from those call sites).
type MethodRouter struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	server   *Server
}

// NewMethodRouter creates a router bound to s for control-frame handling.
func NewMethodRouter(s *Server) *MethodRouter {
	return &MethodRouter{handlers: make(map[string]HandlerFunc), server: s}
}

// Register adds a handler for method, replacing any existing one.
func (r *MethodRouter) Register(method string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[method] = h
}

// Dispatch routes one RequestFrame to its handler, answering with
// ErrNotFound if no method matches.
func (r *MethodRouter) Dispatch(ctx context.Context, c *Client, req *protocol.RequestFrame) {
	switch req.Method {
	case protocol.FrameSubscribe:
		r.handleSubscribe(c, req)
		return
	case protocol.FramePing:
		c.SendResponse(protocol.NewOKResponse(req.ID, map[string]string{"type": protocol.FramePong}))
		return
	case protocol.FrameGetHistory:
		// EventBus.Subscribe already replays its ring buffer at connect
		// time (see Server.registerClient); a client explicitly asking
		// again just gets acknowledged, it already has the backlog.
		c.SendResponse(protocol.NewOKResponse(req.ID, map[string]bool{"replayed": true}))
		return
	case protocol.FrameGetStats:
		if r.server != nil {
			c.SendResponse(protocol.NewOKResponse(req.ID, r.server.Stats(ctx)))
			return
		}
	}

	r.mu.RLock()
	h, ok := r.handlers[req.Method]
	r.mu.RUnlock()
	if !ok {
		c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, "unknown method: "+req.Method))
		return
	}
	h(ctx, c, req)
}

type subscribeParams struct {
	Kinds []string `json:"kinds,omitempty"`
}

func (r *MethodRouter) handleSubscribe(c *Client, req *protocol.RequestFrame) {
	var params subscribeParams
	if len(req.Params) > 0 {
		json.Unmarshal(req.Params, &params)
	}
	if r.server != nil {
		r.server.resubscribe(c, params.Kinds)
	}
	c.SendResponse(protocol.NewOKResponse(req.ID, map[string]bool{"ok": true}))
}

// --- system.* ---

type systemMethods struct {
	cfg       *config.Config
	channels  *channels.Manager
	sessions  *SessionManager
	startedAt time.Time
}

func (m *systemMethods) Register(r *MethodRouter) {
	r.Register(protocol.MethodHealth, m.handleHealth)
	r.Register(protocol.MethodStatus, m.handleStatus)
	r.Register(protocol.MethodStats, m.handleStats)
}

func (m *systemMethods) handleHealth(_ context.Context, c *Client, req *protocol.RequestFrame) {
	c.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"status":   "ok",
		"protocol": protocol.ProtocolVersion,
	}))
}

func (m *systemMethods) handleStatus(_ context.Context, c *Client, req *protocol.RequestFrame) {
	c.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"channels": m.channels.Status(),
		"uptimeMS": time.Since(m.startedAt).Milliseconds(),
	}))
}

func (m *systemMethods) handleStats(_ context.Context, c *Client, req *protocol.RequestFrame) {
	c.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"sessions": m.sessions.Count(),
		"channels": len(m.channels.Names()),
	}))
}

// --- chat.* ---

type chatMethods struct {
	pipeline *col.Pipeline
	sessions *SessionManager
}

func (m *chatMethods) Register(r *MethodRouter) {
	r.Register(protocol.MethodChatSend, m.handleSend)
	r.Register(protocol.MethodChatList, m.handleList)
	r.Register(protocol.MethodConvCreate, m.handleConvCreate)
	r.Register(protocol.MethodConvList, m.handleConvList)
	r.Register(protocol.MethodConvGet, m.handleConvGet)
}

type chatSendParams struct {
	SovereignID     string `json:"sovereignId"`
	Domain          string `json:"domain"`
	ConversationKey string `json:"conversationKey"`
	Text            string `json:"text"`
}

// handleSend lets the web portal (or any authenticated WS client) submit
// a message directly into col.Pipeline — the same governed path as a
// channel adapter's InboundMessage, since "webchat terminated by the
// gateway itself" means the gateway is the adapter here.
func (m *chatMethods) handleSend(ctx context.Context, c *Client, req *protocol.RequestFrame) {
	var p chatSendParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid params"))
		return
	}
	if p.SovereignID == "" || p.Text == "" {
		c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "sovereignId and text are required"))
		return
	}
	if p.Domain == "" {
		p.Domain = "chat"
	}
	m.sessions.GetOrCreate(p.SovereignID, p.Domain, p.ConversationKey, "webchat")

	intent := col.Intent{
		SovereignID:     p.SovereignID,
		Domain:          p.Domain,
		ConversationKey: p.ConversationKey,
		Channel:         "webchat",
		Content:         bus.Content{Text: p.Text},
	}
	result := m.pipeline.Run(ctx, intent)
	c.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"operationId": result.OperationID,
		"executable":  result.Apply.Executable,
		"reason":      result.Apply.Reason,
		"content":     result.Execute.Content,
	}))
}

type sessionKeyParams struct {
	Key string `json:"key"`
}

func (m *chatMethods) handleList(_ context.Context, c *Client, req *protocol.RequestFrame) {
	var p sessionKeyParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid params"))
		return
	}
	s, ok := m.sessions.Get(p.Key)
	if !ok {
		c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, "no such session"))
		return
	}
	c.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"key": p.Key, "log": s.Log}))
}

type convCreateParams struct {
	SovereignID     string `json:"sovereignId"`
	Domain          string `json:"domain"`
	ConversationKey string `json:"conversationKey"`
	Channel         string `json:"channel"`
}

func (m *chatMethods) handleConvCreate(_ context.Context, c *Client, req *protocol.RequestFrame) {
	var p convCreateParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid params"))
		return
	}
	s := m.sessions.GetOrCreate(p.SovereignID, p.Domain, p.ConversationKey, p.Channel)
	c.SendResponse(protocol.NewOKResponse(req.ID, s))
}

func (m *chatMethods) handleConvList(_ context.Context, c *Client, req *protocol.RequestFrame) {
	c.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"conversations": m.sessions.List()}))
}

func (m *chatMethods) handleConvGet(_ context.Context, c *Client, req *protocol.RequestFrame) {
	var p sessionKeyParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid params"))
		return
	}
	s, ok := m.sessions.Get(p.Key)
	if !ok {
		c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, "no such session"))
		return
	}
	c.SendResponse(protocol.NewOKResponse(req.ID, s))
}

// --- checkpoint.* ---

// checkpointMethods exposes the CLI's `checkpoint create`/`checkpoint
// restore` surface over the WS RPC channel: the CLI is a separate
// process from the running gateway, so the only live view of Sessions
// is through the gateway that owns them (spec §3), not the on-disk
// sqlite file directly.
type checkpointMethods struct {
	store    *memory.CheckpointStore
	sessions *SessionManager
}

func (m *checkpointMethods) Register(r *MethodRouter) {
	r.Register(protocol.MethodCheckpointCreate, m.handleCreate)
	r.Register(protocol.MethodCheckpointRestore, m.handleRestore)
}

type checkpointCreateParams struct {
	SovereignID string `json:"sovereignId"`
	Domain      string `json:"domain"`
	Reason      string `json:"reason"`
}

func (m *checkpointMethods) handleCreate(ctx context.Context, c *Client, req *protocol.RequestFrame) {
	if m.store == nil {
		c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, "no checkpoint store configured"))
		return
	}
	var p checkpointCreateParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.SovereignID == "" || p.Domain == "" {
		c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "sovereignId and domain are required"))
		return
	}
	id, err := m.store.Create(ctx, p.SovereignID, p.Domain, p.Reason)
	if err != nil {
		c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}
	c.SendResponse(protocol.NewOKResponse(req.ID, map[string]string{"checkpointId": id}))
}

type checkpointRestoreParams struct {
	CheckpointID string `json:"checkpointId"`
}

func (m *checkpointMethods) handleRestore(ctx context.Context, c *Client, req *protocol.RequestFrame) {
	if m.store == nil {
		c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, "no checkpoint store configured"))
		return
	}
	var p checkpointRestoreParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.CheckpointID == "" {
		c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "checkpointId is required"))
		return
	}
	raw, err := m.store.Restore(ctx, p.CheckpointID)
	if err != nil {
		c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}
	if err := m.sessions.Restore(raw); err != nil {
		c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}
	c.SendResponse(protocol.NewOKResponse(req.ID, map[string]bool{"restored": true}))
}

// --- logs.* ---

// logRing is a bounded in-memory tail of recently emitted log lines,
// surfaced on logs.list — grounded on the same
// bounded-ring shape as bus.EventBus's replay buffer, scaled down to a
// single []string tail since log lines need no per-kind filtering.
type logRing struct {
	mu     sync.Mutex
	lines  []string
	cap    int
	pos    int
	filled bool
}

func newLogRing(capacity int) *logRing {
	if capacity <= 0 {
		capacity = 512
	}
	return &logRing{lines: make([]string, capacity), cap: capacity}
}

func (r *logRing) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[r.pos] = line
	r.pos = (r.pos + 1) % r.cap
	if r.pos == 0 {
		r.filled = true
	}
}

func (r *logRing) Tail(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ordered []string
	if r.filled {
		ordered = append(ordered, r.lines[r.pos:]...)
		ordered = append(ordered, r.lines[:r.pos]...)
	} else {
		ordered = append(ordered, r.lines[:r.pos]...)
	}
	if n <= 0 || n >= len(ordered) {
		return ordered
	}
	return ordered[len(ordered)-n:]
}

// ringLogHandler is an slog.Handler that tees formatted records into a
// logRing so the gateway can serve recent-log-tail without a separate
// logging backend.
type ringLogHandler struct {
	next slog.Handler
	ring *logRing
}

func newRingLogHandler(next slog.Handler, ring *logRing) *ringLogHandler {
	return &ringLogHandler{next: next, ring: ring}
}

func (h *ringLogHandler) Enabled(ctx context.Context, l slog.Level) bool { return h.next.Enabled(ctx, l) }
func (h *ringLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ringLogHandler{next: h.next.WithAttrs(attrs), ring: h.ring}
}
func (h *ringLogHandler) WithGroup(name string) slog.Handler {
	return &ringLogHandler{next: h.next.WithGroup(name), ring: h.ring}
}
func (h *ringLogHandler) Handle(ctx context.Context, r slog.Record) error {
	h.ring.Append(r.Level.String() + " " + r.Message)
	return h.next.Handle(ctx, r)
}

type logsMethods struct {
	ring *logRing
}

func (m *logsMethods) Register(r *MethodRouter) {
	r.Register(protocol.MethodLogsList, m.handleList)
}

type logsListParams struct {
	Limit int `json:"limit"`
}

func (m *logsMethods) handleList(_ context.Context, c *Client, req *protocol.RequestFrame) {
	var p logsListParams
	if len(req.Params) > 0 {
		json.Unmarshal(req.Params, &p)
	}
	if p.Limit <= 0 {
		p.Limit = 100
	}
	c.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"lines": m.ring.Tail(p.Limit)}))
}
