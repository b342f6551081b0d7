package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cell0os/core/internal/bus"
	"github.com/cell0os/core/internal/channels"
	"github.com/cell0os/core/internal/col"
	"github.com/cell0os/core/internal/config"
	"github.com/cell0os/core/internal/ethics"
	"github.com/cell0os/core/internal/identity"
	"github.com/cell0os/core/internal/memory"
	"github.com/cell0os/core/pkg/protocol"
)

// SessionFlusher persists every live session on a cadence; no flusher is
// installed unless SetSessionFlusher is called.
type SessionFlusher interface {
	Flush(ctx context.Context, sessions []Session) error
}

// Server is the single HTTP+WebSocket process every channel adapter, the
// CLI, and the web portal speak to (spec §6). It owns Sessions
// exclusively and is I1's actual enforcement point: the ingress loop
// below rejects any InboundMessage that never resolved a sovereignId
// before it reaches col.Pipeline. Grounded on
// vanducng-goclaw/internal/gateway/server.go's BuildMux/Start/
// handleWebSocket/registerClient lifecycle almost verbatim; the managed-
// mode agent-CRUD handlers are replaced with this repo's chat/system/
// logs RPC surface (methods.go). SetAPIHandler lets a caller mount an
// additional REST surface under /api/ behind the same auth middleware.
type Server struct {
	cfg         *config.Config
	events      *bus.EventBus
	messages    *bus.MessageBus
	identity    *identity.Registry
	channels    *channels.Manager
	sessions    *SessionManager
	pipeline    *col.Pipeline
	ethics      *ethics.Consensus
	checkpoints *memory.CheckpointStore

	router      *MethodRouter
	rateLimiter *RateLimiter
	upgrader    websocket.Upgrader
	logRing     *logRing

	apiHandler http.Handler
	flusher    SessionFlusher

	clients map[string]*Client
	mu      sync.RWMutex

	httpServer *http.Server
	mux        *http.ServeMux
	listener   net.Listener
	addr       string
	startedAt  time.Time
}

// Deps wires every collaborator a Server needs.
type Deps struct {
	Config      *config.Config
	Events      *bus.EventBus
	Messages    *bus.MessageBus
	Identity    *identity.Registry
	Channels    *channels.Manager
	Sessions    *SessionManager
	Pipeline    *col.Pipeline
	Ethics      *ethics.Consensus
	Checkpoints *memory.CheckpointStore
}

// NewServer wires a Server from Deps.
func NewServer(d Deps) *Server {
	s := &Server{
		cfg:         d.Config,
		events:      d.Events,
		messages:    d.Messages,
		identity:    d.Identity,
		channels:    d.Channels,
		sessions:    d.Sessions,
		pipeline:    d.Pipeline,
		ethics:      d.Ethics,
		checkpoints: d.Checkpoints,
		clients:     make(map[string]*Client),
		logRing:     newLogRing(512),
		startedAt:   time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	s.rateLimiter = NewRateLimiter(d.Config.Gateway.RateLimitRPM/60, 10)

	s.router = NewMethodRouter(s)
	(&systemMethods{cfg: s.cfg, channels: s.channels, sessions: s.sessions, startedAt: s.startedAt}).Register(s.router)
	(&chatMethods{pipeline: s.pipeline, sessions: s.sessions}).Register(s.router)
	(&logsMethods{ring: s.logRing}).Register(s.router)
	(&checkpointMethods{store: s.checkpoints, sessions: s.sessions}).Register(s.router)

	return s
}

// InstallLogTee wraps the process's default slog handler so recent log
// lines are also captured in the gateway's bounded ring for logs.list.
func (s *Server) InstallLogTee() {
	slog.SetDefault(slog.New(newRingLogHandler(slog.Default().Handler(), s.logRing)))
}

// SetAPIHandler mounts h at /api/ behind the auth middleware.
func (s *Server) SetAPIHandler(h http.Handler) { s.apiHandler = h }

// SetSessionFlusher installs the periodic session persistence callback.
func (s *Server) SetSessionFlusher(f SessionFlusher) { s.flusher = f }

// Router exposes the WS method router for additional registrations.
func (s *Server) Router() *MethodRouter { return s.router }

func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("gateway: rejected websocket origin", "origin", origin)
	return false
}

// isLoopbackAdmin reports whether r originates from loopback and the
// operator opted into CELL0_ALLOW_LOCAL_ADMIN — the escape hatch that
// lets the CLI and `config init` talk to a freshly started gateway before
// any admin token/pairing exists. Only TrustedProxies may set
// X-Forwarded-For to influence this decision; everyone else is judged by
// r.RemoteAddr alone.
func (s *Server) isLoopbackAdmin(r *http.Request) bool {
	if !s.cfg.Gateway.AllowLocalAdmin {
		return false
	}
	remote := r.RemoteAddr
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" && s.trustedProxy(remote) {
		remote = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) trustedProxy(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	for _, p := range s.cfg.Gateway.TrustedProxies {
		if p == host {
			return true
		}
	}
	return false
}

// authMiddleware enforces CELL0_ADMIN_TOKEN as a bearer token on every
// request except loopback-admin connections.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.rateLimiter.Allow(r.RemoteAddr) {
			http.Error(w, `{"error":"rate_limited"}`, http.StatusTooManyRequests)
			return
		}
		if s.cfg.Gateway.AdminToken == "" || s.isLoopbackAdmin(r) {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.Gateway.AdminToken {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// BuildMux creates and caches the HTTP mux. Call before Start if a caller
// needs the mux for an additional listener (e.g. tailscale.go's tsnet).
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	if s.apiHandler != nil {
		mux.Handle("/api/", s.authMiddleware(http.StripPrefix("/api", s.apiHandler)))
	}

	s.mux = mux
	return mux
}

// Start scans cfg.Gateway.Port..Port+PortScanRange for a free port,
// listens, and serves until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	ln, addr, err := s.listen()
	if err != nil {
		return err
	}
	s.listener = ln
	s.addr = addr

	s.httpServer = &http.Server{Handler: mux}
	slog.Info("gateway starting", "addr", addr)

	s.startSessionFlush(ctx)
	s.events.StartHeartbeat(ctx.Done(), s.heartbeatInterval())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// Addr returns the address actually bound after Start's port scan.
func (s *Server) Addr() string { return s.addr }

func (s *Server) listen() (net.Listener, string, error) {
	base := s.cfg.Gateway.Port
	if base <= 0 {
		base = 18800
	}
	scanRange := s.cfg.Gateway.PortScanRange
	if scanRange <= 0 {
		scanRange = 10
	}
	host := s.cfg.Gateway.Host
	if host == "" {
		host = "127.0.0.1"
	}

	var lastErr error
	for p := base; p < base+scanRange; p++ {
		addr := net.JoinHostPort(host, strconv.Itoa(p))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return ln, addr, nil
		}
		lastErr = err
	}
	return nil, "", fmt.Errorf("gateway: no free port in [%d,%d): %w", base, base+scanRange, lastErr)
}

func (s *Server) heartbeatInterval() time.Duration {
	d, err := time.ParseDuration(s.cfg.Gateway.HeartbeatEvery)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

func (s *Server) startSessionFlush(ctx context.Context) {
	if s.flusher == nil {
		return
	}
	interval := 2 * time.Second
	if d, err := time.ParseDuration(s.cfg.Gateway.FlushInterval); err == nil && d > 0 {
		interval = d
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.flusher.Flush(ctx, s.sessions.List()); err != nil {
					slog.Warn("gateway: session flush failed", "error", err)
				}
			}
		}
	}()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.rateLimiter.Allow(r.RemoteAddr) {
		http.Error(w, `{"error":"rate_limited"}`, http.StatusTooManyRequests)
		return
	}
	if s.cfg.Gateway.AdminToken != "" && !s.isLoopbackAdmin(r) {
		token := r.URL.Query().Get("token")
		if token == "" {
			auth := r.Header.Get("Authorization")
			token = strings.TrimPrefix(auth, "Bearer ")
		}
		if token != s.cfg.Gateway.AdminToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("gateway: websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, s)
	s.registerClient(client)
	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()

	client.Run(r.Context())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","protocol":%d}`, protocol.ProtocolVersion)
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c
	s.events.Subscribe(c.id, nil, func(f protocol.EventFrame) { c.SendEvent(f) })
	s.events.Publish(protocol.EventClientConnect, map[string]string{"clientId": c.id})
	slog.Info("gateway: client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
	s.events.Unsubscribe(c.id)
	s.events.Publish(protocol.EventClientDisconnect, map[string]string{"clientId": c.id})
	slog.Info("gateway: client disconnected", "id", c.id)
}

// resubscribe re-registers a client's event subscription with a new kind
// filter, used by methods.go's handleSubscribe.
func (s *Server) resubscribe(c *Client, kinds []string) {
	s.events.Unsubscribe(c.id)
	s.events.Subscribe(c.id, kinds, func(f protocol.EventFrame) { c.SendEvent(f) })
}

// BroadcastEvent publishes kind/payload to every subscribed client
// through the shared EventBus rather than iterating clients directly —
// callers outside gateway (e.g. the mesh, COL) should publish on the
// EventBus they were handed, not call this; it exists for symmetry with
// the teacher's Server.BroadcastEvent.
func (s *Server) BroadcastEvent(kind string, payload any) {
	s.events.Publish(kind, payload)
}

// Stats answers get_stats frames.
func (s *Server) Stats(_ context.Context) map[string]any {
	s.mu.RLock()
	clientCount := len(s.clients)
	s.mu.RUnlock()
	return map[string]any{
		"clients":  clientCount,
		"sessions": s.sessions.Count(),
		"channels": s.channels.Status(),
		"uptimeMS": time.Since(s.startedAt).Milliseconds(),
	}
}

// RunIngress consumes normalized InboundMessages off the bus and is I1's
// actual enforcement point: channels.BaseChannel.HandleMessage still
// publishes unresolved-sender messages (so they can be routed to the
// pairing flow), but only a message carrying metadata["sovereignId"]
// reaches col.Pipeline.Run here. Returns when ctx is canceled.
func (s *Server) RunIngress(ctx context.Context) {
	for {
		msg, ok := s.messages.ConsumeInbound(ctx)
		if !ok {
			return
		}
		s.handleInbound(ctx, msg)
	}
}

func (s *Server) handleInbound(ctx context.Context, msg bus.InboundMessage) {
	sovereignID := msg.Metadata["sovereignId"]
	if sovereignID == "" {
		s.handleUnresolvedSender(msg)
		return
	}
	domain := "chat"
	sessionKey := col.SessionKey(sovereignID, domain, msg.ConversationKey)
	s.sessions.GetOrCreate(sovereignID, domain, msg.ConversationKey, msg.Channel)
	s.sessions.AppendLog(sessionKey, "user", msg.Content.Text)

	intent := col.Intent{
		SovereignID:     sovereignID,
		Domain:          domain,
		ConversationKey: msg.ConversationKey,
		Channel:         msg.Channel,
		Content:         msg.Content,
		Source:          &msg,
	}
	result := s.pipeline.Run(ctx, intent)
	s.deliverResult(msg, result)
}

// handleUnresolvedSender drops the message from COL consideration and
// emits a client_connect-adjacent log event; the pairing flow itself
// (DMPolicy "pairing") is driven by the channel adapter replying with a
// one-time code out of band, not by the gateway synthesizing an identity.
func (s *Server) handleUnresolvedSender(msg bus.InboundMessage) {
	firstRun := s.identity.Count() == 0
	slog.Info("gateway: dropping message from unresolved sender",
		"channel", msg.Channel, "sender", msg.Sender, "first_run", firstRun)

	ethicsID := s.ethics.Deny("", "", "unknown sovereign")

	s.events.Publish(protocol.EventLog, map[string]any{
		"level": "info", "message": "unresolved sender, routed to pairing",
		"channel": msg.Channel, "first_run": firstRun, "ethicsRecordId": ethicsID,
	})
}

func (s *Server) deliverResult(msg bus.InboundMessage, result col.PipelineResult) {
	if channels.IsInternalChannel(msg.Channel) {
		return
	}
	text := result.Execute.Content
	if !result.Apply.Executable {
		text = result.Apply.Reason
	}
	if text == "" {
		return
	}
	s.messages.PublishOutbound(bus.OutboundMessage{
		Channel:         msg.Channel,
		ConversationKey: msg.ConversationKey,
		Content:         bus.Content{Text: text},
		InReplyTo:       msg.ChannelMessageID,
	})
}

// Shutdown closes every connected client, then calls the HTTP server's
// graceful Shutdown, which waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, c := range s.clients {
		c.Close()
	}
	s.mu.Unlock()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
