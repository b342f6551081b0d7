package gateway

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cell0os/core/internal/bus"
	"github.com/cell0os/core/internal/channels"
	"github.com/cell0os/core/internal/col"
	"github.com/cell0os/core/internal/config"
	"github.com/cell0os/core/internal/ethics"
	"github.com/cell0os/core/internal/identity"
)

type fakeMesh struct{ dispatched int }

func (f *fakeMesh) Dispatch(ctx context.Context, opID string, intent col.Intent, apply col.ApplyResult, onChunk func(string)) (string, int, error) {
	f.dispatched++
	return "echo: " + intent.CanonicalContent(), 1, nil
}

func newTestServer(t *testing.T) (*Server, *identity.Registry, *bus.MessageBus) {
	t.Helper()
	cfg := config.Default()
	cfg.Gateway.Host = "127.0.0.1"

	events := bus.NewEventBus(16, 8)
	messages := bus.NewMessageBus(16)
	idReg, err := identity.Load("")
	if err != nil {
		t.Fatalf("identity.Load: %v", err)
	}
	if err := idReg.Pair("sov-1", "Owner", "owner", "webchat", "alice"); err != nil {
		t.Fatalf("Pair: %v", err)
	}
	chMgr := channels.NewManager(messages)
	sessions := NewSessionManager(0, nil)
	mesh := &fakeMesh{}
	pipeline := col.NewPipeline(col.Config{Mesh: mesh, Sessions: sessions, Events: events})

	s := NewServer(Deps{
		Config:   cfg,
		Events:   events,
		Messages: messages,
		Identity: idReg,
		Channels: chMgr,
		Sessions: sessions,
		Pipeline: pipeline,
	})
	return s, idReg, messages
}

func TestHandleInboundRunsResolvedSenderThroughPipeline(t *testing.T) {
	s, _, messages := newTestServer(t)

	var delivered bus.OutboundMessage
	messages.SubscribeOutbound("webchat", func(m bus.OutboundMessage) { delivered = m })

	msg := bus.InboundMessage{
		Channel:         "webchat",
		Sender:          "alice",
		ConversationKey: "conv-1",
		Content:         bus.Content{Text: "hello"},
		Metadata:        map[string]string{"sovereignId": "sov-1"},
	}
	s.handleInbound(context.Background(), msg)

	if delivered.Content.Text != "echo: hello" {
		t.Fatalf("expected pipeline result delivered back to the channel, got %q", delivered.Content.Text)
	}
	key := col.SessionKey("sov-1", "chat", "conv-1")
	sess, ok := s.sessions.Get(key)
	if !ok {
		t.Fatalf("expected a session to have been created")
	}
	if len(sess.Log) != 2 || sess.Log[0].Role != "user" || sess.Log[1].Role != "assistant" {
		t.Fatalf("expected user+assistant log lines, got %+v", sess.Log)
	}
}

func TestHandleInboundDropsUnresolvedSender(t *testing.T) {
	s, _, messages := newTestServer(t)

	auditDir := t.TempDir()
	audit, err := ethics.NewAuditLog(auditDir)
	if err != nil {
		t.Fatalf("NewAuditLog: %v", err)
	}
	consensus, err := ethics.NewConsensus(ethics.DefaultRules, audit)
	if err != nil {
		t.Fatalf("NewConsensus: %v", err)
	}
	s.ethics = consensus

	delivered := false
	messages.SubscribeOutbound("webchat", func(m bus.OutboundMessage) { delivered = true })

	msg := bus.InboundMessage{
		Channel:         "webchat",
		Sender:          "stranger",
		ConversationKey: "conv-2",
		Content:         bus.Content{Text: "hi"},
	}
	s.handleInbound(context.Background(), msg)

	if delivered {
		t.Fatalf("unresolved sender must never reach the pipeline or get a reply (I1)")
	}
	if s.sessions.Count() != 0 {
		t.Fatalf("expected no session to be created for an unresolved sender")
	}
	audit.Close()

	entries, err := os.ReadDir(auditDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected exactly one ethics audit file, got %v (err=%v)", entries, err)
	}
	data, err := os.ReadFile(filepath.Join(auditDir, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), `"decision":"deny"`) || !strings.Contains(string(data), "unknown sovereign") {
		t.Fatalf("expected a deny/unknown-sovereign ethics record, got %s", data)
	}
}

func TestIsLoopbackAdminRequiresOptIn(t *testing.T) {
	s, _, _ := newTestServer(t)
	s.cfg.Gateway.AllowLocalAdmin = false

	req := &http.Request{RemoteAddr: "127.0.0.1:5555", Header: http.Header{}}
	if s.isLoopbackAdmin(req) {
		t.Fatalf("expected loopback admin to require explicit opt-in")
	}

	s.cfg.Gateway.AllowLocalAdmin = true
	if !s.isLoopbackAdmin(req) {
		t.Fatalf("expected loopback request to be recognized once opted in")
	}
}

func TestIsLoopbackAdminRejectsNonLoopback(t *testing.T) {
	s, _, _ := newTestServer(t)
	s.cfg.Gateway.AllowLocalAdmin = true

	req := &http.Request{RemoteAddr: "203.0.113.5:5555", Header: http.Header{}}
	if s.isLoopbackAdmin(req) {
		t.Fatalf("expected a non-loopback remote addr to be rejected")
	}
}

func TestListenScansPortRange(t *testing.T) {
	s, _, _ := newTestServer(t)
	s.cfg.Gateway.Port = 19800
	s.cfg.Gateway.PortScanRange = 3

	busyLn, err := net.Listen("tcp", "127.0.0.1:19800")
	if err != nil {
		t.Fatalf("occupy base port: %v", err)
	}
	defer busyLn.Close()

	ln, addr, err := s.listen()
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	if addr == "127.0.0.1:19800" {
		t.Fatalf("expected the server to skip the occupied base port, got %s", addr)
	}
}

func TestStatsReportsSessionCount(t *testing.T) {
	s, _, _ := newTestServer(t)
	s.sessions.GetOrCreate("sov-1", "chat", "conv-1", "webchat")

	stats := s.Stats(context.Background())
	if stats["sessions"] != 1 {
		t.Fatalf("expected 1 session in stats, got %v", stats["sessions"])
	}
}

func TestLogRingTailKeepsLastEntriesInOrder(t *testing.T) {
	r := newLogRing(2)
	r.Append("a")
	r.Append("b")
	r.Append("c")
	tail := r.Tail(10)
	if len(tail) != 2 || tail[0] != "b" || tail[1] != "c" {
		t.Fatalf("expected ring to keep only the last 2 entries in order, got %v", tail)
	}
}

func TestNewServerWiresMethodRouter(t *testing.T) {
	s, _, _ := newTestServer(t)
	_ = s.router
	// ping/subscribe/get_history/get_stats dispatch is not exercised by
	// any test; here we only confirm NewServer built a method router.
	if s.router == nil {
		t.Fatalf("expected a non-nil method router")
	}
}
