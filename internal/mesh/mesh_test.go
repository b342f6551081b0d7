package mesh

import (
	"context"
	"testing"

	"github.com/cell0os/core/internal/bus"
	"github.com/cell0os/core/internal/col"
)

func testIntent() col.Intent {
	return col.Intent{SovereignID: "sov-1", Domain: "default", ConversationKey: "chat-1", Content: bus.Content{Text: "hi"}}
}

func testApply() col.ApplyResult {
	return col.ApplyResult{Executable: true, ResolvedAgent: "default"}
}

type stubAgent struct {
	id     string
	domain string
	load   int
	calls  int
}

func (s *stubAgent) Descriptor() Descriptor {
	return Descriptor{ID: s.id, Domain: s.domain, Load: s.load, Capabilities: map[string]int{"default": 1}}
}

func (s *stubAgent) Handle(ctx context.Context, intent HandleIntent, token *ContextToken, onChunk func(string)) Result {
	s.calls++
	return Result{Content: "handled:" + intent.Text}
}

func TestLeastLoadedPicksLowestLoad(t *testing.T) {
	reg := NewRegistry(0)
	a := &stubAgent{id: "a", domain: "default", load: 5}
	b := &stubAgent{id: "b", domain: "default", load: 1}
	reg.Register(a)
	reg.Register(b)
	reg.SetState("a", StateOnline)
	reg.SetState("b", StateOnline)

	router := NewRouter()
	chosen := router.Select(LeastLoaded, "default", "", "sess-1", reg.Routable("default"))
	if chosen.desc.ID != "b" {
		t.Fatalf("expected agent b (lower load), got %s", chosen.desc.ID)
	}
}

func TestOfflineAgentExcludedFromRouting(t *testing.T) {
	reg := NewRegistry(0)
	a := &stubAgent{id: "a", domain: "default"}
	reg.Register(a)
	reg.SetState("a", StateOffline)
	if len(reg.Routable("default")) != 0 {
		t.Fatalf("offline agent should not be routable")
	}
}

func TestStickyRoutingReusesSameAgent(t *testing.T) {
	reg := NewRegistry(0)
	a := &stubAgent{id: "a", domain: "default", load: 1}
	b := &stubAgent{id: "b", domain: "default", load: 1}
	reg.Register(a)
	reg.Register(b)
	reg.SetState("a", StateOnline)
	reg.SetState("b", StateOnline)

	router := NewRouter()
	first := router.Select(Sticky, "default", "", "sess-1", reg.Routable("default"))
	second := router.Select(Sticky, "default", "", "sess-1", reg.Routable("default"))
	if first.desc.ID != second.desc.ID {
		t.Fatalf("sticky routing should pin to the same agent: first=%s second=%s", first.desc.ID, second.desc.ID)
	}
}

func TestFenceInvalidatesPriorToken(t *testing.T) {
	f := NewFence()
	first := f.Issue("sess-1")
	if !first.Valid() {
		t.Fatalf("freshly issued token should be valid")
	}
	second := f.Issue("sess-1")
	if first.Valid() {
		t.Fatalf("issuing a new token should invalidate the prior one")
	}
	if !second.Valid() {
		t.Fatalf("newly issued token should be valid")
	}
}

func TestDispatchReturnsErrorWhenNoAgents(t *testing.T) {
	reg := NewRegistry(0)
	router := NewRouter()
	fence := NewFence()
	m := NewMesh(reg, router, fence, LeastLoaded)

	_, _, err := m.Dispatch(context.Background(), "op-1", testIntent(), testApply(), nil)
	if err == nil {
		t.Fatalf("expected error when no agents are registered")
	}
}
