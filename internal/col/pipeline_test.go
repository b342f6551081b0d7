package col

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cell0os/core/internal/bus"
)

type fakeMesh struct {
	calls int32
	delay time.Duration
}

func (f *fakeMesh) Dispatch(ctx context.Context, opID string, intent Intent, apply ApplyResult, onChunk func(string)) (string, int, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	onChunk("partial")
	return "result:" + intent.CanonicalContent(), 10, nil
}

type fakeEthics struct {
	allow bool
}

func (f *fakeEthics) Evaluate(ctx context.Context, opID string, intent Intent, load LoadResult) (string, bool, string) {
	if f.allow {
		return "ethics-1", true, ""
	}
	return "ethics-1", false, "unknown sovereign"
}

type fakePolicies struct {
	deny        bool
	destructive bool
}

func (f *fakePolicies) Resolve(domain string, typ IntentType, profile string) ([]Policy, SandboxClass) {
	return []Policy{{Name: "p1", Deny: f.deny, Destructive: f.destructive}}, SandboxNone
}

type fakeCheckpoints struct {
	created int32
}

func (f *fakeCheckpoints) Create(ctx context.Context, sovereignID, domain, reason string) (string, error) {
	atomic.AddInt32(&f.created, 1)
	return "C1", nil
}

type fakeSessions struct {
	mu      sync.Mutex
	results map[string]PipelineResult
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{results: make(map[string]PipelineResult)}
}

func (f *fakeSessions) AppendLog(sessionKey, role, content string) {}
func (f *fakeSessions) RecordResult(operationID, sessionKey string, result PipelineResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[operationID] = result
}
func (f *fakeSessions) PriorResult(operationID string) (PipelineResult, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.results[operationID]
	return r, ok
}

func contentFor(text string) bus.Content {
	return bus.Content{Text: text}
}

func TestEthicsDenyBlocksExecute(t *testing.T) {
	mesh := &fakeMesh{}
	p := NewPipeline(Config{
		Ethics:   &fakeEthics{allow: false},
		Policies: &fakePolicies{},
		Mesh:     mesh,
	})
	intent := mkIntent("sov-1", "hello")
	result := p.Run(context.Background(), intent)
	if result.Apply.Executable {
		t.Fatalf("expected apply denied")
	}
	if mesh.calls != 0 {
		t.Fatalf("expected no EXECUTE, mesh was called %d times", mesh.calls)
	}
}

func TestPolicyDenyBlocksExecute(t *testing.T) {
	mesh := &fakeMesh{}
	p := NewPipeline(Config{
		Ethics:   &fakeEthics{allow: true},
		Policies: &fakePolicies{deny: true},
		Mesh:     mesh,
	})
	result := p.Run(context.Background(), mkIntent("sov-1", "rm -rf /"))
	if result.Apply.Executable {
		t.Fatalf("expected policy denial")
	}
	if mesh.calls != 0 {
		t.Fatalf("mesh should not run on policy deny")
	}
}

func TestDestructiveTriggersCheckpoint(t *testing.T) {
	mesh := &fakeMesh{}
	cp := &fakeCheckpoints{}
	p := NewPipeline(Config{
		Ethics:      &fakeEthics{allow: true},
		Policies:    &fakePolicies{destructive: true},
		Checkpoints: cp,
		Mesh:        mesh,
	})
	result := p.Run(context.Background(), mkIntent("sov-1", "delete file X"))
	if result.Apply.CheckpointID != "C1" {
		t.Fatalf("expected checkpoint id C1, got %q", result.Apply.CheckpointID)
	}
	if cp.created != 1 {
		t.Fatalf("expected exactly one checkpoint created, got %d", cp.created)
	}
	if mesh.calls != 1 {
		t.Fatalf("expected EXECUTE to run once, got %d", mesh.calls)
	}
}

func TestDuplicateFingerprintCoalesces(t *testing.T) {
	mesh := &fakeMesh{delay: 50 * time.Millisecond}
	p := NewPipeline(Config{
		Ethics:   &fakeEthics{allow: true},
		Policies: &fakePolicies{},
		Mesh:     mesh,
	})

	var wg sync.WaitGroup
	results := make([]PipelineResult, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = p.Run(context.Background(), mkIntent("sov-1", "summarize file X"))
		}(i)
	}
	wg.Wait()

	if mesh.calls != 1 {
		t.Fatalf("expected exactly one EXECUTE for coalesced fingerprint, got %d", mesh.calls)
	}
	if results[0].Execute.Content != results[1].Execute.Content {
		t.Fatalf("coalesced callers should receive the same result")
	}
}

func TestParallelChildrenJoinByIndex(t *testing.T) {
	mesh := &fakeMesh{}
	p := NewPipeline(Config{
		Ethics:   &fakeEthics{allow: true},
		Policies: &fakePolicies{},
		Mesh:     mesh,
	})
	parent := mkIntent("sov-1", "fan-out")
	parent.Children = []Intent{
		mkIntent("sov-1", "child-a"),
		mkIntent("sov-1", "child-b"),
		mkIntent("sov-1", "child-c"),
	}
	// distinct conversation keys so children don't coalesce with each other
	parent.Children[0].ConversationKey = "chat-1-a"
	parent.Children[1].ConversationKey = "chat-1-b"
	parent.Children[2].ConversationKey = "chat-1-c"

	result := p.Run(context.Background(), parent)
	if len(result.Children) != 3 {
		t.Fatalf("expected 3 children, got %d", len(result.Children))
	}
	want := "result:child-a\nresult:child-b\nresult:child-c"
	if result.Execute.Content != want {
		t.Fatalf("children not joined in index order: got %q want %q", result.Execute.Content, want)
	}
}

func mkIntent(sovereignID, text string) Intent {
	return Intent{
		SovereignID:     sovereignID,
		Domain:          "default",
		ConversationKey: "chat-1",
		Content:         contentFor(text),
	}
}
