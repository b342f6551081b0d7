package gateway

import (
	"testing"

	"github.com/cell0os/core/internal/col"
)

func TestSessionManagerGetOrCreateIsIdempotent(t *testing.T) {
	m := NewSessionManager(0, nil)
	s1 := m.GetOrCreate("sov-1", "chat", "conv-1", "webchat")
	s2 := m.GetOrCreate("sov-1", "chat", "conv-1", "webchat")
	if s1 != s2 {
		t.Fatalf("expected the same session pointer for the same composite key")
	}
	if s1.Key != col.SessionKey("sov-1", "chat", "conv-1") {
		t.Fatalf("unexpected session key: %s", s1.Key)
	}
}

func TestAppendLogCompactsToTokenBudget(t *testing.T) {
	estimate := func(s string) int { return len(s) }
	m := NewSessionManager(10, estimate)
	m.GetOrCreate("sov-1", "chat", "conv-1", "webchat")
	key := col.SessionKey("sov-1", "chat", "conv-1")

	m.AppendLog(key, "user", "0123456789") // exactly at budget
	m.AppendLog(key, "user", "abcde")      // pushes the first line out

	s, ok := m.Get(key)
	if !ok {
		t.Fatalf("expected session to exist")
	}
	if len(s.Log) != 1 || s.Log[0].Content != "abcde" {
		t.Fatalf("expected compaction to drop the oldest line, got %+v", s.Log)
	}
}

func TestRecordResultAndPriorResult(t *testing.T) {
	m := NewSessionManager(0, nil)
	m.GetOrCreate("sov-1", "chat", "conv-1", "webchat")
	key := col.SessionKey("sov-1", "chat", "conv-1")

	result := col.PipelineResult{OperationID: "op-1", Apply: col.ApplyResult{Executable: true}}
	m.RecordResult("op-1", key, result)

	got, ok := m.PriorResult("op-1")
	if !ok || got.OperationID != "op-1" {
		t.Fatalf("expected prior result to be retrievable, got %+v ok=%v", got, ok)
	}
}

func TestRecordResultSetsTaintOnCheckpoint(t *testing.T) {
	m := NewSessionManager(0, nil)
	m.GetOrCreate("sov-1", "chat", "conv-1", "webchat")
	key := col.SessionKey("sov-1", "chat", "conv-1")

	m.RecordResult("op-1", key, col.PipelineResult{Apply: col.ApplyResult{CheckpointID: "C1"}})

	s, _ := m.Get(key)
	if s.Taint != "destructive" {
		t.Fatalf("expected taint to be set after a checkpointed result, got %q", s.Taint)
	}
}

func TestSessionManagerListAndCount(t *testing.T) {
	m := NewSessionManager(0, nil)
	m.GetOrCreate("sov-1", "chat", "conv-1", "webchat")
	m.GetOrCreate("sov-2", "chat", "conv-2", "telegram")

	if m.Count() != 2 {
		t.Fatalf("expected 2 sessions, got %d", m.Count())
	}
	if len(m.List()) != 2 {
		t.Fatalf("expected List to return 2 sessions")
	}
}
