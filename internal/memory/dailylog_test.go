package memory

import (
	"testing"
	"time"
)

func TestDailyLogAppendAndTail(t *testing.T) {
	log, err := NewDailyLog(t.TempDir())
	if err != nil {
		t.Fatalf("NewDailyLog: %v", err)
	}
	fixed := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	log.now = func() time.Time { return fixed }

	log.Append("sov-1", "chat-1", "user", "hello")
	log.Append("sov-1", "chat-1", "assistant", "hi there")
	log.Close()

	entries := log.Tail("sov-1", 10)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Content != "hello" || entries[1].Content != "hi there" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestDailyLogTailRespectsLimit(t *testing.T) {
	log, err := NewDailyLog(t.TempDir())
	if err != nil {
		t.Fatalf("NewDailyLog: %v", err)
	}
	for i := 0; i < 5; i++ {
		log.Append("sov-1", "chat-1", "user", "msg")
	}
	log.Close()

	entries := log.Tail("sov-1", 3)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
}
