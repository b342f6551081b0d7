package memory

import (
	"context"
	"path/filepath"
	"testing"
)

func TestNoteStorePutAndGet(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	notes, err := NewNoteStore(db, 4)
	if err != nil {
		t.Fatalf("NewNoteStore: %v", err)
	}
	ctx := context.Background()

	if err := notes.Put(ctx, "sov-1", "default", "greeting", "hello world"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	note, ok := notes.Get(ctx, "sov-1", "default", "greeting")
	if !ok {
		t.Fatalf("expected note to be found")
	}
	if note.Content != "hello world" {
		t.Fatalf("unexpected content: %s", note.Content)
	}
}

func TestNoteStoreMatchingDomain(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	notes, err := NewNoteStore(db, 4)
	if err != nil {
		t.Fatalf("NewNoteStore: %v", err)
	}
	ctx := context.Background()
	notes.Put(ctx, "sov-1", "default", "a", "first")
	notes.Put(ctx, "sov-1", "default", "b", "second")
	notes.Put(ctx, "sov-1", "other", "c", "third")

	matches := notes.MatchingDomain(ctx, "sov-1", "default", 10)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
}
