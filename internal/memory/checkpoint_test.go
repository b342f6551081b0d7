package memory

import (
	"context"
	"path/filepath"
	"testing"
)

type fakeSnapshot struct {
	data []byte
}

func (f *fakeSnapshot) Snapshot(ctx context.Context, sovereignID, domain string) ([]byte, error) {
	return f.data, nil
}

func openTestStore(t *testing.T) *CheckpointStore {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store, err := NewCheckpointStore(db, &fakeSnapshot{data: []byte(`{"messages":[]}`)})
	if err != nil {
		t.Fatalf("NewCheckpointStore: %v", err)
	}
	return store
}

func TestCreateThenRestoreRoundtrips(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, "sov-1", "default", "autosave")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	raw, err := store.Restore(ctx, id)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if string(raw) != `{"messages":[]}` {
		t.Fatalf("unexpected restored state: %s", raw)
	}
}

func TestCreateChainsOntoParent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, "sov-1", "default", "first")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := store.Create(ctx, "sov-1", "default", "second")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	cp, err := store.get(ctx, second)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cp.ParentID != first {
		t.Fatalf("expected parent %s, got %s", first, cp.ParentID)
	}
}

func TestRestoreCorruptedChecksumWalksParent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	good, err := store.Create(ctx, "sov-1", "default", "good")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	bad, err := store.Create(ctx, "sov-1", "default", "bad")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := store.db.ExecContext(ctx, `UPDATE checkpoints SET checksum = 'deadbeef' WHERE id = ?`, bad); err != nil {
		t.Fatalf("corrupt checksum: %v", err)
	}

	raw, err := store.Restore(ctx, bad)
	if err != nil {
		t.Fatalf("Restore should fall back to parent %s, got error: %v", good, err)
	}
	if string(raw) != `{"messages":[]}` {
		t.Fatalf("unexpected restored state: %s", raw)
	}
}
