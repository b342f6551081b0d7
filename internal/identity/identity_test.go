package identity

import (
	"path/filepath"
	"testing"

	"github.com/cell0os/core/internal/cerr"
)

func TestResolveUnknownSenderRejected(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "allowlist.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	_, err = r.Resolve("telegram", "999")
	if err == nil {
		t.Fatal("expected error for unresolved sender")
	}
	if kind, ok := cerr.KindOf(err); !ok || kind != cerr.Unauthorized {
		t.Fatalf("expected Unauthorized kind, got %v", err)
	}
}

func TestPairThenResolve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allowlist.json")
	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := r.Pair("sov-1", "Alice", "owner", "telegram", "123|alice"); err != nil {
		t.Fatalf("Pair: %v", err)
	}

	sid, err := r.Resolve("telegram", "123")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if sid != "sov-1" {
		t.Fatalf("expected sov-1, got %s", sid)
	}

	if !r.IsOwner("sov-1") {
		t.Fatal("expected sov-1 to be owner")
	}

	// Reload from disk to confirm persistence.
	r2, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, err := r2.Resolve("telegram", "123|alice"); err != nil {
		t.Fatalf("resolve after reload: %v", err)
	}
}

func TestUnpairRemovesHandleOnly(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "allowlist.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := r.Pair("sov-2", "Bob", "trusted", "discord", "abc"); err != nil {
		t.Fatalf("Pair: %v", err)
	}
	if err := r.Unpair("sov-2", "discord"); err != nil {
		t.Fatalf("Unpair: %v", err)
	}
	if _, err := r.Resolve("discord", "abc"); err == nil {
		t.Fatal("expected resolve to fail after unpair")
	}
	if _, ok := r.Principal("sov-2"); !ok {
		t.Fatal("expected principal record to survive unpair")
	}
}
