package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cell0os/core/internal/cerr"
)

func TestJailCreatesPerSessionDir(t *testing.T) {
	root := t.TempDir()
	mgr := NewManager(root)
	dir, err := mgr.Jail("sov-1:default:chat-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, statErr := os.Stat(dir); statErr != nil {
		t.Fatalf("expected jail dir to exist: %v", statErr)
	}
}

func TestCheckPathEscapeTaints(t *testing.T) {
	root := t.TempDir()
	mgr := NewManager(root)
	jail, _ := mgr.Jail("sov-1:default:chat-1")

	err := mgr.CheckPath(context.Background(), "sov-1:default:chat-1", jail, filepath.Join(jail, "../../etc/shadow"))
	if err == nil {
		t.Fatalf("expected a sandbox violation error")
	}
	if kind, ok := cerr.KindOf(err); !ok || kind != cerr.SandboxViolation {
		t.Fatalf("expected SandboxViolation kind, got %v", err)
	}
	if !mgr.IsTainted("sov-1:default:chat-1") {
		t.Fatalf("expected session to be tainted after a path escape")
	}
}

func TestCheckPathWithinJailOK(t *testing.T) {
	root := t.TempDir()
	mgr := NewManager(root)
	jail, _ := mgr.Jail("sov-2:default:chat-1")

	if err := mgr.CheckPath(context.Background(), "sov-2:default:chat-1", jail, filepath.Join(jail, "note.txt")); err != nil {
		t.Fatalf("unexpected violation for in-jail path: %v", err)
	}
	if mgr.IsTainted("sov-2:default:chat-1") {
		t.Fatalf("session should not be tainted")
	}
}

func TestSatisfies(t *testing.T) {
	if !Satisfies(ContainerJail, FilesystemJail) {
		t.Fatalf("container jail should satisfy filesystem jail requirement")
	}
	if Satisfies(None, SubprocessJail) {
		t.Fatalf("none should not satisfy subprocess jail requirement")
	}
}
