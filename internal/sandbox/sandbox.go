// Package sandbox enforces the four sandbox classes LOAD may resolve for
// an intent (none, filesystem-jail, subprocess-jail, container-jail).
// Grounded on the Manager.Get(ctx, key, workdir)/Exec(ctx, argv, cwd)
// shape the teacher's exec tool calls against its own (unretrieved)
// sandbox package, generalized here into a concrete implementation
// since the teacher's package body itself wasn't part of the pack.
package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cell0os/core/internal/cerr"
)

// Class mirrors col.SandboxClass as plain strings to avoid a dependency
// from sandbox on col; no other package converts between the two.
type Class string

const (
	None            Class = "none"
	FilesystemJail  Class = "filesystem-jail"
	SubprocessJail  Class = "subprocess-jail"
	ContainerJail   Class = "container-jail"
)

var rank = map[Class]int{None: 0, FilesystemJail: 1, SubprocessJail: 2, ContainerJail: 3}

// Satisfies reports whether `have` meets or exceeds the `required` class.
func Satisfies(have, required Class) bool {
	return rank[have] >= rank[required]
}

// ErrDisabled is returned by Manager.Jail when no sandbox root is
// configured.
var ErrDisabled = errors.New("sandbox: disabled")

// Manager resolves a per-session filesystem jail and records taint when
// CheckPath sees a path escape. The taint mark is only reported by
// IsTainted: the COL pipeline does not consult it, so a tainted session's
// next intent is not forced back through APPLY.
type Manager struct {
	root string // state_dir/runtime/sessions

	mu     sync.RWMutex
	tainted map[string]bool
}

func NewManager(root string) *Manager {
	return &Manager{root: root, tainted: make(map[string]bool)}
}

// Jail returns the filesystem path a session is confined to under
// filesystem-jail or stronger, creating it on first use.
func (m *Manager) Jail(sessionKey string) (string, error) {
	if m.root == "" {
		return "", ErrDisabled
	}
	dir := filepath.Join(m.root, sanitizeKey(sessionKey))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// CheckPath verifies that path resolves inside the session's jail,
// returning a SandboxViolation error and tainting the session otherwise.
func (m *Manager) CheckPath(ctx context.Context, sessionKey, jailRoot, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return cerr.Wrap(cerr.SandboxViolation, "sandbox.bad_path", "could not resolve path", err)
	}
	rel, err := filepath.Rel(jailRoot, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		m.Taint(sessionKey)
		return cerr.New(cerr.SandboxViolation, "sandbox.path_escape", "path escapes the session jail").
			WithDetails(map[string]any{"path": path, "jail": jailRoot})
	}
	return nil
}

// Taint marks a session's sandbox as violated.
func (m *Manager) Taint(sessionKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tainted[sessionKey] = true
}

func (m *Manager) IsTainted(sessionKey string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tainted[sessionKey]
}

// ClearTaint removes a session's taint mark. Nothing in the repository
// calls it.
func (m *Manager) ClearTaint(sessionKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tainted, sessionKey)
}

func sanitizeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
