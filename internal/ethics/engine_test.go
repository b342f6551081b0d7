package ethics

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cell0os/core/internal/col"
)

func newConsensus(t *testing.T, auditDir string) *Consensus {
	t.Helper()
	var audit *AuditLog
	if auditDir != "" {
		a, err := NewAuditLog(auditDir)
		if err != nil {
			t.Fatalf("NewAuditLog: %v", err)
		}
		audit = a
	}
	c, err := NewConsensus(DefaultRules, audit)
	if err != nil {
		t.Fatalf("NewConsensus: %v", err)
	}
	return c
}

func TestEvaluateAllowsNonDestructiveIntent(t *testing.T) {
	c := newConsensus(t, "")
	intent := col.Intent{SovereignID: "sov-1", Domain: "default"}
	load := col.LoadResult{Policies: []col.Policy{{Type: col.SystemRead}}}

	_, allow, reason := c.Evaluate(context.Background(), "op-1", intent, load)
	if !allow {
		t.Fatalf("expected allow, got deny: %s", reason)
	}
}

func TestEvaluateVetoesDestructiveWithoutSandbox(t *testing.T) {
	c := newConsensus(t, "")
	intent := col.Intent{SovereignID: "sov-1", Domain: "default"}
	load := col.LoadResult{
		Policies: []col.Policy{{Type: col.SystemWrite, Destructive: true}},
		Sandbox:  col.SandboxNone,
	}

	_, allow, reason := c.Evaluate(context.Background(), "op-1", intent, load)
	if allow {
		t.Fatalf("expected veto for destructive op with no sandbox")
	}
	if reason == "" {
		t.Fatalf("expected a reason for the veto")
	}
}

func TestEvaluateAllowsDestructiveWithSandbox(t *testing.T) {
	dir := t.TempDir()
	c := newConsensus(t, dir)
	intent := col.Intent{SovereignID: "sov-1", Domain: "default"}
	load := col.LoadResult{
		Policies: []col.Policy{{Type: col.SystemWrite, Destructive: true}},
		Sandbox:  col.SandboxFilesystemJail,
	}

	_, allow, reason := c.Evaluate(context.Background(), "op-1", intent, load)
	if !allow {
		t.Fatalf("expected allow, got deny: %s", reason)
	}
}

func TestEvaluateVetoesMetaTouchingEthicsDomain(t *testing.T) {
	c := newConsensus(t, "")
	intent := col.Intent{SovereignID: "sov-1", Domain: "ethics"}
	load := col.LoadResult{Policies: []col.Policy{{Type: col.Meta}}}

	_, allow, _ := c.Evaluate(context.Background(), "op-1", intent, load)
	if allow {
		t.Fatalf("expected veto for meta-agent touching its own ethics domain")
	}
}

func TestEvaluateBlocksEmptyDomain(t *testing.T) {
	c := newConsensus(t, "")
	intent := col.Intent{SovereignID: "sov-1", Domain: ""}
	load := col.LoadResult{}

	_, allow, _ := c.Evaluate(context.Background(), "op-1", intent, load)
	if allow {
		t.Fatalf("expected empty domain to block execution")
	}
}

func TestEvaluateDefersOnMinorityDissent(t *testing.T) {
	c := newConsensus(t, "")
	// exec_requires_nonempty_sovereign fails (type=SYSTEM_EXEC, no
	// sovereign_id); the other two majority rules (no_empty_domain,
	// policy_count_sane) pass, and no hard-veto rule fails — one of
	// three majority votes failing is a minority, so this should defer
	// rather than deny or allow outright.
	intent := col.Intent{Domain: "default"}
	load := col.LoadResult{Policies: []col.Policy{{Type: col.SystemExec}}}

	id, allow, reason := c.Evaluate(context.Background(), "op-1", intent, load)
	if allow {
		t.Fatalf("expected a minority dissent to not be outright allowed")
	}
	if reason == "" {
		t.Fatalf("expected a reason")
	}
	if id == "" {
		t.Fatalf("expected a record id")
	}
}

func TestEvaluateDeniesOnMajorityDissent(t *testing.T) {
	c := newConsensus(t, "")
	// Empty domain AND an exec-class intent with no sovereign id fails
	// two of the three majority rules — that's a majority, so this
	// should deny even though no hard-veto rule is involved.
	intent := col.Intent{Domain: ""}
	load := col.LoadResult{Policies: []col.Policy{{Type: col.SystemExec}}}

	_, allow, reason := c.Evaluate(context.Background(), "op-1", intent, load)
	if allow {
		t.Fatalf("expected majority dissent to deny")
	}
	if !strings.Contains(reason, "majority") {
		t.Fatalf("expected the majority-denial reason to say so, got %q", reason)
	}
}

func TestDenyWritesUnknownSovereignRecord(t *testing.T) {
	dir := t.TempDir()
	audit, err := NewAuditLog(dir)
	if err != nil {
		t.Fatalf("NewAuditLog: %v", err)
	}
	c, err := NewConsensus(DefaultRules, audit)
	if err != nil {
		t.Fatalf("NewConsensus: %v", err)
	}

	id := c.Deny("", "", "unknown sovereign")
	if id == "" {
		t.Fatalf("expected a non-empty record id")
	}
	audit.Close()

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one audit file, got %v (err=%v)", entries, err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if !strings.Contains(string(data), `"decision":"deny"`) || !strings.Contains(string(data), "unknown sovereign") {
		t.Fatalf("expected a deny/unknown-sovereign record, got %s", data)
	}
}

func TestDenyOnNilConsensusIsNoop(t *testing.T) {
	var c *Consensus
	if id := c.Deny("sov-1", "default", "test"); id != "" {
		t.Fatalf("expected a nil Consensus to no-op, got id %q", id)
	}
}

func TestEvaluateAppendsAuditRecord(t *testing.T) {
	dir := t.TempDir()
	c := newConsensus(t, dir)
	intent := col.Intent{SovereignID: "sov-1", Domain: "default"}
	load := col.LoadResult{Policies: []col.Policy{{Type: col.SystemRead}}}

	c.Evaluate(context.Background(), "op-1", intent, load)
	c.audit.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one audit file, got %d", len(entries))
	}
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected a non-empty audit record")
	}
}
