package skills

import (
	"testing"

	"github.com/cell0os/core/internal/col"
)

func TestResolveMatchesDomainAndType(t *testing.T) {
	engine := NewPolicyEngine([]Rule{
		{Name: "deny-exec-untrusted", Domains: []string{"untrusted"}, Types: []string{"SYSTEM_EXEC"}, Deny: true},
		{Name: "destructive-writes", Types: []string{"SYSTEM_WRITE"}, Destructive: true, Sandbox: "filesystem-jail"},
	})

	policies, sandbox := engine.Resolve("untrusted", col.SystemExec, "")
	if len(policies) != 1 || !policies[0].Deny {
		t.Fatalf("expected one deny policy, got %+v", policies)
	}
	if sandbox != col.SandboxNone {
		t.Fatalf("expected no sandbox escalation from a deny-only rule, got %s", sandbox)
	}

	policies, sandbox = engine.Resolve("default", col.SystemWrite, "")
	if len(policies) != 1 || !policies[0].Destructive {
		t.Fatalf("expected destructive policy, got %+v", policies)
	}
	if sandbox != col.SandboxFilesystemJail {
		t.Fatalf("expected filesystem-jail, got %s", sandbox)
	}
}

func TestResolveNoMatchReturnsEmpty(t *testing.T) {
	engine := NewPolicyEngine([]Rule{
		{Name: "narrow", Domains: []string{"finance"}, Deny: true},
	})
	policies, sandbox := engine.Resolve("general", col.Communicate, "")
	if len(policies) != 0 {
		t.Fatalf("expected no matching policies, got %+v", policies)
	}
	if sandbox != col.SandboxNone {
		t.Fatalf("expected SandboxNone, got %s", sandbox)
	}
}

func TestFilterSkillsAppliesGroupsAndDeny(t *testing.T) {
	engine := NewPolicyEngine([]Rule{
		{Name: "no-runtime-for-untrusted", Domains: []string{"untrusted"}, DenySkills: []string{"group:runtime"}},
	})
	all := []string{"read_file", "write_file", "exec", "script", "send_message"}

	filtered := engine.FilterSkills(all, "untrusted", col.SystemExec, "coding")
	for _, denied := range []string{"exec", "script"} {
		for _, f := range filtered {
			if f == denied {
				t.Fatalf("expected %s to be denied for untrusted domain, got %+v", denied, filtered)
			}
		}
	}
}
