package skills

import (
	"context"
	"strings"
	"testing"
)

func TestExecSkillDeniesDangerousBinary(t *testing.T) {
	skill := NewExecSkill(5, 1024)
	result := skill.Execute(context.Background(), map[string]any{"command": "rm -rf /"}, t.TempDir(), "sess-1")
	if !result.IsError {
		t.Fatalf("expected rm to be denied")
	}
}

func TestExecSkillRunsSimpleCommand(t *testing.T) {
	skill := NewExecSkill(5, 1024)
	result := skill.Execute(context.Background(), map[string]any{"command": "echo hello"}, t.TempDir(), "sess-1")
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.ForLLM)
	}
	if !strings.Contains(result.ForLLM, "hello") {
		t.Fatalf("expected output to contain hello, got %q", result.ForLLM)
	}
}

func TestExecSkillRequiresCommand(t *testing.T) {
	skill := NewExecSkill(5, 1024)
	result := skill.Execute(context.Background(), map[string]any{}, t.TempDir(), "sess-1")
	if !result.IsError {
		t.Fatalf("expected error for missing command")
	}
}
