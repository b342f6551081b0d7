// Package skills holds the capability surface agents invoke once COL's
// APPLY phase has resolved a skill plan: exec, scripting, and whatever a
// domain package registers. PolicyEngine.FilterSkills narrows a skill
// list by profile and matching rules; the gateway wiring registers no
// skills and does not call it.
package skills

import "context"

// Result is the unified return type from skill execution, matching the
// shape the agent loop threads back into the LLM/session log.
type Result struct {
	ForLLM  string
	ForUser string
	Silent  bool
	IsError bool
	Err     error
}

func NewResult(forLLM string) *Result    { return &Result{ForLLM: forLLM} }
func SilentResult(forLLM string) *Result { return &Result{ForLLM: forLLM, Silent: true} }
func ErrorResult(message string) *Result { return &Result{ForLLM: message, IsError: true} }

func (r *Result) WithError(err error) *Result {
	r.Err = err
	r.IsError = true
	return r
}

// Skill is one invocable capability.
type Skill interface {
	Name() string
	Description() string
	Parameters() map[string]any
	// SandboxClass is the minimum sandbox this skill declares it needs.
	// col's APPLY does not read it; APPLY only sees the class LOAD
	// resolved from policy rules.
	SandboxClass() string
}

// Executor is implemented by skills that run synchronously. workspace is
// the sandbox-jail directory resolved for this session (empty if
// SandboxNone); sessionKey identifies the caller for audit/taint
// tracking.
type Executor interface {
	Skill
	Execute(ctx context.Context, args map[string]any, workspace, sessionKey string) *Result
}
