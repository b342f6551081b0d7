package skills

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// ScriptSkill evaluates a short JavaScript expression inside a goja VM —
// no filesystem, network, or process access is exposed to the runtime,
// so this skill only ever needs SandboxNone/filesystem-jail even though
// it still runs under whatever class LOAD resolved for the domain.
type ScriptSkill struct {
	timeout time.Duration
}

func NewScriptSkill(timeoutSec int) *ScriptSkill {
	if timeoutSec <= 0 {
		timeoutSec = 5
	}
	return &ScriptSkill{timeout: time.Duration(timeoutSec) * time.Second}
}

func (s *ScriptSkill) Name() string        { return "script" }
func (s *ScriptSkill) Description() string { return "Evaluate a JavaScript expression in a sandboxed VM" }
func (s *ScriptSkill) SandboxClass() string { return "none" }

func (s *ScriptSkill) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code": map[string]any{"type": "string", "description": "JavaScript source to evaluate"},
		},
		"required": []string{"code"},
	}
}

func (s *ScriptSkill) Execute(ctx context.Context, args map[string]any, workspace, sessionKey string) *Result {
	code, _ := args["code"].(string)
	if code == "" {
		return ErrorResult("code is required")
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	done := make(chan struct{})
	var value goja.Value
	var runErr error

	go func() {
		defer close(done)
		value, runErr = vm.RunString(code)
	}()

	select {
	case <-done:
	case <-time.After(s.timeout):
		vm.Interrupt("execution timed out")
		<-done
		return ErrorResult(fmt.Sprintf("script timed out after %s", s.timeout))
	case <-ctx.Done():
		vm.Interrupt("cancelled")
		<-done
		return ErrorResult("script cancelled")
	}

	if runErr != nil {
		return ErrorResult(fmt.Sprintf("script error: %v", runErr)).WithError(runErr)
	}
	return SilentResult(value.String())
}
