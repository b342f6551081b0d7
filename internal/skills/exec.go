package skills

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"time"

	"github.com/mattn/go-shellwords"
)

// execDenyPatterns is the defense-in-depth command blocklist, trimmed
// down from the teacher's internal/tools/shell.go defaultDenyPatterns to
// the categories that still apply once commands are argv-parsed instead
// of handed to `sh -c` (no shell metacharacters reach exec.Command here,
// so injection/pipe/redirect patterns do not apply — only the dangerous
// binaries themselves need denying).
var execDenyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(rm|dd|mkfs|diskpart|shutdown|reboot|poweroff)$`),
	regexp.MustCompile(`(?i)^(sudo|su|nsenter|unshare|mount|umount)$`),
	regexp.MustCompile(`(?i)^(nc|ncat|netcat|socat|nmap|masscan)$`),
	regexp.MustCompile(`(?i)^(curl|wget)$`),
	regexp.MustCompile(`(?i)^(xmrig|cpuminer|minerd|cgminer)$`),
}

// ExecSkill runs a host command parsed into an argv (via go-shellwords)
// rather than interpreted by a shell, so the deny list only has to cover
// dangerous binaries rather than shell-injection syntax. Requires at
// least subprocess-jail.
type ExecSkill struct {
	timeout        time.Duration
	maxOutputBytes int
}

func NewExecSkill(timeoutSec, maxOutputBytes int) *ExecSkill {
	if timeoutSec <= 0 {
		timeoutSec = 60
	}
	if maxOutputBytes <= 0 {
		maxOutputBytes = 1 << 20
	}
	return &ExecSkill{timeout: time.Duration(timeoutSec) * time.Second, maxOutputBytes: maxOutputBytes}
}

func (s *ExecSkill) Name() string        { return "exec" }
func (s *ExecSkill) Description() string { return "Run a host command and return its output" }
func (s *ExecSkill) SandboxClass() string { return "subprocess-jail" }

func (s *ExecSkill) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{"type": "string", "description": "Command line to execute"},
		},
		"required": []string{"command"},
	}
}

func (s *ExecSkill) Execute(ctx context.Context, args map[string]any, workspace, sessionKey string) *Result {
	command, _ := args["command"].(string)
	if command == "" {
		return ErrorResult("command is required")
	}

	argv, err := shellwords.Parse(command)
	if err != nil || len(argv) == 0 {
		return ErrorResult(fmt.Sprintf("could not parse command: %v", err))
	}
	for _, pattern := range execDenyPatterns {
		if pattern.MatchString(argv[0]) {
			return ErrorResult(fmt.Sprintf("command denied by safety policy: %s is not permitted", argv[0]))
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = workspace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	output := stdout.String()
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n"
		}
		output += "STDERR:\n" + stderr.String()
	}
	if len(output) > s.maxOutputBytes {
		output = output[:s.maxOutputBytes] + "\n[output truncated]"
	}

	if runErr != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return ErrorResult(fmt.Sprintf("command timed out after %s", s.timeout))
		}
		if output == "" {
			output = runErr.Error()
		}
		return ErrorResult(output).WithError(runErr)
	}
	if output == "" {
		output = "(command completed with no output)"
	}
	return SilentResult(output)
}
