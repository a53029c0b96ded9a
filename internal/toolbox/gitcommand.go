package toolbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// allowedGitSubcommands is an allowlist, not a denylist — git_command
// is read-only by contract, so anything not named here is rejected
// outright rather than pattern-matched for danger.
var allowedGitSubcommands = map[string]bool{
	"log":    true,
	"show":   true,
	"diff":   true,
	"status": true,
	"branch": true,
	"remote": true,
	"blame":  true,
}

// GitCommandTool runs a whitelisted read-only git subcommand against the
// working directory. It never mutates the working tree — commit/push go
// through the Git Driver, not this tool.
type GitCommandTool struct {
	Timeout time.Duration
}

func (GitCommandTool) Name() string        { return "git_command" }
func (GitCommandTool) Description() string { return "Run a read-only git subcommand (log, show, diff, status, branch, remote, blame)" }
func (GitCommandTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"args": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "git arguments, e.g. [\"log\", \"--oneline\", \"-n\", \"5\"]",
			},
		},
		"required": []string{"args"},
	}
}

func (t GitCommandTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	raw, ok := args["args"].([]interface{})
	if !ok || len(raw) == 0 {
		return Err("args is required and must be a non-empty array")
	}
	gitArgs := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return Err("every element of args must be a string")
		}
		gitArgs = append(gitArgs, s)
	}
	if !allowedGitSubcommands[gitArgs[0]] {
		return Err(fmt.Sprintf("git subcommand %q is not permitted; allowed: log, show, diff, status, branch, remote, blame", gitArgs[0]))
	}
	for _, a := range gitArgs {
		if strings.HasPrefix(a, "--upload-pack") || strings.HasPrefix(a, "--exec") {
			return Err("that flag is not permitted")
		}
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "git", gitArgs...)
	cmd.Dir = WorkingDirFromCtx(ctx)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return Err(fmt.Sprintf("git command failed: %v\n%s", err, out.String()))
	}
	return Ok(out.String())
}
