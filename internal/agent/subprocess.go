package agent

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/noteforge/noteforge/internal/kerrors"
)

// SubprocessDriver spawns an external CLI per invocation, feeding it the
// grouped text on stdin and reading its final answer from stdout. The CLI
// runs its own tool loop against an MCP client config the hub wrote out
// ahead of time (see internal/mcphub's per-client config endpoints), so
// this driver never touches toolbox.Registry directly. Grounded on the
// stdio subprocess lifecycle in beeper-ai-bridge's pkg/codexrpc.Client
// (StdinPipe/StdoutPipe/CommandContext), simplified to one request/response
// round trip instead of a persistent JSON-RPC connection.
type SubprocessDriver struct {
	Command string
	Args    []string
	// Env is appended to the host process's environment; provider
	// credentials live here (e.g. OPENAI_API_KEY), never in Args.
	Env []string
}

func (d *SubprocessDriver) Run(ctx context.Context, inv AgentInvocation) (*AgentResult, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if !inv.Deadline.IsZero() {
		runCtx, cancel = context.WithDeadline(ctx, inv.Deadline)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, d.Command, d.Args...)
	cmd.Dir = inv.WorkingDirectory
	if len(d.Env) > 0 {
		cmd.Env = append(os.Environ(), d.Env...)
	}
	cmd.Stdin = strings.NewReader(renderSubprocessPrompt(inv))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if err != nil {
		if runCtx.Err() != nil {
			return nil, kerrors.Wrap(kerrors.AgentTimeout, "agent subprocess exceeded its deadline", err)
		}
		return nil, kerrors.Wrap(kerrors.AgentToolFailed, fmt.Sprintf("agent subprocess failed: %s", strings.TrimSpace(stderr.String())), err)
	}

	return &AgentResult{
		RenderedMarkdown: strings.TrimSpace(stdout.String()),
		ToolTrace: []ToolTraceEntry{{
			ToolName:  d.Command,
			ForModel:  "subprocess completed",
			StartedAt: start,
			Duration:  duration,
		}},
		Metadata: ResultMetadata{Iterations: 1},
	}, nil
}

func renderSubprocessPrompt(inv AgentInvocation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "mode: %s\n", inv.Mode)
	fmt.Fprintf(&b, "working_directory: %s\n", inv.WorkingDirectory)
	if inv.KBStructureHint != "" {
		b.WriteString("kb_structure:\n" + inv.KBStructureHint + "\n")
	}
	for _, turn := range inv.Context {
		fmt.Fprintf(&b, "[%s] %s\n", turn.Role, turn.Content)
	}
	b.WriteString("\n" + inv.GroupedText + "\n")
	return b.String()
}
