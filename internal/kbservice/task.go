package kbservice

import (
	"context"
	"fmt"
	"strings"

	"github.com/noteforge/noteforge/internal/agent"
	"github.com/noteforge/noteforge/internal/toolbox"
	"github.com/noteforge/noteforge/pkg/events"
)

// TaskService handles /agent mode: the agent may run multi-step work
// (restructuring, running read-only git/github/web tools, planning) that
// need not touch any file — a no-op task is acceptable.
type TaskService struct {
	*Base
}

func NewTaskService(base *Base) *TaskService { return &TaskService{Base: base} }

func (s *TaskService) Handle(ctx context.Context, group events.MessageGroup) error {
	return s.Base.Handle(ctx, taskSpec{}, group)
}

type taskSpec struct{}

func (taskSpec) Mode() toolbox.Mode    { return toolbox.ModeTask }
func (taskSpec) AllowNoMutation() bool { return true }

func (taskSpec) SuccessMessage(result *agent.AgentResult) string {
	var b strings.Builder
	b.WriteString("Task complete.")
	if n := len(result.FilesCreated) + len(result.FilesEdited) + len(result.FilesDeleted); n > 0 {
		fmt.Fprintf(&b, " %d file(s) changed.", n)
	}
	if result.RenderedMarkdown != "" {
		b.WriteString("\n\n")
		b.WriteString(result.RenderedMarkdown)
	}
	return b.String()
}

func (taskSpec) CommitSummary(result *agent.AgentResult) string {
	return "agent task"
}
