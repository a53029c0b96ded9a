package kbservice

import (
	"context"

	"github.com/noteforge/noteforge/internal/agent"
	"github.com/noteforge/noteforge/internal/toolbox"
	"github.com/noteforge/noteforge/pkg/events"
)

// AskService handles /ask mode: a read-only query over the knowledge base.
// A result with no mutations is the expected, common case.
type AskService struct {
	*Base
}

func NewAskService(base *Base) *AskService { return &AskService{Base: base} }

func (s *AskService) Handle(ctx context.Context, group events.MessageGroup) error {
	return s.Base.Handle(ctx, askSpec{}, group)
}

type askSpec struct{}

func (askSpec) Mode() toolbox.Mode    { return toolbox.ModeAsk }
func (askSpec) AllowNoMutation() bool { return true }

func (askSpec) SuccessMessage(result *agent.AgentResult) string {
	if result.RenderedMarkdown == "" {
		return "No answer was produced."
	}
	return result.RenderedMarkdown
}

func (askSpec) CommitSummary(result *agent.AgentResult) string {
	return "ask-mode side effect"
}
