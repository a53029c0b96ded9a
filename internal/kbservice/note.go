package kbservice

import (
	"context"
	"fmt"
	"strings"

	"github.com/noteforge/noteforge/internal/agent"
	"github.com/noteforge/noteforge/internal/toolbox"
	"github.com/noteforge/noteforge/pkg/events"
)

// NoteService handles /note mode: the agent must file the grouped message
// into the knowledge base. A result with no mutations is treated as a
// failure — note mode's entire purpose is writing something down.
type NoteService struct {
	*Base
}

func NewNoteService(base *Base) *NoteService { return &NoteService{Base: base} }

func (s *NoteService) Handle(ctx context.Context, group events.MessageGroup) error {
	return s.Base.Handle(ctx, noteSpec{}, group)
}

type noteSpec struct{}

func (noteSpec) Mode() toolbox.Mode        { return toolbox.ModeNote }
func (noteSpec) AllowNoMutation() bool     { return false }

func (noteSpec) SuccessMessage(result *agent.AgentResult) string {
	paths := append(append([]string{}, result.FilesCreated...), result.FilesEdited...)
	if len(paths) == 0 {
		return "Saved to the knowledge base."
	}
	return fmt.Sprintf("Saved to the knowledge base: %s", strings.Join(paths, ", "))
}

func (noteSpec) CommitSummary(result *agent.AgentResult) string {
	if len(result.FilesCreated) > 0 {
		return "add note " + strings.Join(result.FilesCreated, ", ")
	}
	if len(result.FilesEdited) > 0 {
		return "update note " + strings.Join(result.FilesEdited, ", ")
	}
	return "note update"
}
