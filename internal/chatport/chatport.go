// Package chatport defines the Chat Port boundary between a chat
// transport and the rest of the gateway, plus the reference Telegram
// adapter. A Port produces platform-neutral events.IncomingEvent values
// and accepts a small set of outbound primitives (send, edit, document,
// delete) that every downstream consumer — the aggregator's flush path,
// the KB services' status-message lifecycle, the command handlers — drives
// without knowing which transport is behind it.
package chatport

import (
	"context"

	"github.com/noteforge/noteforge/internal/kbservice"
	"github.com/noteforge/noteforge/internal/router"
	"github.com/noteforge/noteforge/pkg/events"
)

// Port is the narrow outbound+inbound surface a chat transport implements.
type Port interface {
	// SendText posts a new message and returns its platform message ID.
	SendText(ctx context.Context, chatID int64, text string) (messageID string, err error)
	// EditText rewrites a previously sent message in place.
	EditText(ctx context.Context, chatID int64, messageID, text string) error
	// SendDocument uploads the file at localPath as a chat attachment.
	SendDocument(ctx context.Context, chatID int64, localPath, caption string) error
	// Delete removes a previously sent message, best-effort.
	Delete(ctx context.Context, chatID int64, messageID string) error

	// Updates returns the channel of inbound events. Start must be called
	// first; the channel is closed when the transport stops.
	Updates() <-chan events.IncomingEvent

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// StatusAdapter turns a Port into a kbservice.StatusReporter by rendering
// each phase as a short prefix on the message text, so the user sees the
// pipeline progress inline without any transport-specific formatting.
type StatusAdapter struct {
	Port Port
}

func phaseLabel(phase kbservice.StatusPhase) string {
	switch phase {
	case kbservice.PhaseQueued:
		return "⏳ Queued"
	case kbservice.PhasePulling:
		return "🔄 Syncing"
	case kbservice.PhaseAgent:
		return "🤖 Working"
	case kbservice.PhasePushing:
		return "💾 Saving"
	case kbservice.PhaseDone:
		return "✅ Done"
	case kbservice.PhaseError:
		return "⚠️ Error"
	default:
		return string(phase)
	}
}

func render(phase kbservice.StatusPhase, text string) string {
	label := phaseLabel(phase)
	if text == "" {
		return label
	}
	return label + "\n" + text
}

func (a *StatusAdapter) SendStatus(ctx context.Context, chatID int64, phase kbservice.StatusPhase, text string) (string, error) {
	return a.Port.SendText(ctx, chatID, render(phase, text))
}

func (a *StatusAdapter) EditStatus(ctx context.Context, chatID int64, messageID string, phase kbservice.StatusPhase, text string) error {
	return a.Port.EditText(ctx, chatID, messageID, render(phase, text))
}

var _ kbservice.StatusReporter = (*StatusAdapter)(nil)

// DuplicateAdapter turns a Port into a router.DuplicateNotifier, sending a
// short reply so a resent message a user expects to retry doesn't look
// like it vanished.
type DuplicateAdapter struct {
	Port Port
}

func (a *DuplicateAdapter) NotifyDuplicate(ctx context.Context, chatID int64) error {
	_, err := a.Port.SendText(ctx, chatID, "Already processed — no changes made.")
	return err
}

var _ router.DuplicateNotifier = (*DuplicateAdapter)(nil)
