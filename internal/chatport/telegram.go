package chatport

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/noteforge/noteforge/pkg/events"
)

// TelegramPort is the reference Chat Port adapter, grounded on the
// teacher's internal/channels/telegram.Channel: it connects over the Bot
// API via long polling, translates inbound updates into
// events.IncomingEvent, and implements outbound send/edit/document/delete
// against the same API.
type TelegramPort struct {
	bot    *telego.Bot
	out    chan events.IncomingEvent
	cancel context.CancelFunc
	done   chan struct{}

	mediaMaxBytes int64
}

func NewTelegramPort(token string) (*TelegramPort, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("chatport: create telegram bot: %w", err)
	}
	return &TelegramPort{
		bot:           bot,
		out:           make(chan events.IncomingEvent, 64),
		mediaMaxBytes: 20 * 1024 * 1024,
	}, nil
}

func (p *TelegramPort) Updates() <-chan events.IncomingEvent { return p.out }

func (p *TelegramPort) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	updates, err := p.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("chatport: start long polling: %w", err)
	}

	go func() {
		defer close(p.done)
		defer close(p.out)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message == nil {
					continue
				}
				if ev, ok := p.toIncomingEvent(update.Message); ok {
					select {
					case p.out <- ev:
					case <-pollCtx.Done():
						return
					}
				}
			}
		}
	}()
	return nil
}

func (p *TelegramPort) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.done != nil {
		select {
		case <-p.done:
		case <-time.After(10 * time.Second):
			slog.Warn("chatport.telegram_stop_timeout")
		}
	}
	return nil
}

func (p *TelegramPort) toIncomingEvent(msg *telego.Message) (events.IncomingEvent, bool) {
	if msg.From == nil {
		return events.IncomingEvent{}, false
	}

	ev := events.IncomingEvent{
		EventID:     strconv.Itoa(msg.MessageID),
		ChatID:      msg.Chat.ID,
		UserID:      msg.From.ID,
		Text:        textOf(msg),
		Timestamp:   time.Unix(int64(msg.Date), 0),
		ContentType: events.ContentText,
	}
	if msg.MediaGroupID != "" {
		ev.MediaGroupID = msg.MediaGroupID
	}
	if src, title, ok := forwardSource(msg); ok {
		ev.ContentType = events.ContentForwarded
		ev.ForwardedFrom = &events.ForwardedFrom{SourceID: src, Title: title}
	}

	if media, ok := mediaRefFor(msg); ok {
		ev.Media = []events.MediaRef{media}
		if ev.ContentType == events.ContentText {
			ev.ContentType = mediaContentType(media.Kind)
		}
	}

	return ev, true
}

func textOf(msg *telego.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

// forwardSource extracts a stable identifier for a forwarded message's
// original source, using the legacy forward_from/forward_from_chat fields
// that predate Bot API 7.0's forward_origin restructuring — telego mirrors
// both generations of the field set.
func forwardSource(msg *telego.Message) (sourceID, title string, ok bool) {
	switch {
	case msg.ForwardFromChat != nil:
		return strconv.FormatInt(msg.ForwardFromChat.ID, 10), msg.ForwardFromChat.Title, true
	case msg.ForwardFrom != nil:
		return strconv.FormatInt(msg.ForwardFrom.ID, 10), "", true
	case msg.ForwardSenderName != "":
		return "", msg.ForwardSenderName, true
	default:
		return "", "", false
	}
}

func mediaContentType(kind events.MediaKind) events.ContentType {
	switch kind {
	case events.MediaDocument:
		return events.ContentDocument
	case events.MediaImage:
		return events.ContentPhoto
	default:
		return events.ContentOther
	}
}

// mediaRefFor extracts the single most relevant media attachment from a
// message. Telegram sends album items as separate messages sharing a
// MediaGroupID; the aggregator (not this adapter) is responsible for
// coalescing them back into one group.
func mediaRefFor(msg *telego.Message) (events.MediaRef, bool) {
	switch {
	case len(msg.Photo) > 0:
		photo := msg.Photo[len(msg.Photo)-1]
		return events.MediaRef{Kind: events.MediaImage, OpaqueHandle: photo.FileID, Caption: msg.Caption}, true
	case msg.Document != nil:
		return events.MediaRef{Kind: events.MediaDocument, OpaqueHandle: msg.Document.FileID, Caption: msg.Caption, FileName: msg.Document.FileName}, true
	case msg.Video != nil:
		return events.MediaRef{Kind: events.MediaVideo, OpaqueHandle: msg.Video.FileID, Caption: msg.Caption, FileName: msg.Video.FileName}, true
	case msg.Audio != nil:
		return events.MediaRef{Kind: events.MediaAudio, OpaqueHandle: msg.Audio.FileID, Caption: msg.Caption, FileName: msg.Audio.FileName}, true
	case msg.Voice != nil:
		return events.MediaRef{Kind: events.MediaAudio, OpaqueHandle: msg.Voice.FileID, Caption: msg.Caption}, true
	default:
		return events.MediaRef{}, false
	}
}

func (p *TelegramPort) SendText(ctx context.Context, chatID int64, text string) (string, error) {
	msg, err := p.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text))
	if err != nil {
		return "", fmt.Errorf("chatport: send message: %w", err)
	}
	return strconv.Itoa(msg.MessageID), nil
}

func (p *TelegramPort) EditText(ctx context.Context, chatID int64, messageID, text string) error {
	id, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("chatport: invalid message id %q: %w", messageID, err)
	}
	_, err = p.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID:    tu.ID(chatID),
		MessageID: id,
		Text:      text,
	})
	if err != nil {
		return fmt.Errorf("chatport: edit message: %w", err)
	}
	return nil
}

func (p *TelegramPort) SendDocument(ctx context.Context, chatID int64, localPath, caption string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("chatport: open document: %w", err)
	}
	defer f.Close()

	_, err = p.bot.SendDocument(ctx, &telego.SendDocumentParams{
		ChatID:   tu.ID(chatID),
		Document: tu.File(f),
		Caption:  caption,
	})
	if err != nil {
		return fmt.Errorf("chatport: send document: %w", err)
	}
	return nil
}

func (p *TelegramPort) Delete(ctx context.Context, chatID int64, messageID string) error {
	id, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("chatport: invalid message id %q: %w", messageID, err)
	}
	err = p.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
		ChatID:    tu.ID(chatID),
		MessageID: id,
	})
	if err != nil {
		return fmt.Errorf("chatport: delete message: %w", err)
	}
	return nil
}
