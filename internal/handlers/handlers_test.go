package handlers

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noteforge/noteforge/internal/aggregator"
	"github.com/noteforge/noteforge/internal/config"
	"github.com/noteforge/noteforge/internal/credstore"
	"github.com/noteforge/noteforge/internal/dedup"
	"github.com/noteforge/noteforge/internal/mcphub"
	"github.com/noteforge/noteforge/internal/router"
	"github.com/noteforge/noteforge/pkg/events"
)

type fakePort struct {
	sent []string
}

func (f *fakePort) SendText(ctx context.Context, chatID int64, text string) (string, error) {
	f.sent = append(f.sent, text)
	return "1", nil
}
func (f *fakePort) EditText(ctx context.Context, chatID int64, messageID, text string) error {
	return nil
}
func (f *fakePort) SendDocument(ctx context.Context, chatID int64, localPath, caption string) error {
	return nil
}
func (f *fakePort) Delete(ctx context.Context, chatID int64, messageID string) error { return nil }
func (f *fakePort) Updates() <-chan events.IncomingEvent                             { return nil }
func (f *fakePort) Start(ctx context.Context) error                                  { return nil }
func (f *fakePort) Stop(ctx context.Context) error                                   { return nil }

func (f *fakePort) last() string {
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

type nopService struct{}

func (nopService) Handle(ctx context.Context, group events.MessageGroup) error { return nil }

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakePort) {
	t.Helper()
	dir := t.TempDir()
	port := &fakePort{}

	log := dedup.New(filepath.Join(dir, "processed.json"))
	r := router.New(log, nopService{}, nopService{}, nopService{})
	bindings := router.NewBindingStore(filepath.Join(dir, "bindings.json"))

	key := make([]byte, 32)
	creds, err := credstore.New(filepath.Join(dir, "creds.json"), key)
	require.NoError(t, err)

	return &Dispatcher{
		Port:       port,
		Aggregator: aggregator.New(30 * time.Second),
		Router:     r,
		Bindings:   bindings,
		Creds:      creds,
		Overlay:    config.NewOverlayStore(filepath.Join(dir, "overlay.json")),
		MCPServers: mcphub.NewServerRegistry(dir),
		Config:     config.Default(),
	}, port
}

func TestParseCommandStripsBotnameSuffix(t *testing.T) {
	cmd, args, ok := parseCommand("/setkb@noteforge_bot myKB")
	require.True(t, ok)
	require.Equal(t, "/setkb", cmd)
	require.Equal(t, "myKB", args)
}

func TestParseCommandRejectsPlainText(t *testing.T) {
	_, _, ok := parseCommand("just a note")
	require.False(t, ok)
}

func TestHandleEventRoutesModeSwitch(t *testing.T) {
	d, port := newTestDispatcher(t)
	d.HandleEvent(context.Background(), events.IncomingEvent{UserID: 1, ChatID: 1, Text: "/ask"})
	require.Equal(t, router.ModeAsk, d.Router.ModeFor(1))
	require.Contains(t, port.last(), "ask mode")
}

func TestSetKBBindsLocalByName(t *testing.T) {
	d, port := newTestDispatcher(t)
	d.HandleEvent(context.Background(), events.IncomingEvent{UserID: 1, ChatID: 1, Text: "/setkb personal"})

	b, ok, err := d.Bindings.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, router.KBKindLocal, b.KBKind)
	require.Equal(t, "personal", b.KBName)
	require.Contains(t, port.last(), "personal")
}

func TestSetKBBindsRemoteByURL(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.HandleEvent(context.Background(), events.IncomingEvent{
		UserID: 1, ChatID: 1, Text: "/setkb https://github.com/acme/notes.git",
	})

	b, ok, err := d.Bindings.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, router.KBKindRemote, b.KBKind)
	require.Equal(t, "notes", b.KBName)
	require.Equal(t, "https://github.com/acme/notes.git", b.RemoteURL)
}

func TestUnsetKBRemovesBinding(t *testing.T) {
	d, _ := newTestDispatcher(t)
	require.NoError(t, d.Bindings.Set(1, router.KBBinding{KBName: "x", KBKind: router.KBKindLocal}))

	d.HandleEvent(context.Background(), events.IncomingEvent{UserID: 1, ChatID: 1, Text: "/unsetkb"})

	_, ok, err := d.Bindings.Get(1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSetSettingRejectsSecretField(t *testing.T) {
	d, port := newTestDispatcher(t)
	d.HandleEvent(context.Background(), events.IncomingEvent{
		UserID: 1, ChatID: 1, Text: "/setsetting CRED_GIT_TOKEN abc",
	})
	require.Contains(t, port.last(), "isn't valid")
}

func TestSetSettingThenViewReflectsOverride(t *testing.T) {
	d, port := newTestDispatcher(t)
	d.HandleEvent(context.Background(), events.IncomingEvent{
		UserID: 1, ChatID: 1, Text: "/setsetting RATE_LIMIT_PER_MINUTE 5",
	})
	require.Contains(t, port.last(), "RATE_LIMIT_PER_MINUTE set to 5")

	d.HandleEvent(context.Background(), events.IncomingEvent{
		UserID: 1, ChatID: 1, Text: "/viewsettings rate",
	})
	require.Contains(t, port.last(), "RATE_LIMIT_PER_MINUTE = 5")
}

func TestCredsSetShowClear(t *testing.T) {
	d, port := newTestDispatcher(t)
	d.HandleEvent(context.Background(), events.IncomingEvent{
		UserID: 1, ChatID: 1, Text: "/creds set octocat ghp_abcdef",
	})
	require.Contains(t, port.last(), "saved")

	d.HandleEvent(context.Background(), events.IncomingEvent{UserID: 1, ChatID: 1, Text: "/creds show"})
	require.Contains(t, port.last(), "octocat")
	require.NotContains(t, port.last(), "ghp_abcdef")

	d.HandleEvent(context.Background(), events.IncomingEvent{UserID: 1, ChatID: 1, Text: "/creds clear"})
	require.Contains(t, port.last(), "cleared")
}

func TestMCPAddListEnableDisableRemove(t *testing.T) {
	d, port := newTestDispatcher(t)
	d.HandleEvent(context.Background(), events.IncomingEvent{
		UserID: 1, ChatID: 1, Text: "/mcp add search sse https://tools.example/sse",
	})
	require.Contains(t, port.last(), "search")

	d.HandleEvent(context.Background(), events.IncomingEvent{UserID: 1, ChatID: 1, Text: "/mcp list"})
	require.Contains(t, port.last(), "search")

	d.HandleEvent(context.Background(), events.IncomingEvent{UserID: 1, ChatID: 1, Text: "/mcp disable search"})
	require.Contains(t, port.last(), "disabled")

	d.HandleEvent(context.Background(), events.IncomingEvent{UserID: 1, ChatID: 1, Text: "/mcp remove search"})
	require.Contains(t, port.last(), "Removed")
}

func TestNonCommandTextGoesToAggregator(t *testing.T) {
	d, port := newTestDispatcher(t)
	d.HandleEvent(context.Background(), events.IncomingEvent{
		UserID: 1, ChatID: 1, Text: "remember to water the plants", Timestamp: time.Now(),
	})
	require.Empty(t, port.sent)
	d.Aggregator.Flush(1)
	group := <-d.Aggregator.Out()
	require.Equal(t, "remember to water the plants", group.CombinedText)
}
