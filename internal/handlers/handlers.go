// Package handlers implements the thin layer that turns platform-neutral
// events into command dispatch or aggregator input. Command parsing
// splits off any "@botname" suffix and switches on the lowercased verb,
// leading "/" included.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/noteforge/noteforge/internal/aggregator"
	"github.com/noteforge/noteforge/internal/chatport"
	"github.com/noteforge/noteforge/internal/config"
	"github.com/noteforge/noteforge/internal/credstore"
	"github.com/noteforge/noteforge/internal/kerrors"
	"github.com/noteforge/noteforge/internal/mcphub"
	"github.com/noteforge/noteforge/internal/router"
	"github.com/noteforge/noteforge/pkg/events"
)

// Dispatcher routes inbound events to either a command handler or the
// Message Aggregator, and owns every command's direct reply.
type Dispatcher struct {
	Port       chatport.Port
	Aggregator *aggregator.Aggregator
	Router     *router.Router
	Bindings   *router.BindingStore
	Creds      *credstore.Store
	Overlay    *config.OverlayStore
	MCPServers *mcphub.ServerRegistry
	Config     *config.Config
}

// HandleEvent is the single entry point a Chat Port's update loop calls
// for every inbound event: commands are handled synchronously and never
// reach the aggregator; everything else is buffered for grouping.
func (d *Dispatcher) HandleEvent(ctx context.Context, ev events.IncomingEvent) {
	if cmd, args, ok := parseCommand(ev.Text); ok {
		d.handleCommand(ctx, ev, cmd, args)
		return
	}
	d.Aggregator.Add(ev)
}

// parseCommand splits a leading slash-command off text, stripping any
// "@botname" suffix.
func parseCommand(text string) (cmd string, args string, ok bool) {
	if text == "" || text[0] != '/' {
		return "", "", false
	}
	parts := strings.SplitN(text, " ", 2)
	verb := strings.SplitN(parts[0], "@", 2)[0]
	verb = strings.ToLower(verb)
	if len(parts) == 2 {
		args = strings.TrimSpace(parts[1])
	}
	return verb, args, true
}

func (d *Dispatcher) reply(ctx context.Context, chatID int64, text string) {
	if _, err := d.Port.SendText(ctx, chatID, text); err != nil {
		slog.Error("handlers.reply_failed", "chat_id", chatID, "error", err)
	}
}

func (d *Dispatcher) handleCommand(ctx context.Context, ev events.IncomingEvent, cmd, args string) {
	switch cmd {
	case "/start":
		d.reply(ctx, ev.ChatID, startText)
	case "/help":
		d.reply(ctx, ev.ChatID, helpText)
	case "/status":
		d.handleStatus(ctx, ev)
	case "/note":
		d.handleSetMode(ctx, ev, router.ModeNote, "note")
	case "/ask":
		d.handleSetMode(ctx, ev, router.ModeAsk, "ask")
	case "/agent":
		d.handleSetMode(ctx, ev, router.ModeTask, "agent")
	case "/settings":
		d.handleViewSettings(ctx, ev, "")
	case "/viewsettings":
		d.handleViewSettings(ctx, ev, args)
	case "/setsetting":
		d.handleSetSetting(ctx, ev, args)
	case "/resetsetting":
		d.handleResetSetting(ctx, ev, args)
	case "/setkb":
		d.handleSetKB(ctx, ev, args)
	case "/kb":
		d.handleShowKB(ctx, ev)
	case "/unsetkb":
		d.handleUnsetKB(ctx, ev)
	case "/creds":
		d.handleCreds(ctx, ev, args)
	case "/mcp":
		d.handleMCP(ctx, ev, args)
	default:
		d.reply(ctx, ev.ChatID, "Unknown command. Try /help.")
	}
}

const startText = "NoteForge turns chat messages into a Git-backed knowledge base.\n" +
	"Use /setkb to bind one, then send me anything. /help lists every command."

const helpText = "Commands:\n" +
	"/start, /help, /status — info\n" +
	"/note, /ask, /agent — switch mode (persists per user)\n" +
	"/settings, /viewsettings [category], /setsetting NAME VALUE, /resetsetting NAME\n" +
	"/setkb <name|remote_url>, /kb, /unsetkb\n" +
	"/creds set|show|clear\n" +
	"/mcp list|add|enable|disable|remove"

func (d *Dispatcher) handleStatus(ctx context.Context, ev events.IncomingEvent) {
	mode := d.Router.ModeFor(ev.UserID)
	var kbLine string
	if b, ok, err := d.Bindings.Get(ev.UserID); err == nil && ok {
		kbLine = fmt.Sprintf("KB: %s (%s)", b.KBName, b.KBKind)
	} else {
		kbLine = "KB: not bound"
	}
	d.reply(ctx, ev.ChatID, fmt.Sprintf("Mode: %s\n%s", mode, kbLine))
}

func (d *Dispatcher) handleSetMode(ctx context.Context, ev events.IncomingEvent, mode router.Mode, label string) {
	d.Router.SetMode(ev.UserID, mode)
	d.reply(ctx, ev.ChatID, fmt.Sprintf("Switched to %s mode.", label))
}

func (d *Dispatcher) handleViewSettings(ctx context.Context, ev events.IncomingEvent, category string) {
	specs := config.FieldSpecs(category)
	if len(specs) == 0 {
		d.reply(ctx, ev.ChatID, "No settings found for that category.")
		return
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })

	var b strings.Builder
	for _, spec := range specs {
		if spec.Secret {
			fmt.Fprintf(&b, "%s = ****** (secret)\n", spec.Name)
			continue
		}
		val, err := d.Overlay.Get(ev.UserID, spec.Name, spec.Default)
		if err != nil {
			continue
		}
		flags := ""
		if spec.ReadOnly {
			flags = " (read-only)"
		}
		fmt.Fprintf(&b, "%s = %v%s\n", spec.Name, val, flags)
	}
	d.reply(ctx, ev.ChatID, strings.TrimRight(b.String(), "\n"))
}

func (d *Dispatcher) handleSetSetting(ctx context.Context, ev events.IncomingEvent, args string) {
	parts := strings.SplitN(args, " ", 2)
	if len(parts) != 2 {
		d.reply(ctx, ev.ChatID, "Usage: /setsetting NAME VALUE")
		return
	}
	name, value := strings.ToUpper(strings.TrimSpace(parts[0])), strings.TrimSpace(parts[1])
	if err := d.Overlay.SetUserOverride(ev.UserID, name, value); err != nil {
		d.reply(ctx, ev.ChatID, kerrors.UserMessage(err))
		return
	}
	d.reply(ctx, ev.ChatID, fmt.Sprintf("%s set to %s.", name, value))
}

func (d *Dispatcher) handleResetSetting(ctx context.Context, ev events.IncomingEvent, args string) {
	name := strings.ToUpper(strings.TrimSpace(args))
	if name == "" {
		d.reply(ctx, ev.ChatID, "Usage: /resetsetting NAME")
		return
	}
	if err := d.Overlay.ResetUserOverride(ev.UserID, name); err != nil {
		d.reply(ctx, ev.ChatID, kerrors.UserMessage(err))
		return
	}
	d.reply(ctx, ev.ChatID, fmt.Sprintf("%s reset to default.", name))
}

func (d *Dispatcher) handleShowKB(ctx context.Context, ev events.IncomingEvent) {
	b, ok, err := d.Bindings.Get(ev.UserID)
	if err != nil {
		d.reply(ctx, ev.ChatID, kerrors.UserMessage(err))
		return
	}
	if !ok {
		d.reply(ctx, ev.ChatID, "No knowledge base is bound yet. Use /setkb to bind one.")
		return
	}
	if b.KBKind == router.KBKindRemote {
		d.reply(ctx, ev.ChatID, fmt.Sprintf("KB %q (remote: %s)", b.KBName, b.RemoteURL))
		return
	}
	d.reply(ctx, ev.ChatID, fmt.Sprintf("KB %q (local)", b.KBName))
}

func (d *Dispatcher) handleUnsetKB(ctx context.Context, ev events.IncomingEvent) {
	if err := d.Bindings.Unset(ev.UserID); err != nil {
		d.reply(ctx, ev.ChatID, kerrors.UserMessage(err))
		return
	}
	d.reply(ctx, ev.ChatID, "Knowledge base unbound.")
}

// handleSetKB resolves "<name | remote_url>" into a router.KBBinding. A
// value that looks like a URL (scheme prefix or "git@" SSH shorthand) is
// bound as KBKindRemote with the working tree rooted under the shared
// knowledge_bases dir, named after the URL's last path segment; anything
// else is bound as a purely local KB by that name. The actual clone/pull
// happens lazily on the user's next message, inside kbservice.
func (d *Dispatcher) handleSetKB(ctx context.Context, ev events.IncomingEvent, args string) {
	args = strings.TrimSpace(args)
	if args == "" {
		d.reply(ctx, ev.ChatID, "Usage: /setkb <name|remote_url>")
		return
	}

	binding := router.KBBinding{KBKind: router.KBKindLocal, KBName: args}
	if looksLikeRemote(args) {
		name := kbNameFromURL(args)
		binding = router.KBBinding{
			KBName:    name,
			KBKind:    router.KBKindRemote,
			RemoteURL: args,
		}
	}
	binding.KBRootPath = d.kbRootPath(binding.KBName)

	if err := d.Bindings.Set(ev.UserID, binding); err != nil {
		d.reply(ctx, ev.ChatID, kerrors.UserMessage(err))
		return
	}
	d.reply(ctx, ev.ChatID, fmt.Sprintf("Bound to knowledge base %q.", binding.KBName))
}

func (d *Dispatcher) kbRootPath(kbName string) string {
	base := "knowledge_bases"
	if d.Config != nil && d.Config.KnowledgeBasesDir != "" {
		base = d.Config.KnowledgeBasesDir
	}
	return base + "/" + kbName
}

func looksLikeRemote(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "git@")
}

func kbNameFromURL(url string) string {
	url = strings.TrimSuffix(url, "/")
	url = strings.TrimSuffix(url, ".git")
	if i := strings.LastIndexAny(url, "/:"); i >= 0 {
		return url[i+1:]
	}
	return url
}

// handleCreds implements "/creds set|show|clear". "set" expects the
// remainder of args to be "<git_username> <git_token>"; the username is
// stored on the KB binding (non-secret), the token in the credential
// store (encrypted).
func (d *Dispatcher) handleCreds(ctx context.Context, ev events.IncomingEvent, args string) {
	parts := strings.SplitN(args, " ", 2)
	sub := strings.ToLower(strings.TrimSpace(parts[0]))
	rest := ""
	if len(parts) == 2 {
		rest = strings.TrimSpace(parts[1])
	}

	switch sub {
	case "set":
		credParts := strings.SplitN(rest, " ", 2)
		if len(credParts) != 2 {
			d.reply(ctx, ev.ChatID, "Usage: /creds set <git_username> <git_token>")
			return
		}
		username, token := credParts[0], credParts[1]
		if err := d.Creds.Set(ev.UserID, credstore.GitTokenName, token); err != nil {
			d.reply(ctx, ev.ChatID, kerrors.UserMessage(err))
			return
		}
		if b, ok, err := d.Bindings.Get(ev.UserID); err == nil && ok {
			b.GitUsername = username
			_ = d.Bindings.Set(ev.UserID, b)
		}
		d.reply(ctx, ev.ChatID, "Git credentials saved.")

	case "show":
		_, err := d.Creds.Get(ev.UserID, credstore.GitTokenName)
		if err != nil {
			d.reply(ctx, ev.ChatID, "No git credentials stored.")
			return
		}
		username := ""
		if b, ok, _ := d.Bindings.Get(ev.UserID); ok {
			username = b.GitUsername
		}
		d.reply(ctx, ev.ChatID, fmt.Sprintf("Git username: %s, token: ****** (set)", username))

	case "clear":
		if err := d.Creds.Delete(ev.UserID, credstore.GitTokenName); err != nil {
			d.reply(ctx, ev.ChatID, kerrors.UserMessage(err))
			return
		}
		d.reply(ctx, ev.ChatID, "Git credentials cleared.")

	default:
		d.reply(ctx, ev.ChatID, "Usage: /creds set|show|clear")
	}
}

// handleMCP implements "/mcp list|add|enable|disable|remove". "add"
// expects JSON-free positional args: "<name> <command> [args...]" for a
// stdio server, or "<name> sse <url>" for an SSE server.
func (d *Dispatcher) handleMCP(ctx context.Context, ev events.IncomingEvent, args string) {
	parts := strings.SplitN(args, " ", 2)
	sub := strings.ToLower(strings.TrimSpace(parts[0]))
	rest := ""
	if len(parts) == 2 {
		rest = strings.TrimSpace(parts[1])
	}

	switch sub {
	case "list":
		d.handleMCPList(ctx, ev)
	case "add":
		d.handleMCPAdd(ctx, ev, rest)
	case "enable":
		d.handleMCPToggle(ctx, ev, rest, true)
	case "disable":
		d.handleMCPToggle(ctx, ev, rest, false)
	case "remove":
		name := strings.TrimSpace(rest)
		if name == "" {
			d.reply(ctx, ev.ChatID, "Usage: /mcp remove NAME")
			return
		}
		if err := d.MCPServers.Remove(ev.UserID, name); err != nil {
			d.reply(ctx, ev.ChatID, kerrors.UserMessage(err))
			return
		}
		d.reply(ctx, ev.ChatID, fmt.Sprintf("Removed MCP server %q.", name))
	default:
		d.reply(ctx, ev.ChatID, "Usage: /mcp list|add|enable|disable|remove")
	}
}

func (d *Dispatcher) handleMCPList(ctx context.Context, ev events.IncomingEvent) {
	specs, err := d.MCPServers.ListAccessible(ev.UserID)
	if err != nil {
		d.reply(ctx, ev.ChatID, kerrors.UserMessage(err))
		return
	}
	if len(specs) == 0 {
		d.reply(ctx, ev.ChatID, "No MCP servers registered.")
		return
	}
	var b strings.Builder
	for _, s := range specs {
		status := "disabled"
		if s.Enabled {
			status = "enabled"
		}
		fmt.Fprintf(&b, "%s [%s, %s, %s]\n", s.Name, s.Transport, status, s.Scope)
	}
	d.reply(ctx, ev.ChatID, strings.TrimRight(b.String(), "\n"))
}

func (d *Dispatcher) handleMCPAdd(ctx context.Context, ev events.IncomingEvent, rest string) {
	fields := strings.Fields(rest)
	if len(fields) < 2 {
		d.reply(ctx, ev.ChatID, "Usage: /mcp add NAME sse URL  |  /mcp add NAME COMMAND [ARGS...]")
		return
	}
	name := fields[0]
	spec := mcphub.ServerSpec{Name: name, Enabled: true}
	if strings.EqualFold(fields[1], "sse") {
		if len(fields) < 3 {
			d.reply(ctx, ev.ChatID, "Usage: /mcp add NAME sse URL")
			return
		}
		spec.Transport = mcphub.TransportSSE
		spec.URL = fields[2]
	} else {
		spec.Transport = mcphub.TransportStdio
		spec.Command = fields[1]
		spec.Args = fields[2:]
	}
	if err := d.MCPServers.Add(ev.UserID, spec); err != nil {
		d.reply(ctx, ev.ChatID, kerrors.UserMessage(err))
		return
	}
	d.reply(ctx, ev.ChatID, fmt.Sprintf("Added MCP server %q.", name))
}

func (d *Dispatcher) handleMCPToggle(ctx context.Context, ev events.IncomingEvent, name string, enabled bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		d.reply(ctx, ev.ChatID, "Usage: /mcp enable|disable NAME")
		return
	}
	if err := d.MCPServers.SetEnabled(ev.UserID, name, enabled); err != nil {
		d.reply(ctx, ev.ChatID, kerrors.UserMessage(err))
		return
	}
	verb := "disabled"
	if enabled {
		verb = "enabled"
	}
	d.reply(ctx, ev.ChatID, fmt.Sprintf("%s %s.", name, verb))
}
