// Package kbservice implements the shared state machine behind the three
// chat modes (note/ask/task): acquire the KB lock, sync Git, pick a
// working directory, rate-limit, run the agent, commit and push any
// mutations, dedup-record the group, release the lock, and progressively
// rewrite the
// user's status message through every phase. The three modes are thin
// wrappers delegating into this shared pipeline, mirroring a handler
// composition pattern common to chat-command bots.
package kbservice

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/noteforge/noteforge/internal/agent"
	"github.com/noteforge/noteforge/internal/config"
	"github.com/noteforge/noteforge/internal/credstore"
	"github.com/noteforge/noteforge/internal/dedup"
	"github.com/noteforge/noteforge/internal/gitdriver"
	"github.com/noteforge/noteforge/internal/kbsync"
	"github.com/noteforge/noteforge/internal/kerrors"
	"github.com/noteforge/noteforge/internal/ratelimit"
	"github.com/noteforge/noteforge/internal/router"
	"github.com/noteforge/noteforge/internal/toolbox"
	"github.com/noteforge/noteforge/pkg/events"
)

// StatusPhase names one step of the progressive status-message lifecycle.
type StatusPhase string

const (
	PhaseQueued  StatusPhase = "queued"
	PhasePulling StatusPhase = "pulling"
	PhaseAgent   StatusPhase = "agent"
	PhasePushing StatusPhase = "pushing"
	PhaseDone    StatusPhase = "done"
	PhaseError   StatusPhase = "error"
)

// StatusReporter is the narrow slice of a Chat Port a KB service needs to
// drive the status message lifecycle: send the initial "queued" message,
// then repeatedly edit it in place as the pipeline progresses.
type StatusReporter interface {
	SendStatus(ctx context.Context, chatID int64, phase StatusPhase, text string) (messageID string, err error)
	EditStatus(ctx context.Context, chatID int64, messageID string, phase StatusPhase, text string) error
}

// Spec is what differs between the note/ask/task specializations: the
// agent mode, whether a result with no filesystem mutations is acceptable,
// and how to render the success message and commit summary.
type Spec interface {
	Mode() toolbox.Mode
	AllowNoMutation() bool
	SuccessMessage(result *agent.AgentResult) string
	CommitSummary(result *agent.AgentResult) string
}

// Base implements the shared pipeline; NoteService, AskService, and
// TaskService each wrap a Base with their own Spec.
type Base struct {
	Bindings *router.BindingStore
	Sync     *kbsync.Manager
	Creds    *credstore.Store
	Dedup    *dedup.Log
	Overlay  *config.OverlayStore
	Limiter  *ratelimit.Limiter
	Tools    *toolbox.Registry
	Agent    agent.Driver
	Status   StatusReporter

	LockDeadline  time.Duration
	AgentDeadline time.Duration

	CommitAuthorEmail string
}

func (b *Base) lockDeadline() time.Duration {
	if b.LockDeadline > 0 {
		return b.LockDeadline
	}
	return 5 * time.Minute
}

func (b *Base) agentDeadline() time.Duration {
	if b.AgentDeadline > 0 {
		return b.AgentDeadline
	}
	return 300 * time.Second
}

func (b *Base) commitAuthorEmail() string {
	if b.CommitAuthorEmail != "" {
		return b.CommitAuthorEmail
	}
	return "agent@noteforge.local"
}

// Handle runs the full pipeline for one deduplicated MessageGroup under
// spec's mode. It never returns an error for user-facing failures (those
// are surfaced via the status message instead); a non-nil return indicates
// an unrecoverable infrastructure failure worth logging upstream.
func (b *Base) Handle(ctx context.Context, spec Spec, group events.MessageGroup) error {
	messageID, err := b.Status.SendStatus(ctx, group.ChatID, PhaseQueued, "Queued…")
	if err != nil {
		slog.Error("kbservice.send_status_failed", "error", err, "user_id", group.UserID)
		return err
	}

	binding, err := b.Bindings.MustGet(group.UserID)
	if err != nil {
		b.fail(ctx, group.ChatID, messageID, err)
		return nil
	}

	lockCtx, cancel := context.WithTimeout(ctx, b.lockDeadline())
	defer cancel()
	release, err := b.Sync.Acquire(lockCtx, binding.KBRootPath)
	if err != nil {
		b.fail(ctx, group.ChatID, messageID, kerrors.Wrap(kerrors.KBBusy, "could not acquire the knowledge base lock", err))
		return nil
	}
	defer release()

	drv, err := gitdriver.Open(binding.KBRootPath)
	if err != nil {
		b.fail(ctx, group.ChatID, messageID, kerrors.Wrap(kerrors.StorageFailure, "open knowledge base", err))
		return nil
	}

	remote := b.remoteConfig(group.UserID, binding)
	if binding.KBKind == router.KBKindRemote {
		if err := drv.ConfigureRemote(remote); err != nil {
			b.fail(ctx, group.ChatID, messageID, err)
			return nil
		}

		_ = b.Status.EditStatus(ctx, group.ChatID, messageID, PhasePulling, "Pulling latest changes…")
		if err := drv.Pull(ctx, remote); err != nil {
			b.fail(ctx, group.ChatID, messageID, err)
			return nil
		}
	}

	workingDir := b.workingDirectory(group.UserID, binding.KBRootPath)

	perMinute := b.settingInt(group.UserID, "RATE_LIMIT_PER_MINUTE", 20)
	if !b.Limiter.Allow(group.UserID, perMinute) {
		_ = b.Status.EditStatus(ctx, group.ChatID, messageID, PhaseError, kerrors.UserMessage(kerrors.New(kerrors.RateLimited, "")))
		return nil
	}

	_ = b.Status.EditStatus(ctx, group.ChatID, messageID, PhaseAgent, "Working…")
	agentCtx, agentCancel := context.WithTimeout(ctx, b.agentDeadline())
	defer agentCancel()

	inv := b.buildInvocation(spec, group, workingDir, agentCtx)
	result, err := b.Agent.Run(agentCtx, inv)
	if err != nil {
		b.fail(ctx, group.ChatID, messageID, err)
		return nil
	}

	mutated := hasMutations(result)
	if !mutated && !spec.AllowNoMutation() {
		_ = b.Status.EditStatus(ctx, group.ChatID, messageID, PhaseError, "The agent finished without writing anything to the knowledge base.")
		return nil
	}

	if mutated {
		_ = b.Status.EditStatus(ctx, group.ChatID, messageID, PhasePushing, "Saving to the knowledge base…")
		commitMsg := fmt.Sprintf("%s: %s", shortFingerprint(group.Fingerprint), spec.CommitSummary(result))
		if _, err := drv.Commit(commitMsg, authorName(binding), b.commitAuthorEmail(), time.Now()); err != nil {
			b.fail(ctx, group.ChatID, messageID, err)
			return nil
		}
		if binding.KBKind == router.KBKindRemote {
			if err := drv.Push(ctx, remote); err != nil {
				b.fail(ctx, group.ChatID, messageID, err)
				return nil
			}
		}
	}

	if err := b.Dedup.Record(group.Fingerprint, group.UserID, preview(group.CombinedText), group.LastEventTimestamp); err != nil {
		slog.Error("kbservice.dedup_record_failed", "error", err, "user_id", group.UserID)
	}

	_ = b.Status.EditStatus(ctx, group.ChatID, messageID, PhaseDone, spec.SuccessMessage(result))
	return nil
}

func (b *Base) fail(ctx context.Context, chatID int64, messageID string, err error) {
	slog.Warn("kbservice.pipeline_failed", "error", err, "kind", kerrors.KindOf(err))
	_ = b.Status.EditStatus(ctx, chatID, messageID, PhaseError, kerrors.UserMessage(err))
}

func (b *Base) remoteConfig(userID int64, binding router.KBBinding) gitdriver.RemoteConfig {
	token, _ := b.Creds.Get(userID, credstore.GitTokenName)
	return gitdriver.RemoteConfig{
		URL:      binding.RemoteURL,
		Username: binding.GitUsername,
		Token:    token,
	}
}

func authorName(binding router.KBBinding) string {
	if binding.GitUsername != "" {
		return binding.GitUsername
	}
	return "noteforge-agent"
}

func (b *Base) workingDirectory(userID int64, kbRoot string) string {
	if b.settingBool(userID, "KB_TOPICS_ONLY", true) {
		return filepath.Join(kbRoot, "topics")
	}
	return kbRoot
}

func (b *Base) settingBool(userID int64, name string, fallback bool) bool {
	v, err := b.Overlay.Get(userID, name, fallback)
	if err != nil {
		return fallback
	}
	if bv, ok := v.(bool); ok {
		return bv
	}
	return fallback
}

func (b *Base) settingInt(userID int64, name string, fallback int) int {
	v, err := b.Overlay.Get(userID, name, fallback)
	if err != nil {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return fallback
	}
}

func (b *Base) buildInvocation(spec Spec, group events.MessageGroup, workingDir string, agentCtx context.Context) agent.AgentInvocation {
	deadline, _ := agentCtx.Deadline()
	return agent.AgentInvocation{
		Mode:             spec.Mode(),
		WorkingDirectory: workingDir,
		GroupedText:      group.CombinedText,
		Media:            group.CollectedMedia,
		ToolWhitelist:    toolNames(b.Tools, spec.Mode()),
		KBStructureHint:  structureHint(workingDir),
		Deadline:         deadline,
	}
}

func toolNames(reg *toolbox.Registry, mode toolbox.Mode) []string {
	if reg == nil {
		return nil
	}
	tools := reg.ForMode(mode)
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name()
	}
	sort.Strings(names)
	return names
}

// structureHint lists the immediate subdirectories of workingDir so the
// agent knows which categories already exist before it invents a new one.
func structureHint(workingDir string) string {
	entries, err := os.ReadDir(workingDir)
	if err != nil {
		return ""
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) == 0 {
		return ""
	}
	sort.Strings(dirs)
	return "existing categories: " + fmt.Sprint(dirs)
}

func hasMutations(result *agent.AgentResult) bool {
	if result == nil {
		return false
	}
	return len(result.FilesCreated) > 0 || len(result.FilesEdited) > 0 ||
		len(result.FilesDeleted) > 0 || len(result.FoldersCreated) > 0
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

func preview(text string) string {
	const maxLen = 120
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "…"
}

var _ router.Service = (*NoteService)(nil)
var _ router.Service = (*AskService)(nil)
var _ router.Service = (*TaskService)(nil)
