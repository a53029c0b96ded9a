package kbservice

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noteforge/noteforge/internal/agent"
	"github.com/noteforge/noteforge/internal/config"
	"github.com/noteforge/noteforge/internal/credstore"
	"github.com/noteforge/noteforge/internal/dedup"
	"github.com/noteforge/noteforge/internal/gitdriver"
	"github.com/noteforge/noteforge/internal/kbsync"
	"github.com/noteforge/noteforge/internal/ratelimit"
	"github.com/noteforge/noteforge/internal/router"
	"github.com/noteforge/noteforge/internal/toolbox"
	"github.com/noteforge/noteforge/pkg/events"
)

type fakeDriver struct {
	result *agent.AgentResult
	err    error
	calls  int
}

func (f *fakeDriver) Run(ctx context.Context, inv agent.AgentInvocation) (*agent.AgentResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type statusCall struct {
	chatID  int64
	phase   StatusPhase
	text    string
	message string
}

type recordingStatus struct {
	calls []statusCall
}

func (r *recordingStatus) SendStatus(ctx context.Context, chatID int64, phase StatusPhase, text string) (string, error) {
	r.calls = append(r.calls, statusCall{chatID: chatID, phase: phase, text: text, message: "msg-1"})
	return "msg-1", nil
}

func (r *recordingStatus) EditStatus(ctx context.Context, chatID int64, messageID string, phase StatusPhase, text string) error {
	r.calls = append(r.calls, statusCall{chatID: chatID, phase: phase, text: text, message: messageID})
	return nil
}

func (r *recordingStatus) lastPhase() StatusPhase {
	if len(r.calls) == 0 {
		return ""
	}
	return r.calls[len(r.calls)-1].phase
}

func newTestBase(t *testing.T, driver *fakeDriver, status *recordingStatus) (*Base, string) {
	t.Helper()
	dataDir := t.TempDir()
	kbRoot := filepath.Join(t.TempDir(), "kb")
	require.NoError(t, os.MkdirAll(filepath.Join(kbRoot, "topics"), 0o755))

	drv, err := gitdriver.Open(kbRoot)
	require.NoError(t, err)
	require.NoError(t, drv.ConfigureRemote(gitdriver.RemoteConfig{URL: "https://example.invalid/kb.git"}))

	bindings := router.NewBindingStore(filepath.Join(dataDir, "bindings.json"))
	require.NoError(t, bindings.Set(1, router.KBBinding{
		KBName:     "test-kb",
		KBRootPath: kbRoot,
		KBKind:     router.KBKindLocal,
	}))

	credKey := make([]byte, 32)
	creds, err := credstore.New(filepath.Join(dataDir, "creds.json"), credKey)
	require.NoError(t, err)

	base := &Base{
		Bindings: bindings,
		Sync:     kbsync.New(10 * time.Minute),
		Creds:    creds,
		Dedup:    dedup.New(filepath.Join(dataDir, "processed.json")),
		Overlay:  config.NewOverlayStore(filepath.Join(dataDir, "overlay.json")),
		Limiter:  ratelimit.New(100),
		Tools:    toolbox.NewRegistry(),
		Agent:    driver,
		Status:   status,

		LockDeadline:  5 * time.Second,
		AgentDeadline: 5 * time.Second,
	}
	return base, kbRoot
}

func TestNoteServiceWritesNoteAndReportsDone(t *testing.T) {
	driver := &fakeDriver{result: &agent.AgentResult{
		RenderedMarkdown: "done",
		FilesCreated:     []string{"topics/misc/note.md"},
	}}
	status := &recordingStatus{}
	base, kbRoot := newTestBase(t, driver, status)

	svc := NewNoteService(base)
	err := svc.Handle(context.Background(), events.MessageGroup{
		UserID:             1,
		ChatID:             42,
		CombinedText:       "remember this",
		Fingerprint:        "abcdef0123456789",
		LastEventTimestamp: time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, PhaseDone, status.lastPhase())
	require.Equal(t, 1, driver.calls)
	require.DirExists(t, kbRoot)
}

func TestNoteServiceFailsWhenAgentProducesNoMutation(t *testing.T) {
	driver := &fakeDriver{result: &agent.AgentResult{RenderedMarkdown: "nothing written"}}
	status := &recordingStatus{}
	base, _ := newTestBase(t, driver, status)

	svc := NewNoteService(base)
	err := svc.Handle(context.Background(), events.MessageGroup{
		UserID: 1, ChatID: 42, CombinedText: "x", Fingerprint: "fp1", LastEventTimestamp: time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, PhaseError, status.lastPhase())
}

func TestAskServiceAcceptsNoMutationResult(t *testing.T) {
	driver := &fakeDriver{result: &agent.AgentResult{RenderedMarkdown: "the answer is 42"}}
	status := &recordingStatus{}
	base, _ := newTestBase(t, driver, status)

	svc := NewAskService(base)
	err := svc.Handle(context.Background(), events.MessageGroup{
		UserID: 1, ChatID: 42, CombinedText: "what is it?", Fingerprint: "fp2", LastEventTimestamp: time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, PhaseDone, status.lastPhase())
	last := status.calls[len(status.calls)-1]
	require.Equal(t, "the answer is 42", last.text)
}

func TestTaskServiceAcceptsNoMutationResult(t *testing.T) {
	driver := &fakeDriver{result: &agent.AgentResult{RenderedMarkdown: "planned steps"}}
	status := &recordingStatus{}
	base, _ := newTestBase(t, driver, status)

	svc := NewTaskService(base)
	err := svc.Handle(context.Background(), events.MessageGroup{
		UserID: 1, ChatID: 42, CombinedText: "do the thing", Fingerprint: "fp3", LastEventTimestamp: time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, PhaseDone, status.lastPhase())
}

func TestHandleReportsKBUnboundWhenNoBindingExists(t *testing.T) {
	driver := &fakeDriver{result: &agent.AgentResult{}}
	status := &recordingStatus{}
	base, _ := newTestBase(t, driver, status)

	svc := NewNoteService(base)
	err := svc.Handle(context.Background(), events.MessageGroup{
		UserID: 999, ChatID: 1, CombinedText: "x", Fingerprint: "fp4", LastEventTimestamp: time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, PhaseError, status.lastPhase())
	require.Equal(t, 0, driver.calls)
}

func TestHandleReportsAgentTimeout(t *testing.T) {
	driver := &fakeDriver{err: &timeoutErr{}}
	status := &recordingStatus{}
	base, _ := newTestBase(t, driver, status)

	svc := NewNoteService(base)
	err := svc.Handle(context.Background(), events.MessageGroup{
		UserID: 1, ChatID: 42, CombinedText: "x", Fingerprint: "fp5", LastEventTimestamp: time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, PhaseError, status.lastPhase())
}

func TestFailedHandleDoesNotPoisonDedupLog(t *testing.T) {
	driver := &fakeDriver{err: &timeoutErr{}}
	status := &recordingStatus{}
	base, _ := newTestBase(t, driver, status)

	svc := NewNoteService(base)
	group := events.MessageGroup{
		UserID: 1, ChatID: 42, CombinedText: "x", Fingerprint: "fp-retry", LastEventTimestamp: time.Now(),
	}

	require.NoError(t, svc.Handle(context.Background(), group))
	require.Equal(t, PhaseError, status.lastPhase())

	processed, err := base.Dedup.IsProcessed(group.Fingerprint)
	require.NoError(t, err)
	require.False(t, processed, "a failed run must not record its fingerprint, or a retry is dropped forever")

	driver.err = nil
	driver.result = &agent.AgentResult{FilesCreated: []string{"topics/misc/note.md"}}
	require.NoError(t, svc.Handle(context.Background(), group))
	require.Equal(t, 2, driver.calls, "the retry must actually reach the agent, not be silently dropped")
	require.Equal(t, PhaseDone, status.lastPhase())

	processed, err = base.Dedup.IsProcessed(group.Fingerprint)
	require.NoError(t, err)
	require.True(t, processed)
}

type timeoutErr struct{}

func (*timeoutErr) Error() string { return "agent timed out" }
