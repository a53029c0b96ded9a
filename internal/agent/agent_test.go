package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/stretchr/testify/require"

	"github.com/noteforge/noteforge/internal/toolbox"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) openai.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return openai.NewClient(option.WithAPIKey("test"), option.WithBaseURL(server.URL+"/v1/"))
}

func chatCompletionJSON(content string, toolCalls []map[string]interface{}, finishReason string) []byte {
	message := map[string]interface{}{"role": "assistant", "content": content}
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
	}
	body := map[string]interface{}{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-4o-mini",
		"choices": []map[string]interface{}{
			{"index": 0, "message": message, "finish_reason": finishReason},
		},
		"usage": map[string]interface{}{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	}
	out, _ := json.Marshal(body)
	return out
}

func TestInProcessDriverReturnsFinalContentWithoutToolCalls(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(chatCompletionJSON("summary of the note", nil, "stop"))
	})

	driver := &InProcessDriver{
		Client:   client,
		Model:    "gpt-4o-mini",
		Registry: toolbox.NewRegistry(toolbox.KBReadTool{}),
	}

	res, err := driver.Run(context.Background(), AgentInvocation{
		Mode:             toolbox.ModeAsk,
		WorkingDirectory: t.TempDir(),
		GroupedText:      "what does this say?",
	})
	require.NoError(t, err)
	require.Equal(t, "summary of the note", res.RenderedMarkdown)
	require.Equal(t, 1, res.Metadata.Iterations)
}

func TestInProcessDriverDispatchesToolCallThenFinishes(t *testing.T) {
	var round int32
	dir := t.TempDir()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		n := atomic.AddInt32(&round, 1)
		if n == 1 {
			w.Write(chatCompletionJSON("", []map[string]interface{}{
				{
					"id":   "call_1",
					"type": "function",
					"function": map[string]interface{}{
						"name":      "file_create",
						"arguments": `{"path":"note.md","content":"hello"}`,
					},
				},
			}, "tool_calls"))
			return
		}
		w.Write(chatCompletionJSON("created the note", nil, "stop"))
	})

	driver := &InProcessDriver{
		Client:   client,
		Model:    "gpt-4o-mini",
		Registry: toolbox.NewRegistry(toolbox.FileCreateTool{}),
	}

	res, err := driver.Run(context.Background(), AgentInvocation{
		Mode:             toolbox.ModeNote,
		WorkingDirectory: dir,
		GroupedText:      "jot this down",
	})
	require.NoError(t, err)
	require.Equal(t, "created the note", res.RenderedMarkdown)
	require.Equal(t, []string{"note.md"}, res.FilesCreated)
	require.Len(t, res.ToolTrace, 1)
	require.False(t, res.ToolTrace[0].IsError)

	data, err := os.ReadFile(filepath.Join(dir, "note.md"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestInProcessDriverAbortsOnRepeatedToolFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(chatCompletionJSON("", []map[string]interface{}{
			{
				"id":   "call_1",
				"type": "function",
				"function": map[string]interface{}{
					"name":      "file_create",
					"arguments": `{"path":"../escape.md","content":"x"}`,
				},
			},
		}, "tool_calls"))
	})

	driver := &InProcessDriver{
		Client:        client,
		Model:         "gpt-4o-mini",
		Registry:      toolbox.NewRegistry(toolbox.FileCreateTool{}),
		MaxIterations: 5,
	}

	_, err := driver.Run(context.Background(), AgentInvocation{
		Mode:             toolbox.ModeNote,
		WorkingDirectory: t.TempDir(),
		GroupedText:      "try to escape",
	})
	require.Error(t, err)
}

func TestInProcessDriverHitsIterationBudget(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(chatCompletionJSON("", []map[string]interface{}{
			{
				"id":   "call_x",
				"type": "function",
				"function": map[string]interface{}{
					"name":      "plan_todo",
					"arguments": `{"items":["a"]}`,
				},
			},
		}, "tool_calls"))
	})

	driver := &InProcessDriver{
		Client:        client,
		Model:         "gpt-4o-mini",
		Registry:      toolbox.NewRegistry(toolbox.PlanTodoTool{}),
		MaxIterations: 2,
	}

	_, err := driver.Run(context.Background(), AgentInvocation{
		Mode:             toolbox.ModeTask,
		WorkingDirectory: t.TempDir(),
		GroupedText:      "loop forever",
	})
	require.Error(t, err)
}

func TestSubprocessDriverRunsCommandAndCapturesStdout(t *testing.T) {
	driver := &SubprocessDriver{Command: "/bin/cat"}
	res, err := driver.Run(context.Background(), AgentInvocation{
		Mode:             toolbox.ModeAsk,
		WorkingDirectory: t.TempDir(),
		GroupedText:      "echo this back",
	})
	require.NoError(t, err)
	require.Contains(t, res.RenderedMarkdown, "echo this back")
}
