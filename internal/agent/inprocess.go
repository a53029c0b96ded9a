package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared/constant"

	"github.com/noteforge/noteforge/internal/kerrors"
	"github.com/noteforge/noteforge/internal/toolbox"
)

const defaultMaxIterations = 10

// repeatedFailureThreshold aborts the loop once the same tool-call
// signature (name + arguments) fails this many times in one invocation,
// per the agent driver's "repeated failures abort the loop" contract.
const repeatedFailureThreshold = 2

// InProcessDriver runs a function-calling loop against an
// OpenAI-compatible Chat Completions endpoint, dispatching tool calls
// against toolbox.Registry. Grounded on beeper-ai-bridge's
// connector.OpenAIProvider (client construction via openai.NewClient,
// ChatCompletionNewParams/Tools shaping) and on a think/act/observe
// iteration structure, simplified to a single sequential tool-dispatch
// per round since toolbox tools are local filesystem/HTTP calls rather
// than long-running remote jobs.
type InProcessDriver struct {
	Client        openai.Client
	Model         string
	Registry      *toolbox.Registry
	MaxIterations int
}

func (d *InProcessDriver) Run(ctx context.Context, inv AgentInvocation) (*AgentResult, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if !inv.Deadline.IsZero() {
		runCtx, cancel = context.WithDeadline(ctx, inv.Deadline)
		defer cancel()
	}

	maxIter := d.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}

	messages := buildMessages(inv)
	tools := toolParamsFor(d.Registry, inv.Mode)

	result := &AgentResult{}
	failureCounts := map[string]int{}

	for iteration := 1; iteration <= maxIter; iteration++ {
		if runCtx.Err() != nil {
			return nil, kerrors.New(kerrors.AgentTimeout, "agent invocation exceeded its deadline")
		}

		req := openai.ChatCompletionNewParams{
			Model:    d.Model,
			Messages: messages,
		}
		if len(tools) > 0 {
			req.Tools = tools
		}

		resp, err := d.Client.Chat.Completions.New(runCtx, req)
		if err != nil {
			if runCtx.Err() != nil {
				return nil, kerrors.Wrap(kerrors.AgentTimeout, "agent invocation exceeded its deadline", err)
			}
			return nil, kerrors.Wrap(kerrors.AgentToolFailed, "model request failed", err)
		}
		if len(resp.Choices) == 0 {
			return nil, kerrors.New(kerrors.AgentToolFailed, "model returned no choices")
		}

		result.Metadata.Iterations = iteration
		result.Metadata.PromptTokens += int(resp.Usage.PromptTokens)
		result.Metadata.CompletionTokens += int(resp.Usage.CompletionTokens)

		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			result.RenderedMarkdown = msg.Content
			return result, nil
		}

		assistantMsg := openai.ChatCompletionAssistantMessageParam{}
		if msg.Content != "" {
			assistantMsg.Content.OfString = openai.String(msg.Content)
		}
		toolCallParams := make([]openai.ChatCompletionMessageToolCallUnionParam, 0, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			toolCallParams = append(toolCallParams, openai.ChatCompletionMessageToolCallUnionParam{
				OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
					Type: constant.ValueOf[constant.Function](),
				},
			})
		}
		assistantMsg.ToolCalls = toolCallParams
		messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistantMsg})

		for _, tc := range msg.ToolCalls {
			entry := d.dispatchToolCall(runCtx, inv, tc.Function.Name, tc.Function.Arguments, result)
			sig := tc.Function.Name + tc.Function.Arguments
			if entry.IsError {
				failureCounts[sig]++
				if failureCounts[sig] >= repeatedFailureThreshold {
					return nil, kerrors.New(kerrors.AgentToolFailed, fmt.Sprintf("tool %q failed repeatedly with the same arguments", tc.Function.Name))
				}
			}
			result.ToolTrace = append(result.ToolTrace, entry)
			messages = append(messages, openai.ToolMessage(entry.ForModel, tc.ID))
		}
	}

	return nil, kerrors.New(kerrors.AgentBudgetExceeded, fmt.Sprintf("agent exceeded %d iterations", maxIter))
}

func (d *InProcessDriver) dispatchToolCall(ctx context.Context, inv AgentInvocation, name, rawArgs string, result *AgentResult) ToolTraceEntry {
	start := time.Now()
	entry := ToolTraceEntry{ToolName: name, StartedAt: start}

	if !d.Registry.Allowed(inv.Mode, name) {
		entry.IsError = true
		entry.ForModel = fmt.Sprintf("tool %q is not permitted in %s mode", name, inv.Mode)
		entry.Duration = time.Since(start)
		return entry
	}
	tool, ok := d.Registry.Lookup(name)
	if !ok {
		entry.IsError = true
		entry.ForModel = fmt.Sprintf("unknown tool %q", name)
		entry.Duration = time.Since(start)
		return entry
	}

	var args map[string]interface{}
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			entry.IsError = true
			entry.ForModel = fmt.Sprintf("invalid arguments for %q: %v", name, err)
			entry.Duration = time.Since(start)
			return entry
		}
	}
	entry.Args = args

	toolCtx := toolbox.WithWorkingDir(ctx, inv.WorkingDirectory)
	res := tool.Execute(toolCtx, args)
	for _, eff := range res.Mutated {
		applyEffect(result, eff)
	}

	entry.ForModel = res.ForModel
	entry.IsError = res.IsError
	entry.Duration = time.Since(start)
	return entry
}

func buildMessages(inv AgentInvocation) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(inv.Context)+2)
	messages = append(messages, openai.SystemMessage(systemPromptFor(inv)))
	for _, turn := range inv.Context {
		if turn.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(turn.Content))
		} else {
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}
	messages = append(messages, openai.UserMessage(inv.GroupedText))
	return messages
}

func systemPromptFor(inv AgentInvocation) string {
	prompt := fmt.Sprintf("You are operating in %s mode against a Markdown knowledge base rooted at %s.", inv.Mode, inv.WorkingDirectory)
	if inv.KBStructureHint != "" {
		prompt += "\nCurrent structure:\n" + inv.KBStructureHint
	}
	return prompt
}

func toolParamsFor(reg *toolbox.Registry, mode toolbox.Mode) []openai.ChatCompletionToolUnionParam {
	tools := reg.ForMode(mode)
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionToolUnionParam{
			OfFunction: &openai.ChatCompletionFunctionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        t.Name(),
					Description: openai.String(t.Description()),
					Parameters:  t.Parameters(),
				},
				Type: constant.ValueOf[constant.Function](),
			},
		})
	}
	return out
}
