package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/haasonsaas/ema/internal/llm"
	"github.com/haasonsaas/ema/internal/retry"
	"github.com/haasonsaas/ema/pkg/models"
)

const abortedMsg = "Aborted"

// Run executes the bounded reasoning loop over state, mutating
// state.Messages and emitting events. It returns when the run terminates;
// an aborted run is a normal termination, not an error.
func (a *Agent) Run(ctx context.Context, state *Context) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.armCancel(cancel)

	for step := 1; step <= a.cfg.MaxSteps; step++ {
		if a.Aborted() {
			a.events.Emit(models.RunFinishedEvent(false, abortedMsg, ""))
			return
		}

		resp, err := a.llm.Generate(runCtx, &llm.Request{
			SystemPrompt: state.SystemPrompt,
			Messages:     state.Messages,
			Tools:        toolDefs(state.Tools),
			MaxTokens:    a.cfg.TokenLimit,
		})
		if err != nil {
			if a.Aborted() || errors.Is(err, context.Canceled) {
				a.events.Emit(models.RunFinishedEvent(false, abortedMsg, ""))
				return
			}
			var exhausted *retry.ExhaustedError
			if errors.As(err, &exhausted) {
				a.events.Emit(models.RunFinishedEvent(false,
					fmt.Sprintf("LLM call failed after %d attempts.", exhausted.Attempts),
					err.Error()))
				return
			}
			// Other generate errors end the run without a runFinished
			// event; clients keep showing the run as in progress.
			a.logger.Error("generate failed, run ends without runFinished", "step", step, "error", err)
			return
		}

		state.Messages = append(state.Messages, resp.Message)

		if len(resp.Message.ToolCalls) == 0 {
			a.events.Emit(models.RunFinishedEvent(true, resp.FinishReason, ""))
			return
		}

		for _, call := range resp.Message.ToolCalls {
			if a.Aborted() {
				a.events.Emit(models.RunFinishedEvent(false, abortedMsg, ""))
				return
			}
			result := a.executeCall(runCtx, state, call)
			if call.Name == a.cfg.replyTool() && result.Success {
				result = a.deliverReply(result)
			}
			state.Messages = append(state.Messages, models.ToolMessage(call.ID, call.Name, result))
		}
	}

	a.events.Emit(models.RunFinishedEvent(false,
		fmt.Sprintf("Task couldn't be completed after %d steps.", a.cfg.MaxSteps), ""))
}

// executeCall resolves and runs one tool call. Every failure mode is
// folded into a failure ToolResult; nothing propagates out of the loop.
func (a *Agent) executeCall(ctx context.Context, state *Context, call models.ToolCall) (result models.ToolResult) {
	tool := state.Tool(call.Name)
	if tool == nil {
		return models.ToolResult{Success: false, Error: "Unknown tool: " + call.Name}
	}

	if err := a.schemas.validate(tool, call.Args); err != nil {
		return models.ToolResult{Success: false, Error: fmt.Sprintf("invalid arguments for %s: %v", call.Name, err)}
	}

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("tool panicked", "tool", call.Name, "panic", r)
			result = models.ToolResult{
				Success: false,
				Error:   fmt.Sprintf("panic: %v\n%s", r, debug.Stack()),
			}
		}
	}()

	result, err := tool.Execute(ctx, call.Args, state.ToolContext)
	if err != nil {
		return models.ToolResult{Success: false, Error: fmt.Sprintf("%T: %v", err, err)}
	}
	return result
}

// deliverReply parses a successful reply tool result, emits the reply
// event, and clears the stored content (the reply has already been
// delivered as an event). A malformed payload turns into a failure result
// so the model sees its mistake.
func (a *Agent) deliverReply(result models.ToolResult) models.ToolResult {
	reply, err := a.replyParser.parse(result.Content)
	if err != nil {
		a.logger.Error("reply payload rejected", "error", err)
		return models.ToolResult{Success: false, Error: fmt.Sprintf("invalid reply payload: %v", err)}
	}
	a.events.Emit(models.EmaReplyEvent(reply))
	result.Content = ""
	return result
}

func toolDefs(tools []Tool) []llm.ToolDef {
	defs := make([]llm.ToolDef, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, llm.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}
