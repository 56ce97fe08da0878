// Package tools holds the built-in tools offered to agent runs: the
// reply tool every actor carries, plus config-gated memory and
// scheduling tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/ema/internal/agent"
	"github.com/haasonsaas/ema/pkg/models"
)

// ReplyTool is the distinguished ema_reply tool. Its successful result
// carries the structured user-visible reply; the run loop parses and
// re-validates the payload before delivering it.
type ReplyTool struct {
	expressions []string
	actions     []string
	schema      json.RawMessage
}

// NewReplyTool builds the reply tool with the allowed expression and
// action sets baked into its schema enums.
func NewReplyTool(expressions, actions []string) *ReplyTool {
	t := &ReplyTool{expressions: expressions, actions: actions}
	t.schema = t.buildSchema()
	return t
}

func (t *ReplyTool) Name() string { return agent.ReplyToolName }

func (t *ReplyTool) Description() string {
	return "Deliver your reply to the user. Call this whenever you want the user to see a response; text outside this tool is never shown."
}

func (t *ReplyTool) Parameters() json.RawMessage { return t.schema }

// Execute passes the arguments through as the reply payload.
func (t *ReplyTool) Execute(_ context.Context, args json.RawMessage, _ agent.ToolContext) (models.ToolResult, error) {
	if len(args) == 0 {
		return models.ToolResult{Success: false, Error: "reply arguments required"}, nil
	}
	return models.ToolResult{Success: true, Content: string(args)}, nil
}

func (t *ReplyTool) buildSchema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"think": map[string]any{
				"type":        "string",
				"description": "Private reasoning, never shown to the user",
			},
			"expression": map[string]any{
				"type":        "string",
				"description": "Facial expression shown with the reply",
			},
			"action": map[string]any{
				"type":        "string",
				"description": "Body action shown with the reply",
			},
			"response": map[string]any{
				"type":        "string",
				"description": "The text shown to the user",
			},
		},
		"required":             []string{"response"},
		"additionalProperties": false,
	}
	props := schema["properties"].(map[string]any)
	if len(t.expressions) > 0 {
		props["expression"].(map[string]any)["enum"] = t.expressions
	}
	if len(t.actions) > 0 {
		props["action"].(map[string]any)["enum"] = t.actions
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		// The schema is built from literals; this cannot fail.
		panic(fmt.Sprintf("reply schema: %v", err))
	}
	return raw
}

func trimmed(s string) string { return strings.TrimSpace(s) }
