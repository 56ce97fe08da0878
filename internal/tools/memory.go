package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/haasonsaas/ema/internal/agent"
	"github.com/haasonsaas/ema/internal/memstore"
	"github.com/haasonsaas/ema/pkg/models"
)

// RememberTool stores one memory item in a backing store. The same type
// serves both the short-term and long-term variants.
type RememberTool struct {
	name        string
	description string
	memories    *memstore.Memories
}

// NewRememberShortTerm builds the remember_short_term tool.
func NewRememberShortTerm(memories *memstore.Memories) *RememberTool {
	return &RememberTool{
		name:        "remember_short_term",
		description: "Remember something for the near future, like the topic of the current conversation or a small errand.",
		memories:    memories,
	}
}

// NewRememberLongTerm builds the remember_long_term tool.
func NewRememberLongTerm(memories *memstore.Memories) *RememberTool {
	return &RememberTool{
		name:        "remember_long_term",
		description: "Remember a lasting fact about the user, like preferences, birthdays, or relationships.",
		memories:    memories,
	}
}

func (t *RememberTool) Name() string        { return t.name }
func (t *RememberTool) Description() string { return t.description }

func (t *RememberTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "content": {"type": "string", "description": "The fact to remember, phrased as one sentence"}
  },
  "required": ["content"],
  "additionalProperties": false
}`)
}

func (t *RememberTool) Execute(ctx context.Context, args json.RawMessage, tc agent.ToolContext) (models.ToolResult, error) {
	var input struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return models.ToolResult{Success: false, Error: fmt.Sprintf("invalid arguments: %v", err)}, nil
	}
	if trimmed(input.Content) == "" {
		return models.ToolResult{Success: false, Error: "content is required"}, nil
	}
	item, err := t.memories.Add(ctx, tc.UserID, tc.ActorID, input.Content)
	if err != nil {
		return models.ToolResult{}, fmt.Errorf("store memory: %w", err)
	}
	return models.ToolResult{Success: true, Content: fmt.Sprintf("Remembered (id %d).", item.ID)}, nil
}

// SearchMemoryTool looks up stored memories by keyword.
type SearchMemoryTool struct {
	searcher memstore.Searcher
}

// NewSearchMemory builds the search_memory tool.
func NewSearchMemory(searcher memstore.Searcher) *SearchMemoryTool {
	return &SearchMemoryTool{searcher: searcher}
}

func (t *SearchMemoryTool) Name() string { return "search_memory" }

func (t *SearchMemoryTool) Description() string {
	return "Search long-term memories about the user by keywords."
}

func (t *SearchMemoryTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "keywords": {
      "type": "array",
      "items": {"type": "string"},
      "minItems": 1,
      "description": "Keywords to match against stored memories"
    }
  },
  "required": ["keywords"],
  "additionalProperties": false
}`)
}

func (t *SearchMemoryTool) Execute(ctx context.Context, args json.RawMessage, tc agent.ToolContext) (models.ToolResult, error) {
	var input struct {
		Keywords []string `json:"keywords"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return models.ToolResult{Success: false, Error: fmt.Sprintf("invalid arguments: %v", err)}, nil
	}
	items, err := t.searcher.Search(ctx, tc.UserID, tc.ActorID, input.Keywords)
	if err != nil {
		var vErr *models.ValidationError
		if errors.As(err, &vErr) {
			return models.ToolResult{Success: false, Error: vErr.Error()}, nil
		}
		return models.ToolResult{}, fmt.Errorf("search memories: %w", err)
	}
	if len(items) == 0 {
		return models.ToolResult{Success: true, Content: "No matching memories."}, nil
	}
	payload, err := json.Marshal(struct {
		Items []models.MemoryItem `json:"items"`
	}{Items: items})
	if err != nil {
		return models.ToolResult{}, err
	}
	return models.ToolResult{Success: true, Content: string(payload)}, nil
}
