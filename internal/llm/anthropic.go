package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/ema/internal/config"
	"github.com/haasonsaas/ema/pkg/models"
)

const anthropicDefaultMaxTokens = 4096

type anthropicClient struct {
	messages  *sdk.MessageService
	model     string
	maxTokens int
}

func newAnthropicClient(provider config.ProviderConfig, model string, httpClient *http.Client) (*anthropicClient, error) {
	if provider.Key == "" {
		return nil, errors.New("llm: provider api key is required")
	}
	if model == "" {
		return nil, errors.New("llm: chat model is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(provider.Key)}
	if provider.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(provider.BaseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	client := sdk.NewClient(opts...)
	return &anthropicClient{
		messages:  &client.Messages,
		model:     model,
		maxTokens: anthropicDefaultMaxTokens,
	}, nil
}

func (c *anthropicClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages:  encodeAnthropicMessages(req.Messages),
	}
	if req.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	for _, tool := range req.Tools {
		schema, err := anthropicToolSchema(tool.Parameters)
		if err != nil {
			return nil, fmt.Errorf("anthropic tool %q schema: %w", tool.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, tool.Name)
		if u.OfTool != nil && tool.Description != "" {
			u.OfTool.Description = sdk.String(tool.Description)
		}
		params.Tools = append(params.Tools, u)
	}

	msg, err := c.messages.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}
	return decodeAnthropicMessage(msg), nil
}

func encodeAnthropicMessages(msgs []models.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case models.RoleUser:
			if text := msg.Text(); text != "" {
				out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(text)))
			}
		case models.RoleModel:
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(msg.ToolCalls))
			if text := msg.Text(); text != "" {
				blocks = append(blocks, sdk.NewTextBlock(text))
			}
			for _, call := range msg.ToolCalls {
				var input any
				if len(call.Args) > 0 {
					_ = json.Unmarshal(call.Args, &input)
				}
				blocks = append(blocks, sdk.NewToolUseBlock(call.ID, input, call.Name))
			}
			if len(blocks) > 0 {
				out = append(out, sdk.NewAssistantMessage(blocks...))
			}
		case models.RoleTool:
			content := encodeToolResultContent(msg.Result)
			isError := msg.Result != nil && !msg.Result.Success
			out = append(out, sdk.NewUserMessage(sdk.NewToolResultBlock(msg.ID, content, isError)))
		}
	}
	return out
}

func decodeAnthropicMessage(msg *sdk.Message) *Response {
	decoded := models.Message{Role: models.RoleModel}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				decoded.Contents = append(decoded.Contents, models.TextContent(block.Text))
			}
		case "tool_use":
			args, _ := json.Marshal(block.Input)
			decoded.ToolCalls = append(decoded.ToolCalls, models.ToolCall{
				ID:   block.ID,
				Name: block.Name,
				Args: args,
			})
		}
	}
	return &Response{
		Message:      decoded,
		FinishReason: string(msg.StopReason),
		TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}
}

func anthropicToolSchema(parameters json.RawMessage) (sdk.ToolInputSchemaParam, error) {
	if len(parameters) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(parameters, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}
