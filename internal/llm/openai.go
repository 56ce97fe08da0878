package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/ema/internal/config"
	"github.com/haasonsaas/ema/pkg/models"
)

// googleOpenAIBase is the Gemini OpenAI-compatible endpoint. The google
// provider reuses the OpenAI client against it, the same way privacy
// proxies expose OpenAI-compatible APIs.
const googleOpenAIBase = "https://generativelanguage.googleapis.com/v1beta/openai/"

type openAIClient struct {
	client *openai.Client
	model  string
}

func newOpenAIClient(provider config.ProviderConfig, model, defaultBase string, httpClient *http.Client) (*openAIClient, error) {
	if provider.Key == "" {
		return nil, errors.New("llm: provider api key is required")
	}
	if model == "" {
		return nil, errors.New("llm: chat model is required")
	}
	cfg := openai.DefaultConfig(provider.Key)
	if provider.BaseURL != "" {
		cfg.BaseURL = provider.BaseURL
	} else if defaultBase != "" {
		cfg.BaseURL = defaultBase
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &openAIClient{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

func (c *openAIClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: encodeOpenAIMessages(req.SystemPrompt, req.Messages),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	for _, tool := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai chat completion: empty choices")
	}
	choice := resp.Choices[0]
	return &Response{
		Message:      decodeOpenAIMessage(choice.Message),
		FinishReason: string(choice.FinishReason),
		TotalTokens:  resp.Usage.TotalTokens,
	}, nil
}

func encodeOpenAIMessages(systemPrompt string, msgs []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if systemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, msg := range msgs {
		switch msg.Role {
		case models.RoleUser:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Text(),
			})
		case models.RoleModel:
			encoded := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Text(),
			}
			for _, call := range msg.ToolCalls {
				encoded.ToolCalls = append(encoded.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(call.Args),
					},
				})
			}
			out = append(out, encoded)
		case models.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: msg.ID,
				Name:       msg.ToolName,
				Content:    encodeToolResultContent(msg.Result),
			})
		}
	}
	return out
}

func decodeOpenAIMessage(msg openai.ChatCompletionMessage) models.Message {
	decoded := models.Message{Role: models.RoleModel}
	if msg.Content != "" {
		decoded.Contents = []models.Content{models.TextContent(msg.Content)}
	}
	for _, call := range msg.ToolCalls {
		decoded.ToolCalls = append(decoded.ToolCalls, models.ToolCall{
			ID:   call.ID,
			Name: call.Function.Name,
			Args: json.RawMessage(call.Function.Arguments),
		})
	}
	return decoded
}

// encodeToolResultContent renders a tool result for the wire. The full
// result document goes back to the model so it can see errors too.
func encodeToolResultContent(result *models.ToolResult) string {
	if result == nil {
		return "{}"
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())
	}
	return string(data)
}
