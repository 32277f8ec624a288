package agentrt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements Provider against the Messages API: a direct
// SDK call carrying the system prompt, message history, and tool schemas,
// returning content blocks that may include tool-use blocks.
type AnthropicProvider struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicProvider builds a provider bound to apiKey and model, with a
// per-response max-tokens budget.
func NewAnthropicProvider(apiKey string, model anthropic.Model, maxTokens int64) *AnthropicProvider {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicProvider{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
	}
}

// Respond sends the full message history plus tool schemas for one turn.
func (p *AnthropicProvider) Respond(ctx context.Context, system string, tools []ToolSchema, messages []Message) (Response, error) {
	params := anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		Messages:  toAnthropicMessages(messages),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	for _, tool := range tools {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: toAnthropicSchema(tool.InputSchema),
			},
		})
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("agentrt: anthropic messages.new: %w", err)
	}
	return fromAnthropicMessage(msg), nil
}

func toAnthropicSchema(schema map[string]any) anthropic.ToolInputSchemaParam {
	properties, _ := schema["properties"]
	return anthropic.ToolInputSchemaParam{
		Properties: properties,
	}
}

func toAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		var blocks []anthropic.ContentBlockParamUnion
		for _, c := range m.Content {
			switch c.Type {
			case "text":
				blocks = append(blocks, anthropic.NewTextBlock(c.Text))
			case "tool_result":
				blocks = append(blocks, anthropic.NewToolResultBlock(c.ToolResultForID, c.ToolResultText, false))
			}
		}
		if m.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func fromAnthropicMessage(msg *anthropic.Message) Response {
	var resp Response
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content = append(resp.Content, ContentBlock{Type: "text", Text: variant.Text})
		case anthropic.ToolUseBlock:
			var input map[string]any
			_ = json.Unmarshal(variant.Input, &input)
			resp.Content = append(resp.Content, ContentBlock{
				Type:      "tool_use",
				ToolUseID: variant.ID,
				ToolName:  variant.Name,
				ToolInput: input,
			})
		}
	}
	return resp
}
