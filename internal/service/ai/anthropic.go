package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/c3-chat/backend/internal/logging"
	"github.com/zhouzirui/c3-chat/backend/internal/model/chat"
	"github.com/zhouzirui/c3-chat/backend/internal/model/tool"
)

// AnthropicOptions configures the Claude gateway.
type AnthropicOptions struct {
	APIKey    string
	Model     string
	MaxTokens int
}

// Anthropic implements Gateway on the Claude Messages API.
type Anthropic struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
	logger    zerolog.Logger
}

// NewAnthropic creates a Claude-backed Gateway. Extra request options are
// appended after the API key, so tests can point the client at a local server.
func NewAnthropic(opts AnthropicOptions, logger zerolog.Logger, extra ...option.RequestOption) *Anthropic {
	requestOpts := append([]option.RequestOption{option.WithAPIKey(opts.APIKey), option.WithMaxRetries(0)}, extra...)
	client := anthropic.NewClient(requestOpts...)
	return &Anthropic{
		client:    &client,
		model:     opts.Model,
		maxTokens: int64(opts.MaxTokens),
		logger:    logging.Component(logger, "anthropic"),
	}
}

func (g *Anthropic) Generate(ctx context.Context, req Request) (*Response, error) {
	params, err := g.params(req)
	if err != nil {
		return nil, err
	}

	msg, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	g.logger.Debug().Str("stop_reason", string(msg.StopReason)).Int("blocks", len(msg.Content)).Msg("generated response")
	return fromAnthropicMessage(msg), nil
}

func (g *Anthropic) Stream(ctx context.Context, req Request, onDelta func(string)) (*Response, error) {
	params, err := g.params(req)
	if err != nil {
		return nil, err
	}

	stream := g.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("anthropic stream accumulate: %w", err)
		}

		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" && onDelta != nil {
				onDelta(delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic stream: %w", err)
	}

	return fromAnthropicMessage(&message), nil
}

func (g *Anthropic) params(req Request) (anthropic.MessageNewParams, error) {
	tools, err := toAnthropicTools(req.Tools)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		Messages:  toAnthropicMessages(req.History),
		MaxTokens: g.maxTokens,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	return params, nil
}

var schemaPathEscaper = strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)

func toAnthropicTools(catalog tool.Catalog) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(catalog))
	for _, t := range catalog {
		var schema map[string]any
		if len(t.InputSchema) > 0 {
			if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
				return nil, fmt.Errorf("tool %s: invalid input schema: %w", t.Name, err)
			}
		}

		props, _ := schema["properties"].(map[string]any)
		if props == nil {
			props = map[string]any{}
		}
		var required []string
		if req, ok := schema["required"].([]any); ok {
			for _, r := range req {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
		}

		// Keys such as $defs or additionalProperties ride along unchanged.
		var extra map[string]any
		for key, value := range schema {
			switch key {
			case "properties", "required", "type":
				continue
			}
			if extra == nil {
				extra = make(map[string]any)
			}
			// The SDK sets extras by sjson path.
			extra[schemaPathEscaper.Replace(key)] = value
		}

		param := &anthropic.ToolParam{
			Name: t.Name,
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties:  props,
				Required:    required,
				ExtraFields: extra,
			},
		}
		if t.Description != "" {
			param.Description = anthropic.String(t.Description)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: param})
	}
	return out, nil
}

// toAnthropicMessages converts history to SDK params. Empty text blocks are
// rejected by the API, so they are dropped along with messages left empty.
func toAnthropicMessages(history chat.History) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(history))
	for _, m := range history {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Content))
		for _, block := range m.Content {
			switch b := block.(type) {
			case chat.TextBlock:
				if b.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(b.Text))
				}
			case chat.ToolUseBlock:
				input := b.Input
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{ID: b.ID, Name: b.Name, Input: input},
				})
			case chat.ToolResultBlock:
				blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolUseID, b.Content, false))
			}
		}
		if len(blocks) == 0 {
			continue
		}

		if m.Role == chat.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func fromAnthropicMessage(msg *anthropic.Message) *Response {
	resp := &Response{
		Role:       chat.RoleAssistant,
		StopReason: StopReason(msg.StopReason),
		Content:    make([]chat.Block, 0, len(msg.Content)),
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Content = append(resp.Content, chat.TextBlock{Text: block.AsText().Text})
		case "tool_use":
			tu := block.AsToolUse()
			resp.Content = append(resp.Content, chat.ToolUseBlock{
				ID:    tu.ID,
				Name:  tu.Name,
				Input: append(json.RawMessage(nil), tu.Input...),
			})
		}
	}
	return resp
}
