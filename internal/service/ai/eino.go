package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/eino-contrib/jsonschema"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/c3-chat/backend/internal/logging"
	"github.com/zhouzirui/c3-chat/backend/internal/model/chat"
	"github.com/zhouzirui/c3-chat/backend/internal/model/tool"
)

// Eino implements Gateway on an eino chat model (Volcengine Ark in production).
type Eino struct {
	chatModel model.BaseChatModel
	logger    zerolog.Logger
}

// NewEino wraps an eino chat model.
func NewEino(chatModel model.BaseChatModel, logger zerolog.Logger) *Eino {
	return &Eino{
		chatModel: chatModel,
		logger:    logging.Component(logger, "eino"),
	}
}

func (g *Eino) Generate(ctx context.Context, req Request) (*Response, error) {
	cm, err := g.bind(req.Tools)
	if err != nil {
		return nil, err
	}

	msg, err := cm.Generate(ctx, toEinoMessages(req.System, req.History))
	if err != nil {
		return nil, fmt.Errorf("eino generate: %w", err)
	}
	return fromEinoMessage(msg), nil
}

func (g *Eino) Stream(ctx context.Context, req Request, onDelta func(string)) (*Response, error) {
	cm, err := g.bind(req.Tools)
	if err != nil {
		return nil, err
	}

	stream, err := cm.Stream(ctx, toEinoMessages(req.System, req.History))
	if err != nil {
		return nil, fmt.Errorf("eino stream: %w", err)
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return nil, fmt.Errorf("eino stream: %w", recvErr)
		}
		if chunk == nil {
			continue
		}

		chunks = append(chunks, chunk)
		if chunk.Content != "" && onDelta != nil {
			onDelta(chunk.Content)
		}
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("eino stream: empty response")
	}

	msg, err := schema.ConcatMessages(chunks)
	if err != nil {
		return nil, fmt.Errorf("eino stream concat: %w", err)
	}
	return fromEinoMessage(msg), nil
}

// bind attaches the catalog to the model. Tool-calling models return a bound
// copy; legacy models are bound in place.
func (g *Eino) bind(catalog tool.Catalog) (model.BaseChatModel, error) {
	if len(catalog) == 0 {
		return g.chatModel, nil
	}

	infos, err := toEinoTools(catalog)
	if err != nil {
		return nil, err
	}

	switch cm := g.chatModel.(type) {
	case model.ToolCallingChatModel:
		bound, err := cm.WithTools(infos)
		if err != nil {
			return nil, fmt.Errorf("bind tools: %w", err)
		}
		return bound, nil
	case model.ChatModel:
		if err := cm.BindTools(infos); err != nil {
			return nil, fmt.Errorf("bind tools: %w", err)
		}
		return cm, nil
	default:
		return nil, fmt.Errorf("chat model %T does not support tool calling", g.chatModel)
	}
}

func toEinoTools(catalog tool.Catalog) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(catalog))
	for _, t := range catalog {
		info := &schema.ToolInfo{Name: t.Name, Desc: t.Description}
		if len(t.InputSchema) > 0 {
			js := &jsonschema.Schema{}
			if err := json.Unmarshal(t.InputSchema, js); err != nil {
				return nil, fmt.Errorf("tool %s: invalid input schema: %w", t.Name, err)
			}
			info.ParamsOneOf = schema.NewParamsOneOfByJSONSchema(js)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func toEinoMessages(system string, history chat.History) []*schema.Message {
	out := make([]*schema.Message, 0, len(history)+1)
	if system != "" {
		out = append(out, schema.SystemMessage(system))
	}

	for _, m := range history {
		var text strings.Builder
		var calls []schema.ToolCall
		var results []*schema.Message

		for _, block := range m.Content {
			switch b := block.(type) {
			case chat.TextBlock:
				text.WriteString(b.Text)
			case chat.ToolUseBlock:
				args := string(b.Input)
				if args == "" {
					args = "{}"
				}
				calls = append(calls, schema.ToolCall{
					ID:       b.ID,
					Type:     "function",
					Function: schema.FunctionCall{Name: b.Name, Arguments: args},
				})
			case chat.ToolResultBlock:
				results = append(results, schema.ToolMessage(b.Content, b.ToolUseID))
			}
		}

		switch m.Role {
		case chat.RoleAssistant:
			if text.Len() > 0 || len(calls) > 0 {
				out = append(out, schema.AssistantMessage(text.String(), calls))
			}
		default:
			out = append(out, results...)
			if text.Len() > 0 {
				out = append(out, schema.UserMessage(text.String()))
			}
		}
	}
	return out
}

func fromEinoMessage(msg *schema.Message) *Response {
	resp := &Response{Role: chat.RoleAssistant, StopReason: StopEndTurn}
	if msg == nil {
		return resp
	}

	if msg.Content != "" {
		resp.Content = append(resp.Content, chat.TextBlock{Text: msg.Content})
	}
	for _, call := range msg.ToolCalls {
		input := json.RawMessage(call.Function.Arguments)
		if !json.Valid(input) {
			input = json.RawMessage("{}")
		}
		resp.Content = append(resp.Content, chat.ToolUseBlock{ID: call.ID, Name: call.Function.Name, Input: input})
	}

	switch {
	case len(msg.ToolCalls) > 0:
		resp.StopReason = StopToolUse
	case msg.ResponseMeta != nil && msg.ResponseMeta.FinishReason == "length":
		resp.StopReason = StopMaxTokens
	}
	return resp
}
