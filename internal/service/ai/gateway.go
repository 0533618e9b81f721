package ai

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/c3-chat/backend/internal/config"
	"github.com/zhouzirui/c3-chat/backend/internal/model/chat"
	"github.com/zhouzirui/c3-chat/backend/internal/model/tool"
)

// StopReason says why the model ended its response.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopToolUse      StopReason = "tool_use"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
)

// Request is a single inference call.
type Request struct {
	History chat.History
	System  string
	Tools   tool.Catalog
}

// Response is the model's reply to a Request.
type Response struct {
	Role       chat.Role
	StopReason StopReason
	Content    []chat.Block
}

// LeadingText returns the text of the first content block when that block is
// text.
func (r *Response) LeadingText() (string, bool) {
	if r == nil || len(r.Content) == 0 {
		return "", false
	}
	text, ok := r.Content[0].(chat.TextBlock)
	return text.Text, ok
}

// Text returns the leading text, or "" when the response does not start with
// a text block.
func (r *Response) Text() string {
	text, _ := r.LeadingText()
	return text
}

// LastToolUse returns the final content block when it is a tool use.
func (r *Response) LastToolUse() (chat.ToolUseBlock, bool) {
	if r == nil || len(r.Content) == 0 {
		return chat.ToolUseBlock{}, false
	}
	call, ok := r.Content[len(r.Content)-1].(chat.ToolUseBlock)
	return call, ok
}

// Gateway issues inference calls against an LLM. Implementations do not retry.
type Gateway interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	// Stream behaves like Generate and additionally reports text deltas as
	// they arrive.
	Stream(ctx context.Context, req Request, onDelta func(string)) (*Response, error)
}

// New builds the gateway selected by MODEL_PROVIDER.
func New(ctx context.Context, cfg config.AIConfig, logger zerolog.Logger) (Gateway, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		return NewAnthropic(AnthropicOptions{
			APIKey:    cfg.AnthropicAPIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		}, logger), nil
	case config.ProviderArk:
		chatModel, err := cfg.Ark.NewChatModel(ctx, cfg.MaxTokens)
		if err != nil {
			return nil, fmt.Errorf("failed to create chat model: %w", err)
		}
		return NewEino(chatModel, logger), nil
	default:
		return nil, fmt.Errorf("unsupported model provider %q", cfg.Provider)
	}
}
