package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Block is one element of a message's content. The concrete types are
// TextBlock, ToolUseBlock and ToolResultBlock.
type Block interface {
	blockType() string
}

// TextBlock carries plain text.
type TextBlock struct {
	Text string `json:"text"`
}

// ToolUseBlock is a model-issued request to invoke a tool.
type ToolUseBlock struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResultBlock feeds the outcome of a tool use back to the model.
type ToolResultBlock struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
}

func (TextBlock) blockType() string       { return "text" }
func (ToolUseBlock) blockType() string    { return "tool_use" }
func (ToolResultBlock) blockType() string { return "tool_result" }

// Message is one turn in the conversation.
type Message struct {
	Role    Role    `json:"role"`
	Content []Block `json:"content"`
}

// History is the ordered, append-only message log of one session.
type History []Message

// UserText builds a user message with a single text block.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: []Block{TextBlock{Text: text}}}
}

// AssistantText builds an assistant message with a single text block.
func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Content: []Block{TextBlock{Text: text}}}
}

// wireBlock is the tagged JSON form of a Block. Field order is fixed so that
// re-encoding a decoded history reproduces the same bytes.
type wireBlock struct {
	Type      string          `json:"type"`
	Text      *string         `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   *string         `json:"content,omitempty"`
}

type wireMessage struct {
	Role    Role        `json:"role"`
	Content []wireBlock `json:"content"`
}

// MarshalJSON encodes the message in the Anthropic Messages wire form.
func (m Message) MarshalJSON() ([]byte, error) {
	out := wireMessage{Role: m.Role, Content: make([]wireBlock, 0, len(m.Content))}
	for _, block := range m.Content {
		switch b := block.(type) {
		case TextBlock:
			text := b.Text
			out.Content = append(out.Content, wireBlock{Type: "text", Text: &text})
		case ToolUseBlock:
			input := b.Input
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			out.Content = append(out.Content, wireBlock{Type: "tool_use", ID: b.ID, Name: b.Name, Input: input})
		case ToolResultBlock:
			content := b.Content
			out.Content = append(out.Content, wireBlock{Type: "tool_result", ToolUseID: b.ToolUseID, Content: &content})
		default:
			return nil, fmt.Errorf("unsupported content block %T", block)
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the Anthropic Messages wire form. Unknown block types
// are rejected.
func (m *Message) UnmarshalJSON(data []byte) error {
	var in wireMessage
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	switch in.Role {
	case RoleUser, RoleAssistant:
	default:
		return fmt.Errorf("unknown message role %q", in.Role)
	}

	blocks := make([]Block, 0, len(in.Content))
	for i, raw := range in.Content {
		switch raw.Type {
		case "text":
			var text string
			if raw.Text != nil {
				text = *raw.Text
			}
			blocks = append(blocks, TextBlock{Text: text})
		case "tool_use":
			var input json.RawMessage
			if len(raw.Input) > 0 {
				var buf bytes.Buffer
				if err := json.Compact(&buf, raw.Input); err != nil {
					return fmt.Errorf("content[%d]: invalid tool input: %w", i, err)
				}
				input = buf.Bytes()
			}
			blocks = append(blocks, ToolUseBlock{ID: raw.ID, Name: raw.Name, Input: input})
		case "tool_result":
			var content string
			if raw.Content != nil {
				content = *raw.Content
			}
			blocks = append(blocks, ToolResultBlock{ToolUseID: raw.ToolUseID, Content: content})
		default:
			return fmt.Errorf("content[%d]: unknown block type %q", i, raw.Type)
		}
	}

	m.Role = in.Role
	m.Content = blocks
	return nil
}
