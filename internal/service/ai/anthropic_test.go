package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/c3-chat/backend/internal/model/chat"
	"github.com/zhouzirui/c3-chat/backend/internal/model/tool"
)

const toolUseResponse = `{
  "id": "msg_01",
  "type": "message",
  "role": "assistant",
  "model": "claude-3-5-sonnet-20241022",
  "content": [
    {"type": "text", "text": "Let me look that up."},
    {"type": "tool_use", "id": "tu_1", "name": "GITHUB_LIST_REPOS", "input": {"owner": "me"}}
  ],
  "stop_reason": "tool_use",
  "stop_sequence": null,
  "usage": {"input_tokens": 10, "output_tokens": 5}
}`

func TestAnthropicGenerate(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, toolUseResponse)
	}))
	defer srv.Close()

	gw := NewAnthropic(AnthropicOptions{APIKey: "sk-test", Model: "claude-3-5-sonnet-20241022", MaxTokens: 1000}, zerolog.Nop(), option.WithBaseURL(srv.URL))

	history := chat.History{
		chat.UserText("earlier"),
		chat.AssistantText(""),
		chat.UserText("list my repos"),
	}
	catalog := tool.Catalog{{
		Name:        "GITHUB_LIST_REPOS",
		Description: "List repositories",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"owner":{"type":"string"}},"required":["owner"]}`),
	}}

	resp, err := gw.Generate(context.Background(), Request{History: history, System: "be brief", Tools: catalog})
	require.NoError(t, err)

	assert.Equal(t, StopToolUse, resp.StopReason)
	text, ok := resp.LeadingText()
	require.True(t, ok)
	assert.Equal(t, "Let me look that up.", text)

	call, ok := resp.LastToolUse()
	require.True(t, ok)
	assert.Equal(t, "tu_1", call.ID)
	assert.Equal(t, "GITHUB_LIST_REPOS", call.Name)
	assert.JSONEq(t, `{"owner":"me"}`, string(call.Input))

	assert.Equal(t, "claude-3-5-sonnet-20241022", captured["model"])
	assert.EqualValues(t, 1000, captured["max_tokens"])
	messages, ok := captured["messages"].([]any)
	require.True(t, ok)
	// The empty assistant turn is dropped.
	assert.Len(t, messages, 2)
	tools, ok := captured["tools"].([]any)
	require.True(t, ok)
	require.Len(t, tools, 1)
	assert.Equal(t, "GITHUB_LIST_REPOS", tools[0].(map[string]any)["name"])
}

func TestAnthropicGeneratePropagatesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"api_error","message":"boom"}}`)
	}))
	defer srv.Close()

	gw := NewAnthropic(AnthropicOptions{APIKey: "sk-test", Model: "m", MaxTokens: 10}, zerolog.Nop(), option.WithBaseURL(srv.URL))
	_, err := gw.Generate(context.Background(), Request{History: chat.History{chat.UserText("hi")}})
	require.Error(t, err)
}

func TestToAnthropicToolsRejectsInvalidSchema(t *testing.T) {
	_, err := toAnthropicTools(tool.Catalog{{Name: "broken", InputSchema: json.RawMessage(`{`)}})
	require.Error(t, err)
}

func TestToAnthropicToolsKeepsExtraSchemaKeys(t *testing.T) {
	schema := `{
		"type": "object",
		"properties": {"repo": {"$ref": "#/$defs/repo"}},
		"required": ["repo"],
		"additionalProperties": false,
		"$defs": {"repo": {"type": "string"}}
	}`
	tools, err := toAnthropicTools(tool.Catalog{{Name: "GITHUB_GET_REPO", InputSchema: json.RawMessage(schema)}})
	require.NoError(t, err)
	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)

	encoded, err := json.Marshal(tools[0].OfTool.InputSchema)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "object",
		"properties": {"repo": {"$ref": "#/$defs/repo"}},
		"required": ["repo"],
		"additionalProperties": false,
		"$defs": {"repo": {"type": "string"}}
	}`, string(encoded))
}
