package chat_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/c3-chat/backend/internal/model/chat"
)

func sampleHistory() chat.History {
	return chat.History{
		chat.UserText("list my repos"),
		{Role: chat.RoleAssistant, Content: []chat.Block{chat.ToolUseBlock{
			ID:    "tu_1",
			Name:  "GITHUB_LIST_REPOS",
			Input: json.RawMessage(`{"owner":"me","per_page":2}`),
		}}},
		{Role: chat.RoleUser, Content: []chat.Block{chat.ToolResultBlock{ToolUseID: "tu_1", Content: "repo1, repo2"}}},
		chat.AssistantText(""),
	}
}

func TestHistoryReencodesToSameBytes(t *testing.T) {
	first, err := json.Marshal(sampleHistory())
	require.NoError(t, err)

	var decoded chat.History
	require.NoError(t, json.Unmarshal(first, &decoded))
	assert.Equal(t, sampleHistory(), decoded)

	second, err := json.Marshal(decoded)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestMessageWireForm(t *testing.T) {
	encoded, err := json.Marshal(sampleHistory()[1:3])
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"role":"assistant","content":[{"type":"tool_use","id":"tu_1","name":"GITHUB_LIST_REPOS","input":{"owner":"me","per_page":2}}]},
		{"role":"user","content":[{"type":"tool_result","tool_use_id":"tu_1","content":"repo1, repo2"}]}
	]`, string(encoded))

	empty, err := json.Marshal(chat.AssistantText(""))
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"assistant","content":[{"type":"text","text":""}]}`, string(empty))
}

func TestToolUseWithoutInputEncodesEmptyObject(t *testing.T) {
	encoded, err := json.Marshal(chat.Message{Role: chat.RoleAssistant, Content: []chat.Block{chat.ToolUseBlock{ID: "x", Name: "N"}}})
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"input":{}`)
}

func TestUnmarshalCompactsToolInput(t *testing.T) {
	var m chat.Message
	require.NoError(t, json.Unmarshal([]byte(`{"role":"assistant","content":[{"type":"tool_use","id":"a","name":"b","input":{ "k" : 1 }}]}`), &m))
	assert.Equal(t, json.RawMessage(`{"k":1}`), m.Content[0].(chat.ToolUseBlock).Input)
}

func TestUnmarshalRejectsUnknownShapes(t *testing.T) {
	cases := map[string]string{
		"block type": `{"role":"assistant","content":[{"type":"image"}]}`,
		"role":       `{"role":"system","content":[]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			var m chat.Message
			assert.Error(t, json.Unmarshal([]byte(raw), &m))
		})
	}
}

func TestThreadMessages(t *testing.T) {
	_, ok, err := chat.Thread{}.Messages()
	require.NoError(t, err)
	assert.False(t, ok)

	raw, err := json.Marshal(sampleHistory())
	require.NoError(t, err)
	thread := chat.Thread{Metadata: map[string]json.RawMessage{chat.MetadataMessagesKey: raw}}

	history, ok, err := thread.Messages()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, history, 4)

	thread.Metadata[chat.MetadataMessagesKey] = json.RawMessage(`{"not":"a list"}`)
	_, ok, err = thread.Messages()
	assert.True(t, ok)
	assert.Error(t, err)
}
