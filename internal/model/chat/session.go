package chat

import (
	"encoding/json"
	"time"

	"github.com/zhouzirui/c3-chat/backend/internal/model/tool"
)

// Session is the live state of one chat thread.
type Session struct {
	ThreadID     string
	UserID       string
	History      History
	Tools        *tool.Catalog // nil until the user has a connection
	SystemPrompt string
}

// HasTools reports whether a tool catalog has been attached.
func (s *Session) HasTools() bool {
	return s != nil && s.Tools != nil
}

// Thread is the durable record of a conversation thread. Only the "messages"
// metadata key is interpreted; everything else is carried opaquely.
type Thread struct {
	ID        string                     `json:"id"`
	UserID    string                     `json:"userId"`
	Name      string                     `json:"name,omitempty"`
	Metadata  map[string]json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time                  `json:"createdAt"`
	UpdatedAt time.Time                  `json:"updatedAt"`
}

// MetadataMessagesKey is the thread metadata field holding the history.
const MetadataMessagesKey = "messages"

// Messages decodes the persisted history. ok is false when the thread has no
// messages field.
func (t Thread) Messages() (History, bool, error) {
	raw, ok := t.Metadata[MetadataMessagesKey]
	if !ok {
		return nil, false, nil
	}
	var history History
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, true, err
	}
	return history, true, nil
}

// User is an authenticated, persisted principal.
type User struct {
	ID         string            `json:"id"`
	Identifier string            `json:"identifier"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}
