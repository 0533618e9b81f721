package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zhouzirui/c3-chat/backend/internal/model/chat"
)

func TestThreadLocksReleaseEntries(t *testing.T) {
	locks := newThreadLocks()

	unlockA := locks.lock("a")
	unlockB := locks.lock("b")
	assert.Equal(t, 2, locks.size())

	unlockA()
	unlockB()
	assert.Equal(t, 0, locks.size())
}

func TestLiveSessionsEvictLeastRecentlyUsed(t *testing.T) {
	live := newLiveSessions(2)

	_, evicted := live.put(&chat.Session{ThreadID: "a"})
	assert.False(t, evicted)
	_, evicted = live.put(&chat.Session{ThreadID: "b"})
	assert.False(t, evicted)

	// touching a makes b the oldest
	_, ok := live.get("a")
	assert.True(t, ok)

	id, evicted := live.put(&chat.Session{ThreadID: "c"})
	assert.True(t, evicted)
	assert.Equal(t, "b", id)
	assert.Equal(t, 2, live.len())

	_, ok = live.get("b")
	assert.False(t, ok)
}

func TestLiveSessionsReplaceKeepsSize(t *testing.T) {
	live := newLiveSessions(1)
	live.put(&chat.Session{ThreadID: "a"})
	_, evicted := live.put(&chat.Session{ThreadID: "a", UserID: "u"})
	assert.False(t, evicted)

	sess, ok := live.get("a")
	assert.True(t, ok)
	assert.Equal(t, "u", sess.UserID)
}
