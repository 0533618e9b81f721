package session

import (
	"container/list"
	"sync"

	"github.com/zhouzirui/c3-chat/backend/internal/model/chat"
)

// liveSessions keeps at most limit sessions in memory, evicting the least
// recently used one. An evicted thread is rebuilt from the store on its next
// message.
type liveSessions struct {
	mu      sync.Mutex
	limit   int
	order   *list.List
	entries map[string]*list.Element
}

func newLiveSessions(limit int) *liveSessions {
	return &liveSessions{
		limit:   limit,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

func (l *liveSessions) get(threadID string) (*chat.Session, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	el, ok := l.entries[threadID]
	if !ok {
		return nil, false
	}
	l.order.MoveToFront(el)
	return el.Value.(*chat.Session), true
}

// put stores sess and returns the thread id it evicted, if any.
func (l *liveSessions) put(sess *chat.Session) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if el, ok := l.entries[sess.ThreadID]; ok {
		el.Value = sess
		l.order.MoveToFront(el)
		return "", false
	}
	l.entries[sess.ThreadID] = l.order.PushFront(sess)

	if l.limit <= 0 || l.order.Len() <= l.limit {
		return "", false
	}
	oldest := l.order.Back()
	evicted := oldest.Value.(*chat.Session).ThreadID
	l.order.Remove(oldest)
	delete(l.entries, evicted)
	return evicted, true
}

func (l *liveSessions) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len()
}
