package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/c3-chat/backend/internal/model/chat"
)

// Memory keeps users and threads in process memory. Suitable for development
// and tests; nothing survives a restart.
type Memory struct {
	mu      sync.RWMutex
	users   map[string]chat.User
	threads map[string]chat.Thread
}

// NewMemory bootstraps an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:   make(map[string]chat.User),
		threads: make(map[string]chat.Thread),
	}
}

func (s *Memory) UpsertUser(_ context.Context, identifier string, metadata map[string]string) (chat.User, error) {
	if identifier == "" {
		return chat.User{}, ErrIdentifierNeeded
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[identifier]
	if !ok {
		user = chat.User{
			ID:         uuid.NewString(),
			Identifier: identifier,
			CreatedAt:  time.Now().UTC(),
		}
	}
	user.Metadata = copyStrings(metadata)
	s.users[identifier] = user
	return user, nil
}

func (s *Memory) CreateThread(_ context.Context, thread chat.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[thread.ID]; ok {
		return ErrThreadExists
	}
	now := time.Now().UTC()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	thread.UpdatedAt = thread.CreatedAt
	s.threads[thread.ID] = copyThread(thread)
	return nil
}

func (s *Memory) GetThread(_ context.Context, id string) (chat.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	thread, ok := s.threads[id]
	if !ok {
		return chat.Thread{}, ErrThreadNotFound
	}
	return copyThread(thread), nil
}

func (s *Memory) UpdateThreadMetadata(_ context.Context, id, key string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, ok := s.threads[id]
	if !ok {
		return ErrThreadNotFound
	}
	if thread.Metadata == nil {
		thread.Metadata = make(map[string]json.RawMessage)
	}
	thread.Metadata[key] = append(json.RawMessage(nil), value...)
	thread.UpdatedAt = time.Now().UTC()
	s.threads[id] = thread
	return nil
}

func (s *Memory) ListThreads(_ context.Context, userID string) ([]chat.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	threads := make([]chat.Thread, 0)
	for _, thread := range s.threads {
		if thread.UserID == userID {
			threads = append(threads, copyThread(thread))
		}
	}
	sort.Slice(threads, func(i, j int) bool {
		return threads[i].CreatedAt.After(threads[j].CreatedAt)
	})
	return threads, nil
}

func (s *Memory) Close() error { return nil }

func copyStrings(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
