package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/zhouzirui/c3-chat/backend/internal/config"
	"github.com/zhouzirui/c3-chat/backend/internal/model/chat"
	"github.com/zhouzirui/c3-chat/backend/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// Service checks the configured password pair and issues bearer tokens. Tokens
// live in memory and are lost on restart.
type Service struct {
	store    store.Store
	username string
	password string

	mu     sync.RWMutex
	tokens map[string]chat.User
}

// NewService creates the password authenticator.
func NewService(st store.Store, cfg config.AuthConfig) *Service {
	return &Service{
		store:    st,
		username: cfg.AdminUsername,
		password: cfg.AdminPassword,
		tokens:   make(map[string]chat.User),
	}
}

// Login verifies the credentials, persists the user and returns a new token.
func (s *Service) Login(ctx context.Context, username, password string) (string, chat.User, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) == 1
	if !userOK || !passOK {
		return "", chat.User{}, ErrInvalidCredentials
	}

	user, err := s.store.UpsertUser(ctx, username, map[string]string{"role": "admin", "provider": "credentials"})
	if err != nil {
		return "", chat.User{}, fmt.Errorf("persist user: %w", err)
	}

	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = user
	s.mu.Unlock()
	return token, user, nil
}

// Authenticate resolves a bearer token.
func (s *Service) Authenticate(_ context.Context, token string) (chat.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.tokens[token]
	if !ok {
		return chat.User{}, ErrInvalidToken
	}
	return user, nil
}

// Logout revokes a token.
func (s *Service) Logout(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}
