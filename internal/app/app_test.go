package app

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/c3-chat/backend/internal/config"
	"github.com/zhouzirui/c3-chat/backend/internal/model/chat"
)

func testConfig() *config.Config {
	return &config.Config{
		AI: config.AIConfig{
			Provider:        config.ProviderAnthropic,
			AnthropicAPIKey: "sk-test",
			Model:           "claude-3-5-sonnet-20241022",
			MaxTokens:       1000,
			ModelTimeout:    time.Second,
			ToolTimeout:     time.Second,
		},
		Broker: config.BrokerConfig{
			Kind:     config.BrokerComposio,
			App:      "github",
			Composio: config.ComposioConfig{APIKey: "ck-test", BaseURL: "http://127.0.0.1:0"},
		},
		Auth:  config.AuthConfig{AdminUsername: "admin", AdminPassword: "admin"},
		Store: config.StoreConfig{Driver: "memory"},
	}
}

func TestBuild(t *testing.T) {
	a, err := Build(context.Background(), testConfig(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	assert.NotNil(t, a.Sessions)
	assert.NotNil(t, a.Gateway)

	token, user, err := a.Auth.Login(context.Background(), "admin", "admin")
	require.NoError(t, err)
	got, err := a.Auth.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	threads, err := a.Sessions.ListThreads(context.Background(), chat.User{ID: user.ID})
	require.NoError(t, err)
	assert.Empty(t, threads)
}

func TestBuildRejectsUnknownStore(t *testing.T) {
	cfg := testConfig()
	cfg.Store.Driver = "mongo"
	_, err := Build(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}
