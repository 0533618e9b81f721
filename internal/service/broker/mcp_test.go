package broker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/c3-chat/backend/internal/model/chat"
)

type listReposInput struct {
	Owner string `json:"owner"`
}

func newInMemoryMCP(t *testing.T) *MCP {
	t.Helper()
	ctx := context.Background()

	server := mcp.NewServer(&mcp.Implementation{Name: "github-fake", Version: "0.0.1"}, nil)
	mcp.AddTool(server, &mcp.Tool{Name: "GITHUB_LIST_REPOS", Description: "List repositories"},
		func(_ context.Context, _ *mcp.CallToolRequest, in listReposInput) (*mcp.CallToolResult, any, error) {
			if in.Owner == "nobody" {
				return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{&mcp.TextContent{Text: "owner not found"}}}, nil, nil
			}
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "repo1, repo2"}}}, nil, nil
		})

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = serverSession.Close() })

	b, err := NewMCP(ctx, map[string]mcp.Transport{"github": clientTransport}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestMCPCatalogAndExecute(t *testing.T) {
	b := newInMemoryMCP(t)
	ctx := context.Background()

	connected, err := b.CheckConnection(ctx, "user-1", "github")
	require.NoError(t, err)
	assert.True(t, connected)

	catalog, err := b.Tools(ctx, []string{"github"})
	require.NoError(t, err)
	require.Equal(t, []string{"GITHUB_LIST_REPOS"}, catalog.Names())
	assert.Contains(t, string(catalog[0].InputSchema), "owner")

	out, err := b.Execute(ctx, "user-1", chat.ToolUseBlock{ID: "tu_1", Name: "GITHUB_LIST_REPOS", Input: json.RawMessage(`{"owner":"me"}`)})
	require.NoError(t, err)
	assert.Equal(t, "repo1, repo2", out)

	_, err = b.Execute(ctx, "user-1", chat.ToolUseBlock{ID: "tu_2", Name: "GITHUB_LIST_REPOS", Input: json.RawMessage(`{"owner":"nobody"}`)})
	require.EqualError(t, err, "owner not found")

	_, err = b.Execute(ctx, "user-1", chat.ToolUseBlock{ID: "tu_3", Name: "MISSING"})
	require.EqualError(t, err, "unknown tool: MISSING")
}

func TestMCPInitiateConnectionUnsupported(t *testing.T) {
	b := newInMemoryMCP(t)
	_, err := b.InitiateConnection(context.Background(), "user-1", "github", "t", "d")
	require.ErrorIs(t, err, ErrConnectionUnsupported)
}
