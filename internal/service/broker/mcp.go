package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/c3-chat/backend/internal/logging"
	"github.com/zhouzirui/c3-chat/backend/internal/model/chat"
	"github.com/zhouzirui/c3-chat/backend/internal/model/tool"
)

// MCP implements Broker over Model Context Protocol servers. Connections are
// established at startup, so every user counts as connected once at least one
// server session is up.
type MCP struct {
	mu         sync.RWMutex
	sessions   map[string]*mcp.ClientSession
	toolServer map[string]string
	catalog    tool.Catalog
	logger     zerolog.Logger
}

type mcpServerSpec struct {
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	URL     string   `json:"url,omitempty"`
}

// NewMCPFromConfig reads an mcpServers JSON file and connects to each server.
func NewMCPFromConfig(ctx context.Context, path string, logger zerolog.Logger) (*MCP, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mcp config: %w", err)
	}

	var cfg struct {
		Servers map[string]mcpServerSpec `json:"mcpServers"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse mcp config: %w", err)
	}

	transports := make(map[string]mcp.Transport, len(cfg.Servers))
	for name, spec := range cfg.Servers {
		switch {
		case spec.Command != "":
			transports[name] = &mcp.CommandTransport{Command: exec.Command(spec.Command, spec.Args...)}
		case spec.URL != "":
			transports[name] = &mcp.SSEClientTransport{Endpoint: spec.URL}
		default:
			logger.Warn().Str("server", name).Msg("mcp server has neither command nor url, skipping")
		}
	}

	return NewMCP(ctx, transports, logger)
}

// NewMCP connects to the given transports and collects their tools. Servers
// that fail to connect are skipped.
func NewMCP(ctx context.Context, transports map[string]mcp.Transport, logger zerolog.Logger) (*MCP, error) {
	b := &MCP{
		sessions:   make(map[string]*mcp.ClientSession),
		toolServer: make(map[string]string),
		logger:     logging.Component(logger, "mcp"),
	}

	names := make([]string, 0, len(transports))
	for name := range transports {
		names = append(names, name)
	}
	sort.Strings(names)

	client := mcp.NewClient(&mcp.Implementation{Name: "c3-chat", Version: "1.0.0"}, nil)
	for _, name := range names {
		session, err := client.Connect(ctx, transports[name], nil)
		if err != nil {
			b.logger.Error().Err(err).Str("server", name).Msg("failed to connect to mcp server")
			continue
		}
		b.sessions[name] = session

		resp, err := session.ListTools(ctx, nil)
		if err != nil {
			b.logger.Error().Err(err).Str("server", name).Msg("failed to list tools")
			continue
		}
		for _, tl := range resp.Tools {
			var schema json.RawMessage
			if tl.InputSchema != nil {
				encoded, err := json.Marshal(tl.InputSchema)
				if err != nil {
					b.logger.Error().Err(err).Str("tool", tl.Name).Msg("failed to marshal input schema")
					continue
				}
				schema = encoded
			}
			b.catalog = append(b.catalog, tool.Schema{Name: tl.Name, Description: tl.Description, InputSchema: schema})
			b.toolServer[tl.Name] = name
		}
	}

	if len(b.sessions) == 0 && len(transports) > 0 {
		return nil, fmt.Errorf("no mcp server reachable")
	}
	return b, nil
}

func (b *MCP) CheckConnection(context.Context, string, string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions) > 0, nil
}

func (b *MCP) Tools(context.Context, []string) (tool.Catalog, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append(tool.Catalog(nil), b.catalog...), nil
}

func (b *MCP) Execute(ctx context.Context, _ string, call chat.ToolUseBlock) (string, error) {
	var args map[string]any
	if len(call.Input) > 0 {
		if err := json.Unmarshal(call.Input, &args); err != nil {
			return "", fmt.Errorf("failed to unmarshal arguments: %w", err)
		}
	}

	b.mu.RLock()
	server, ok := b.toolServer[call.Name]
	session := b.sessions[server]
	b.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", call.Name)
	}
	if session == nil {
		return "", fmt.Errorf("server not found for tool: %s", call.Name)
	}

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: call.Name, Arguments: args})
	if err != nil {
		return "", err
	}

	out := flattenContent(res.Content)
	if res.IsError {
		return "", errors.New(out)
	}
	return out, nil
}

func (b *MCP) InitiateConnection(context.Context, string, string, string, string) (ConnectionRequest, error) {
	return ConnectionRequest{}, ErrConnectionUnsupported
}

// Close terminates every server session.
func (b *MCP) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for name, session := range b.sessions {
		if err := session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	b.sessions = map[string]*mcp.ClientSession{}
	return errors.Join(errs...)
}

// flattenContent joins text parts; any other content kinds are JSON encoded.
func flattenContent(content []mcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		if text, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, text.Text)
			continue
		}
		encoded, err := json.Marshal(c)
		if err != nil {
			continue
		}
		parts = append(parts, string(encoded))
	}
	return strings.Join(parts, "\n")
}
