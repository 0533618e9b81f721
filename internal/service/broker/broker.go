package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/c3-chat/backend/internal/config"
	"github.com/zhouzirui/c3-chat/backend/internal/model/chat"
	"github.com/zhouzirui/c3-chat/backend/internal/model/tool"
	"github.com/zhouzirui/c3-chat/backend/internal/service/ai"
)

var (
	ErrConnectionUnsupported = errors.New("broker does not support connection initiation")
	ErrNoToolUse             = errors.New("response does not end with a tool use block")
)

// ConnectionRequest is the outcome of starting an OAuth-style connection.
type ConnectionRequest struct {
	RedirectURL        string `json:"redirectUrl"`
	ConnectedAccountID string `json:"connectedAccountId,omitempty"`
	Status             string `json:"connectionStatus,omitempty"`
}

// Broker provides connection status, tool catalogs and tool execution for
// external apps.
type Broker interface {
	// CheckConnection reports whether userID has an active connection to app.
	// A missing connection is (false, nil); errors are transport failures.
	CheckConnection(ctx context.Context, userID, app string) (bool, error)
	Tools(ctx context.Context, apps []string) (tool.Catalog, error)
	Execute(ctx context.Context, userID string, call chat.ToolUseBlock) (string, error)
	InitiateConnection(ctx context.Context, userID, app, threadID, domain string) (ConnectionRequest, error)
}

// Resolve executes the last tool use block of resp on behalf of userID. It
// never fails: any error becomes a result whose content starts with "Error: ".
// When the catalog carries a schema for the tool, the input is validated
// before execution.
func Resolve(ctx context.Context, b Broker, userID string, resp *ai.Response, catalog tool.Catalog) chat.ToolResultBlock {
	logger := zerolog.Ctx(ctx)

	call, ok := resp.LastToolUse()
	if !ok {
		return chat.ToolResultBlock{Content: errorResult(ErrNoToolUse)}
	}

	logger.Info().Str("tool_use_id", call.ID).Str("tool", call.Name).Msg("handling tool call")

	if schema, found := catalog.Find(call.Name); found {
		if err := ValidateInput(schema, call.Input); err != nil {
			logger.Warn().Err(err).Str("tool", call.Name).Msg("tool input rejected")
			return chat.ToolResultBlock{ToolUseID: call.ID, Content: errorResult(err)}
		}
	}

	out, err := b.Execute(ctx, userID, call)
	if err != nil {
		logger.Error().Err(err).Str("tool_use_id", call.ID).Msg("error handling tool call")
		return chat.ToolResultBlock{ToolUseID: call.ID, Content: errorResult(err)}
	}

	logger.Info().Str("tool_use_id", call.ID).Msg("tool call handled successfully")
	return chat.ToolResultBlock{ToolUseID: call.ID, Content: out}
}

func errorResult(err error) string {
	return fmt.Sprintf("Error: %s", err.Error())
}

// New builds the broker selected by TOOL_BROKER.
func New(ctx context.Context, cfg config.BrokerConfig, logger zerolog.Logger) (Broker, error) {
	switch cfg.Kind {
	case config.BrokerComposio:
		return NewComposio(ComposioOptions{
			APIKey:  cfg.Composio.APIKey,
			BaseURL: cfg.Composio.BaseURL,
			OAuth:   cfg.GitHub,
		}, logger), nil
	case config.BrokerMCP:
		return NewMCPFromConfig(ctx, cfg.MCPConfigFile, logger)
	default:
		return nil, fmt.Errorf("unsupported tool broker %q", cfg.Kind)
	}
}
