package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/c3-chat/backend/internal/config"
	"github.com/zhouzirui/c3-chat/backend/internal/logging"
	"github.com/zhouzirui/c3-chat/backend/internal/model/chat"
	"github.com/zhouzirui/c3-chat/backend/internal/model/tool"
)

const connectionStatusActive = "ACTIVE"

// ComposioOptions configures the Composio REST client.
type ComposioOptions struct {
	APIKey     string
	BaseURL    string
	OAuth      config.OAuthAppConfig
	HTTPClient *http.Client
}

// Composio implements Broker against the Composio backend API.
type Composio struct {
	apiKey  string
	baseURL string
	oauth   config.OAuthAppConfig
	client  *http.Client
	logger  zerolog.Logger
}

// APIError is a non-2xx answer from the Composio backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("composio api status %d: %s", e.Status, e.Message)
}

// NewComposio creates a Composio broker.
func NewComposio(opts ComposioOptions, logger zerolog.Logger) *Composio {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Composio{
		apiKey:  opts.APIKey,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		oauth:   opts.OAuth,
		client:  client,
		logger:  logging.Component(logger, "composio"),
	}
}

type connectedAccount struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	AppName   string    `json:"appName"`
	CreatedAt time.Time `json:"createdAt"`
}

type itemsResponse[T any] struct {
	Items []T `json:"items"`
}

func (c *Composio) CheckConnection(ctx context.Context, userID, app string) (bool, error) {
	query := url.Values{}
	query.Set("user_uuid", userID)
	query.Set("appNames", strings.ToLower(app))

	var resp itemsResponse[connectedAccount]
	if err := c.do(ctx, http.MethodGet, "/v1/connectedAccounts", query, nil, &resp); err != nil {
		return false, fmt.Errorf("list connected accounts: %w", err)
	}

	if len(resp.Items) == 0 {
		c.logger.Info().Str("entity", userID).Str("app", app).Msg("no connection found")
		return false, nil
	}

	for _, account := range resp.Items {
		c.logger.Info().Str("entity", userID).Str("status", account.Status).Msg("connection status")
		if account.Status == connectionStatusActive {
			return true, nil
		}
	}
	return false, nil
}

type actionItem struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

func (c *Composio) Tools(ctx context.Context, apps []string) (tool.Catalog, error) {
	names := make([]string, len(apps))
	for i, app := range apps {
		names[i] = strings.ToLower(app)
	}
	query := url.Values{}
	query.Set("apps", strings.Join(names, ","))

	var resp itemsResponse[actionItem]
	if err := c.do(ctx, http.MethodGet, "/v2/actions", query, nil, &resp); err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}

	catalog := make(tool.Catalog, 0, len(resp.Items))
	for _, item := range resp.Items {
		catalog = append(catalog, tool.Schema{
			Name:        item.Name,
			Description: item.Description,
			InputSchema: item.Parameters,
		})
	}
	return catalog, nil
}

type executeRequest struct {
	EntityID string          `json:"entityId"`
	Input    json.RawMessage `json:"input"`
}

type executeResponse struct {
	Data       json.RawMessage `json:"data"`
	Error      *string         `json:"error"`
	Successful bool            `json:"successful"`
}

func (c *Composio) Execute(ctx context.Context, userID string, call chat.ToolUseBlock) (string, error) {
	input := call.Input
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}

	var raw json.RawMessage
	path := "/v2/actions/" + url.PathEscape(call.Name) + "/execute"
	if err := c.do(ctx, http.MethodPost, path, nil, executeRequest{EntityID: userID, Input: input}, &raw); err != nil {
		return "", err
	}

	var resp executeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode execute response: %w", err)
	}
	// Failures carry the full response payload.
	payload := compactJSON(raw)
	if resp.Error != nil && *resp.Error != "" {
		return "", fmt.Errorf("%s: %s", *resp.Error, payload)
	}
	if !resp.Successful {
		return "", fmt.Errorf("action %s was not successful: %s", call.Name, payload)
	}
	return payload, nil
}

func compactJSON(raw json.RawMessage) string {
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return string(raw)
	}
	return compact.String()
}

type integration struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type appInfo struct {
	AppID string `json:"appId"`
	Key   string `json:"key"`
	Name  string `json:"name"`
}

type createIntegrationRequest struct {
	Name                string            `json:"name"`
	AppID               string            `json:"appId"`
	AuthScheme          string            `json:"authScheme"`
	UseComposioAuth     bool              `json:"useComposioAuth"`
	ForceNewIntegration bool              `json:"forceNewIntegration"`
	AuthConfig          map[string]string `json:"authConfig"`
}

func (c *Composio) ensureIntegration(ctx context.Context, app string) (integration, error) {
	query := url.Values{}
	query.Set("appName", app)

	var existing itemsResponse[integration]
	if err := c.do(ctx, http.MethodGet, "/v1/integrations", query, nil, &existing); err != nil {
		return integration{}, fmt.Errorf("list integrations: %w", err)
	}
	if len(existing.Items) > 0 {
		c.logger.Info().Str("integration_id", existing.Items[0].ID).Str("app", app).Msg("integration found")
		return existing.Items[0], nil
	}

	c.logger.Info().Str("app", app).Msg("integration not found, creating new integration")

	var info appInfo
	if err := c.do(ctx, http.MethodGet, "/v1/apps/"+url.PathEscape(app), nil, nil, &info); err != nil {
		return integration{}, fmt.Errorf("get app %s: %w", app, err)
	}

	req := createIntegrationRequest{
		Name:                fmt.Sprintf("%s_%s", app, uuid.NewString()[:8]),
		AppID:               info.AppID,
		AuthScheme:          "OAUTH2",
		UseComposioAuth:     false,
		ForceNewIntegration: true,
		AuthConfig: map[string]string{
			"client_id":     c.oauth.ClientID,
			"client_secret": c.oauth.ClientSecret,
			"redirect_uri":  c.oauth.RedirectURI,
		},
	}

	var created integration
	if err := c.do(ctx, http.MethodPost, "/v1/integrations", nil, req, &created); err != nil {
		return integration{}, fmt.Errorf("create integration: %w", err)
	}
	return created, nil
}

type initiateRequest struct {
	IntegrationID string            `json:"integrationId"`
	UserUUID      string            `json:"userUuid"`
	RedirectURI   string            `json:"redirectUri"`
	Data          map[string]string `json:"data"`
}

func (c *Composio) InitiateConnection(ctx context.Context, userID, app, threadID, domain string) (ConnectionRequest, error) {
	app = strings.ToLower(app)
	redirectURL := fmt.Sprintf("https://%s/threads/%s", domain, threadID)

	integ, err := c.ensureIntegration(ctx, app)
	if err != nil {
		return ConnectionRequest{}, err
	}

	c.logger.Info().Str("entity", userID).Str("redirect_url", redirectURL).Msg("initiating connection")

	var resp ConnectionRequest
	err = c.do(ctx, http.MethodPost, "/v1/connectedAccounts", nil, initiateRequest{
		IntegrationID: integ.ID,
		UserUUID:      userID,
		RedirectURI:   redirectURL,
		Data:          map[string]string{},
	}, &resp)
	if err != nil {
		return ConnectionRequest{}, fmt.Errorf("initiate connection: %w", err)
	}
	if resp.RedirectURL == "" {
		return ConnectionRequest{}, fmt.Errorf("initiate connection: empty redirect url")
	}
	return resp, nil
}

func (c *Composio) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Message: extractMessage(data)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractMessage(data []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(data))
}
