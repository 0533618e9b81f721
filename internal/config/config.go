package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	AI       AIConfig
	Broker   BrokerConfig
	Auth     AuthConfig
	Store    StoreConfig
	Log      LogConfig
	Sessions SessionConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	broker, err := loadBrokerConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	sessions, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		AI:       ai,
		Broker:   broker,
		Auth:     loadAuthConfig(),
		Store:    store,
		Log:      loadLogConfig(),
		Sessions: sessions,
	}, nil
}

// Validate 检查启动所需的环境变量，缺失时返回全部缺失项。
func (c *Config) Validate() error {
	var missing []string

	switch c.AI.Provider {
	case ProviderAnthropic:
		if c.AI.AnthropicAPIKey == "" {
			missing = append(missing, "ANTHROPIC_API_KEY")
		}
	case ProviderArk:
		if !c.AI.Ark.Enabled() {
			missing = append(missing, "ARK_MODEL + (ARK_API_KEY | ARK_ACCESS_KEY/ARK_SECRET_KEY)")
		}
	default:
		return fmt.Errorf("unsupported MODEL_PROVIDER %q", c.AI.Provider)
	}

	switch c.Broker.Kind {
	case BrokerComposio:
		if c.Broker.Composio.APIKey == "" {
			missing = append(missing, "COMPOSIO_API_KEY")
		}
		if c.Broker.GitHub.ClientID == "" {
			missing = append(missing, "GITHUB_CLIENT_ID")
		}
		if c.Broker.GitHub.ClientSecret == "" {
			missing = append(missing, "GITHUB_CLIENT_SECRET")
		}
		if c.Broker.PublicDomain == "" {
			missing = append(missing, "RAILWAY_PUBLIC_DOMAIN")
		}
	case BrokerMCP:
		if c.Broker.MCPConfigFile == "" {
			missing = append(missing, "MCP_CONFIG_FILE")
		}
	default:
		return fmt.Errorf("unsupported TOOL_BROKER %q", c.Broker.Kind)
	}

	switch c.Store.Driver {
	case "memory", "redis":
	case "sqlite":
		if c.Store.SQLitePath == "" {
			missing = append(missing, "SQLITE_PATH")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.Store.Driver)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

const (
	ProviderAnthropic = "anthropic"
	ProviderArk       = "ark"
)

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider        string
	AnthropicAPIKey string
	Model           string
	MaxTokens       int
	StreamResponse  bool
	ModelTimeout    time.Duration
	ToolTimeout     time.Duration
	Ark             ArkConfig
}

// ArkConfig 描述火山方舟模型配置，经 eino 接入。
type ArkConfig struct {
	APIKey    string
	AccessKey string
	SecretKey string
	Model     string
	BaseURL   string
	Region    string
}

// Enabled 表示是否提供了必需的密钥。
func (c ArkConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c ArkConfig) NewChatModel(ctx context.Context, maxTokens int) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	var limit *int
	if maxTokens > 0 {
		limit = &maxTokens
	}

	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:   c.BaseURL,
		Region:    c.Region,
		APIKey:    c.APIKey,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Model:     c.Model,
		MaxTokens: limit,
	})
}

func loadAIConfig() (AIConfig, error) {
	maxTokens := 1000
	if override, err := parseOptionalIntEnv("CLAUDE_MAX_TOKENS"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return AIConfig{}, fmt.Errorf("invalid CLAUDE_MAX_TOKENS value %d", *override)
		}
		maxTokens = *override
	}

	stream, err := parseBoolEnv("AI_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	modelTimeout, err := parseDurationEnv("MODEL_TIMEOUT", 60*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	toolTimeout, err := parseDurationEnv("TOOL_TIMEOUT", 120*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		Provider:        strings.ToLower(getEnvOrDefault("MODEL_PROVIDER", ProviderAnthropic)),
		AnthropicAPIKey: strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
		Model:           getEnvOrDefault("CLAUDE_MODEL", "claude-3-5-sonnet-20241022"),
		MaxTokens:       maxTokens,
		StreamResponse:  stream,
		ModelTimeout:    modelTimeout,
		ToolTimeout:     toolTimeout,
		Ark: ArkConfig{
			APIKey:    strings.TrimSpace(os.Getenv("ARK_API_KEY")),
			AccessKey: strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
			SecretKey: strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
			Model:     strings.TrimSpace(os.Getenv("ARK_MODEL")),
			BaseURL:   getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
			Region:    getEnvOrDefault("ARK_REGION", "cn-beijing"),
		},
	}, nil
}

const (
	BrokerComposio = "composio"
	BrokerMCP      = "mcp"
)

// BrokerConfig 描述工具集成平台配置。
type BrokerConfig struct {
	Kind          string
	App           string
	PublicDomain  string
	MCPConfigFile string
	Composio      ComposioConfig
	GitHub        OAuthAppConfig
}

// ComposioConfig 描述 Composio 后端访问参数。
type ComposioConfig struct {
	APIKey  string
	BaseURL string
}

// OAuthAppConfig 是创建 OAuth 集成时使用的客户端凭证。
type OAuthAppConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

func loadBrokerConfig() (BrokerConfig, error) {
	kind := strings.ToLower(getEnvOrDefault("TOOL_BROKER", BrokerComposio))
	if kind != BrokerComposio && kind != BrokerMCP {
		return BrokerConfig{}, fmt.Errorf("invalid TOOL_BROKER value %q", kind)
	}

	return BrokerConfig{
		Kind:          kind,
		App:           strings.ToLower(getEnvOrDefault("TOOL_APP", "github")),
		PublicDomain:  strings.TrimSpace(os.Getenv("RAILWAY_PUBLIC_DOMAIN")),
		MCPConfigFile: strings.TrimSpace(os.Getenv("MCP_CONFIG_FILE")),
		Composio: ComposioConfig{
			APIKey:  strings.TrimSpace(os.Getenv("COMPOSIO_API_KEY")),
			BaseURL: getEnvOrDefault("COMPOSIO_BASE_URL", "https://backend.composio.dev/api"),
		},
		GitHub: OAuthAppConfig{
			ClientID:     strings.TrimSpace(os.Getenv("GITHUB_CLIENT_ID")),
			ClientSecret: strings.TrimSpace(os.Getenv("GITHUB_CLIENT_SECRET")),
			RedirectURI:  getEnvOrDefault("GITHUB_REDIRECT_URI", "https://usefulagents.com/redirect"),
		},
	}, nil
}

// AuthConfig 是后备的密码登录凭证。
type AuthConfig struct {
	AdminUsername string
	AdminPassword string
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		AdminUsername: getEnvOrDefault("ADMIN_USERNAME", "admin"),
		AdminPassword: getEnvOrDefault("ADMIN_PASSWORD", "admin"),
	}
}

// StoreConfig 选择线程持久化后端。
type StoreConfig struct {
	Driver        string
	SQLitePath    string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func loadStoreConfig() (StoreConfig, error) {
	redisDB := 0
	if override, err := parseOptionalIntEnv("REDIS_DB"); err != nil {
		return StoreConfig{}, err
	} else if override != nil {
		redisDB = *override
	}

	return StoreConfig{
		Driver:        strings.ToLower(getEnvOrDefault("STORE_DRIVER", "memory")),
		SQLitePath:    getEnvOrDefault("SQLITE_PATH", "data/c3chat.sqlite3"),
		DatabaseURL:   strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: strings.TrimSpace(os.Getenv("REDIS_PASSWORD")),
		RedisDB:       redisDB,
	}, nil
}

// LogConfig 控制日志级别与输出格式。
type LogConfig struct {
	Level  string
	Format string
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "json")),
	}
}

// SessionConfig 控制会话初始化。
type SessionConfig struct {
	PromptsFile string
	// MaxLive 内存中保留的活跃会话上限，超出后淘汰最久未使用的会话。
	MaxLive int
}

func loadSessionConfig() (SessionConfig, error) {
	path := strings.TrimSpace(os.Getenv("PROMPTS_FILE"))
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return SessionConfig{}, fmt.Errorf("invalid PROMPTS_FILE %q: %w", path, err)
		}
	}

	maxLive := 1024
	if override, err := parseOptionalIntEnv("MAX_LIVE_SESSIONS"); err != nil {
		return SessionConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return SessionConfig{}, fmt.Errorf("invalid MAX_LIVE_SESSIONS value %d", *override)
		}
		maxLive = *override
	}

	return SessionConfig{PromptsFile: path, MaxLive: maxLive}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}
