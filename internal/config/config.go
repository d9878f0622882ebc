package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied to fields left empty.
const (
	DefaultCompletionPath = "/api/v2/cortex/inference:complete"
	DefaultModel          = "claude-3-7-sonnet"
	DefaultOpenAIPath     = "/chat/completions"
	DefaultOpenAIModel    = "gpt-4o"
	DefaultCompletionMS   = 50000
	DefaultWeatherURL     = "https://api.weatherapi.com/v1"
	DefaultWeatherMS      = 15000
	DefaultAPIHost        = "0.0.0.0"
	DefaultAPIPort        = 8080
	DefaultSessionDSN     = ":memory:"
	DefaultIdleTTL        = "24h"
	DefaultSweepSchedule  = "@every 10m"
)

// Config is the top-level skycast configuration.
type Config struct {
	Completion CompletionConfig `json:"completion" yaml:"completion"`
	Weather    WeatherConfig    `json:"weather" yaml:"weather"`
	Connectors ConnectorConfig  `json:"connectors" yaml:"connectors"`
	API        APIConfig        `json:"api" yaml:"api"`
	Sessions   SessionsConfig   `json:"sessions" yaml:"sessions"`
}

// Completion backend types.
const (
	CompletionCortex = "cortex"
	CompletionOpenAI = "openai"
)

// CompletionConfig holds LLM completion endpoint settings.
type CompletionConfig struct {
	Type      string `json:"type,omitempty" yaml:"type,omitempty"` // "cortex" (default) or "openai"
	BaseURL   string `json:"base_url" yaml:"base_url"` // account URL, e.g. https://<account>.snowflakecomputing.com
	Path      string `json:"path,omitempty" yaml:"path,omitempty"`
	Token     string `json:"token" yaml:"token"`
	TokenType string `json:"token_type,omitempty" yaml:"token_type,omitempty"` // X-Snowflake-Authorization-Token-Type
	Model     string `json:"model,omitempty" yaml:"model,omitempty"`
	TimeoutMS int    `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

// WeatherConfig holds weather provider settings.
type WeatherConfig struct {
	BaseURL   string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIKey    string `json:"api_key" yaml:"api_key"`
	TimeoutMS int    `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

// ConnectorConfig holds settings for external chat surfaces.
type ConnectorConfig struct {
	Telegram *TelegramConfig `json:"telegram,omitempty" yaml:"telegram,omitempty"`
	Slack    *SlackConfig    `json:"slack,omitempty" yaml:"slack,omitempty"`
	Webhook  *WebhookConfig  `json:"webhook,omitempty" yaml:"webhook,omitempty"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token     string  `json:"token" yaml:"token"`
	AllowFrom []int64 `json:"allow_from,omitempty" yaml:"allow_from,omitempty"`
}

// SlackConfig holds Slack Socket Mode settings.
type SlackConfig struct {
	BotToken string   `json:"bot_token" yaml:"bot_token"`
	AppToken string   `json:"app_token" yaml:"app_token"`
	Channels []string `json:"channels,omitempty" yaml:"channels,omitempty"`
}

// WebhookConfig holds inbound webhook endpoints, served by the API server.
type WebhookConfig struct {
	Endpoints map[string]WebhookEndpoint `json:"endpoints" yaml:"endpoints"`
}

// WebhookEndpoint authenticates one webhook caller and names where replies go.
type WebhookEndpoint struct {
	Secret      string `json:"secret,omitempty" yaml:"secret,omitempty"`
	BearerToken string `json:"bearer_token,omitempty" yaml:"bearer_token,omitempty"`
	ReplyURL    string `json:"reply_url" yaml:"reply_url"`
}

// APIConfig holds REST API server settings. Port 0 disables the server.
type APIConfig struct {
	Host        string   `json:"host" yaml:"host"`
	Port        int      `json:"port" yaml:"port"`
	Key         string   `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`
}

// SessionsConfig holds conversation store settings.
type SessionsConfig struct {
	DSN           string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	IdleTTL       string `json:"idle_ttl,omitempty" yaml:"idle_ttl,omitempty"`
	SweepSchedule string `json:"sweep_schedule,omitempty" yaml:"sweep_schedule,omitempty"`
}

// Timeout returns the completion deadline.
func (c CompletionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Timeout returns the weather request deadline.
func (c WeatherConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// IdleTTLDuration parses IdleTTL. Validate rejects unparsable values.
func (c SessionsConfig) IdleTTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.IdleTTL)
	return d
}

// Addr returns host:port for the API listener.
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load reads configuration from a JSON file, or YAML when the extension is
// .yaml or .yml, applies defaults and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a config from SKYCAST_ environment variables. A .env
// file in the working directory is applied first if present; variables
// already set in the environment win.
func LoadFromEnv() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Completion: CompletionConfig{
			Type:      os.Getenv("SKYCAST_COMPLETION_TYPE"),
			BaseURL:   os.Getenv("SKYCAST_COMPLETION_BASE_URL"),
			Path:      os.Getenv("SKYCAST_COMPLETION_PATH"),
			Token:     os.Getenv("SKYCAST_COMPLETION_TOKEN"),
			TokenType: os.Getenv("SKYCAST_COMPLETION_TOKEN_TYPE"),
			Model:     os.Getenv("SKYCAST_MODEL"),
			TimeoutMS: getenvInt("SKYCAST_COMPLETION_TIMEOUT_MS", 0),
		},
		Weather: WeatherConfig{
			BaseURL:   os.Getenv("SKYCAST_WEATHER_BASE_URL"),
			APIKey:    os.Getenv("SKYCAST_WEATHER_API_KEY"),
			TimeoutMS: getenvInt("SKYCAST_WEATHER_TIMEOUT_MS", 0),
		},
		API: APIConfig{
			Host:        getenv("SKYCAST_API_HOST", DefaultAPIHost),
			Port:        getenvInt("SKYCAST_API_PORT", DefaultAPIPort),
			Key:         os.Getenv("SKYCAST_API_KEY"),
			CORSOrigins: splitList(os.Getenv("SKYCAST_CORS_ORIGINS")),
		},
		Sessions: SessionsConfig{
			DSN:           os.Getenv("SKYCAST_SESSION_DSN"),
			IdleTTL:       os.Getenv("SKYCAST_SESSION_IDLE_TTL"),
			SweepSchedule: os.Getenv("SKYCAST_SWEEP_SCHEDULE"),
		},
	}

	if token := os.Getenv("SKYCAST_TELEGRAM_TOKEN"); token != "" {
		cfg.Connectors.Telegram = &TelegramConfig{Token: token}
		if ids := os.Getenv("SKYCAST_TELEGRAM_ALLOW_FROM"); ids != "" {
			parsed, err := parseInt64List(ids)
			if err != nil {
				return nil, fmt.Errorf("config: SKYCAST_TELEGRAM_ALLOW_FROM: %w", err)
			}
			cfg.Connectors.Telegram.AllowFrom = parsed
		}
	}

	if bot := os.Getenv("SKYCAST_SLACK_BOT_TOKEN"); bot != "" {
		cfg.Connectors.Slack = &SlackConfig{
			BotToken: bot,
			AppToken: os.Getenv("SKYCAST_SLACK_APP_TOKEN"),
			Channels: splitList(os.Getenv("SKYCAST_SLACK_CHANNELS")),
		}
	}

	if reply := os.Getenv("SKYCAST_WEBHOOK_REPLY_URL"); reply != "" {
		cfg.Connectors.Webhook = &WebhookConfig{Endpoints: map[string]WebhookEndpoint{
			getenv("SKYCAST_WEBHOOK_NAME", "default"): {
				Secret:      os.Getenv("SKYCAST_WEBHOOK_SECRET"),
				BearerToken: os.Getenv("SKYCAST_WEBHOOK_BEARER_TOKEN"),
				ReplyURL:    reply,
			},
		}}
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills empty fields with their default values.
func (c *Config) ApplyDefaults() {
	setDefault(&c.Completion.Type, CompletionCortex)
	if c.Completion.Type == CompletionOpenAI {
		setDefault(&c.Completion.Path, DefaultOpenAIPath)
		setDefault(&c.Completion.Model, DefaultOpenAIModel)
	} else {
		setDefault(&c.Completion.Path, DefaultCompletionPath)
		setDefault(&c.Completion.Model, DefaultModel)
	}
	if c.Completion.TimeoutMS == 0 {
		c.Completion.TimeoutMS = DefaultCompletionMS
	}
	setDefault(&c.Weather.BaseURL, DefaultWeatherURL)
	if c.Weather.TimeoutMS == 0 {
		c.Weather.TimeoutMS = DefaultWeatherMS
	}
	setDefault(&c.API.Host, DefaultAPIHost)
	setDefault(&c.Sessions.DSN, DefaultSessionDSN)
	setDefault(&c.Sessions.IdleTTL, DefaultIdleTTL)
	setDefault(&c.Sessions.SweepSchedule, DefaultSweepSchedule)
	c.Completion.BaseURL = strings.TrimRight(c.Completion.BaseURL, "/")
	c.Weather.BaseURL = strings.TrimRight(c.Weather.BaseURL, "/")
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInt64List(s string) ([]int64, error) {
	parts := splitList(s)
	result := make([]int64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", p)
		}
		result = append(result, n)
	}
	return result, nil
}
