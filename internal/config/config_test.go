package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validJSON = `{
  "completion": {
    "base_url": "https://acme.snowflakecomputing.com",
    "token": "pat-test",
    "model": "claude-3-5-sonnet",
    "timeout_ms": 30000
  },
  "weather": {
    "api_key": "weather-key"
  },
  "connectors": {
    "telegram": {
      "token": "123456:ABC",
      "allow_from": [100, 200]
    }
  },
  "api": {
    "host": "127.0.0.1",
    "port": 8081,
    "api_key": "dashboard-key",
    "cors_origins": ["https://app.example.com"]
  }
}`

const validYAML = `
completion:
  base_url: https://acme.snowflakecomputing.com/
  token: pat-test
weather:
  api_key: weather-key
connectors:
  slack:
    bot_token: xoxb-1
    app_token: xapp-1
    channels: [C123]
sessions:
  dsn: /tmp/sessions.db
  idle_ttl: 2h
  sweep_schedule: "*/5 * * * *"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func validConfig() *Config {
	cfg := &Config{
		Completion: CompletionConfig{BaseURL: "https://acme.snowflakecomputing.com", Token: "t"},
		Weather:    WeatherConfig{APIKey: "k"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestApplyDefaults_OpenAI(t *testing.T) {
	cfg := &Config{
		Completion: CompletionConfig{Type: CompletionOpenAI, BaseURL: "http://localhost:11434/v1"},
		Weather:    WeatherConfig{APIKey: "k"},
	}
	cfg.ApplyDefaults()
	if cfg.Completion.Path != DefaultOpenAIPath || cfg.Completion.Model != DefaultOpenAIModel {
		t.Errorf("completion = %+v", cfg.Completion)
	}
	// local OpenAI-compatible servers run without a key
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.json", validJSON))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Completion.Token != "pat-test" {
		t.Errorf("completion.token = %q", cfg.Completion.Token)
	}
	if cfg.Completion.Model != "claude-3-5-sonnet" {
		t.Errorf("completion.model = %q", cfg.Completion.Model)
	}
	if cfg.Completion.Timeout() != 30*time.Second {
		t.Errorf("completion timeout = %v", cfg.Completion.Timeout())
	}
	if cfg.Completion.Path != DefaultCompletionPath {
		t.Errorf("completion.path = %q", cfg.Completion.Path)
	}
	if cfg.Weather.BaseURL != DefaultWeatherURL {
		t.Errorf("weather.base_url = %q", cfg.Weather.BaseURL)
	}
	if cfg.Connectors.Telegram == nil {
		t.Fatal("telegram connector is nil")
	}
	if len(cfg.Connectors.Telegram.AllowFrom) != 2 {
		t.Errorf("telegram.allow_from = %v", cfg.Connectors.Telegram.AllowFrom)
	}
	if cfg.API.Addr() != "127.0.0.1:8081" {
		t.Errorf("api addr = %q", cfg.API.Addr())
	}
	if cfg.Sessions.DSN != ":memory:" || cfg.Sessions.IdleTTLDuration() != 24*time.Hour {
		t.Errorf("sessions = %+v", cfg.Sessions)
	}
	if cfg.Sessions.SweepSchedule != "@every 10m" {
		t.Errorf("sweep_schedule = %q", cfg.Sessions.SweepSchedule)
	}
}

func TestLoad_YAML(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.yaml", validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Completion.BaseURL != "https://acme.snowflakecomputing.com" {
		t.Errorf("base_url not trimmed: %q", cfg.Completion.BaseURL)
	}
	if cfg.Completion.TimeoutMS != DefaultCompletionMS {
		t.Errorf("timeout_ms = %d", cfg.Completion.TimeoutMS)
	}
	if cfg.Connectors.Slack == nil || cfg.Connectors.Slack.Channels[0] != "C123" {
		t.Errorf("slack = %+v", cfg.Connectors.Slack)
	}
	if cfg.Sessions.IdleTTLDuration() != 2*time.Hour {
		t.Errorf("idle_ttl = %v", cfg.Sessions.IdleTTLDuration())
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := Load("/nonexistent/config.json"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	if _, err := Load(writeFile(t, "bad.json", "not json")); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := Load(writeFile(t, "bad.yml", "completion: [unclosed")); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestValidate_Valid(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("expected valid, got %v", err)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing base url", func(c *Config) { c.Completion.BaseURL = "" }, "completion.base_url: cannot be blank"},
		{"bad base url", func(c *Config) { c.Completion.BaseURL = "not a url" }, "completion.base_url"},
		{"missing token", func(c *Config) { c.Completion.Token = "" }, "completion.token"},
		{"unknown completion type", func(c *Config) { c.Completion.Type = "bedrock" }, "completion.type"},
		{"bad path", func(c *Config) { c.Completion.Path = "api/v2" }, "completion.path"},
		{"negative timeout", func(c *Config) { c.Completion.TimeoutMS = -1 }, "completion.timeout_ms"},
		{"missing weather key", func(c *Config) { c.Weather.APIKey = "" }, "weather.api_key"},
		{"telegram without token", func(c *Config) { c.Connectors.Telegram = &TelegramConfig{} }, "connectors.telegram.token"},
		{"slack without app token", func(c *Config) { c.Connectors.Slack = &SlackConfig{BotToken: "xoxb"} }, "connectors.slack.app_token"},
		{"webhook without endpoints", func(c *Config) { c.Connectors.Webhook = &WebhookConfig{} }, "connectors.webhook.endpoints: cannot be blank"},
		{"webhook bad reply url", func(c *Config) {
			c.Connectors.Webhook = &WebhookConfig{Endpoints: map[string]WebhookEndpoint{"kiosk": {ReplyURL: "nope"}}}
		}, "connectors.webhook.endpoints.kiosk.reply_url"},
		{"webhook bad name", func(c *Config) {
			c.Connectors.Webhook = &WebhookConfig{Endpoints: map[string]WebhookEndpoint{"a:b": {ReplyURL: "https://x.example/r"}}}
		}, `invalid endpoint name "a:b"`},
		{"port out of range", func(c *Config) { c.API.Port = 70000 }, "api.port"},
		{"bad cors origin", func(c *Config) { c.API.CORSOrigins = []string{"*", "::bad::"} }, "api.cors_origins.1"},
		{"bad idle ttl", func(c *Config) { c.Sessions.IdleTTL = "tomorrow" }, "sessions.idle_ttl"},
		{"zero idle ttl", func(c *Config) { c.Sessions.IdleTTL = "0s" }, "sessions.idle_ttl: must be positive"},
		{"bad schedule", func(c *Config) { c.Sessions.SweepSchedule = "whenever" }, "sessions.sweep_schedule"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.HasPrefix(err.Error(), "config validation failed:\n  - ") {
				t.Errorf("unexpected format: %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected %q in %v", tt.want, err)
			}
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	lines := strings.Split(err.Error(), "\n  - ")[1:]
	want := []string{
		"completion.base_url: cannot be blank",
		"completion.token: cannot be blank",
		"weather.api_key: cannot be blank",
	}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Errorf("got %q, want %q", lines, want)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SKYCAST_COMPLETION_BASE_URL", "https://env.snowflakecomputing.com")
	t.Setenv("SKYCAST_COMPLETION_TOKEN", "pat-env")
	t.Setenv("SKYCAST_MODEL", "claude-4-sonnet")
	t.Setenv("SKYCAST_WEATHER_API_KEY", "wk")
	t.Setenv("SKYCAST_API_PORT", "9090")
	t.Setenv("SKYCAST_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("SKYCAST_TELEGRAM_TOKEN", "tg-token")
	t.Setenv("SKYCAST_TELEGRAM_ALLOW_FROM", "100,200,300")
	t.Setenv("SKYCAST_SLACK_BOT_TOKEN", "xoxb-env")
	t.Setenv("SKYCAST_SLACK_APP_TOKEN", "xapp-env")
	t.Setenv("SKYCAST_WEBHOOK_NAME", "kiosk")
	t.Setenv("SKYCAST_WEBHOOK_REPLY_URL", "https://kiosk.example/replies")
	t.Setenv("SKYCAST_WEBHOOK_SECRET", "whsec")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Completion.Token != "pat-env" || cfg.Completion.Model != "claude-4-sonnet" {
		t.Errorf("completion = %+v", cfg.Completion)
	}
	if cfg.Completion.TimeoutMS != DefaultCompletionMS {
		t.Errorf("timeout_ms = %d", cfg.Completion.TimeoutMS)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("api.port = %d", cfg.API.Port)
	}
	if len(cfg.API.CORSOrigins) != 2 || cfg.API.CORSOrigins[1] != "https://b.example" {
		t.Errorf("cors_origins = %v", cfg.API.CORSOrigins)
	}
	if cfg.Connectors.Telegram == nil || len(cfg.Connectors.Telegram.AllowFrom) != 3 {
		t.Errorf("telegram = %+v", cfg.Connectors.Telegram)
	}
	if cfg.Connectors.Slack == nil || cfg.Connectors.Slack.AppToken != "xapp-env" {
		t.Errorf("slack = %+v", cfg.Connectors.Slack)
	}
	if wh := cfg.Connectors.Webhook; wh == nil || wh.Endpoints["kiosk"].Secret != "whsec" {
		t.Errorf("webhook = %+v", cfg.Connectors.Webhook)
	}
}

func TestLoadFromEnv_BadAllowFrom(t *testing.T) {
	t.Setenv("SKYCAST_TELEGRAM_TOKEN", "tg-token")
	t.Setenv("SKYCAST_TELEGRAM_ALLOW_FROM", "100,abc")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error for non-numeric allow_from")
	}
}

func TestLoadFromEnv_DotEnv(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, ".env"), []byte("SKYCAST_SESSION_IDLE_TTL=90m\nSKYCAST_WEATHER_API_KEY=from-dotenv\n"), 0o644)
	t.Chdir(dir)
	// Variables already in the environment take precedence over .env.
	t.Setenv("SKYCAST_WEATHER_API_KEY", "from-env")
	t.Cleanup(func() { os.Unsetenv("SKYCAST_SESSION_IDLE_TTL") })

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Sessions.IdleTTLDuration() != 90*time.Minute {
		t.Errorf("idle_ttl = %q", cfg.Sessions.IdleTTL)
	}
	if cfg.Weather.APIKey != "from-env" {
		t.Errorf("weather.api_key = %q", cfg.Weather.APIKey)
	}
}
