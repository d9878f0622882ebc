package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/h1v3-io/skycast/internal/agent"
	"github.com/h1v3-io/skycast/internal/config"
	"github.com/h1v3-io/skycast/internal/connector"
	"github.com/h1v3-io/skycast/internal/connector/terminal"
	"github.com/h1v3-io/skycast/internal/provider"
	"github.com/h1v3-io/skycast/internal/session"
	"github.com/h1v3-io/skycast/internal/tool"
	"github.com/h1v3-io/skycast/internal/weather"
	"github.com/h1v3-io/skycast/pkg/protocol"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "chat":
		cmdChat(os.Args[2:])
	case "ask":
		cmdAsk(os.Args[2:])
	case "weather":
		cmdWeather(os.Args[2:])
	case "logs":
		cmdLogs(os.Args[2:])
	case "health":
		cmdHealth()
	case "config":
		if len(os.Args) < 4 || os.Args[2] != "validate" {
			fmt.Fprintln(os.Stderr, "usage: skycastctl config validate <path>")
			os.Exit(1)
		}
		cmdConfigValidate(os.Args[3])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// --- local commands ---

func cmdChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (default: SKYCAST_* environment)")
	verbose := fs.Bool("v", false, "Verbose logging")
	fs.Parse(args)

	logger := newLogger(*verbose)
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}
	if err := tool.GetWeather.Validate(); err != nil {
		fatal(err)
	}

	loop := agent.New(newProvider(cfg, logger), newWeather(cfg, logger))
	loop.Logger = logger
	sm := agent.NewSessionManager(loop, session.NewMemoryStore(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	repl := terminal.New(sm, os.Stdin, os.Stdout, terminal.WithLogger(logger))
	if err := repl.Run(ctx); err != nil {
		fatal(err)
	}
}

func cmdWeather(args []string) {
	fs := flag.NewFlagSet("weather", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (default: SKYCAST_* environment)")
	verbose := fs.Bool("v", false, "Verbose logging")
	fs.Parse(args)

	location := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if location == "" {
		fmt.Fprintln(os.Stderr, "usage: skycastctl weather [-config path] <location>")
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	if cfg.Weather.APIKey == "" {
		fatal(fmt.Errorf("weather.api_key is required (SKYCAST_WEATHER_API_KEY)"))
	}

	res, err := newWeather(cfg, newLogger(*verbose)).Fetch(context.Background(), location)
	if err != nil {
		fatal(err)
	}
	fmt.Println(res.Summary)
	if icon := protocol.NormalizeIcon(res.IconRef); icon != "" {
		fmt.Println(icon)
	}
}

func cmdConfigValidate(path string) {
	_, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("config is valid")
}

// --- API client commands ---

func cmdHealth() {
	body, err := apiDo(http.MethodGet, "/api/health", nil)
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(body))
}

func cmdAsk(args []string) {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	chatID := fs.String("chat", "", "Chat id to continue (default: start a new chat)")
	fs.Parse(args)

	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		fmt.Fprintln(os.Stderr, "usage: skycastctl ask [-chat id] <question>")
		os.Exit(1)
	}

	if *chatID == "" {
		body, err := apiDo(http.MethodPost, "/api/chats", nil)
		if err != nil {
			fatal(err)
		}
		var created struct {
			ChatID string `json:"chat_id"`
		}
		if err := json.Unmarshal(body, &created); err != nil {
			fatal(fmt.Errorf("decode chat: %w", err))
		}
		*chatID = created.ChatID
		fmt.Fprintf(os.Stderr, "chat %s\n", *chatID)
	}

	payload, _ := json.Marshal(map[string]string{"content": question})
	body, err := apiDo(http.MethodPost, "/api/chats/"+url.PathEscape(*chatID)+"/messages", payload)
	if err != nil {
		fatal(err)
	}

	var resp struct {
		State  string                 `json:"state"`
		Turns  []protocol.DisplayTurn `json:"turns"`
		Errors []string               `json:"errors"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		fatal(fmt.Errorf("decode exchange: %w", err))
	}
	for _, e := range resp.Errors {
		fmt.Fprintln(os.Stderr, connector.ErrorPrefix+e)
	}
	for _, turn := range resp.Turns {
		if turn.Role != protocol.RoleAssistant {
			continue
		}
		fmt.Println(turn.Content)
		if turn.Icon != "" {
			fmt.Println(turn.Icon)
		}
	}
	if resp.State == "error" {
		os.Exit(1)
	}
}

func cmdLogs(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	level := fs.String("level", "", "Minimum level (debug|info|warn|error)")
	exchange := fs.String("exchange", "", "Only entries of this exchange id")
	since := fs.Duration("since", 0, "Only entries newer than this (e.g. 15m)")
	limit := fs.Int("limit", 100, "Max results")
	fs.Parse(args)

	q := url.Values{}
	q.Set("limit", fmt.Sprint(*limit))
	if *level != "" {
		q.Set("level", *level)
	}
	if *exchange != "" {
		q.Set("exchange", *exchange)
	}
	if *since > 0 {
		q.Set("since", fmt.Sprint(time.Now().Add(-*since).UnixMilli()))
	}

	body, err := apiDo(http.MethodGet, "/api/logs?"+q.Encode(), nil)
	if err != nil {
		fatal(err)
	}
	var entries []map[string]any
	json.Unmarshal(body, &entries)
	for _, e := range entries {
		fmt.Printf("%-30v %-5v %v", e["time"], e["level"], e["message"])
		if ex, ok := e["exchange"]; ok {
			fmt.Printf(" exchange=%v", ex)
		}
		fmt.Println()
	}
}

// --- Helpers ---

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadFromEnv()
}

func newProvider(cfg *config.Config, logger *slog.Logger) provider.Provider {
	if cfg.Completion.Type == config.CompletionOpenAI {
		return provider.NewOpenAI(cfg.Completion.Token,
			provider.WithBaseURL(cfg.Completion.BaseURL),
			provider.WithOpenAIPath(cfg.Completion.Path),
			provider.WithModel(cfg.Completion.Model),
			provider.WithOpenAITimeout(cfg.Completion.Timeout()),
			provider.WithOpenAITools(tool.GetWeather.Definition()),
			provider.WithOpenAILogger(logger),
		)
	}
	return provider.NewCortex(cfg.Completion.BaseURL, cfg.Completion.Token,
		provider.WithCortexPath(cfg.Completion.Path),
		provider.WithCortexModel(cfg.Completion.Model),
		provider.WithCortexTimeout(cfg.Completion.Timeout()),
		provider.WithTokenType(cfg.Completion.TokenType),
		provider.WithTools(tool.GetWeather.Definition()),
		provider.WithCortexLogger(logger),
	)
}

func newWeather(cfg *config.Config, logger *slog.Logger) *weather.Client {
	return weather.New(cfg.Weather.APIKey,
		weather.WithBaseURL(cfg.Weather.BaseURL),
		weather.WithTimeout(cfg.Weather.Timeout()),
		weather.WithLogger(logger),
	)
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

func apiDo(method, path string, payload []byte) ([]byte, error) {
	base := strings.TrimRight(envOr("SKYCAST_API_URL", "http://localhost:8080"), "/")

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, base+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := os.Getenv("SKYCAST_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	// An exchange makes up to two completion calls.
	client := &http.Client{Timeout: 2*provider.DefaultTimeout + 30*time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Println("skycastctl - weather assistant CLI")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  chat                 Interactive weather chat in the terminal")
	fmt.Println("  weather <location>   Look up current conditions directly")
	fmt.Println("  ask <question>       Ask the daemon (-chat to continue a chat)")
	fmt.Println("  logs                 Show daemon logs (--level, --exchange, --since, --limit)")
	fmt.Println("  health               Check daemon health")
	fmt.Println("  config validate <p>  Validate config file")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  SKYCAST_API_URL      Daemon URL (default: http://localhost:8080)")
	fmt.Println("  SKYCAST_API_KEY      API key for authentication")
	fmt.Println("  SKYCAST_*            Completion and weather settings for chat/weather")
}
