package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/h1v3-io/skycast/internal/agent"
	apiPkg "github.com/h1v3-io/skycast/internal/api"
	"github.com/h1v3-io/skycast/internal/config"
	"github.com/h1v3-io/skycast/internal/connector"
	slackconn "github.com/h1v3-io/skycast/internal/connector/slack"
	"github.com/h1v3-io/skycast/internal/connector/telegram"
	"github.com/h1v3-io/skycast/internal/connector/webhook"
	"github.com/h1v3-io/skycast/internal/logbuf"
	"github.com/h1v3-io/skycast/internal/provider"
	"github.com/h1v3-io/skycast/internal/scheduler"
	"github.com/h1v3-io/skycast/internal/session"
	"github.com/h1v3-io/skycast/internal/tool"
	"github.com/h1v3-io/skycast/internal/weather"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON or YAML)")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// Set up logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logBuf := logbuf.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))
	slog.SetDefault(logger)

	// Load config (2 modes: file, env)
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
		if err == nil {
			err = cfg.Validate()
		}
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := tool.GetWeather.Validate(); err != nil {
		logger.Error("invalid tool declaration", "tool", tool.GetWeatherName, "error", err)
		os.Exit(1)
	}

	logger.Info("skycastd starting", "completion", cfg.Completion.Type, "model", cfg.Completion.Model)

	// 1. Completion provider and weather client
	var prov provider.Provider
	switch cfg.Completion.Type {
	case config.CompletionOpenAI:
		prov = provider.NewOpenAI(cfg.Completion.Token,
			provider.WithBaseURL(cfg.Completion.BaseURL),
			provider.WithOpenAIPath(cfg.Completion.Path),
			provider.WithModel(cfg.Completion.Model),
			provider.WithOpenAITimeout(cfg.Completion.Timeout()),
			provider.WithOpenAITools(tool.GetWeather.Definition()),
			provider.WithOpenAILogger(logger.With("component", "openai")),
		)
	default:
		prov = provider.NewCortex(cfg.Completion.BaseURL, cfg.Completion.Token,
			provider.WithCortexPath(cfg.Completion.Path),
			provider.WithCortexModel(cfg.Completion.Model),
			provider.WithCortexTimeout(cfg.Completion.Timeout()),
			provider.WithTokenType(cfg.Completion.TokenType),
			provider.WithTools(tool.GetWeather.Definition()),
			provider.WithCortexLogger(logger.With("component", "cortex")),
		)
	}
	wx := weather.New(cfg.Weather.APIKey,
		weather.WithBaseURL(cfg.Weather.BaseURL),
		weather.WithTimeout(cfg.Weather.Timeout()),
		weather.WithLogger(logger.With("component", "weather")),
	)
	loop := agent.New(prov, wx)
	loop.Logger = logger.With("component", "loop")

	// 2. Session store
	store, err := session.NewSQLiteStore(cfg.Sessions.DSN)
	if err != nil {
		logger.Error("failed to open session store", "dsn", cfg.Sessions.DSN, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	sm := agent.NewSessionManager(loop, store, logger.With("component", "session-manager"))

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Start connectors
	dispatcher := connector.NewDispatcher(sm, logger.With("component", "dispatcher"))
	var conns []connector.Connector

	if tg := cfg.Connectors.Telegram; tg != nil {
		tgConn, err := telegram.New(
			telegram.Config{Token: tg.Token, AllowFrom: tg.AllowFrom},
			dispatcher.Handle,
			logger.With("connector", "telegram"),
		)
		if err != nil {
			logger.Error("failed to init telegram connector", "error", err)
			os.Exit(1)
		}
		conns = append(conns, tgConn)
	}
	if sl := cfg.Connectors.Slack; sl != nil {
		slConn, err := slackconn.New(
			slackconn.Config{BotToken: sl.BotToken, AppToken: sl.AppToken, Channels: sl.Channels},
			dispatcher.Handle,
			logger.With("connector", "slack"),
		)
		if err != nil {
			logger.Error("failed to init slack connector", "error", err)
			os.Exit(1)
		}
		conns = append(conns, slConn)
	}
	var wh *webhook.Connector
	if whCfg := cfg.Connectors.Webhook; whCfg != nil {
		endpoints := make(map[string]webhook.EndpointConfig, len(whCfg.Endpoints))
		for name, ep := range whCfg.Endpoints {
			endpoints[name] = webhook.EndpointConfig{Secret: ep.Secret, BearerToken: ep.BearerToken, ReplyURL: ep.ReplyURL}
		}
		wh = webhook.New(webhook.Config{Endpoints: endpoints}, dispatcher.Handle, logger.With("connector", "webhook"))
		conns = append(conns, wh)
	}
	for _, conn := range conns {
		dispatcher.Register(conn)
		go safeGo(logger, conn.Name(), func() {
			if err := conn.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("connector stopped", "connector", conn.Name(), "error", err)
			}
		})
		logger.Info("connector started", "connector", conn.Name())
	}

	// 4. Start API server
	if cfg.API.Port > 0 {
		apiSrv := apiPkg.NewServer(sm, apiPkg.Config{
			Addr:        cfg.API.Addr(),
			Key:         cfg.API.Key,
			CORSOrigins: cfg.API.CORSOrigins,
		}, logger.With("component", "api"), logBuf)
		if wh != nil {
			apiSrv.Handle("POST /api/webhook/{name}", wh)
		}

		go safeGo(logger, "api-server", func() {
			if err := apiSrv.Start(ctx); err != nil {
				logger.Error("api server failed", "error", err)
			}
		})
	}

	if wh != nil && cfg.API.Port <= 0 {
		logger.Warn("webhook endpoints configured but api server is disabled; webhooks will not be reachable")
	}

	// 5. Idle session sweep
	sched := scheduler.New(logger.With("component", "scheduler"))
	idle := cfg.Sessions.IdleTTLDuration()
	err = sched.AddJob("session-sweep", cfg.Sessions.SweepSchedule, func(context.Context) error {
		_, err := sm.Sweep(idle)
		return err
	})
	if err != nil {
		logger.Error("failed to schedule session sweep", "error", err)
		os.Exit(1)
	}
	// a file DSN keeps sessions from the previous run
	if err := sched.RunNow("session-sweep"); err != nil {
		logger.Warn("startup session sweep failed", "error", err)
	}
	go safeGo(logger, "scheduler", func() { sched.Start(ctx) })

	if len(conns) == 0 && cfg.API.Port <= 0 {
		logger.Warn("no connectors and no api server configured; nothing to serve")
	}

	// 6. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	for _, conn := range conns {
		conn.Stop()
	}
	cancel()
	logger.Info("skycastd stopped")
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}
