package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/h1v3-io/skycast/internal/connector"
)

const (
	name           = "telegram"
	maxCaptionLen  = 1024
	typingInterval = 4 * time.Second
)

// Config holds Telegram connector configuration.
type Config struct {
	Token       string  // Bot token from @BotFather
	AllowFrom   []int64 // Allowed Telegram user IDs (empty = allow all)
	APIEndpoint string  // Optional Bot API endpoint format, defaults to tgbotapi.APIEndpoint
}

// Connector implements connector.Connector for Telegram via long polling.
type Connector struct {
	bot     *tgbotapi.BotAPI
	config  Config
	handler connector.InboundHandler
	logger  *slog.Logger
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new Telegram connector.
func New(cfg Config, handler connector.InboundHandler, logger *slog.Logger) (*Connector, error) {
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("telegram bot authorized", "username", bot.Self.UserName)

	return &Connector{
		bot:     bot,
		config:  cfg,
		handler: handler,
		logger:  logger,
	}, nil
}

func (c *Connector) Name() string { return name }

// Start begins long-polling for updates. Blocks until context is cancelled.
// Each update is handled on its own goroutine so one slow exchange does not
// hold up other chats.
func (c *Connector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := c.bot.GetUpdatesChan(u)

	c.logger.Info("telegram connector started", "bot", c.bot.Self.UserName)

	for {
		select {
		case update := <-updates:
			if update.Message == nil {
				continue
			}
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				c.handleMessage(ctx, update.Message)
			}()

		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			c.wg.Wait()
			c.logger.Info("telegram connector stopped")
			return ctx.Err()
		}
	}
}

// Stop gracefully shuts down the connector.
func (c *Connector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Send delivers a reply. Text is rendered as Telegram HTML; an image is sent
// as a photo with the text as caption when it fits.
func (c *Connector) Send(_ context.Context, msg connector.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat_id %q: %w", msg.ChatID, err)
	}

	text := strings.TrimSpace(msg.Content)
	if msg.ImageURL != "" {
		caption := ""
		if len(text) <= maxCaptionLen {
			caption, text = text, ""
		}
		if err := c.sendPhoto(chatID, msg.ImageURL, caption); err != nil {
			c.logger.Warn("photo send failed, sending text only", "chat_id", msg.ChatID, "error", err)
			text = strings.TrimSpace(caption + "\n" + text)
		}
	}

	if text == "" {
		return nil
	}
	return c.sendText(chatID, text)
}

// Busy shows the typing indicator until the returned function is called.
// Telegram clears the indicator after about five seconds, so it is renewed.
func (c *Connector) Busy(ctx context.Context, chatID, _ string) func() {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return func() {}
	}

	stop := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(typingInterval)
		defer ticker.Stop()
		for {
			if _, err := c.bot.Request(tgbotapi.NewChatAction(id, tgbotapi.ChatTyping)); err != nil {
				c.logger.Debug("typing indicator failed", "chat_id", chatID, "error", err)
			}
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return func() { once.Do(func() { close(stop) }) }
}

func (c *Connector) sendText(chatID int64, text string) error {
	tgMsg := tgbotapi.NewMessage(chatID, MarkdownToTelegramHTML(text))
	tgMsg.ParseMode = tgbotapi.ModeHTML
	tgMsg.DisableWebPagePreview = true

	if _, err := c.bot.Send(tgMsg); err != nil {
		c.logger.Warn("HTML send failed, falling back to plain text", "chat_id", chatID, "error", err)
		tgMsg.Text = StripMarkdown(text)
		tgMsg.ParseMode = ""
		if _, err := c.bot.Send(tgMsg); err != nil {
			return fmt.Errorf("telegram: send message: %w", err)
		}
	}
	return nil
}

func (c *Connector) sendPhoto(chatID int64, url, caption string) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(url))
	if caption != "" {
		photo.Caption = MarkdownToTelegramHTML(caption)
		photo.ParseMode = tgbotapi.ModeHTML
	}
	if _, err := c.bot.Send(photo); err != nil {
		return fmt.Errorf("telegram: send photo: %w", err)
	}
	return nil
}

func (c *Connector) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	userID := msg.From.ID
	chatID := msg.Chat.ID

	if len(c.config.AllowFrom) > 0 && !contains(c.config.AllowFrom, userID) {
		c.logger.Warn("unauthorized user", "user_id", userID, "username", msg.From.UserName)
		return
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if msg.IsCommand() && msg.Command() == "help" {
		reply := tgbotapi.NewMessage(chatID, connector.HelpText)
		if _, err := c.bot.Send(reply); err != nil {
			c.logger.Error("help reply failed", "chat_id", chatID, "error", err)
		}
		return
	}
	if strings.TrimSpace(text) == "" {
		return
	}

	inbound := connector.InboundMessage{
		Channel:  name,
		SenderID: strconv.FormatInt(userID, 10),
		ChatID:   strconv.FormatInt(chatID, 10),
		Content:  text,
	}
	if err := c.handler(ctx, inbound); err != nil {
		c.logger.Error("inbound handler error", "chat_id", chatID, "error", err)
	}
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
