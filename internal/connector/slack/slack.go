package slackconn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/h1v3-io/skycast/internal/connector"
)

const name = "slack"

// Config holds Slack connector configuration.
type Config struct {
	BotToken string   // xoxb-... Bot User OAuth Token
	AppToken string   // xapp-... App-Level Token (for Socket Mode)
	Channels []string // Optional: only respond in these channels (empty = all)
	APIURL   string   // Optional Web API base URL, with trailing slash
}

// Connector implements connector.Connector for Slack via Socket Mode.
type Connector struct {
	api     *slack.Client
	socket  *socketmode.Client
	config  Config
	handler connector.InboundHandler
	logger  *slog.Logger
	cancel  context.CancelFunc
	botID   string
}

// New creates a new Slack connector.
func New(cfg Config, handler connector.InboundHandler, logger *slog.Logger) (*Connector, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("slack: bot_token is required")
	}
	if cfg.AppToken == "" {
		return nil, fmt.Errorf("slack: app_token is required (Socket Mode)")
	}

	if logger == nil {
		logger = slog.Default()
	}

	opts := []slack.Option{slack.OptionAppLevelToken(cfg.AppToken)}
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	api := slack.New(cfg.BotToken, opts...)

	authResp, err := api.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("slack: auth test: %w", err)
	}

	logger.Info("slack bot authorized", "user", authResp.User, "team", authResp.Team)

	return &Connector{
		api:     api,
		socket:  socketmode.New(api),
		config:  cfg,
		handler: handler,
		logger:  logger,
		botID:   authResp.UserID,
	}, nil
}

func (c *Connector) Name() string { return name }

// Start begins listening for events via Socket Mode. Blocks until context is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	go c.handleEvents(ctx)

	c.logger.Info("slack connector started (socket mode)")
	return c.socket.RunContext(ctx)
}

// Stop gracefully shuts down the connector.
func (c *Connector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Send posts a reply. Chat ids of the form "channel:thread_ts" reply in the
// thread. An image is attached as an image block below the text.
func (c *Connector) Send(ctx context.Context, msg connector.OutboundMessage) error {
	channel, thread := splitChatID(msg.ChatID)
	text := MarkdownToMrkdwn(msg.Content)

	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if thread != "" {
		opts = append(opts, slack.MsgOptionTS(thread))
	}
	if msg.ImageURL != "" {
		blocks := []slack.Block{}
		if text != "" {
			blocks = append(blocks, slack.NewSectionBlock(
				slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil))
		}
		blocks = append(blocks, slack.NewImageBlock(msg.ImageURL, "weather icon", "", nil))
		opts = append(opts, slack.MsgOptionBlocks(blocks...))
	}

	if _, _, err := c.api.PostMessageContext(ctx, channel, opts...); err != nil {
		return fmt.Errorf("slack: send message: %w", err)
	}
	return nil
}

// Busy posts the status as a context line and deletes it when done.
// Bots have no typing indicator over Socket Mode.
func (c *Connector) Busy(ctx context.Context, chatID, status string) func() {
	channel, thread := splitChatID(chatID)
	opts := []slack.MsgOption{slack.MsgOptionText("_"+status+"_", false)}
	if thread != "" {
		opts = append(opts, slack.MsgOptionTS(thread))
	}
	_, ts, err := c.api.PostMessageContext(ctx, channel, opts...)
	if err != nil {
		c.logger.Debug("status post failed", "chat_id", chatID, "error", err)
		return func() {}
	}
	return func() {
		if _, _, err := c.api.DeleteMessageContext(context.WithoutCancel(ctx), channel, ts); err != nil {
			c.logger.Debug("status delete failed", "chat_id", chatID, "error", err)
		}
	}
}

func (c *Connector) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-c.socket.Events:
			if !ok {
				return
			}
			switch event.Type {
			case socketmode.EventTypeEventsAPI:
				c.handleEventsAPI(ctx, event)
			case socketmode.EventTypeSlashCommand:
				c.handleSlashCommand(ctx, event)
			case socketmode.EventTypeConnected:
				c.logger.Info("slack socket connected")
			}
		}
	}
}

func (c *Connector) handleEventsAPI(ctx context.Context, event socketmode.Event) {
	eventsAPIEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	if event.Request != nil {
		c.socket.Ack(*event.Request)
	}

	// Handled off the socket loop; an exchange can take most of a minute.
	switch ev := eventsAPIEvent.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		go c.handleMessage(ctx, ev)
	case *slackevents.AppMentionEvent:
		go c.handleMention(ctx, ev)
	}
}

// handleMessage answers direct messages. Channel traffic reaches the bot
// through app_mention events only, so a mention is not handled twice.
func (c *Connector) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	if ev.BotID != "" || ev.User == "" || ev.User == c.botID {
		return
	}
	// Ignore message subtypes (edits, deletes, etc.)
	if ev.SubType != "" {
		return
	}
	if ev.ChannelType != "im" {
		return
	}
	if ev.Text == "" {
		return
	}

	c.forward(ctx, ev.User, threadChatID(ev.Channel, ev.ThreadTimeStamp), ev.Text)
}

func (c *Connector) handleMention(ctx context.Context, ev *slackevents.AppMentionEvent) {
	if ev.User == c.botID || ev.BotID != "" {
		return
	}
	if !c.isAllowedChannel(ev.Channel) {
		return
	}

	text := StripMention(ev.Text, c.botID)
	if text == "" {
		return
	}

	// Replies to a mention go into its thread, which then keys the session.
	thread := ev.ThreadTimeStamp
	if thread == "" {
		thread = ev.TimeStamp
	}
	c.forward(ctx, ev.User, threadChatID(ev.Channel, thread), text)
}

func (c *Connector) handleSlashCommand(ctx context.Context, event socketmode.Event) {
	cmd, ok := event.Data.(slack.SlashCommand)
	if !ok {
		return
	}
	if event.Request != nil {
		c.socket.Ack(*event.Request)
	}
	if !c.isAllowedChannel(cmd.ChannelID) {
		return
	}

	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		text = "/new"
	}
	go c.forward(ctx, cmd.UserID, cmd.ChannelID, text)
}

func (c *Connector) forward(ctx context.Context, userID, chatID, text string) {
	inbound := connector.InboundMessage{
		Channel:  name,
		SenderID: userID,
		ChatID:   chatID,
		Content:  text,
	}
	if err := c.handler(ctx, inbound); err != nil {
		c.logger.Error("slack inbound handler error",
			"chat_id", chatID,
			"user", userID,
			"error", err,
		)
	}
}

func (c *Connector) isAllowedChannel(channel string) bool {
	if len(c.config.Channels) == 0 {
		return true
	}
	for _, ch := range c.config.Channels {
		if ch == channel {
			return true
		}
	}
	return false
}

func threadChatID(channel, thread string) string {
	if thread == "" {
		return channel
	}
	return channel + ":" + thread
}

func splitChatID(chatID string) (channel, thread string) {
	channel, thread, _ = strings.Cut(chatID, ":")
	return channel, thread
}

// StripMention removes the <@BOTID> mention from message text.
func StripMention(text, botID string) string {
	mention := fmt.Sprintf("<@%s>", botID)
	text = strings.Replace(text, mention, "", 1)
	return strings.TrimSpace(text)
}

// MarkdownToMrkdwn converts standard Markdown to Slack's mrkdwn format.
// Code spans and fences pass through untouched.
func MarkdownToMrkdwn(md string) string {
	lines := strings.Split(md, "\n")
	inFence := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		lines[i] = convertLine(line)
	}
	return strings.Join(lines, "\n")
}

func convertLine(line string) string {
	if h := strings.TrimLeft(line, "#"); len(h) < len(line) && strings.HasPrefix(h, " ") {
		return "*" + strings.TrimSpace(h) + "*"
	}
	parts := strings.Split(line, "`")
	for i := 0; i < len(parts); i += 2 {
		// An unmatched trailing backtick leaves the remainder unconverted.
		if i == len(parts)-1 && len(parts)%2 == 0 {
			break
		}
		p := convertEmphasis(parts[i])
		p = strings.ReplaceAll(p, "~~", "~")
		parts[i] = convertLinks(p)
	}
	return strings.Join(parts, "`")
}

// convertEmphasis turns **bold** into *bold* and *italic* into _italic_.
// A lone asterisk between spaces is left alone.
func convertEmphasis(s string) string {
	var b strings.Builder
	i := 0
	for i < len(s) {
		if s[i] != '*' {
			b.WriteByte(s[i])
			i++
			continue
		}
		if i+1 < len(s) && s[i+1] == '*' {
			b.WriteByte('*')
			i += 2
			continue
		}
		prevSpace := i == 0 || s[i-1] == ' '
		nextSpace := i+1 >= len(s) || s[i+1] == ' '
		if prevSpace && nextSpace {
			b.WriteByte('*')
		} else {
			b.WriteByte('_')
		}
		i++
	}
	return b.String()
}

// convertLinks converts [text](url) to <url|text>.
func convertLinks(s string) string {
	var b strings.Builder
	i := 0
	for i < len(s) {
		if s[i] == '[' {
			closeB := strings.Index(s[i:], "](")
			if closeB == -1 {
				b.WriteByte(s[i])
				i++
				continue
			}
			closeB += i
			closeP := strings.Index(s[closeB:], ")")
			if closeP == -1 {
				b.WriteByte(s[i])
				i++
				continue
			}
			closeP += closeB

			text := s[i+1 : closeB]
			url := s[closeB+2 : closeP]
			fmt.Fprintf(&b, "<%s|%s>", url, text)
			i = closeP + 1
		} else {
			b.WriteByte(s[i])
			i++
		}
	}
	return b.String()
}
