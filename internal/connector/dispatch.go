package connector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/h1v3-io/skycast/internal/agent"
	"github.com/h1v3-io/skycast/pkg/protocol"
)

// Greeting is sent when a chat starts or is reset.
const Greeting = "Ask me about the weather! Try \"What's the weather in Boston?\""

// HelpText answers /help on every surface.
var HelpText = strings.Join([]string{
	"Ask me about the current weather anywhere, e.g. \"What's the weather in Boston?\"",
	"",
	"/new - Start a new conversation",
	"/help - Show this help message",
}, "\n")

// ErrorPrefix marks error replies.
const ErrorPrefix = "⚠️ "

// Dispatcher feeds inbound chat messages through the session manager and
// replies on the connector that received them, looked up by channel name.
type Dispatcher struct {
	Sessions *agent.SessionManager
	Logger   *slog.Logger

	mu    sync.RWMutex
	conns map[string]Connector
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(sessions *agent.SessionManager, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{Sessions: sessions, Logger: logger, conns: make(map[string]Connector)}
}

// Register makes conn the reply target for messages whose Channel equals
// conn.Name().
func (d *Dispatcher) Register(conn Connector) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns[conn.Name()] = conn
}

// Handle is an InboundHandler.
func (d *Dispatcher) Handle(ctx context.Context, msg InboundMessage) error {
	d.mu.RLock()
	conn, ok := d.conns[msg.Channel]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("dispatch: no connector registered for %q", msg.Channel)
	}
	return d.dispatch(ctx, conn, msg)
}

func (d *Dispatcher) dispatch(ctx context.Context, conn Connector, msg InboundMessage) error {
	key := msg.Channel + ":" + msg.ChatID
	text := strings.TrimSpace(msg.Content)

	switch strings.ToLower(firstWord(text)) {
	case "/start", "/new", "/reset":
		if err := d.Sessions.Reset(key); err != nil {
			return err
		}
		return conn.Send(ctx, OutboundMessage{ChatID: msg.ChatID, Content: Greeting})
	case "/help":
		return conn.Send(ctx, OutboundMessage{ChatID: msg.ChatID, Content: HelpText})
	case "":
		return nil
	}

	s := &ChatSurface{ctx: ctx, conn: conn, chatID: msg.ChatID, logger: d.Logger}
	out, err := d.Sessions.Exchange(ctx, key, text, s)
	if err != nil {
		s.ShowError("Something went wrong, please try again.")
		return fmt.Errorf("%s: exchange: %w", conn.Name(), err)
	}
	d.Logger.Debug("inbound handled", "channel", msg.Channel, "chat_id", msg.ChatID, "exchange", out.ExchangeID)
	return nil
}

// ChatSurface adapts a connector chat to agent.Surface. Only assistant turns
// are sent; the user's own message is already visible on the platform.
type ChatSurface struct {
	ctx    context.Context
	conn   Connector
	chatID string
	logger *slog.Logger
}

// NewChatSurface returns a surface that replies to chatID on conn.
func NewChatSurface(ctx context.Context, conn Connector, chatID string, logger *slog.Logger) *ChatSurface {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatSurface{ctx: ctx, conn: conn, chatID: chatID, logger: logger}
}

func (s *ChatSurface) Render(turn protocol.DisplayTurn) {
	if turn.Role != protocol.RoleAssistant {
		return
	}
	s.send(OutboundMessage{ChatID: s.chatID, Content: turn.Content, ImageURL: turn.Icon})
}

func (s *ChatSurface) ShowError(msg string) {
	s.send(OutboundMessage{ChatID: s.chatID, Content: ErrorPrefix + msg, IsError: true})
}

func (s *ChatSurface) Busy(status string) func() {
	if b, ok := s.conn.(BusyIndicator); ok {
		return b.Busy(s.ctx, s.chatID, status)
	}
	return func() {}
}

func (s *ChatSurface) send(msg OutboundMessage) {
	if err := s.conn.Send(s.ctx, msg); err != nil {
		s.logger.Error("send failed", "connector", s.conn.Name(), "chat_id", s.chatID, "error", err)
	}
}

func firstWord(s string) string {
	if i := strings.IndexAny(s, " \n\t"); i >= 0 {
		s = s[:i]
	}
	// Telegram addresses commands in groups as /cmd@botname.
	if at := strings.IndexByte(s, '@'); at > 0 && strings.HasPrefix(s, "/") {
		s = s[:at]
	}
	return s
}
