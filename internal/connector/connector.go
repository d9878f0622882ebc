package connector

import "context"

// Connector is the interface for external chat platforms (Telegram, Slack, etc.).
type Connector interface {
	// Name returns the connector type (e.g., "telegram", "slack").
	Name() string
	// Start begins listening for inbound messages. Blocks until context is cancelled.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the connector.
	Stop() error
	// Send delivers an outbound message to the external platform.
	Send(ctx context.Context, msg OutboundMessage) error
}

// BusyIndicator is implemented by connectors that can show a "working"
// state in a chat. The returned function clears it.
type BusyIndicator interface {
	Busy(ctx context.Context, chatID, status string) (done func())
}

// OutboundMessage is a reply sent to an external platform.
type OutboundMessage struct {
	ChatID   string // Platform-specific chat identifier
	Content  string // Message text (Markdown)
	ImageURL string // Optional absolute image URL shown with the text
	IsError  bool
}

// InboundMessage is a message received from an external platform.
type InboundMessage struct {
	Channel  string // Connector name (e.g., "telegram")
	SenderID string // Platform-specific sender identifier
	ChatID   string // Platform-specific chat identifier
	Content  string // Message text
}

// InboundHandler processes messages received from external platforms.
type InboundHandler func(ctx context.Context, msg InboundMessage) error
