package session

import (
	"time"

	"github.com/h1v3-io/skycast/pkg/protocol"
)

// Store is the persistence interface for per-chat conversations.
type Store interface {
	// Load returns the conversation for a chat. An unknown chat yields an
	// empty conversation, not an error.
	Load(chatID string) (*protocol.Conversation, error)
	// Save creates or replaces a chat's conversation and touches its
	// last-activity time.
	Save(chatID string, conv *protocol.Conversation) error
	// Delete drops a chat's conversation. Deleting an unknown chat is a no-op.
	Delete(chatID string) error
	// Sweep removes conversations last saved before cutoff and returns how
	// many were removed.
	Sweep(cutoff time.Time) (int, error)
	// Count returns the number of stored conversations.
	Count() (int, error)
	// Close releases underlying resources.
	Close() error
}
