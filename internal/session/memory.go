package session

import (
	"sync"
	"time"

	"github.com/h1v3-io/skycast/pkg/protocol"
)

type memoryEntry struct {
	conv      protocol.Conversation
	updatedAt time.Time
}

// MemoryStore keeps conversations in a map. Loaded conversations are copies,
// so callers must Save to publish changes.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Load(chatID string) (*protocol.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[chatID]
	if !ok {
		return &protocol.Conversation{}, nil
	}
	c := clone(e.conv)
	return &c, nil
}

func (s *MemoryStore) Save(chatID string, conv *protocol.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[chatID] = memoryEntry{conv: clone(*conv), updatedAt: s.now()}
	return nil
}

func (s *MemoryStore) Delete(chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, chatID)
	return nil
}

func (s *MemoryStore) Sweep(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.entries {
		if e.updatedAt.Before(cutoff) {
			delete(s.entries, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

func (s *MemoryStore) Close() error { return nil }

// clone copies both logs; turns are treated as immutable once appended.
func clone(c protocol.Conversation) protocol.Conversation {
	return protocol.Conversation{
		Display: append([]protocol.DisplayTurn(nil), c.Display...),
		API:     append([]protocol.Turn(nil), c.API...),
	}
}
