package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/h1v3-io/skycast/internal/session"
	"github.com/h1v3-io/skycast/pkg/protocol"
)

// SessionManager maps external chat ids to stored conversations and runs
// exchanges on them. Exchanges on one chat are serialized; distinct chats
// proceed independently.
type SessionManager struct {
	Loop             *Loop
	Store            session.Store
	Logger           *slog.Logger
	OnSessionCreated func(chatID string)
	OnSessionClosed  func(chatID string)

	mu    sync.Mutex
	locks map[string]*chatLock // chatID → exchange lock, held only while in use
}

type chatLock struct {
	sync.Mutex
	refs int
}

// NewSessionManager creates a SessionManager backed by store.
func NewSessionManager(loop *Loop, store session.Store, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		Loop:   loop,
		Store:  store,
		Logger: logger,
		locks:  make(map[string]*chatLock),
	}
}

// Exchange runs one user query against the chat's conversation and saves
// the result. The error is non-nil only when the session could not be
// loaded or saved; exchange failures are reported in the Outcome.
func (sm *SessionManager) Exchange(ctx context.Context, chatID, query string, s Surface) (Outcome, error) {
	defer sm.lockChat(chatID)()

	conv, err := sm.Store.Load(chatID)
	if err != nil {
		return Outcome{State: Error, Err: err}, fmt.Errorf("session %s: %w", chatID, err)
	}
	if len(conv.API) == 0 {
		sm.Logger.Info("session created", "chat_id", chatID)
		if sm.OnSessionCreated != nil {
			sm.OnSessionCreated(chatID)
		}
	}

	out := sm.Loop.HandleUserInput(ctx, conv, query, s)
	sm.Logger.Info("exchange finished",
		"chat_id", chatID,
		"exchange", out.ExchangeID,
		"state", out.State.String(),
		"display_turns", len(conv.Display),
	)

	if err := sm.Store.Save(chatID, conv); err != nil {
		return out, fmt.Errorf("session %s: %w", chatID, err)
	}
	return out, nil
}

// Reset drops a chat's history.
func (sm *SessionManager) Reset(chatID string) error {
	defer sm.lockChat(chatID)()

	if err := sm.Store.Delete(chatID); err != nil {
		return fmt.Errorf("session %s: %w", chatID, err)
	}
	sm.Logger.Info("session reset", "chat_id", chatID)
	if sm.OnSessionClosed != nil {
		sm.OnSessionClosed(chatID)
	}
	return nil
}

// History returns the chat's display log.
func (sm *SessionManager) History(chatID string) ([]protocol.DisplayTurn, error) {
	conv, err := sm.Store.Load(chatID)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", chatID, err)
	}
	return conv.Display, nil
}

// Sweep evicts sessions idle for longer than idle.
func (sm *SessionManager) Sweep(idle time.Duration) (int, error) {
	n, err := sm.Store.Sweep(time.Now().Add(-idle))
	if err != nil {
		return 0, err
	}
	active, err := sm.Store.Count()
	if err != nil {
		return n, err
	}
	if n > 0 {
		sm.Logger.Info("sessions swept", "count", n, "active", active, "idle", idle.String())
	} else {
		sm.Logger.Debug("session sweep", "active", active)
	}
	return n, nil
}

// lockChat acquires the chat's exchange lock and returns its release. The
// map entry is dropped once no caller holds or waits for it.
func (sm *SessionManager) lockChat(chatID string) (unlock func()) {
	sm.mu.Lock()
	l, ok := sm.locks[chatID]
	if !ok {
		l = &chatLock{}
		sm.locks[chatID] = l
	}
	l.refs++
	sm.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		sm.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(sm.locks, chatID)
		}
		sm.mu.Unlock()
	}
}
