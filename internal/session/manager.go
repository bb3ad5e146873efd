// Package session owns the identity of the active conversation: it creates
// sessions lazily, remembers the last one on the device and replays stored
// sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/capitalize-ai/campus-assistant/internal/api"
	"github.com/capitalize-ai/campus-assistant/internal/localstore"
	"github.com/capitalize-ai/campus-assistant/internal/model"
	"github.com/capitalize-ai/campus-assistant/internal/outbox"
	"github.com/capitalize-ai/campus-assistant/pkg/logger"
	"github.com/capitalize-ai/campus-assistant/pkg/metrics"
)

// API is the part of the session service the manager uses.
type API interface {
	CreateSession(ctx context.Context, firstQuestion string) (string, error)
	ListSessions(ctx context.Context) ([]model.SessionSummary, error)
	AddMessage(ctx context.Context, sessionID string, role model.Role, content string) error
	GetMessages(ctx context.Context, sessionID string) ([]model.HistoryEntry, error)
	GetMetadata(ctx context.Context, sessionID string) ([]model.Citation, error)
}

// Snapshot is a stored session ready to be replayed.
type Snapshot struct {
	Session   model.Session
	Messages  []model.HistoryEntry
	Citations []model.Citation
}

// Manager tracks the active session id.
type Manager struct {
	api    API
	store  localstore.Store
	outbox outbox.Outbox
	logger *logger.Logger

	// mu serializes session selection; published mirrors current for
	// readers that must not wait on a session being created.
	mu        sync.Mutex
	current   string
	published atomic.Value

	// queued counts message writes per session still held by the outbox.
	// It is only tracked when the outbox reports settled entries.
	queuedMu sync.Mutex
	queued   map[string]int
	ordered  bool
}

// NewManager creates a manager. A nil outbox drops failed writes. When ob
// reports settled entries, later writes of a session with a queued write
// are queued behind it instead of being sent directly.
func NewManager(a API, store localstore.Store, ob outbox.Outbox, log *logger.Logger) *Manager {
	if ob == nil {
		ob = outbox.Discard{}
	}
	m := &Manager{
		api:    a,
		store:  store,
		outbox: ob,
		logger: logger.OrNop(log).Named("session"),
		queued: make(map[string]int),
	}
	if s, ok := ob.(outbox.Settler); ok {
		m.ordered = true
		s.OnSettle(m.settled)
	}
	return m
}

// Current returns the active session id, or "" before the first send.
func (m *Manager) Current() string {
	id, _ := m.published.Load().(string)
	return id
}

// setCurrent must be called with mu held.
func (m *Manager) setCurrent(id string) {
	m.current = id
	m.published.Store(id)
}

// EnsureSession returns the active or persisted session id, creating a
// session titled by firstQuestion when there is none.
func (m *Manager) EnsureSession(ctx context.Context, firstQuestion string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != "" {
		return m.current, nil
	}

	id, ok, err := m.store.Get(ctx, localstore.KeyLastSessionID)
	if err != nil {
		m.logger.Warn("failed to read last session id", zap.Error(err))
	}
	if ok && id != "" {
		m.setCurrent(id)
		return id, nil
	}

	id, err = m.api.CreateSession(ctx, firstQuestion)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	m.setCurrent(id)
	m.remember(ctx, id)

	m.logger.Info("session created", zap.String("session_id", id))
	return id, nil
}

// LoadLastSession fetches the history and citations of the persisted
// session. It returns nil when no session id is persisted, or when the
// service no longer knows it.
func (m *Manager) LoadLastSession(ctx context.Context) (*Snapshot, error) {
	id, ok, err := m.store.Get(ctx, localstore.KeyLastSessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read last session id: %w", err)
	}
	if !ok || id == "" {
		return nil, nil
	}

	snap, err := m.fetch(ctx, id)
	if errors.Is(err, api.ErrNotFound) {
		m.logger.Warn("last session no longer exists", zap.String("session_id", id))
		if derr := m.store.Delete(ctx, localstore.KeyLastSessionID); derr != nil {
			m.logger.Warn("failed to clear last session id", zap.Error(derr))
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.setCurrent(id)
	m.mu.Unlock()

	return snap, nil
}

// Resume switches to an existing remote session and returns its contents.
// The active session is unchanged on error.
func (m *Manager) Resume(ctx context.Context, id string) (*Snapshot, error) {
	if id == "" {
		return nil, errors.New("session id is required")
	}

	snap, err := m.fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.setCurrent(id)
	m.mu.Unlock()
	m.remember(ctx, id)

	return snap, nil
}

func (m *Manager) fetch(ctx context.Context, id string) (*Snapshot, error) {
	history, err := m.api.GetMessages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load session history: %w", err)
	}
	citations, err := m.api.GetMetadata(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load session metadata: %w", err)
	}
	return &Snapshot{
		Session:   model.Session{ID: id},
		Messages:  history,
		Citations: citations,
	}, nil
}

// AppendRemote persists one message of sessionID. A failed write is queued
// on the outbox and the error is returned for reporting. While an earlier
// write of the session is still queued the message is queued behind it, so
// the stored history keeps the local order.
func (m *Manager) AppendRemote(ctx context.Context, sessionID string, role model.Role, content string) error {
	entry := outbox.MessageEntry(sessionID, role, content)
	if m.hasQueued(sessionID) {
		if err := m.enqueue(ctx, entry); err != nil {
			metrics.PersistenceFailures.WithLabelValues("add_message").Inc()
			return fmt.Errorf("failed to queue message: %w", err)
		}
		m.logger.Debug("message queued behind pending writes",
			zap.String("session_id", sessionID),
			zap.String("role", string(role)),
		)
		return nil
	}

	err := m.api.AddMessage(ctx, sessionID, role, content)
	if err == nil {
		return nil
	}

	metrics.PersistenceFailures.WithLabelValues("add_message").Inc()
	m.logger.Error("failed to persist message",
		zap.String("session_id", sessionID),
		zap.String("role", string(role)),
		zap.Error(err),
	)
	if qerr := m.enqueue(ctx, entry); qerr != nil {
		m.logger.Error("failed to enqueue message for retry", zap.Error(qerr))
	}
	return err
}

func (m *Manager) enqueue(ctx context.Context, e outbox.Entry) error {
	m.track(e.SessionID, 1)
	if err := m.outbox.Enqueue(ctx, e); err != nil {
		m.track(e.SessionID, -1)
		return err
	}
	return nil
}

func (m *Manager) settled(e outbox.Entry, _ error) {
	if e.Kind == outbox.KindMessage {
		m.track(e.SessionID, -1)
	}
}

func (m *Manager) track(sessionID string, delta int) {
	if !m.ordered {
		return
	}
	m.queuedMu.Lock()
	defer m.queuedMu.Unlock()
	if n := m.queued[sessionID] + delta; n > 0 {
		m.queued[sessionID] = n
	} else {
		delete(m.queued, sessionID)
	}
}

func (m *Manager) hasQueued(sessionID string) bool {
	m.queuedMu.Lock()
	defer m.queuedMu.Unlock()
	return m.queued[sessionID] > 0
}

// StartNewConversation forgets the active session. The remote session is
// kept; the next send creates a new one.
func (m *Manager) StartNewConversation(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.setCurrent("")
	if err := m.store.Delete(ctx, localstore.KeyLastSessionID); err != nil {
		return fmt.Errorf("failed to clear last session id: %w", err)
	}
	return nil
}

// ListSessions returns the user's stored sessions.
func (m *Manager) ListSessions(ctx context.Context) ([]model.SessionSummary, error) {
	sessions, err := m.api.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

func (m *Manager) remember(ctx context.Context, id string) {
	if err := m.store.Set(ctx, localstore.KeyLastSessionID, id); err != nil {
		m.logger.Warn("failed to persist session id", zap.String("session_id", id), zap.Error(err))
	}
}
