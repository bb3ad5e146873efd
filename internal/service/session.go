// Package service provides the in-memory session store and answer
// generation behind the development assistant backend.
package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/campus-assistant/internal/model"
	"github.com/capitalize-ai/campus-assistant/pkg/logger"
)

// ErrSessionNotFound is returned for unknown sessions and for sessions owned
// by another user.
var ErrSessionNotFound = errors.New("session not found")

const maxTitleRunes = 80

type storedSession struct {
	model.Session
	owner    string
	messages []model.HistoryEntry
	metadata []model.Citation
}

// SessionService stores sessions, their messages and their citation
// metadata per owner.
type SessionService struct {
	logger *logger.Logger

	sessions map[string]*storedSession
	mu       sync.RWMutex
}

// NewSessionService creates a new session service.
func NewSessionService(log *logger.Logger) *SessionService {
	return &SessionService{
		logger:   logger.OrNop(log),
		sessions: make(map[string]*storedSession),
	}
}

// Create starts a session titled after its first question.
func (s *SessionService) Create(ctx context.Context, owner, firstQuestion string) (*model.Session, error) {
	sess := &storedSession{
		Session: model.Session{
			ID:        uuid.Must(uuid.NewV7()).String(),
			Title:     sessionTitle(firstQuestion),
			CreatedAt: time.Now(),
		},
		owner: owner,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.logger.Info("session created",
		zap.String("session_id", sess.ID),
		zap.String("owner", owner),
	)

	out := sess.Session
	return &out, nil
}

// Get returns one session.
func (s *SessionService) Get(ctx context.Context, owner, sessionID string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, err := s.lookup(owner, sessionID)
	if err != nil {
		return nil, err
	}
	out := sess.Session
	return &out, nil
}

// List returns the owner's sessions, newest first.
func (s *SessionService) List(ctx context.Context, owner string) ([]model.SessionSummary, error) {
	s.mu.RLock()
	owned := make([]*storedSession, 0)
	for _, sess := range s.sessions {
		if sess.owner == owner {
			owned = append(owned, sess)
		}
	}
	s.mu.RUnlock()

	sort.Slice(owned, func(i, j int) bool {
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})

	out := make([]model.SessionSummary, len(owned))
	for i, sess := range owned {
		out[i] = model.SessionSummary{ID: sess.ID, Title: sess.Title}
	}
	return out, nil
}

// AddMessage appends one message to a session's history.
func (s *SessionService) AddMessage(ctx context.Context, owner, sessionID string, entry model.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.lookup(owner, sessionID)
	if err != nil {
		return err
	}
	sess.messages = append(sess.messages, entry)
	return nil
}

// Messages returns a copy of a session's history in insertion order.
func (s *SessionService) Messages(ctx context.Context, owner, sessionID string) ([]model.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, err := s.lookup(owner, sessionID)
	if err != nil {
		return nil, err
	}
	return append([]model.HistoryEntry{}, sess.messages...), nil
}

// AddMetadata appends a citation record. A record whose subject and
// received-on date are already stored is ignored, so redelivered writes are
// harmless.
func (s *SessionService) AddMetadata(ctx context.Context, owner, sessionID string, c model.Citation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.lookup(owner, sessionID)
	if err != nil {
		return err
	}
	for _, existing := range sess.metadata {
		if existing.Key() == c.Key() {
			return nil
		}
	}
	sess.metadata = append(sess.metadata, c.Clone())
	return nil
}

// Metadata returns a copy of a session's citation records.
func (s *SessionService) Metadata(ctx context.Context, owner, sessionID string) ([]model.Citation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, err := s.lookup(owner, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Citation, len(sess.metadata))
	for i, c := range sess.metadata {
		out[i] = c.Clone()
	}
	return out, nil
}

// lookup must be called with mu held.
func (s *SessionService) lookup(owner, sessionID string) (*storedSession, error) {
	sess, ok := s.sessions[sessionID]
	if !ok || sess.owner != owner {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func sessionTitle(question string) string {
	title := strings.Join(strings.Fields(question), " ")
	if utf8.RuneCountInString(title) <= maxTitleRunes {
		return title
	}
	runes := []rune(title)
	return string(runes[:maxTitleRunes-1]) + "…"
}
