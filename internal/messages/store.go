// Package messages holds the ordered, append-only conversation log shown to
// the user.
package messages

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/campus-assistant/internal/model"
)

// ErrAlreadyStreaming is returned when an assistant message is requested
// while another one is still streaming.
var ErrAlreadyStreaming = errors.New("an assistant message is already streaming")

// TextOp selects how MutateActiveText changes the active message.
type TextOp int

const (
	// Append adds a fragment to the end of the text.
	Append TextOp = iota
	// Replace overwrites the whole text.
	Replace
)

// Store is the conversation log. The streaming assistant message is tracked
// by id rather than by position.
type Store struct {
	mu       sync.RWMutex
	messages []model.Message
	index    map[string]int
	activeID string
	now      func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		index: make(map[string]int),
		now:   time.Now,
	}
}

// AppendUser appends a finalized user message.
func (s *Store) AppendUser(text string) model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(model.RoleUser, text, false)
}

// AppendAssistantEmpty appends an empty streaming assistant message and makes
// it the active message.
func (s *Store) AppendAssistantEmpty() (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeID != "" {
		return model.Message{}, ErrAlreadyStreaming
	}
	msg := s.appendLocked(model.RoleAssistant, "", true)
	s.activeID = msg.ID
	return msg, nil
}

// AppendHistory appends an already finalized message, used when replaying a
// stored session.
func (s *Store) AppendHistory(role model.Role, text string) model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.appendLocked(role, text, false)
	at := msg.CreatedAt
	s.messages[len(s.messages)-1].FinalizedAt = &at
	return s.messages[len(s.messages)-1].Clone()
}

func (s *Store) appendLocked(role model.Role, text string, streaming bool) model.Message {
	msg := model.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Role:      role,
		Text:      text,
		Streaming: streaming,
		CreatedAt: s.now(),
	}
	s.index[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg)
	return msg
}

// MutateActiveText changes the text of the active message. It is a no-op
// returning false when no message is streaming.
func (s *Store) MutateActiveText(op TextOp, text string) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.activeLocked()
	if m == nil {
		return model.Message{}, false
	}
	switch op {
	case Append:
		m.Text += text
	case Replace:
		m.Text = text
	}
	return m.Clone(), true
}

// FinalizeActive attaches the citation, clears the streaming flag and
// releases the active slot.
func (s *Store) FinalizeActive(citation *model.Citation) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.activeLocked()
	if m == nil {
		return model.Message{}, false
	}
	if citation != nil {
		c := citation.Clone()
		m.Citation = &c
	}
	now := s.now()
	m.Streaming = false
	m.FinalizedAt = &now
	s.activeID = ""
	return m.Clone(), true
}

// DetachActive stops the active message without finalizing it. The message
// keeps whatever text it had and is marked superseded.
func (s *Store) DetachActive() (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.activeLocked()
	if m == nil {
		return model.Message{}, false
	}
	m.Streaming = false
	m.Superseded = true
	s.activeID = ""
	return m.Clone(), true
}

func (s *Store) activeLocked() *model.Message {
	if s.activeID == "" {
		return nil
	}
	i, ok := s.index[s.activeID]
	if !ok {
		return nil
	}
	return &s.messages[i]
}

// Active returns the streaming message, if any.
func (s *Store) Active() (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.activeID == "" {
		return model.Message{}, false
	}
	return s.messages[s.index[s.activeID]].Clone(), true
}

// Get returns the message with the given id.
func (s *Store) Get(id string) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return model.Message{}, false
	}
	return s.messages[i].Clone(), true
}

// Messages returns a copy of the log in insertion order.
func (s *Store) Messages() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Reset clears the log.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	s.index = make(map[string]int)
	s.activeID = ""
}
