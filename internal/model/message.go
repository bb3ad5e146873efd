package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a role the session service accepts.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is one entry of the on-device conversation log.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Streaming bool      `json:"is_streaming"`
	Citation  *Citation `json:"citation,omitempty"`

	// Superseded marks an assistant message that was detached before it was
	// finalized, by a routing reset or a user cancel.
	Superseded bool `json:"superseded,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	if m.Citation != nil {
		c := m.Citation.Clone()
		m.Citation = &c
	}
	if m.FinalizedAt != nil {
		t := *m.FinalizedAt
		m.FinalizedAt = &t
	}
	return m
}

// HistoryEntry is a message as stored by the session service.
type HistoryEntry struct {
	Content string `json:"content"`
	Role    Role   `json:"role"`
}

// AddMessageRequest is the body of the add-message call.
type AddMessageRequest struct {
	Content string `json:"content"`
	Role    Role   `json:"role"`
}
