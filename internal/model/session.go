// Package model defines data structures shared by the chat engine, the
// session service client and the development backend.
package model

import (
	"time"
)

// Session is a persisted conversation identified by an opaque id.
type Session struct {
	ID        string    `json:"session_id"`
	Title     string    `json:"session_title"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// SessionSummary is one row of the list-sessions response.
type SessionSummary struct {
	ID    string `json:"session_id"`
	Title string `json:"session_title"`
}

// CreateSessionRequest is the body of the create-session call.
type CreateSessionRequest struct {
	FirstQuestion string `json:"first_question"`
}

// CreateSessionResponse is returned by the create-session call.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

// MetadataUpdateRequest carries one citation record for the session
// metadata store.
type MetadataUpdateRequest struct {
	MetaData Citation `json:"meta_data"`
}

// MetadataResponse is returned by the get-metadata call.
type MetadataResponse struct {
	MetaData []Citation `json:"meta_data"`
}

// StreamState is the per-turn state of the streaming reconstructor.
type StreamState string

const (
	StateIdle      StreamState = "IDLE"
	StateStreaming StreamState = "STREAMING"
	StateComplete  StreamState = "COMPLETE"
)
