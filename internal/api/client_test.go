package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/campus-assistant/internal/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/", Token: "tok"}, nil)
}

func TestCreateSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sessions", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var req model.CreateSessionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "When is the library open?", req.FirstQuestion)

		_, _ = w.Write([]byte(`{"session_id":"abc123"}`))
	})

	id, err := c.CreateSession(context.Background(), "When is the library open?")
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)
}

func TestCreateSessionEmptyID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := c.CreateSession(context.Background(), "q")
	assert.Error(t, err)
}

func TestHistoryAndMetadata(t *testing.T) {
	var put model.MetadataUpdateRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.Path {
		case "GET /sessions/abc123/messages":
			_, _ = w.Write([]byte(`[{"content":"hi","role":"user"},{"content":"hello","role":"assistant"}]`))
		case "GET /sessions/abc123/metadata":
			_, _ = w.Write([]byte(`{"meta_data":[{"source":"Mail","subject":"Lib Hours","received_on":"2024-01-01","has_attachment":0}]}`))
		case "PUT /sessions/abc123/metadata":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&put))
			w.WriteHeader(http.StatusNoContent)
		case "POST /sessions/abc123/messages":
			w.WriteHeader(http.StatusCreated)
		case "GET /sessions":
			_, _ = w.Write([]byte(`[{"session_id":"abc123","session_title":"When is the library open?"}]`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})
	ctx := context.Background()

	history, err := c.GetMessages(ctx, "abc123")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.RoleAssistant, history[1].Role)

	cites, err := c.GetMetadata(ctx, "abc123")
	require.NoError(t, err)
	require.Len(t, cites, 1)
	assert.Equal(t, "Lib Hours", cites[0].Subject)

	require.NoError(t, c.UpdateMetadata(ctx, "abc123", model.Citation{Source: "Mail", Subject: "Exam Dates"}))
	assert.Equal(t, "Exam Dates", put.MetaData.Subject)

	require.NoError(t, c.AddMessage(ctx, "abc123", model.RoleUser, "hi"))

	sessions, err := c.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "abc123", sessions[0].ID)
}

func TestStatusErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/sessions/missing/messages" {
			http.Error(w, "no such session", http.StatusNotFound)
			return
		}
		http.Error(w, "busy", http.StatusServiceUnavailable)
	})
	ctx := context.Background()

	_, err := c.GetMessages(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, IsPermanent(err))

	err = c.AddMessage(ctx, "abc123", model.RoleUser, "hi")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.False(t, IsPermanent(err))

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, "busy", se.Body)
}
