package wsconn

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/campus-assistant/internal/model"
)

type frameRecorder struct {
	mu     sync.Mutex
	frames []model.Frame
}

func (r *frameRecorder) HandleFrame(f model.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
}

func (r *frameRecorder) snapshot() []model.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Frame(nil), r.frames...)
}

// echoServer replies to every query with the given raw frames.
func echoServer(t *testing.T, replies []string, queries chan<- model.Query) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		for {
			var q model.Query
			if err := ws.ReadJSON(&q); err != nil {
				return
			}
			if queries != nil {
				queries <- q
			}
			for _, raw := range replies {
				if err := ws.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestFramesDeliveredInOrder(t *testing.T) {
	replies := []string{
		`{"status":"routing","current_tool":"mail_search"}`,
		`not json`,
		`{"status":"STREAMING","chunk":"Hello "}`,
		`{"status":"thinking"}`,
		`{"status":"STREAMING","chunk":"world "}`,
		`{"status":"done","answer":{"answer":"Hello world"}}`,
	}
	queries := make(chan model.Query, 1)
	srv := echoServer(t, replies, queries)

	rec := &frameRecorder{}
	c, err := Dial(context.Background(), wsURL(srv), "tok", rec, nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Send(context.Background(), model.NewQuery("When is the library open?", "abc123")))

	q := <-queries
	assert.Equal(t, "When is the library open?", q.Question)
	require.NotNil(t, q.SessionID)
	assert.Equal(t, "abc123", *q.SessionID)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 4 }, time.Second, 5*time.Millisecond)

	frames := rec.snapshot()
	assert.Equal(t, model.StatusRouting, frames[0].Status)
	assert.Equal(t, "Hello ", frames[1].Chunk)
	assert.Equal(t, "world ", frames[2].Chunk)
	assert.Equal(t, model.StatusDone, frames[3].Status)
	assert.Equal(t, "Hello world", frames[3].Answer.Answer)
}

func TestSendAfterCloseIsRejected(t *testing.T) {
	srv := echoServer(t, nil, nil)

	c, err := Dial(context.Background(), wsURL(srv), "tok", HandlerFunc(func(model.Frame) {}), nil)
	require.NoError(t, err)
	require.True(t, c.Connected())

	require.NoError(t, c.Close())
	assert.False(t, c.Connected())
	assert.NoError(t, c.Close())

	err = c.Send(context.Background(), model.NewQuery("q", ""))
	assert.True(t, errors.Is(err, ErrNotConnected))
}

func TestServerCloseEndsStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		_ = ws.Close()
	}))
	defer srv.Close()

	c, err := Dial(context.Background(), wsURL(srv), "", HandlerFunc(func(model.Frame) {}), nil)
	require.NoError(t, err)

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("stream did not end")
	}
	assert.False(t, c.Connected())
	assert.Error(t, c.Err())
	assert.ErrorIs(t, c.Send(context.Background(), model.NewQuery("q", "")), ErrNotConnected)
}

func TestDialUnauthorized(t *testing.T) {
	srv := echoServer(t, nil, nil)

	_, err := Dial(context.Background(), wsURL(srv), "wrong", HandlerFunc(func(model.Frame) {}), nil)
	assert.Error(t, err)
}
