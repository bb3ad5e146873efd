package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/campus-assistant/internal/llm"
	"github.com/capitalize-ai/campus-assistant/internal/model"
)

func TestSessionLifecycle(t *testing.T) {
	s := NewSessionService(nil)
	ctx := context.Background()

	sess, err := s.Create(ctx, "alice", "When is the   library open?")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "When is the library open?", sess.Title)

	require.NoError(t, s.AddMessage(ctx, "alice", sess.ID, model.HistoryEntry{Role: model.RoleUser, Content: "When is the library open?"}))
	require.NoError(t, s.AddMessage(ctx, "alice", sess.ID, model.HistoryEntry{Role: model.RoleAssistant, Content: "8am-10pm."}))

	msgs, err := s.Messages(ctx, "alice", sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)

	c := model.Citation{Source: model.SourceMail, Subject: "Lib Hours", ReceivedOn: "2024-01-01"}
	require.NoError(t, s.AddMetadata(ctx, "alice", sess.ID, c))
	require.NoError(t, s.AddMetadata(ctx, "alice", sess.ID, c))
	meta, err := s.Metadata(ctx, "alice", sess.ID)
	require.NoError(t, err)
	assert.Len(t, meta, 1)

	_, err = s.Messages(ctx, "bob", sess.ID)
	assert.True(t, errors.Is(err, ErrSessionNotFound))
	assert.True(t, errors.Is(s.AddMessage(ctx, "alice", "missing", model.HistoryEntry{}), ErrSessionNotFound))
}

func TestListNewestFirst(t *testing.T) {
	s := NewSessionService(nil)
	ctx := context.Background()

	first, _ := s.Create(ctx, "alice", "first")
	time.Sleep(2 * time.Millisecond)
	second, _ := s.Create(ctx, "alice", "second")
	_, _ = s.Create(ctx, "bob", "other")

	list, err := s.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}

func TestSessionTitleTruncates(t *testing.T) {
	title := sessionTitle(strings.Repeat("é", 200))
	assert.Equal(t, maxTitleRunes, len([]rune(title)))
}

func collect(t *testing.T, r Responder, question string) []model.Frame {
	t.Helper()
	var frames []model.Frame
	err := r.Respond(context.Background(), AnswerRequest{Question: question}, func(f model.Frame) error {
		frames = append(frames, f)
		return nil
	})
	require.NoError(t, err)
	return frames
}

func TestCannedResponderFrames(t *testing.T) {
	r := NewCannedResponder(DefaultCannedAnswers, 0)
	frames := collect(t, r, "When is the Library open?")

	require.GreaterOrEqual(t, len(frames), 3)
	assert.Equal(t, model.StatusRouting, frames[0].Status)
	assert.Equal(t, "mail_search", frames[0].CurrentTool)

	last := frames[len(frames)-1]
	require.Equal(t, model.StatusDone, last.Status)
	assert.Equal(t, "Lib Hours", last.Answer.Subject)
	assert.Equal(t, "2024-01-01", last.Answer.ReceivedOn)

	var streamed strings.Builder
	for _, f := range frames[1 : len(frames)-1] {
		assert.Equal(t, model.StatusStreaming, f.Status)
		streamed.WriteString(f.Chunk)
	}
	assert.Equal(t, last.Answer.Answer, streamed.String())
}

func TestCannedResponderFallback(t *testing.T) {
	frames := collect(t, NewCannedResponder(DefaultCannedAnswers, 0), "Where can I park?")
	last := frames[len(frames)-1]
	assert.Equal(t, fallbackAnswer, last.Answer.Answer)
	assert.Nil(t, last.Answer.Citation())
}

func TestCannedResponderStopsOnEmitError(t *testing.T) {
	r := NewCannedResponder(DefaultCannedAnswers, 0)
	gone := errors.New("closed")
	calls := 0
	err := r.Respond(context.Background(), AnswerRequest{Question: "exam"}, func(model.Frame) error {
		calls++
		if calls == 2 {
			return gone
		}
		return nil
	})
	assert.ErrorIs(t, err, gone)
	assert.Equal(t, 2, calls)
}

func TestSplitChunks(t *testing.T) {
	assert.Equal(t, []string{"a b c ", "d e"}, splitChunks("a b c d e", 3))
	assert.Empty(t, splitChunks("", 3))
}

type fakeLLM struct {
	tokens []string
	err    error
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) CompleteStream(_ context.Context, req *llm.CompletionRequest, cb llm.StreamCallback) (*llm.CompletionResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i, tok := range f.tokens {
		if err := cb(tok, i); err != nil {
			return nil, err
		}
	}
	return &llm.CompletionResponse{Content: strings.Join(f.tokens, ""), Model: "fake-1"}, nil
}

func TestLLMResponder(t *testing.T) {
	r := NewLLMResponder(&fakeLLM{tokens: []string{"Hello ", "world."}}, "", nil)
	frames := collect(t, r, "hi")

	require.Len(t, frames, 4)
	assert.Equal(t, "llm", frames[0].CurrentTool)
	assert.Equal(t, "Hello ", frames[1].Chunk)
	assert.Equal(t, "Hello world.", frames[3].Answer.Answer)

	failing := NewLLMResponder(&fakeLLM{err: errors.New("quota")}, "", nil)
	err := failing.Respond(context.Background(), AnswerRequest{Question: "hi"}, func(model.Frame) error { return nil })
	assert.Error(t, err)
}
