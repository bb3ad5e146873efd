package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/campus-assistant/internal/engine"
	"github.com/capitalize-ai/campus-assistant/internal/model"
)

type fakeEngine struct {
	mu        sync.Mutex
	sent      []string
	calls     []string
	sendErr   error
	messages  []model.Message
	citations []model.Citation
	state     model.StreamState
	sessionID string
}

func (f *fakeEngine) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeEngine) Send(_ context.Context, q string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, q)
	return f.sendErr
}

func (f *fakeEngine) Cancel(context.Context) error {
	f.record("cancel")
	return engine.ErrNoTurn
}

func (f *fakeEngine) NewConversation(context.Context) error {
	f.record("new")
	return nil
}

func (f *fakeEngine) Resume(_ context.Context, id string) error {
	f.record("resume " + id)
	return nil
}

func (f *fakeEngine) Messages() []model.Message   { return f.messages }
func (f *fakeEngine) Citations() []model.Citation { return f.citations }
func (f *fakeEngine) SessionID() string           { return f.sessionID }

func (f *fakeEngine) State() model.StreamState {
	if f.state == "" {
		return model.StateIdle
	}
	return f.state
}

type fakeLister struct{}

func (fakeLister) ListSessions(context.Context) ([]model.SessionSummary, error) {
	return []model.SessionSummary{
		{ID: "abc123", Title: "When is the library open?"},
		{ID: "def456", Title: "Exam dates?"},
	}, nil
}

func newTestModel(fe *fakeEngine) *Model {
	_, ch := Bridge(16)
	m := New(context.Background(), Options{Engine: fe, Sessions: fakeLister{}, Updates: ch, ScrollThreshold: 1})
	m.Update(tea.WindowSizeMsg{Width: 80, Height: 15})
	return m
}

func typeLine(m *Model, line string) tea.Cmd {
	m.input.SetValue(line)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return cmd
}

func TestEnterSendsQuestion(t *testing.T) {
	fe := &fakeEngine{}
	m := newTestModel(fe)

	cmd := typeLine(m, "  When is the library open?  ")
	require.NotNil(t, cmd)
	msg := cmd()
	m.Update(msg)

	assert.Equal(t, []string{"When is the library open?"}, fe.sent)
	assert.Empty(t, m.input.Value())
	assert.Nil(t, typeLine(m, "   "))
}

func TestSendErrorShown(t *testing.T) {
	fe := &fakeEngine{sendErr: engine.ErrTurnInProgress}
	m := newTestModel(fe)

	m.Update(typeLine(m, "second question")())
	assert.Contains(t, m.errText, "/cancel")
}

func TestSlashCommands(t *testing.T) {
	fe := &fakeEngine{}
	m := newTestModel(fe)

	m.Update(typeLine(m, "/new")())
	m.Update(typeLine(m, "/cancel")())
	assert.Equal(t, "nothing to cancel", m.status)

	m.Update(typeLine(m, "/sessions")())
	require.Len(t, m.sessionList, 2)
	assert.Contains(t, m.View(), "Exam dates?")

	m.Update(typeLine(m, "/resume 2")())
	m.Update(typeLine(m, "/resume abc123")())
	assert.Equal(t, []string{"new", "cancel", "resume def456", "resume abc123"}, fe.calls)

	assert.Nil(t, typeLine(m, "/resume"))
	assert.NotEmpty(t, m.errText)

	assert.Nil(t, typeLine(m, "/bogus"))
	assert.Contains(t, m.errText, "unknown command")

	cmd := typeLine(m, "/quit")
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func manyMessages(n int) []model.Message {
	out := make([]model.Message, n)
	for i := range out {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		out[i] = model.Message{ID: fmt.Sprint(i), Role: role, Text: fmt.Sprintf("message %d", i)}
	}
	return out
}

func TestUpdatesFollowTheBottom(t *testing.T) {
	fe := &fakeEngine{}
	m := newTestModel(fe)

	fe.messages = manyMessages(20)
	m.Update(updateMsg{update: engine.Update{Kind: engine.UpdateMessageAppended}})
	assert.True(t, m.viewport.AtBottom())
}

func TestScrolledUpViewStaysPutWhileStreaming(t *testing.T) {
	fe := &fakeEngine{messages: manyMessages(20)}
	m := newTestModel(fe)
	m.Update(updateMsg{update: engine.Update{Kind: engine.UpdateMessageAppended}})
	require.True(t, m.viewport.AtBottom())

	m.Update(tea.KeyMsg{Type: tea.KeyPgUp})
	require.True(t, m.scroll.UserScrolling())
	offset := m.viewport.YOffset

	fe.state = model.StateStreaming
	fe.messages = append(fe.messages, model.Message{ID: "s", Role: model.RoleAssistant, Text: "Hello world ", Streaming: true})
	m.Update(updateMsg{update: engine.Update{Kind: engine.UpdateMessageUpdated}})
	assert.Equal(t, offset, m.viewport.YOffset)
	assert.Contains(t, m.View(), "scrolled")

	m.Update(tea.KeyMsg{Type: tea.KeyEnd})
	assert.False(t, m.scroll.UserScrolling())
}

func TestResetRestoresFollow(t *testing.T) {
	fe := &fakeEngine{messages: manyMessages(20)}
	m := newTestModel(fe)
	m.Update(updateMsg{update: engine.Update{Kind: engine.UpdateMessageAppended}})
	m.Update(tea.KeyMsg{Type: tea.KeyPgUp})
	require.True(t, m.scroll.UserScrolling())

	fe.messages = nil
	m.Update(updateMsg{update: engine.Update{Kind: engine.UpdateReset}})
	assert.False(t, m.scroll.UserScrolling())
	assert.Equal(t, "new conversation", m.status)
}

func TestRendersCitationsAndStreamingCursor(t *testing.T) {
	c := model.Citation{Source: model.SourceMail, Subject: "Lib Hours", ReceivedOn: "2024-01-01"}
	fe := &fakeEngine{
		messages: []model.Message{
			{ID: "1", Role: model.RoleUser, Text: "When is the library open?"},
			{ID: "2", Role: model.RoleAssistant, Text: "The library is open 8am-10pm.", Citation: &c},
			{ID: "3", Role: model.RoleAssistant, Text: "Hello ", Streaming: true},
		},
		citations: []model.Citation{c},
		sessionID: "abc123",
	}
	m := newTestModel(fe)
	m.Update(updateMsg{update: engine.Update{Kind: engine.UpdateCitationsRevealed}})

	view := m.View()
	assert.Contains(t, view, "Mail · Lib Hours · 2024-01-01")
	assert.Contains(t, view, "Sources:")
	assert.Contains(t, view, "abc123")
	assert.True(t, strings.Contains(view, "Hello "+streamingCursor))
}

func TestBridgeDoesNotBlock(t *testing.T) {
	obs, ch := Bridge(1)
	obs(engine.Update{Kind: engine.UpdateState})
	obs(engine.Update{Kind: engine.UpdateRouting})

	u := <-ch
	assert.Equal(t, engine.UpdateState, u.Kind)
	assert.Len(t, ch, 0)
}

func TestCitationLabel(t *testing.T) {
	c := model.Citation{Source: "Mail", Subject: "Exams", Attachments: []model.Attachment{{FileName: "a"}, {FileName: "b"}}}
	assert.Equal(t, "Mail · Exams (2 attachments)", citationLabel(c))
}
