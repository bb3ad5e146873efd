package messages

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/campus-assistant/internal/model"
)

func TestAppendPreservesOrder(t *testing.T) {
	s := NewStore()
	u := s.AppendUser("When is the library open?")
	a, err := s.AppendAssistantEmpty()
	require.NoError(t, err)

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, u.ID, msgs[0].ID)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.False(t, msgs[0].Streaming)
	assert.Equal(t, a.ID, msgs[1].ID)
	assert.True(t, msgs[1].Streaming)
	assert.Empty(t, msgs[1].Text)
}

func TestOnlyOneStreamingMessage(t *testing.T) {
	s := NewStore()
	_, err := s.AppendAssistantEmpty()
	require.NoError(t, err)

	_, err = s.AppendAssistantEmpty()
	assert.ErrorIs(t, err, ErrAlreadyStreaming)

	_, ok := s.FinalizeActive(nil)
	require.True(t, ok)

	_, err = s.AppendAssistantEmpty()
	assert.NoError(t, err)
}

func TestMutateActiveText(t *testing.T) {
	s := NewStore()
	_, err := s.AppendAssistantEmpty()
	require.NoError(t, err)

	m, ok := s.MutateActiveText(Append, "Hello ")
	require.True(t, ok)
	assert.Equal(t, "Hello ", m.Text)

	m, ok = s.MutateActiveText(Append, "world ")
	require.True(t, ok)
	assert.Equal(t, "Hello world ", m.Text)

	m, ok = s.MutateActiveText(Replace, "Hello world.")
	require.True(t, ok)
	assert.Equal(t, "Hello world.", m.Text)
}

func TestMutateWithoutActiveIsNoop(t *testing.T) {
	s := NewStore()
	s.AppendUser("hi")

	_, ok := s.MutateActiveText(Append, "stray")
	assert.False(t, ok)
	_, ok = s.FinalizeActive(&model.Citation{Source: "Mail"})
	assert.False(t, ok)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Text)
}

func TestFinalizeActiveAttachesCitation(t *testing.T) {
	s := NewStore()
	a, err := s.AppendAssistantEmpty()
	require.NoError(t, err)

	c := &model.Citation{Source: model.SourceMail, Subject: "Lib Hours", ReceivedOn: "2024-01-01"}
	m, ok := s.FinalizeActive(c)
	require.True(t, ok)
	assert.Equal(t, a.ID, m.ID)
	assert.False(t, m.Streaming)
	require.NotNil(t, m.Citation)
	assert.Equal(t, "Lib Hours", m.Citation.Subject)
	assert.NotNil(t, m.FinalizedAt)

	c.Subject = "mutated"
	got, _ := s.Get(a.ID)
	assert.Equal(t, "Lib Hours", got.Citation.Subject, "store keeps its own copy")

	_, ok = s.Active()
	assert.False(t, ok)
}

func TestDetachActiveMarksSuperseded(t *testing.T) {
	s := NewStore()
	_, err := s.AppendAssistantEmpty()
	require.NoError(t, err)
	s.MutateActiveText(Append, "partial ")

	m, ok := s.DetachActive()
	require.True(t, ok)
	assert.True(t, m.Superseded)
	assert.False(t, m.Streaming)
	assert.Equal(t, "partial ", m.Text)

	_, ok = s.MutateActiveText(Append, "late")
	assert.False(t, ok)
}

func TestResetClearsEverything(t *testing.T) {
	s := NewStore()
	s.AppendUser("q")
	_, err := s.AppendAssistantEmpty()
	require.NoError(t, err)

	s.Reset()
	assert.Zero(t, s.Len())
	_, ok := s.Active()
	assert.False(t, ok)

	_, ok = s.MutateActiveText(Append, "after reset")
	assert.False(t, ok)
}

func TestAppendHistoryIsFinalized(t *testing.T) {
	s := NewStore()
	m := s.AppendHistory(model.RoleAssistant, "stored answer")
	assert.False(t, m.Streaming)
	assert.NotNil(t, m.FinalizedAt)
	_, ok := s.Active()
	assert.False(t, ok)
}

func TestMessagesReturnsCopies(t *testing.T) {
	s := NewStore()
	s.AppendUser("original")

	msgs := s.Messages()
	msgs[0].Text = "changed"

	assert.Equal(t, "original", s.Messages()[0].Text)
}

func TestConcurrentReaders(t *testing.T) {
	s := NewStore()
	_, err := s.AppendAssistantEmpty()
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s.MutateActiveText(Append, "x")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = s.Messages()
		}
	}()
	wg.Wait()

	m, ok := s.Active()
	require.True(t, ok)
	assert.Len(t, m.Text, 200)
}
