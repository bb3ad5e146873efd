package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/campus-assistant/internal/model"
)

func TestConversationRequest(t *testing.T) {
	history := []model.HistoryEntry{
		{Role: model.RoleUser, Content: "When is the library open?"},
		{Role: model.RoleAssistant, Content: "The library is open 8am-10pm."},
		{Role: "system", Content: "ignored"},
		{Role: model.RoleAssistant, Content: ""},
	}

	req := ConversationRequest("", history, "And on weekends?")
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "user", req.Messages[2].Role)
	assert.Equal(t, "And on weekends?", req.Messages[2].Content)
	assert.Equal(t, CampusSystemPrompt, req.System)
}

func TestProviderMessages(t *testing.T) {
	req := ConversationRequest("", nil, "Exam dates?")

	oa := openAIMessages(req)
	require.Len(t, oa, 2)
	assert.Equal(t, "system", oa[0].Role)
	assert.Equal(t, "Exam dates?", oa[1].Content)

	an := anthropicMessages(req)
	assert.Len(t, an, 1)
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(ProviderOpenAI, "")
	assert.Error(t, err)

	_, err = NewClient("cohere", "key")
	assert.Error(t, err)

	c, err := NewClient(ProviderOpenAI, "sk-test")
	require.NoError(t, err)
	assert.Equal(t, "openai", c.Name())
}
