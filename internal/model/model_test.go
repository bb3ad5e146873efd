package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame(t *testing.T) {
	t.Run("routing", func(t *testing.T) {
		f, err := ParseFrame([]byte(`{"status":"routing","current_tool":"mail_search"}`))
		require.NoError(t, err)
		assert.Equal(t, StatusRouting, f.Status)
		assert.Equal(t, "mail_search", f.CurrentTool)
	})

	t.Run("streaming chunk", func(t *testing.T) {
		f, err := ParseFrame([]byte(`{"status":"STREAMING","chunk":"Hello world "}`))
		require.NoError(t, err)
		assert.Equal(t, StatusStreaming, f.Status)
		assert.Equal(t, "Hello world ", f.Chunk)
	})

	t.Run("done with citation fields", func(t *testing.T) {
		raw := `{"status":"done","answer":{"answer":"The library is open 8am-10pm.","source":"Mail",
			"subject":"Lib Hours","received_on":"2024-01-01","has_attachment":1,
			"attachments":[{"file_name":"hours.pdf","link":"https://files.example.edu/hours.pdf"}]}}`
		f, err := ParseFrame([]byte(raw))
		require.NoError(t, err)
		require.NotNil(t, f.Answer)
		assert.Equal(t, "The library is open 8am-10pm.", f.Answer.Answer)

		c := f.Answer.Citation()
		require.NotNil(t, c)
		assert.Equal(t, "Lib Hours", c.Subject)
		assert.True(t, bool(c.HasAttachment))
		assert.Len(t, c.Attachments, 1)
	})

	t.Run("rejects", func(t *testing.T) {
		for name, raw := range map[string]string{
			"not json":       `{"status":`,
			"unknown status": `{"status":"thinking"}`,
			"done no answer": `{"status":"done"}`,
			"empty object":   `{}`,
		} {
			_, err := ParseFrame([]byte(raw))
			assert.True(t, errors.Is(err, ErrMalformedFrame), name)
		}
	})
}

func TestAnswerWithoutSourceHasNoCitation(t *testing.T) {
	a := Answer{Answer: "Hi there.", Subject: "ignored"}
	assert.Nil(t, a.Citation())
}

func TestFlagDecoding(t *testing.T) {
	cases := map[string]bool{
		`0`: false, `1`: true, `true`: true, `false`: false,
		`"1"`: true, `"0"`: false, `null`: false, `2`: true,
	}
	for raw, want := range cases {
		var f Flag
		require.NoError(t, json.Unmarshal([]byte(raw), &f), raw)
		assert.Equal(t, want, bool(f), raw)
	}

	var f Flag
	assert.Error(t, json.Unmarshal([]byte(`"maybe"`), &f))

	out, err := json.Marshal(Flag(true))
	require.NoError(t, err)
	assert.Equal(t, "1", string(out))
}

func TestNewQueryNullSession(t *testing.T) {
	out, err := json.Marshal(NewQuery("When is the library open?", ""))
	require.NoError(t, err)
	assert.JSONEq(t, `{"question":"When is the library open?","session_id":null}`, string(out))

	out, err = json.Marshal(NewQuery("q", "abc123"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"question":"q","session_id":"abc123"}`, string(out))
}

func TestMessageCloneIsDeep(t *testing.T) {
	m := Message{ID: "m1", Citation: &Citation{Subject: "s", Attachments: []Attachment{{FileName: "a"}}}}
	c := m.Clone()
	c.Citation.Attachments[0].FileName = "b"
	c.Citation.Subject = "changed"
	assert.Equal(t, "a", m.Citation.Attachments[0].FileName)
	assert.Equal(t, "s", m.Citation.Subject)
}
