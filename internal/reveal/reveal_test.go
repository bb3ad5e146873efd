package reveal

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"Hello world ", []string{"Hello ", "world "}},
		{"The library is open 8am-10pm.", []string{"The ", "library ", "is ", "open ", "8am-10pm."}},
		{" leading space", []string{" leading ", "space"}},
		{"tabs\tand\nnewlines\n\n", []string{"tabs\t", "and\n", "newlines\n\n"}},
		{"   ", []string{"   "}},
		{"世界 你好", []string{"世界 ", "你好"}},
		{"single", []string{"single"}},
	}

	for _, tt := range tests {
		got := Tokenize(tt.in)
		assert.Equal(t, tt.want, got, "Tokenize(%q)", tt.in)
		assert.Equal(t, tt.in, strings.Join(got, ""), "tokens must rejoin to input")
		assert.Equal(t, len(tt.want), Count(tt.in), "Count(%q)", tt.in)
	}
}

func TestFinalizeDelay(t *testing.T) {
	d := FinalizeDelay("The library is open 8am-10pm.", 30*time.Millisecond, 500*time.Millisecond)
	assert.Equal(t, 5*30*time.Millisecond+500*time.Millisecond, d)

	assert.Equal(t, 200*time.Millisecond, FinalizeDelay("", 30*time.Millisecond, 200*time.Millisecond))
}

func TestQueueOrder(t *testing.T) {
	var q Queue
	q.Push("Hello world ")
	q.Push("again")
	require.Equal(t, 3, q.Len())

	var got []string
	for {
		tok, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, tok)
	}
	assert.Equal(t, []string{"Hello ", "world ", "again"}, got)

	q.Push("x y")
	q.Clear()
	assert.Zero(t, q.Len())
	_, ok := q.Pop()
	assert.False(t, ok)
}
