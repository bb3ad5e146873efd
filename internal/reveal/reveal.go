// Package reveal splits assistant text into reveal tokens and computes the
// pacing of the typewriter effect.
package reveal

import (
	"time"
	"unicode"
	"unicode/utf8"
)

// Tokenize splits s into whitespace-delimited tokens. Each token keeps the
// whitespace that follows it, and leading whitespace is carried by the first
// token, so joining the tokens always yields s.
func Tokenize(s string) []string {
	if s == "" {
		return nil
	}

	var tokens []string
	start := 0
	inSpace := false
	seenWord := false

	for i, r := range s {
		space := unicode.IsSpace(r)
		if !space && inSpace && seenWord {
			tokens = append(tokens, s[start:i])
			start = i
		}
		if !space {
			seenWord = true
		}
		inSpace = space
	}
	tokens = append(tokens, s[start:])

	return tokens
}

// Count returns the number of tokens Tokenize would produce.
func Count(s string) int {
	n := 0
	inSpace := false
	seenWord := false

	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		s = s[size:]
		space := unicode.IsSpace(r)
		if !space && inSpace && seenWord {
			n++
		}
		if !space {
			seenWord = true
		}
		inSpace = space
	}
	if seenWord || inSpace {
		n++
	}
	return n
}

// FinalizeDelay is how long after a final answer arrives the canonical text
// replaces the revealed text.
func FinalizeDelay(answer string, perToken, settle time.Duration) time.Duration {
	return time.Duration(Count(answer))*perToken + settle
}

// Queue is a FIFO of tokens waiting to be revealed.
type Queue struct {
	tokens []string
}

// Push appends the tokens of s.
func (q *Queue) Push(s string) {
	q.tokens = append(q.tokens, Tokenize(s)...)
}

// Pop removes and returns the next token.
func (q *Queue) Pop() (string, bool) {
	if len(q.tokens) == 0 {
		return "", false
	}
	t := q.tokens[0]
	q.tokens[0] = ""
	q.tokens = q.tokens[1:]
	return t, true
}

// Len returns the number of queued tokens.
func (q *Queue) Len() int {
	return len(q.tokens)
}

// Clear drops every queued token.
func (q *Queue) Clear() {
	q.tokens = nil
}
