package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/capitalize-ai/campus-assistant/internal/model"
)

const (
	maxQuestionBytes = 8 << 10
	maxContentBytes  = 100 << 10
	maxSubjectBytes  = 512
)

// ValidateQuestion validates a user question.
func ValidateQuestion(q string) error {
	if len(q) == 0 {
		return errors.New("question cannot be empty")
	}
	if len(q) > maxQuestionBytes {
		return errors.New("question exceeds maximum length")
	}
	if !utf8.ValidString(q) {
		return errors.New("question must be valid UTF-8")
	}
	return nil
}

// ValidateMessage validates a stored message.
func ValidateMessage(role model.Role, content string) error {
	if !role.Valid() {
		return errors.New("role must be user or assistant")
	}
	if len(content) > maxContentBytes {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateSessionID validates a session ID.
func ValidateSessionID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid session ID format")
	}
	return nil
}

// ValidateCitation validates a citation metadata record.
func ValidateCitation(c model.Citation) error {
	if c.Source == "" {
		return errors.New("citation source is required")
	}
	if len(c.Subject) > maxSubjectBytes {
		return errors.New("citation subject exceeds maximum length")
	}
	if !utf8.ValidString(c.Subject) {
		return errors.New("citation subject must be valid UTF-8")
	}
	return nil
}
