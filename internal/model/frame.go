package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FrameStatus tags an inbound assistant frame.
type FrameStatus string

const (
	StatusRouting   FrameStatus = "routing"
	StatusStreaming FrameStatus = "STREAMING"
	StatusDone      FrameStatus = "done"
)

// ErrMalformedFrame is returned by ParseFrame for frames the engine cannot use.
var ErrMalformedFrame = errors.New("malformed frame")

// Query is the outbound frame sent for each user question.
type Query struct {
	Question  string  `json:"question"`
	SessionID *string `json:"session_id"`
}

// NewQuery builds a query; an empty session id is sent as null.
func NewQuery(question, sessionID string) Query {
	q := Query{Question: question}
	if sessionID != "" {
		q.SessionID = &sessionID
	}
	return q
}

// Answer is the final answer object carried by a done frame.
type Answer struct {
	Answer        string       `json:"answer"`
	Source        string       `json:"source,omitempty"`
	Subject       string       `json:"subject,omitempty"`
	ReceivedOn    string       `json:"received_on,omitempty"`
	ReceivedBy    string       `json:"received_by,omitempty"`
	AfterDate     string       `json:"after_date,omitempty"`
	BeforeDate    string       `json:"before_date,omitempty"`
	HasAttachment Flag         `json:"has_attachment,omitempty"`
	Attachments   []Attachment `json:"attachments,omitempty"`
}

// Citation returns the citation carried by the answer, or nil when the
// answer has no source.
func (a Answer) Citation() *Citation {
	if a.Source == "" {
		return nil
	}
	return &Citation{
		Source:        a.Source,
		Subject:       a.Subject,
		ReceivedOn:    a.ReceivedOn,
		ReceivedBy:    a.ReceivedBy,
		AfterDate:     a.AfterDate,
		BeforeDate:    a.BeforeDate,
		HasAttachment: a.HasAttachment,
		Attachments:   append([]Attachment(nil), a.Attachments...),
	}
}

// Frame is an inbound assistant frame.
type Frame struct {
	Status      FrameStatus `json:"status"`
	CurrentTool string      `json:"current_tool,omitempty"`
	Chunk       string      `json:"chunk,omitempty"`
	Answer      *Answer     `json:"answer,omitempty"`
}

// ParseFrame decodes and validates one inbound frame.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch f.Status {
	case StatusRouting, StatusStreaming:
	case StatusDone:
		if f.Answer == nil {
			return Frame{}, fmt.Errorf("%w: done frame without answer", ErrMalformedFrame)
		}
	default:
		return Frame{}, fmt.Errorf("%w: unknown status %q", ErrMalformedFrame, f.Status)
	}

	return f, nil
}
