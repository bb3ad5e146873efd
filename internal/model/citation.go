package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// SourceMail is the citation source kind for mailbox documents.
const SourceMail = "Mail"

// Attachment is a file attached to a cited document.
type Attachment struct {
	FileName string `json:"file_name"`
	Link     string `json:"link"`
}

// Citation is a structured reference to a source document backing an answer.
type Citation struct {
	Source        string       `json:"source"`
	Subject       string       `json:"subject,omitempty"`
	ReceivedOn    string       `json:"received_on,omitempty"`
	ReceivedBy    string       `json:"received_by,omitempty"`
	AfterDate     string       `json:"after_date,omitempty"`
	BeforeDate    string       `json:"before_date,omitempty"`
	HasAttachment Flag         `json:"has_attachment"`
	Attachments   []Attachment `json:"attachments,omitempty"`
}

// CitationKey identifies a citation within a session.
type CitationKey struct {
	Subject    string
	ReceivedOn string
}

// Key returns the dedupe key of c.
func (c Citation) Key() CitationKey {
	return CitationKey{Subject: c.Subject, ReceivedOn: c.ReceivedOn}
}

// Clone returns a deep copy of c.
func (c Citation) Clone() Citation {
	if c.Attachments != nil {
		c.Attachments = append([]Attachment(nil), c.Attachments...)
	}
	return c
}

// Flag is a boolean carried on the wire as 0 or 1. It also accepts JSON
// booleans and numeric strings.
type Flag bool

// MarshalJSON encodes the flag as 0 or 1.
func (f Flag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte("1"), nil
	}
	return []byte("0"), nil
}

// UnmarshalJSON decodes 0/1, true/false, "0"/"1" and null.
func (f *Flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "null", "0", "false", `""`:
		*f = false
		return nil
	case "1", "true":
		*f = true
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("invalid flag %q", s)
		}
		*f = Flag(b)
		return nil
	}

	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid flag %s", data)
	}
	*f = n != 0
	return nil
}
