package citation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/capitalize-ai/campus-assistant/internal/model"
)

// MailSearcher looks up the mailbox document a citation points at.
type MailSearcher interface {
	SearchMail(ctx context.Context, q MailQuery) error
}

// MailQuery is a mailbox search derived from a Mail citation. Dates use the
// 2006/01/02 layout.
type MailQuery struct {
	Subject string
	From    string
	After   string
	Before  string
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"02 Jan 2006",
	"Mon, 02 Jan 2006 15:04:05 -0700",
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func formatDate(s string) string {
	if t, ok := parseDate(s); ok {
		return t.Format("2006/01/02")
	}
	return strings.TrimSpace(s)
}

// NewMailQuery builds the search for c. It returns false unless c is a Mail
// citation with a subject. Missing after/before dates are taken as the day
// before and the day after received_on.
func NewMailQuery(c model.Citation) (MailQuery, bool) {
	if c.Source != model.SourceMail || strings.TrimSpace(c.Subject) == "" {
		return MailQuery{}, false
	}

	q := MailQuery{
		Subject: strings.TrimSpace(c.Subject),
		From:    strings.TrimSpace(c.ReceivedBy),
		After:   formatDate(c.AfterDate),
		Before:  formatDate(c.BeforeDate),
	}

	if received, ok := parseDate(c.ReceivedOn); ok {
		day := time.Date(received.Year(), received.Month(), received.Day(), 0, 0, 0, 0, time.UTC)
		if q.After == "" {
			q.After = day.AddDate(0, 0, -1).Format("2006/01/02")
		}
		if q.Before == "" {
			q.Before = day.AddDate(0, 0, 1).Format("2006/01/02")
		}
	}

	return q, true
}

// String renders the query in mailbox search syntax.
func (q MailQuery) String() string {
	parts := []string{fmt.Sprintf("subject:%q", q.Subject)}
	if q.From != "" {
		parts = append(parts, "from:"+q.From)
	}
	if q.After != "" {
		parts = append(parts, "after:"+q.After)
	}
	if q.Before != "" {
		parts = append(parts, "before:"+q.Before)
	}
	return strings.Join(parts, " ")
}
