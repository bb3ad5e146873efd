// Package outbox queues session writes that failed and retries them in the
// background until the session service accepts them.
package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/capitalize-ai/campus-assistant/internal/model"
)

// ErrFull is returned when an in-memory outbox cannot take more entries.
var ErrFull = errors.New("outbox is full")

// Kind is the type of pending write.
type Kind string

const (
	KindMessage  Kind = "message"
	KindMetadata Kind = "metadata"
)

// Entry is one pending write to the session service.
type Entry struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	SessionID string          `json:"session_id"`
	Role      model.Role      `json:"role,omitempty"`
	Content   string          `json:"content,omitempty"`
	Citation  *model.Citation `json:"citation,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// MessageEntry builds a pending add-message write.
func MessageEntry(sessionID string, role model.Role, content string) Entry {
	return Entry{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Kind:      KindMessage,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// MetadataEntry builds a pending metadata write.
func MetadataEntry(sessionID string, c model.Citation) Entry {
	c = c.Clone()
	return Entry{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Kind:      KindMetadata,
		SessionID: sessionID,
		Citation:  &c,
		CreatedAt: time.Now(),
	}
}

// Outbox accepts failed writes for later delivery.
type Outbox interface {
	Enqueue(ctx context.Context, e Entry) error
}

// SettleFunc is called once an entry leaves the outbox. err is nil when the
// entry was delivered and the last delivery error when it was dropped.
type SettleFunc func(e Entry, err error)

// Settler is implemented by outboxes that report settled entries.
type Settler interface {
	OnSettle(f SettleFunc)
}

type settleHooks struct {
	mu    sync.RWMutex
	hooks []SettleFunc
}

// OnSettle registers f. It may be called while the outbox runs.
func (h *settleHooks) OnSettle(f SettleFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, f)
}

func (h *settleHooks) settled(e Entry, err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, f := range h.hooks {
		f(e, err)
	}
}

// Deliverer performs the write described by an entry.
type Deliverer interface {
	Deliver(ctx context.Context, e Entry) error
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, e Entry) error

// Deliver calls f.
func (f DelivererFunc) Deliver(ctx context.Context, e Entry) error {
	return f(ctx, e)
}

// SessionWriter is the part of the session service client the outbox needs.
type SessionWriter interface {
	AddMessage(ctx context.Context, sessionID string, role model.Role, content string) error
	UpdateMetadata(ctx context.Context, sessionID string, c model.Citation) error
}

// WriterDeliverer delivers entries through a SessionWriter. Errors for
// which isPermanent returns true stop further retries.
func WriterDeliverer(w SessionWriter, isPermanent func(error) bool) Deliverer {
	return DelivererFunc(func(ctx context.Context, e Entry) error {
		var err error
		switch e.Kind {
		case KindMessage:
			err = w.AddMessage(ctx, e.SessionID, e.Role, e.Content)
		case KindMetadata:
			if e.Citation == nil {
				return Permanent(errors.New("metadata entry without citation"))
			}
			err = w.UpdateMetadata(ctx, e.SessionID, *e.Citation)
		default:
			return Permanent(errors.New("unknown outbox entry kind " + string(e.Kind)))
		}
		if err != nil && isPermanent != nil && isPermanent(err) {
			return Permanent(err)
		}
		return err
	})
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

// Discard is an Outbox that drops every entry.
type Discard struct{}

// Enqueue drops e.
func (Discard) Enqueue(context.Context, Entry) error { return nil }
