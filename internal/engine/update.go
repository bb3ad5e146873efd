package engine

import (
	"github.com/capitalize-ai/campus-assistant/internal/model"
)

// UpdateKind identifies what changed.
type UpdateKind int

const (
	// UpdateMessageAppended: a message was added to the log.
	UpdateMessageAppended UpdateKind = iota
	// UpdateMessageUpdated: the streaming message's text grew.
	UpdateMessageUpdated
	// UpdateMessageFinalized: the streaming message now holds the canonical answer.
	UpdateMessageFinalized
	// UpdateMessageSuperseded: an unfinished message was detached.
	UpdateMessageSuperseded
	// UpdateState: the turn state changed.
	UpdateState
	// UpdateRouting: the assistant is selecting a tool.
	UpdateRouting
	// UpdateCitationsRevealed: a new citation was added.
	UpdateCitationsRevealed
	// UpdatePersistenceFailed: a remote write failed and was queued for retry.
	UpdatePersistenceFailed
	// UpdateRejected: a frame arrived that the current turn cannot accept.
	UpdateRejected
	// UpdateReset: the conversation was cleared.
	UpdateReset
	// UpdateHydrated: a stored session was replayed.
	UpdateHydrated
	// UpdateDisconnected: the assistant stream closed.
	UpdateDisconnected
	// UpdateTurnFailed: a send could not be completed.
	UpdateTurnFailed
	// UpdateLoadFailed: the last session could not be replayed.
	UpdateLoadFailed
)

var updateKindNames = map[UpdateKind]string{
	UpdateMessageAppended:   "message_appended",
	UpdateMessageUpdated:    "message_updated",
	UpdateMessageFinalized:  "message_finalized",
	UpdateMessageSuperseded: "message_superseded",
	UpdateState:             "state",
	UpdateRouting:           "routing",
	UpdateCitationsRevealed: "citations_revealed",
	UpdatePersistenceFailed: "persistence_failed",
	UpdateRejected:          "rejected",
	UpdateReset:             "reset",
	UpdateHydrated:          "hydrated",
	UpdateDisconnected:      "disconnected",
	UpdateTurnFailed:        "turn_failed",
	UpdateLoadFailed:        "load_failed",
}

func (k UpdateKind) String() string {
	if s, ok := updateKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Update is a change notification sent to observers. Only the fields
// relevant to Kind are set.
type Update struct {
	Kind      UpdateKind
	Message   model.Message
	State     model.StreamState
	Tool      string
	Status    model.FrameStatus
	SessionID string
	Citations []model.Citation
	Err       error
}

// Observer receives updates on the engine goroutine, in order. It must not
// block and must not call Send, Cancel, NewConversation or Resume directly.
type Observer func(Update)
