package engine

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/campus-assistant/internal/messages"
	"github.com/capitalize-ai/campus-assistant/internal/model"
	"github.com/capitalize-ai/campus-assistant/internal/reveal"
	"github.com/capitalize-ai/campus-assistant/internal/session"
	"github.com/capitalize-ai/campus-assistant/pkg/metrics"
)

type event interface{}

type frameEvent struct{ frame model.Frame }

type beginEvent struct {
	ctx      context.Context
	question string
	reply    chan beginResult
}

type beginResult struct {
	turn uint64
	err  error
}

type bindSessionEvent struct {
	turn      uint64
	sessionID string
}

type turnFailedEvent struct {
	turn uint64
	err  error
}

type loadFailedEvent struct{ err error }

type revealTickEvent struct{ gen uint64 }

type finalizeEvent struct{ gen uint64 }

type cancelEvent struct{ reply chan error }

type resetEvent struct{ reply chan error }

type hydrateEvent struct {
	snap  *session.Snapshot
	reply chan error
}

type persistFailedEvent struct {
	sessionID string
	err       error
}

type disconnectedEvent struct{}

func (e *Engine) run() {
	defer close(e.stopped)
	for {
		select {
		case <-e.quit:
			e.resetReveal()
			e.endSpan("stopped")
			return
		case ev := <-e.inbox:
			e.handle(ev)
		}
	}
}

func (e *Engine) handle(ev event) {
	switch ev := ev.(type) {
	case frameEvent:
		e.handleFrame(ev.frame)
	case beginEvent:
		ev.reply <- e.beginTurn(ev.ctx, ev.question)
	case bindSessionEvent:
		if e.turnOpen.Load() && ev.turn == e.turnID {
			e.turnSession = ev.sessionID
			if e.turnSpan != nil {
				e.turnSpan.SetAttributes(attribute.String("session.id", ev.sessionID))
			}
		}
	case turnFailedEvent:
		if e.turnOpen.Load() && ev.turn == e.turnID {
			e.resetReveal()
			e.detachActive()
			e.closeTurn("failed")
			e.setState(model.StateIdle)
		}
		e.emit(Update{Kind: UpdateTurnFailed, Err: ev.err})
	case loadFailedEvent:
		e.emit(Update{Kind: UpdateLoadFailed, Err: ev.err})
	case revealTickEvent:
		if ev.gen != e.gen {
			return
		}
		e.revealing = false
		e.revealTimer = nil
		e.revealStep()
	case finalizeEvent:
		if ev.gen != e.gen {
			return
		}
		e.finalize()
	case cancelEvent:
		ev.reply <- e.cancelTurn()
	case resetEvent:
		e.clearConversation()
		e.emit(Update{Kind: UpdateReset})
		ev.reply <- nil
	case hydrateEvent:
		e.hydrate(ev.snap)
		ev.reply <- nil
	case persistFailedEvent:
		e.emit(Update{Kind: UpdatePersistenceFailed, SessionID: ev.sessionID, Err: ev.err})
	case disconnectedEvent:
		e.handleDisconnect()
	}
}

func (e *Engine) beginTurn(ctx context.Context, question string) beginResult {
	if e.turnOpen.Load() {
		return beginResult{err: ErrTurnInProgress}
	}

	e.resetReveal()
	e.turnID++
	e.turnOpen.Store(true)
	e.turnSession = ""
	e.turnStart = time.Now()
	_, e.turnSpan = e.tracer.Start(context.WithoutCancel(ctx), "engine.turn")
	e.setState(model.StateIdle)

	msg := e.store.AppendUser(question)
	e.emit(Update{Kind: UpdateMessageAppended, Message: msg})

	return beginResult{turn: e.turnID}
}

func (e *Engine) handleFrame(f model.Frame) {
	switch f.Status {
	case model.StatusRouting:
		e.handleRouting(f.CurrentTool)

	case model.StatusStreaming:
		if !e.turnOpen.Load() || e.pending != nil {
			e.reject(f.Status)
			return
		}
		e.enterStreaming()
		e.queue.Push(f.Chunk)
		e.kickReveal()

	case model.StatusDone:
		if f.Answer == nil {
			e.dropMalformed(f.Status, "done frame without an answer")
			return
		}
		if !e.turnOpen.Load() || e.pending != nil {
			e.reject(f.Status)
			return
		}
		e.enterStreaming()
		e.handleDone(*f.Answer)

	default:
		e.dropMalformed(f.Status, "unknown frame status")
	}
}

// handleRouting forces the turn back to IDLE. The turn itself stays open:
// the assistant streams a fresh reply after choosing its tool.
func (e *Engine) handleRouting(tool string) {
	e.resetReveal()
	e.detachActive()
	e.setState(model.StateIdle)
	e.emit(Update{Kind: UpdateRouting, Tool: tool})
	if tool != "" && e.turnSpan != nil {
		e.turnSpan.AddEvent("routing", trace.WithAttributes(attribute.String("tool", tool)))
	}
}

func (e *Engine) enterStreaming() {
	if e.State() == model.StateStreaming {
		return
	}
	msg, err := e.store.AppendAssistantEmpty()
	if err != nil {
		e.logger.Error("assistant message already active", zap.Error(err))
		return
	}
	e.setState(model.StateStreaming)
	e.emit(Update{Kind: UpdateMessageAppended, Message: msg})
}

// handleDone schedules the canonical answer. Tokens already revealed are
// kept when they are a prefix of the answer; the rest of the answer replaces
// whatever was still queued.
func (e *Engine) handleDone(a model.Answer) {
	answer := a.Answer
	revealed := e.buffer.String()

	e.queue.Clear()
	if strings.HasPrefix(answer, revealed) {
		e.queue.Push(answer[len(revealed):])
	}

	e.pending = &a
	delay := reveal.FinalizeDelay(answer, e.cfg.TokenDelay, e.cfg.SettleMargin)
	gen := e.gen
	e.finalizeTimer = time.AfterFunc(delay, func() {
		e.post(finalizeEvent{gen: gen})
	})

	e.kickReveal()
}

func (e *Engine) kickReveal() {
	if e.revealing || e.queue.Len() == 0 {
		return
	}
	e.revealStep()
}

// revealStep appends one token and schedules the next.
func (e *Engine) revealStep() {
	tok, ok := e.queue.Pop()
	if !ok {
		return
	}

	e.buffer.WriteString(tok)
	if msg, ok := e.store.MutateActiveText(messages.Append, tok); ok {
		metrics.RevealTokens.Inc()
		e.emit(Update{Kind: UpdateMessageUpdated, Message: msg})
	}

	if e.queue.Len() == 0 {
		return
	}
	e.revealing = true
	gen := e.gen
	e.revealTimer = time.AfterFunc(e.cfg.TokenDelay, func() {
		e.post(revealTickEvent{gen: gen})
	})
}

func (e *Engine) finalize() {
	answer := e.pending
	e.resetReveal()
	if answer == nil {
		return
	}

	citation := answer.Citation()
	if _, ok := e.store.MutateActiveText(messages.Replace, answer.Answer); !ok {
		e.logger.Warn("finalize without an active message")
	}
	msg, ok := e.store.FinalizeActive(citation)
	sessionID := e.turnSession

	e.closeTurn("completed")
	e.setState(model.StateComplete)
	if ok {
		e.emit(Update{Kind: UpdateMessageFinalized, Message: msg})
	}

	if citation != nil && e.citations.Observe(e.baseCtx, sessionID, *citation) {
		e.emit(Update{Kind: UpdateCitationsRevealed, SessionID: sessionID, Citations: e.citations.Citations()})
	}

	e.enqueuePersist(persistJob{sessionID: sessionID, role: model.RoleAssistant, content: answer.Answer})
}

func (e *Engine) cancelTurn() error {
	if !e.turnOpen.Load() {
		return ErrNoTurn
	}
	e.resetReveal()
	e.detachActive()
	e.closeTurn("cancelled")
	e.setState(model.StateIdle)
	return nil
}

func (e *Engine) handleDisconnect() {
	e.logger.Warn("assistant stream disconnected")
	if e.turnOpen.Load() && e.pending == nil {
		e.resetReveal()
		e.detachActive()
		e.closeTurn("disconnected")
		e.setState(model.StateIdle)
	}
	e.emit(Update{Kind: UpdateDisconnected})
}

func (e *Engine) clearConversation() {
	e.resetReveal()
	if e.turnOpen.Load() {
		e.closeTurn("reset")
	}
	e.store.Reset()
	e.citations.Reset()
	e.setState(model.StateIdle)
}

func (e *Engine) hydrate(snap *session.Snapshot) {
	e.clearConversation()
	for _, h := range snap.Messages {
		if !h.Role.Valid() {
			e.logger.Warn("skipping stored message with unknown role", zap.String("role", string(h.Role)))
			continue
		}
		e.store.AppendHistory(h.Role, h.Content)
	}
	e.citations.Hydrate(snap.Citations)

	e.logger.Info("session replayed",
		zap.String("session_id", snap.Session.ID),
		zap.Int("messages", e.store.Len()),
		zap.Int("citations", e.citations.Len()),
	)
	e.emit(Update{Kind: UpdateHydrated, SessionID: snap.Session.ID, Citations: e.citations.Citations()})
}

// resetReveal invalidates every scheduled tick and drops queued tokens.
func (e *Engine) resetReveal() {
	e.gen++
	if e.revealTimer != nil {
		e.revealTimer.Stop()
		e.revealTimer = nil
	}
	if e.finalizeTimer != nil {
		e.finalizeTimer.Stop()
		e.finalizeTimer = nil
	}
	e.revealing = false
	e.queue.Clear()
	e.buffer.Reset()
	e.pending = nil
}

func (e *Engine) detachActive() {
	if msg, ok := e.store.DetachActive(); ok {
		e.emit(Update{Kind: UpdateMessageSuperseded, Message: msg})
	}
}

func (e *Engine) closeTurn(outcome string) {
	e.turnOpen.Store(false)
	metrics.TurnDuration.WithLabelValues(outcome).Observe(time.Since(e.turnStart).Seconds())
	e.endSpan(outcome)
}

func (e *Engine) setState(s model.StreamState) {
	if e.State() == s {
		return
	}
	e.state.Store(s)
	e.emit(Update{Kind: UpdateState, State: s})
}

func (e *Engine) reject(status model.FrameStatus) {
	state := e.State()
	metrics.RejectedFrames.WithLabelValues(string(status), string(state)).Inc()
	e.logger.Warn("rejecting out-of-turn frame",
		zap.String("status", string(status)),
		zap.String("state", string(state)),
		zap.Bool("turn_open", e.turnOpen.Load()),
	)
	e.emit(Update{Kind: UpdateRejected, Status: status, State: state, Err: ErrUnexpectedFrame})
}

// dropMalformed discards a frame that did not come through the frame parser
// and cannot be applied. The open turn, if any, is left as it was.
func (e *Engine) dropMalformed(status model.FrameStatus, reason string) {
	metrics.FrameParseFailures.Inc()
	e.logger.Warn("dropping malformed frame",
		zap.String("status", string(status)),
		zap.String("reason", reason),
	)
	e.emit(Update{Kind: UpdateRejected, Status: status, State: e.State(), Err: ErrMalformedFrame})
}
