// Package engine runs one conversation: it sends user questions, rebuilds
// the assistant's streamed reply with a paced reveal, and keeps the message
// log, the citation set and the remote session in step.
//
// All conversation state is owned by a single goroutine. Inbound frames,
// user commands and timer ticks reach it as messages, so a timer scheduled
// for a cancelled turn can never write into a later one.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/campus-assistant/internal/citation"
	"github.com/capitalize-ai/campus-assistant/internal/messages"
	"github.com/capitalize-ai/campus-assistant/internal/model"
	"github.com/capitalize-ai/campus-assistant/internal/outbox"
	"github.com/capitalize-ai/campus-assistant/internal/reveal"
	"github.com/capitalize-ai/campus-assistant/internal/session"
	"github.com/capitalize-ai/campus-assistant/internal/wsconn"
	"github.com/capitalize-ai/campus-assistant/pkg/logger"
	"github.com/capitalize-ai/campus-assistant/pkg/tracing"
)

var (
	// ErrTurnInProgress is returned by Send while the previous turn is open.
	ErrTurnInProgress = errors.New("a reply is still streaming")
	// ErrNoTurn is returned by Cancel when no turn is open.
	ErrNoTurn = errors.New("no turn in progress")
	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("engine stopped")
	// ErrNotStarted is returned before Start.
	ErrNotStarted = errors.New("engine not started")
	// ErrEmptyQuestion is returned by Send for blank input.
	ErrEmptyQuestion = errors.New("question is empty")
	// ErrUnexpectedFrame is carried by UpdateRejected.
	ErrUnexpectedFrame = errors.New("frame does not fit the current turn")
	// ErrMalformedFrame is carried by UpdateRejected for frames missing
	// required fields.
	ErrMalformedFrame = errors.New("malformed frame")
)

// Sessions is the session manager used by the engine.
type Sessions interface {
	EnsureSession(ctx context.Context, firstQuestion string) (string, error)
	LoadLastSession(ctx context.Context) (*session.Snapshot, error)
	Resume(ctx context.Context, id string) (*session.Snapshot, error)
	AppendRemote(ctx context.Context, sessionID string, role model.Role, content string) error
	StartNewConversation(ctx context.Context) error
	Current() string
}

// Stream is an open assistant stream.
type Stream interface {
	Send(ctx context.Context, q model.Query) error
	Close() error
	Done() <-chan struct{}
}

// Dialer opens the assistant stream, delivering frames to h.
type Dialer func(ctx context.Context, h wsconn.Handler) (Stream, error)

// WebSocketDialer dials the assistant service at url.
func WebSocketDialer(url, token string, log *logger.Logger) Dialer {
	return func(ctx context.Context, h wsconn.Handler) (Stream, error) {
		c, err := wsconn.Dial(ctx, url, token, h, log)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Config holds reveal pacing.
type Config struct {
	TokenDelay   time.Duration
	SettleMargin time.Duration
}

// Deps are the collaborators of an engine. Persister, Mail and Outbox are
// optional.
type Deps struct {
	Sessions  Sessions
	Dial      Dialer
	Persister citation.Persister
	Mail      citation.MailSearcher
	Outbox    outbox.Outbox
	Logger    *logger.Logger
}

// Engine is one conversation.
type Engine struct {
	cfg      Config
	sessions Sessions
	dial     Dialer
	logger   *logger.Logger
	tracer   trace.Tracer

	store     *messages.Store
	citations *citation.Aggregator

	inbox     chan event
	persistCh chan persistJob
	quit      chan struct{}
	stopped   chan struct{}
	started   atomic.Bool
	stopOnce  sync.Once
	workers   sync.WaitGroup

	observersMu sync.RWMutex
	observers   []Observer

	streamMu sync.RWMutex
	stream   Stream

	state    atomic.Value
	turnOpen atomic.Bool

	baseCtx context.Context

	// Owned by the run goroutine.
	gen           uint64
	turnID        uint64
	turnSession   string
	turnStart     time.Time
	turnSpan      trace.Span
	queue         reveal.Queue
	buffer        strings.Builder
	revealing     bool
	revealTimer   *time.Timer
	finalizeTimer *time.Timer
	pending       *model.Answer
}

// New creates an engine. Call Start to connect.
func New(cfg Config, deps Deps) *Engine {
	log := logger.OrNop(deps.Logger).Named("engine")

	e := &Engine{
		cfg:       cfg,
		sessions:  deps.Sessions,
		dial:      deps.Dial,
		logger:    log,
		tracer:    tracing.Tracer("campus-assistant/engine"),
		store:     messages.NewStore(),
		inbox:     make(chan event, 64),
		persistCh: make(chan persistJob, 128),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
		baseCtx:   context.Background(),
	}
	e.state.Store(model.StateIdle)
	e.citations = citation.New(citation.Options{
		Persister: deps.Persister,
		Outbox:    deps.Outbox,
		Mail:      deps.Mail,
		OnFailure: func(sessionID string, c model.Citation, err error) {
			e.post(persistFailedEvent{sessionID: sessionID, err: fmt.Errorf("citation %q: %w", c.Subject, err)})
		},
	}, deps.Logger)
	return e
}

// OnUpdate registers an observer. Register observers before Start.
func (e *Engine) OnUpdate(o Observer) {
	e.observersMu.Lock()
	defer e.observersMu.Unlock()
	e.observers = append(e.observers, o)
}

// Start replays the last session, connects to the assistant and starts the
// engine goroutine. A failed replay is reported as UpdateLoadFailed and
// does not stop the engine; a failed connection does. When Start returns an
// error the engine is already stopped and cannot be started again.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("engine already started")
	}
	if err := e.start(ctx); err != nil {
		_ = e.Stop()
		return err
	}
	return nil
}

func (e *Engine) start(ctx context.Context) error {
	e.baseCtx = context.WithoutCancel(ctx)

	go e.run()
	e.workers.Add(1)
	go e.persistLoop()

	snap, err := e.sessions.LoadLastSession(ctx)
	switch {
	case err != nil:
		e.logger.Warn("failed to load last session", zap.Error(err))
		e.post(loadFailedEvent{err: err})
	case snap != nil:
		if err := e.request(ctx, func(reply chan error) event {
			return hydrateEvent{snap: snap, reply: reply}
		}); err != nil {
			return err
		}
	}

	stream, err := e.dial(ctx, wsconn.HandlerFunc(e.HandleFrame))
	if err != nil {
		e.logger.Error("failed to connect", zap.Error(err))
		return err
	}
	e.streamMu.Lock()
	e.stream = stream
	e.streamMu.Unlock()

	go func() {
		select {
		case <-stream.Done():
			e.post(disconnectedEvent{})
		case <-e.quit:
		}
	}()

	return nil
}

// Stop shuts the engine down, closing the stream and waiting for pending
// remote writes.
func (e *Engine) Stop() error {
	var err error
	e.stopOnce.Do(func() {
		close(e.quit)
		if e.started.Load() {
			<-e.stopped
		}

		e.streamMu.RLock()
		stream := e.stream
		e.streamMu.RUnlock()
		if stream != nil {
			err = stream.Close()
		}

		e.workers.Wait()
		e.citations.Wait()
	})
	return err
}

// HandleFrame queues an inbound frame for the engine goroutine.
func (e *Engine) HandleFrame(f model.Frame) {
	e.post(frameEvent{frame: f})
}

// Send starts a turn: it records the user message, makes sure a session
// exists and sends the question. It fails with ErrTurnInProgress while the
// previous reply is still open.
func (e *Engine) Send(ctx context.Context, question string) error {
	question = strings.TrimSpace(question)
	if question == "" {
		return ErrEmptyQuestion
	}
	if !e.started.Load() {
		return ErrNotStarted
	}

	reply := make(chan beginResult, 1)
	if !e.post(beginEvent{ctx: ctx, question: question, reply: reply}) {
		return ErrStopped
	}
	var turn uint64
	select {
	case res := <-reply:
		if res.err != nil {
			return res.err
		}
		turn = res.turn
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrStopped
	}

	sessionID, err := e.sessions.EnsureSession(ctx, question)
	if err != nil {
		e.post(turnFailedEvent{turn: turn, err: err})
		return err
	}
	e.post(bindSessionEvent{turn: turn, sessionID: sessionID})
	e.enqueuePersist(persistJob{sessionID: sessionID, role: model.RoleUser, content: question})

	e.streamMu.RLock()
	stream := e.stream
	e.streamMu.RUnlock()
	if stream == nil {
		e.post(turnFailedEvent{turn: turn, err: wsconn.ErrNotConnected})
		return wsconn.ErrNotConnected
	}

	if err := stream.Send(ctx, model.NewQuery(question, sessionID)); err != nil {
		e.logger.Warn("failed to send question", zap.String("session_id", sessionID), zap.Error(err))
		e.post(turnFailedEvent{turn: turn, err: err})
		return err
	}
	return nil
}

// Cancel abandons the open turn. The partial reply stays in the log marked
// superseded and any further frames for the turn are rejected.
func (e *Engine) Cancel(ctx context.Context) error {
	return e.request(ctx, func(reply chan error) event {
		return cancelEvent{reply: reply}
	})
}

// NewConversation clears the log and the citations and forgets the session
// id. The next Send creates a new session.
func (e *Engine) NewConversation(ctx context.Context) error {
	if err := e.request(ctx, func(reply chan error) event {
		return resetEvent{reply: reply}
	}); err != nil {
		return err
	}
	return e.sessions.StartNewConversation(ctx)
}

// Resume switches to a stored session and replays it.
func (e *Engine) Resume(ctx context.Context, sessionID string) error {
	snap, err := e.sessions.Resume(ctx, sessionID)
	if err != nil {
		return err
	}
	return e.request(ctx, func(reply chan error) event {
		return hydrateEvent{snap: snap, reply: reply}
	})
}

// Messages returns a copy of the conversation log.
func (e *Engine) Messages() []model.Message {
	return e.store.Messages()
}

// Citations returns a copy of the session's citations.
func (e *Engine) Citations() []model.Citation {
	return e.citations.Citations()
}

// State returns the current turn state.
func (e *Engine) State() model.StreamState {
	return e.state.Load().(model.StreamState)
}

// TurnOpen reports whether a turn is waiting for its reply.
func (e *Engine) TurnOpen() bool {
	return e.turnOpen.Load()
}

// SessionID returns the active session id.
func (e *Engine) SessionID() string {
	return e.sessions.Current()
}

func (e *Engine) post(ev event) bool {
	select {
	case <-e.quit:
		return false
	default:
	}
	select {
	case e.inbox <- ev:
		return true
	case <-e.quit:
		return false
	}
}

func (e *Engine) request(ctx context.Context, build func(reply chan error) event) error {
	if !e.started.Load() {
		return ErrNotStarted
	}
	reply := make(chan error, 1)
	if !e.post(build(reply)) {
		return ErrStopped
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrStopped
	}
}

func (e *Engine) emit(u Update) {
	e.observersMu.RLock()
	defer e.observersMu.RUnlock()
	for _, o := range e.observers {
		o(u)
	}
}

type persistJob struct {
	sessionID string
	role      model.Role
	content   string
}

func (e *Engine) enqueuePersist(job persistJob) {
	if job.sessionID == "" {
		e.logger.Warn("dropping message write without a session", zap.String("role", string(job.role)))
		return
	}
	select {
	case e.persistCh <- job:
	case <-e.quit:
	}
}

// persistLoop writes messages one at a time so the remote history keeps
// the local order.
func (e *Engine) persistLoop() {
	defer e.workers.Done()
	for {
		select {
		case job := <-e.persistCh:
			e.persist(job)
		case <-e.quit:
			for {
				select {
				case job := <-e.persistCh:
					e.persist(job)
				default:
					return
				}
			}
		}
	}
}

func (e *Engine) persist(job persistJob) {
	if err := e.sessions.AppendRemote(e.baseCtx, job.sessionID, job.role, job.content); err != nil {
		e.post(persistFailedEvent{sessionID: job.sessionID, err: err})
	}
}

func (e *Engine) endSpan(outcome string) {
	if e.turnSpan == nil {
		return
	}
	e.turnSpan.SetAttributes(attribute.String("turn.outcome", outcome))
	e.turnSpan.End()
	e.turnSpan = nil
}
