// Package tui is the terminal chat client. It renders the engine's message
// log and citation set and feeds scroll events to the follow controller.
package tui

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/capitalize-ai/campus-assistant/internal/engine"
	"github.com/capitalize-ai/campus-assistant/internal/model"
	"github.com/capitalize-ai/campus-assistant/internal/scroll"
)

// Engine is the conversation engine as seen by the UI. Send, Cancel,
// NewConversation and Resume wait on the engine goroutine and are only called
// from tea.Cmds; the accessors do not block.
type Engine interface {
	Send(ctx context.Context, question string) error
	Cancel(ctx context.Context) error
	NewConversation(ctx context.Context) error
	Resume(ctx context.Context, sessionID string) error
	Messages() []model.Message
	Citations() []model.Citation
	State() model.StreamState
	SessionID() string
}

// SessionLister lists the user's stored sessions.
type SessionLister interface {
	ListSessions(ctx context.Context) ([]model.SessionSummary, error)
}

// Options configures the UI.
type Options struct {
	Engine          Engine
	Sessions        SessionLister
	Updates         <-chan engine.Update
	ScrollThreshold float64
}

// Model is the Bubble Tea model of the chat client.
type Model struct {
	ctx      context.Context
	engine   Engine
	sessions SessionLister
	updates  <-chan engine.Update

	viewport viewport.Model
	input    textinput.Model
	scroll   *scroll.Controller

	messages    []model.Message
	citations   []model.Citation
	sessionList []model.SessionSummary
	state       model.StreamState
	status      string
	errText     string

	width, height int
	quitting      bool
}

// New creates the model. ctx bounds every engine call made by the UI.
func New(ctx context.Context, opts Options) *Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about campus…"
	ti.CharLimit = 4096
	ti.Focus()

	vp := viewport.New(80, 20)
	vp.MouseWheelEnabled = true

	return &Model{
		ctx:      ctx,
		engine:   opts.Engine,
		sessions: opts.Sessions,
		updates:  opts.Updates,
		viewport: vp,
		input:    ti,
		scroll:   scroll.NewController(opts.ScrollThreshold),
		state:    model.StateIdle,
	}
}

// Init starts listening for engine updates.
func (m *Model) Init() tea.Cmd {
	m.refresh()
	return tea.Batch(textinput.Blink, waitForUpdate(m.updates))
}

// Update handles one Bubble Tea message.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		m.recordScroll()
		return m, cmd

	case updateMsg:
		m.handleUpdate(msg.update)
		return m, waitForUpdate(m.updates)

	case updatesClosedMsg:
		return m, nil

	case resultMsg:
		m.handleResult(msg)
		return m, nil

	case sessionsMsg:
		if msg.err != nil {
			m.setError("could not list sessions: " + msg.err.Error())
			return m, nil
		}
		m.sessionList = msg.sessions
		if len(msg.sessions) == 0 {
			m.setStatus("no stored sessions")
		} else {
			m.setStatus("/resume <n> to open a session")
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "esc":
		return m, m.call("cancel", m.engine.Cancel)
	case "enter":
		return m, m.submit()
	case "up":
		m.viewport.LineUp(1)
		m.recordScroll()
		return m, nil
	case "down":
		m.viewport.LineDown(1)
		m.recordScroll()
		return m, nil
	case "pgup":
		m.viewport.ViewUp()
		m.recordScroll()
		return m, nil
	case "pgdown":
		m.viewport.ViewDown()
		m.recordScroll()
		return m, nil
	case "end":
		m.viewport.GotoBottom()
		m.recordScroll()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) submit() tea.Cmd {
	line := strings.TrimSpace(m.input.Value())
	if line == "" {
		return nil
	}
	m.input.Reset()
	m.errText = ""

	if strings.HasPrefix(line, "/") {
		return m.runCommand(line)
	}
	return m.sendCmd(line)
}

func (m *Model) handleUpdate(u engine.Update) {
	switch u.Kind {
	case engine.UpdateRouting:
		if u.Tool != "" {
			m.setStatus("looking up " + u.Tool + "…")
		}
	case engine.UpdateMessageFinalized:
		m.setStatus("")
	case engine.UpdateCitationsRevealed:
		m.setStatus("new source added")
	case engine.UpdatePersistenceFailed:
		m.setError("not saved yet, will retry: " + errText(u.Err))
	case engine.UpdateTurnFailed:
		m.setError("send failed: " + errText(u.Err))
	case engine.UpdateLoadFailed:
		m.setError("could not load the last session: " + errText(u.Err))
	case engine.UpdateDisconnected:
		m.setError("assistant disconnected")
	case engine.UpdateReset:
		m.scroll.Reset()
		m.setStatus("new conversation")
	case engine.UpdateHydrated:
		m.scroll.Reset()
		m.setStatus("resumed " + u.SessionID)
	}
	m.refresh()
}

func (m *Model) handleResult(r resultMsg) {
	if r.err == nil {
		return
	}
	switch {
	case errors.Is(r.err, engine.ErrTurnInProgress):
		m.setError("wait for the answer or /cancel")
	case errors.Is(r.err, engine.ErrNoTurn):
		m.setStatus("nothing to cancel")
	default:
		m.setError(r.op + ": " + r.err.Error())
	}
}

// refresh re-reads engine state, re-renders the log and scrolls to the end
// when the follow controller allows it.
func (m *Model) refresh() {
	m.messages = m.engine.Messages()
	m.citations = m.engine.Citations()
	m.state = m.engine.State()

	m.viewport.SetContent(m.renderMessages())

	streaming := m.state == model.StateStreaming
	if m.scroll.OnContentSizeChange(float64(m.viewport.TotalLineCount()), streaming) {
		m.viewport.GotoBottom()
		m.scroll.Follow(float64(m.viewport.YOffset))
	}
}

func (m *Model) recordScroll() {
	m.scroll.OnScroll(
		float64(m.viewport.YOffset),
		float64(m.viewport.TotalLineCount()),
		float64(m.viewport.Height),
	)
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height

	const reserved = 5
	vh := height - reserved
	if vh < 1 {
		vh = 1
	}
	m.viewport.Width = width
	m.viewport.Height = vh
	m.scroll.OnViewportResize(float64(vh))

	iw := width - 4
	if iw < 10 {
		iw = 10
	}
	m.input.Width = iw

	m.refresh()
}

func (m *Model) setStatus(s string) {
	m.status = s
	m.errText = ""
}

func (m *Model) setError(s string) {
	m.errText = s
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
