package tui

import (
	"context"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/capitalize-ai/campus-assistant/internal/engine"
	"github.com/capitalize-ai/campus-assistant/internal/model"
)

const commandTimeout = 30 * time.Second

// updateMsg carries one engine update into the Bubble Tea loop.
type updateMsg struct{ update engine.Update }

// updatesClosedMsg is sent once the update channel is closed.
type updatesClosedMsg struct{}

// resultMsg reports the outcome of an engine call.
type resultMsg struct {
	op  string
	err error
}

// sessionsMsg carries the result of /sessions.
type sessionsMsg struct {
	sessions []model.SessionSummary
	err      error
}

// Bridge returns an engine observer that forwards updates into a channel
// read by the UI. The observer never blocks the engine: when the UI falls
// behind, updates are dropped and the next one re-renders from engine state.
func Bridge(buffer int) (engine.Observer, <-chan engine.Update) {
	ch := make(chan engine.Update, buffer)
	return func(u engine.Update) {
		select {
		case ch <- u:
		default:
		}
	}, ch
}

func waitForUpdate(ch <-chan engine.Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-ch
		if !ok {
			return updatesClosedMsg{}
		}
		return updateMsg{update: u}
	}
}

func (m *Model) call(op string, fn func(ctx context.Context) error) tea.Cmd {
	base := m.ctx
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(base, commandTimeout)
		defer cancel()
		return resultMsg{op: op, err: fn(ctx)}
	}
}

func (m *Model) sendCmd(question string) tea.Cmd {
	return m.call("send", func(ctx context.Context) error {
		return m.engine.Send(ctx, question)
	})
}

func (m *Model) listSessionsCmd() tea.Cmd {
	base := m.ctx
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(base, commandTimeout)
		defer cancel()
		list, err := m.sessions.ListSessions(ctx)
		return sessionsMsg{sessions: list, err: err}
	}
}

// runCommand handles a slash command typed into the input line.
func (m *Model) runCommand(line string) tea.Cmd {
	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]

	switch name {
	case "/quit", "/exit":
		m.quitting = true
		return tea.Quit
	case "/new":
		m.sessionList = nil
		return m.call("new", m.engine.NewConversation)
	case "/cancel":
		return m.call("cancel", m.engine.Cancel)
	case "/sessions":
		return m.listSessionsCmd()
	case "/resume":
		if len(args) != 1 {
			m.setError("usage: /resume <session id or list number>")
			return nil
		}
		id := m.resolveSession(args[0])
		m.sessionList = nil
		return m.call("resume", func(ctx context.Context) error {
			return m.engine.Resume(ctx, id)
		})
	case "/help":
		m.setStatus("/new  /cancel  /sessions  /resume <id|n>  /quit")
		return nil
	default:
		m.setError("unknown command " + name)
		return nil
	}
}

// resolveSession accepts a 1-based index into the last /sessions listing or
// a session id.
func (m *Model) resolveSession(arg string) string {
	if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(m.sessionList) {
		return m.sessionList[n-1].ID
	}
	return arg
}
