// Package tui is a live terminal view of one deliberation's message stream.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/arbiter/internal/event"
	"github.com/Iron-Ham/arbiter/internal/util"
)

// messageMsg carries one bus message into the model.
type messageMsg event.Message

// closedMsg signals that the subscription ended.
type closedMsg struct{}

// Model follows a contract's deliberation until it completes.
type Model struct {
	contractID string
	feed       <-chan event.Message
	messages   []event.Message
	spinner    spinner.Model

	width, height int
	done          bool
	succeeded     bool
	status        string
}

// New creates a model showing history and then following feed.
func New(contractID string, history []event.Message, feed <-chan event.Message) Model {
	m := Model{
		contractID: contractID,
		feed:       feed,
		spinner:    spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(Agent)),
	}
	for _, msg := range history {
		m = m.add(msg)
	}
	return m
}

// Done reports whether the deliberation finished.
func (m Model) Done() bool { return m.done }

// Succeeded reports whether it finished with a decision.
func (m Model) Succeeded() bool { return m.succeeded }

func waitForMessage(feed <-chan event.Message) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-feed
		if !ok {
			return closedMsg{}
		}
		return messageMsg(msg)
	}
}

// Init starts listening on the feed.
func (m Model) Init() tea.Cmd {
	if m.done {
		return tea.Quit
	}
	return tea.Batch(waitForMessage(m.feed), m.spinner.Tick)
}

// Update handles feed messages, resizes and quit keys.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case messageMsg:
		m = m.add(event.Message(msg))
		if m.done {
			return m, tea.Quit
		}
		return m, waitForMessage(m.feed)
	case closedMsg:
		m.done = true
		if m.status == "" {
			m.status = "stream closed"
		}
		return m, tea.Quit
	}
	return m, nil
}

// add appends msg and detects the terminal progress message.
func (m Model) add(msg event.Message) Model {
	m.messages = append(m.messages, msg)
	if msg.MessageType != event.TypeProgress || msg.Phase != event.PhaseCompleted {
		return m
	}
	if p, ok := Content(msg).(event.Progress); ok {
		m.done = true
		m.succeeded = p.Success != nil && *p.Success
		m.status = p.Message
	}
	return m
}

// View renders the header, the most recent messages that fit, and a footer.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(Title.Render("Deliberation " + m.contractID))
	b.WriteString("\n")

	visible := m.messages
	if m.height > 4 && len(visible) > m.height-4 {
		visible = visible[len(visible)-(m.height-4):]
	}
	for _, msg := range visible {
		b.WriteString(util.TruncateANSI(RenderMessage(msg), m.width))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	switch {
	case !m.done:
		b.WriteString(m.spinner.View() + " ")
		b.WriteString(Muted.Render(fmt.Sprintf("%d messages · q to detach", len(m.messages))))
	case m.succeeded:
		b.WriteString(Success.Render("done: " + m.status))
	default:
		b.WriteString(Failure.Render("ended: " + m.status))
	}
	b.WriteString("\n")
	return b.String()
}
