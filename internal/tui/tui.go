// Package tui provides a Bubble Tea viewer for a running session.
package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/joss/clash/internal/domain"
	"github.com/joss/clash/internal/protocol"
)

var (
	accent = lipgloss.Color("212")
	muted  = lipgloss.Color("245")
	good   = lipgloss.Color("78")
	bad    = lipgloss.Color("203")
	bar    = lipgloss.Color("237")

	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(accent).Padding(0, 1)
	infoStyle      = lipgloss.NewStyle().Foreground(muted)
	thinkingStyle  = infoStyle.Italic(true)
	successStyle   = lipgloss.NewStyle().Foreground(good)
	errorStyle     = lipgloss.NewStyle().Foreground(bad)
	statusBarStyle = infoStyle.Background(bar).Padding(0, 1)
)

const commandTimeout = 10 * time.Second

// Controller sends commands to the orchestrator.
type Controller interface {
	Stop(ctx context.Context) error
	Continue(ctx context.Context) error
}

// Stream delivers events until ctx ends or the stream closes.
type Stream func(ctx context.Context, fn func(*protocol.Envelope)) error

// Messages
type (
	// EventMsg carries one orchestrator event.
	EventMsg struct{ Env *protocol.Envelope }
	// StreamClosedMsg reports the end of the event stream.
	StreamClosedMsg struct{ Err error }

	commandDoneMsg struct {
		action string
		err    error
	}
)

// Model is the session viewer.
type Model struct {
	ctrl Controller

	ready    bool
	quitting bool
	width    int
	height   int

	viewport viewport.Model
	spinner  spinner.Model

	topic      string
	mode       domain.Mode
	status     domain.Status
	round      int
	roundLimit int
	turns      []domain.Turn
	thinking   string
	notice     string
	err        string
	closed     bool
}

// NewModel creates a viewer that sends commands through ctrl.
func NewModel(ctrl Controller) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(accent)

	return Model{ctrl: ctrl, spinner: s, status: domain.StatusIdle}
}

// Run shows the viewer until the user quits or ctx ends.
func Run(ctx context.Context, ctrl Controller, stream Stream) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewModel(ctrl), tea.WithAltScreen(), tea.WithContext(ctx))
	go func() {
		err := stream(ctx, func(env *protocol.Envelope) { p.Send(EventMsg{Env: env}) })
		p.Send(StreamClosedMsg{Err: err})
	}()

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		return m.handleWindowSize(msg)

	case EventMsg:
		m.apply(msg.Env)
		m.refresh()
		return m, nil

	case StreamClosedMsg:
		m.closed = true
		m.thinking = ""
		if msg.Err != nil {
			m.err = msg.Err.Error()
		}
		return m, nil

	case commandDoneMsg:
		if msg.err != nil {
			m.err = fmt.Sprintf("%s: %v", msg.action, msg.err)
		} else {
			m.err = ""
			m.notice = msg.action + " sent"
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q", "esc":
		m.quitting = true
		return m, tea.Quit

	case "s":
		if !m.status.Active() {
			m.err = "nothing to stop"
			return m, nil
		}
		return m, m.command("stop", m.ctrl.Stop)

	case "c":
		if m.status.Active() {
			m.err = "session is already running"
			return m, nil
		}
		return m, m.command("continue", m.ctrl.Continue)

	case "g":
		m.viewport.GotoTop()
		return m, nil

	case "G":
		m.viewport.GotoBottom()
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) command(action string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return commandDoneMsg{action: action, err: fn(ctx)}
	}
}

func (m Model) handleWindowSize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height

	headerHeight := 2
	statusHeight := 2
	vpHeight := msg.Height - headerHeight - statusHeight
	if vpHeight < 3 {
		vpHeight = 3
	}

	if !m.ready {
		m.viewport = viewport.New(msg.Width, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = msg.Width
		m.viewport.Height = vpHeight
	}
	m.refresh()
	return m, nil
}

// refresh re-renders the transcript and follows the tail.
func (m *Model) refresh() {
	if !m.ready {
		return
	}
	atBottom := m.viewport.AtBottom() || m.viewport.TotalLineCount() == 0
	m.viewport.SetContent(m.renderTranscript())
	if atBottom {
		m.viewport.GotoBottom()
	}
}
