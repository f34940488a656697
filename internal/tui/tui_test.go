package tui

import (
	"context"
	"errors"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/clash/internal/domain"
	"github.com/joss/clash/internal/protocol"
)

type stubController struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (s *stubController) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "stop")
	return s.err
}

func (s *stubController) Continue(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "continue")
	return s.err
}

func send(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out, cmd
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func sized(t *testing.T, ctrl Controller) Model {
	t.Helper()
	m, _ := send(t, NewModel(ctrl), tea.WindowSizeMsg{Width: 100, Height: 30})
	return m
}

func event(t protocol.MessageType, payload any) EventMsg {
	return EventMsg{Env: protocol.NewEnvelope(t, payload)}
}

func TestViewBeforeSize(t *testing.T) {
	assert.Contains(t, NewModel(&stubController{}).View(), "Connecting")
}

func TestFollowsRound(t *testing.T) {
	m := sized(t, &stubController{})

	m, _ = send(t, m, event(protocol.MsgStatus, &protocol.StatusPayload{
		Status:     domain.StatusPreparing,
		Topic:      "Is water wet?",
		Mode:       domain.ModeDebate,
		Transcript: []domain.Turn{},
	}))
	assert.Equal(t, domain.StatusPreparing, m.status)
	assert.Contains(t, m.View(), "Is water wet?")

	m, _ = send(t, m, event(protocol.MsgDebateUpdate, &protocol.UpdatePayload{
		Round: 1, Phase: protocol.PhaseLeftThinking, LeftAgentID: "chatgpt", RightAgentID: "claude", RoundLimit: 2,
	}))
	assert.Equal(t, domain.StatusDebating, m.status)
	assert.Contains(t, m.View(), "ChatGPT is thinking")
	assert.Contains(t, m.View(), "round 1/2")

	m, _ = send(t, m, event(protocol.MsgDebateUpdate, &protocol.UpdatePayload{
		Round: 1, Phase: protocol.PhaseRightThinking, LeftAgentID: "chatgpt", RightAgentID: "claude",
		LeftResponse: "Yes.", RoundLimit: 2,
	}))
	m, _ = send(t, m, event(protocol.MsgDebateUpdate, &protocol.UpdatePayload{
		Round: 1, Phase: protocol.PhaseComplete, LeftAgentID: "chatgpt", RightAgentID: "claude",
		LeftResponse: "Yes.", RightResponse: "No.", RoundLimit: 2,
	}))
	require.Len(t, m.turns, 2)
	assert.Equal(t, domain.Left, m.turns[0].Side)
	assert.Equal(t, "No.", m.turns[1].Text)
	assert.Empty(t, m.thinking)

	// a repeated update does not duplicate turns
	m, _ = send(t, m, event(protocol.MsgDebateUpdate, &protocol.UpdatePayload{
		Round: 1, Phase: protocol.PhaseComplete, RightAgentID: "claude", RightResponse: "No.", RoundLimit: 2,
	}))
	assert.Len(t, m.turns, 2)

	m, _ = send(t, m, event(protocol.MsgDebateComplete, &protocol.CompletePayload{
		Transcript: m.turns, Reason: domain.EndRoundLimit,
	}))
	assert.Equal(t, domain.StatusCompleted, m.status)
	assert.Contains(t, m.View(), "complete (round_limit)")
}

func TestErrorEvent(t *testing.T) {
	m := sized(t, &stubController{})
	m, _ = send(t, m, event(protocol.MsgDebateError, &protocol.ErrorPayload{Error: "frame lost"}))
	assert.Equal(t, domain.StatusError, m.status)
	assert.Contains(t, m.View(), "frame lost")
}

func TestStopAndContinueKeys(t *testing.T) {
	ctrl := &stubController{}
	m := sized(t, ctrl)

	m, cmd := send(t, m, key("s"))
	assert.Nil(t, cmd)
	assert.Equal(t, "nothing to stop", m.err)

	m, _ = send(t, m, event(protocol.MsgStatus, &protocol.StatusPayload{Status: domain.StatusDebating}))
	m, cmd = send(t, m, key("s"))
	require.NotNil(t, cmd)
	m, _ = send(t, m, cmd())
	assert.Equal(t, "stop sent", m.notice)

	m, cmd = send(t, m, key("c"))
	assert.Nil(t, cmd)
	assert.Equal(t, "session is already running", m.err)

	m, _ = send(t, m, event(protocol.MsgStatus, &protocol.StatusPayload{Status: domain.StatusStopped}))
	ctrl.err = errors.New("cannot resume")
	m, cmd = send(t, m, key("c"))
	require.NotNil(t, cmd)
	m, _ = send(t, m, cmd())
	assert.Equal(t, "continue: cannot resume", m.err)

	assert.Equal(t, []string{"stop", "continue"}, ctrl.calls)
}

func TestQuit(t *testing.T) {
	m := sized(t, &stubController{})
	m, cmd := send(t, m, key("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Empty(t, m.View())
}

func TestStreamClosed(t *testing.T) {
	m := sized(t, &stubController{})
	m, _ = send(t, m, StreamClosedMsg{Err: errors.New("detached")})
	assert.True(t, m.closed)
	view := m.View()
	assert.Contains(t, view, "stream closed")
	assert.Contains(t, view, "detached")
}
