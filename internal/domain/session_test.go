package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Status Tests ---

func TestStatusMeta(t *testing.T) {
	tests := []struct {
		status   Status
		active   bool
		terminal bool
	}{
		{StatusIdle, false, false},
		{StatusPreparing, true, false},
		{StatusDebating, true, false},
		{StatusStopped, false, true},
		{StatusCompleted, false, true},
		{StatusError, false, true},
		{Status("bogus"), false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.active, tt.status.Active())
			assert.Equal(t, tt.terminal, tt.status.Terminal())
		})
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusIdle, StatusPreparing))
	assert.True(t, CanTransition(StatusPreparing, StatusDebating))
	assert.True(t, CanTransition(StatusDebating, StatusCompleted))
	assert.True(t, CanTransition(StatusCompleted, StatusDebating), "continue after natural end")
	assert.True(t, CanTransition(StatusDebating, StatusPreparing), "supersede")

	assert.False(t, CanTransition(StatusIdle, StatusDebating))
	assert.False(t, CanTransition(StatusStopped, StatusDebating))
	assert.False(t, CanTransition(StatusError, StatusDebating))
	assert.False(t, CanTransition(StatusCompleted, StatusError))
}

func TestSideOther(t *testing.T) {
	assert.Equal(t, Right, Left.Other())
	assert.Equal(t, Left, Right.Other())
	assert.True(t, Left.Valid())
	assert.False(t, Side("middle").Valid())
}

// --- Session Tests ---

func sampleSession() *Session {
	return &Session{
		Status:       StatusDebating,
		LeftAgentID:  "chatgpt",
		RightAgentID: "claude",
		LeftPersona:  "pirate",
		RightModel:   "opus",
		CurrentRound: 2,
		Transcript: []Turn{
			{Round: 1, Side: Left, SpeakerID: "chatgpt", Text: "L1"},
			{Round: 1, Side: Right, SpeakerID: "claude", Text: "R1"},
			{Round: 2, Side: Left, SpeakerID: "chatgpt", Text: "L2"},
		},
	}
}

func TestSessionAccessors(t *testing.T) {
	s := sampleSession()

	assert.Equal(t, "chatgpt", s.AgentID(Left))
	assert.Equal(t, "claude", s.AgentID(Right))
	assert.Equal(t, "pirate", s.Persona(Left))
	assert.Equal(t, "", s.Persona(Right))
	assert.Equal(t, "opus", s.ModelID(Right))
}

func TestNextTurnNumber(t *testing.T) {
	s := sampleSession()
	assert.Equal(t, 4, s.NextTurnNumber())

	s.Transcript = nil
	assert.Equal(t, 1, s.NextTurnNumber())
}

func TestLastText(t *testing.T) {
	s := sampleSession()

	text, ok := s.LastText(Left)
	assert.True(t, ok)
	assert.Equal(t, "L2", text)

	text, ok = s.LastText(Right)
	assert.True(t, ok)
	assert.Equal(t, "R1", text)

	_, ok = (&Session{}).LastText(Left)
	assert.False(t, ok)
}

func TestRoundsCompleted(t *testing.T) {
	assert.Equal(t, 1, sampleSession().RoundsCompleted())
}

func TestEffectiveLimit(t *testing.T) {
	s := &Session{}
	assert.Equal(t, 50, s.EffectiveLimit(50))
	s.RoundLimit = 3
	assert.Equal(t, 3, s.EffectiveLimit(50))
}

func TestResumable(t *testing.T) {
	s := sampleSession()
	assert.False(t, s.Resumable())

	s.Status = StatusCompleted
	s.EndReason = EndRoundLimit
	assert.False(t, s.Resumable())

	s.EndReason = EndNatural
	assert.True(t, s.Resumable())
}

func TestCloneIsDeep(t *testing.T) {
	s := sampleSession()
	s.PartialTurn = &Turn{Round: 2, Side: Left, Text: "L2"}

	c := s.Clone()
	c.Transcript[0].Text = "changed"
	c.PartialTurn.Text = "changed"

	assert.Equal(t, "L1", s.Transcript[0].Text)
	assert.Equal(t, "L2", s.PartialTurn.Text)
	assert.Nil(t, (*Session)(nil).Clone())
}

func TestSessionValidate(t *testing.T) {
	require.NoError(t, sampleSession().Validate())

	bad := sampleSession()
	bad.Status = "weird"
	assert.Error(t, bad.Validate())

	bad = sampleSession()
	bad.Transcript = append(bad.Transcript, Turn{Round: 1, Side: Right})
	assert.ErrorContains(t, bad.Validate(), "round decreases")

	bad = sampleSession()
	bad.Transcript[0].Side = "up"
	assert.ErrorContains(t, bad.Validate(), "invalid side")
}

func TestNewHistoryEntry(t *testing.T) {
	s := sampleSession()
	s.ID = "sess"
	s.Topic = "tabs vs spaces"
	s.Mode = ModeDebate
	s.Status = StatusStopped
	s.EndReason = EndStopped
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	h := NewHistoryEntry("h1", s, at)

	assert.Equal(t, "h1", h.ID)
	assert.Equal(t, "sess", h.SessionID)
	assert.Equal(t, "chatgpt", h.Left)
	assert.Equal(t, EndStopped, h.EndReason)
	assert.Equal(t, 2, h.Rounds)
	assert.Len(t, h.Transcript, 3)
	assert.Equal(t, at, h.CreatedAt)

	h.Transcript[0].Text = "x"
	assert.Equal(t, "L1", s.Transcript[0].Text)
}
