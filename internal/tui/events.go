package tui

import (
	"fmt"

	"github.com/joss/clash/internal/agent"
	"github.com/joss/clash/internal/domain"
	"github.com/joss/clash/internal/protocol"
)

// apply folds one event into the model.
func (m *Model) apply(env *protocol.Envelope) {
	switch env.Type {
	case protocol.MsgStatus:
		p, err := protocol.As[protocol.StatusPayload](env)
		if err != nil {
			return
		}
		m.status = p.Status
		m.topic = p.Topic
		m.mode = p.Mode
		m.round = p.CurrentRound
		m.roundLimit = p.RoundLimit
		m.turns = append([]domain.Turn(nil), p.Transcript...)
		m.thinking = ""
		m.err = p.Error

	case protocol.MsgDebateUpdate:
		p, err := protocol.As[protocol.UpdatePayload](env)
		if err != nil {
			return
		}
		m.status = domain.StatusDebating
		m.round = p.Round
		m.roundLimit = p.RoundLimit
		m.err = ""
		switch p.Phase {
		case protocol.PhaseLeftThinking:
			m.thinking = agent.Name(p.LeftAgentID)
		case protocol.PhaseRightThinking:
			if p.LeftResponse != "" {
				m.addTurn(domain.Turn{Round: p.Round, Side: domain.Left, SpeakerID: p.LeftAgentID, Text: p.LeftResponse})
			}
			m.thinking = agent.Name(p.RightAgentID)
		case protocol.PhaseComplete:
			m.addTurn(domain.Turn{Round: p.Round, Side: domain.Right, SpeakerID: p.RightAgentID, Text: p.RightResponse})
			m.thinking = ""
		}

	case protocol.MsgDebateComplete:
		p, err := protocol.As[protocol.CompletePayload](env)
		if err != nil {
			return
		}
		m.status = domain.StatusCompleted
		m.turns = append([]domain.Turn(nil), p.Transcript...)
		m.thinking = ""
		m.notice = fmt.Sprintf("complete (%s)", p.Reason)

	case protocol.MsgDebateError:
		p, err := protocol.As[protocol.ErrorPayload](env)
		if err != nil {
			return
		}
		m.status = domain.StatusError
		m.thinking = ""
		m.err = p.Error
	}
}

// addTurn appends t unless its round and side are already recorded.
func (m *Model) addTurn(t domain.Turn) {
	for _, have := range m.turns {
		if have.Round == t.Round && have.Side == t.Side {
			return
		}
	}
	m.turns = append(m.turns, t)
}
