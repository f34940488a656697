package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"

	"github.com/joss/clash/internal/agent"
	"github.com/joss/clash/internal/domain"
	"github.com/joss/clash/internal/protocol"
)

// sideBySide is the narrowest terminal that gets two panes per round.
const sideBySide = 100

// Renderer formats sessions and live events for a terminal.
type Renderer struct {
	pretty bool
	width  int
}

// New creates a renderer. pretty enables color and panes; width is the
// terminal width, 0 when unknown.
func New(pretty bool, width int) *Renderer {
	return &Renderer{pretty: pretty, width: width}
}

func agentColor(id string) lipgloss.Color {
	if info, err := agent.Lookup(id); err == nil {
		return lipgloss.Color(info.Color)
	}
	return lipgloss.Color("#888888")
}

// Status formats a snapshot.
func (r *Renderer) Status(p protocol.StatusPayload) string {
	var sb strings.Builder

	if r.pretty {
		sb.WriteString(color.CyanString("Clash Status\n"))
		sb.WriteString(strings.Repeat("─", 40) + "\n")
		fmt.Fprintf(&sb, "  Status:  %s %s\n", StatusIcon(p.Status), r.statusColor(p.Status))
		if p.SessionID != "" {
			fmt.Fprintf(&sb, "  Session: %s\n", p.SessionID)
			fmt.Fprintf(&sb, "  Topic:   %s\n", p.Topic)
			fmt.Fprintf(&sb, "  Mode:    %s\n", p.Mode)
			fmt.Fprintf(&sb, "  Agents:  %s vs %s\n", agent.Name(p.LeftAgentID), agent.Name(p.RightAgentID))
			fmt.Fprintf(&sb, "  Round:   %s\n", roundOf(p.CurrentRound, p.RoundLimit))
			fmt.Fprintf(&sb, "  Turns:   %d\n", len(p.Transcript))
		}
		if p.EndReason != "" {
			fmt.Fprintf(&sb, "  Ended:   %s\n", p.EndReason)
		}
		if p.Error != "" {
			fmt.Fprintf(&sb, "  Error:   %s\n", color.RedString(p.Error))
		}
	} else {
		fmt.Fprintf(&sb, "status=%s round=%d turns=%d", p.Status, p.CurrentRound, len(p.Transcript))
		if p.SessionID != "" {
			fmt.Fprintf(&sb, " session=%s", p.SessionID)
		}
		if p.EndReason != "" {
			fmt.Fprintf(&sb, " reason=%s", p.EndReason)
		}
		if p.Error != "" {
			fmt.Fprintf(&sb, " error=%q", p.Error)
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func (r *Renderer) statusColor(s domain.Status) string {
	switch s {
	case domain.StatusCompleted:
		return color.GreenString(string(s))
	case domain.StatusError:
		return color.RedString(string(s))
	case domain.StatusPreparing, domain.StatusDebating:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}

func roundOf(round, limit int) string {
	if limit > 0 {
		return fmt.Sprintf("%d/%d", round, limit)
	}
	return fmt.Sprintf("%d", round)
}

// Transcript formats turns grouped by round.
func (r *Renderer) Transcript(turns []domain.Turn) string {
	if len(turns) == 0 {
		return "No turns yet\n"
	}

	var sb strings.Builder
	for i := 0; i < len(turns); {
		round := turns[i].Round
		var pair []domain.Turn
		for i < len(turns) && turns[i].Round == round {
			pair = append(pair, turns[i])
			i++
		}
		sb.WriteString(r.Round(round, pair))
	}
	return sb.String()
}

// Round formats the turns of one round, side by side when the terminal is
// wide enough.
func (r *Renderer) Round(round int, turns []domain.Turn) string {
	var sb strings.Builder

	if !r.pretty {
		for _, t := range turns {
			fmt.Fprintf(&sb, "[round %d] %s (%s):\n%s\n\n", round, agent.Name(t.SpeakerID), t.Side, Wrap(t.Text, r.width))
		}
		return sb.String()
	}

	sb.WriteString(color.HiBlackString("── Round %d ──", round) + "\n")
	if r.width >= sideBySide && len(turns) == 2 {
		w := r.width/2 - 2
		sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, r.pane(turns[0], w), r.pane(turns[1], w)))
		sb.WriteString("\n")
		return sb.String()
	}
	for _, t := range turns {
		sb.WriteString(r.pane(t, r.width-2))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (r *Renderer) pane(t domain.Turn, width int) string {
	c := agentColor(t.SpeakerID)
	title := lipgloss.NewStyle().Bold(true).Foreground(c).Render(agent.Name(t.SpeakerID))
	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(c).
		Padding(0, 1)
	if width > 4 {
		style = style.Width(width)
	}
	return style.Render(title + "\n" + t.Text)
}

// Event formats one live event. Unknown types render as nothing.
func (r *Renderer) Event(env *protocol.Envelope) string {
	switch env.Type {
	case protocol.MsgStatus:
		p, err := protocol.As[protocol.StatusPayload](env)
		if err != nil {
			return ""
		}
		return r.Status(*p)

	case protocol.MsgDebateUpdate:
		p, err := protocol.As[protocol.UpdatePayload](env)
		if err != nil {
			return ""
		}
		return r.update(p)

	case protocol.MsgDebateComplete:
		p, err := protocol.As[protocol.CompletePayload](env)
		if err != nil {
			return ""
		}
		var lead string
		if t := p.PartialTurn; t != nil {
			lead = r.Round(t.Round, []domain.Turn{*t})
		}
		line := fmt.Sprintf("Session complete (%s) after %d turns", p.Reason, len(p.Transcript))
		if r.pretty {
			line = color.GreenString(line)
		}
		return lead + line + "\n"

	case protocol.MsgDebateError:
		p, err := protocol.As[protocol.ErrorPayload](env)
		if err != nil {
			return ""
		}
		if r.pretty {
			return color.RedString("✗ %s", p.Error) + "\n"
		}
		return "error: " + p.Error + "\n"

	case protocol.MsgModelsAvailable:
		p, err := protocol.As[protocol.ModelsPayload](env)
		if err != nil {
			return ""
		}
		names := make([]string, 0, len(p.Models))
		for _, m := range p.Models {
			name := m.Name
			if m.Selected {
				name += "*"
			}
			names = append(names, name)
		}
		if len(names) == 0 {
			names = append(names, "(none)")
		}
		return fmt.Sprintf("%s models (%s): %s\n", agent.Name(p.AgentID), p.Side, strings.Join(names, ", "))
	}
	return ""
}

func (r *Renderer) update(p *protocol.UpdatePayload) string {
	var sb strings.Builder
	thinking := func(id string) {
		line := fmt.Sprintf("Round %s · %s is thinking...", roundOf(p.Round, p.RoundLimit), agent.Name(id))
		if r.pretty {
			line = color.HiBlackString(line)
		}
		sb.WriteString(line + "\n")
	}

	switch p.Phase {
	case protocol.PhaseLeftThinking:
		thinking(p.LeftAgentID)
	case protocol.PhaseRightThinking:
		if p.LeftResponse != "" {
			sb.WriteString(r.Round(p.Round, []domain.Turn{
				{Round: p.Round, Side: domain.Left, SpeakerID: p.LeftAgentID, Text: p.LeftResponse},
			}))
		}
		thinking(p.RightAgentID)
	case protocol.PhaseComplete:
		sb.WriteString(r.Round(p.Round, []domain.Turn{
			{Round: p.Round, Side: domain.Right, SpeakerID: p.RightAgentID, Text: p.RightResponse},
		}))
	}
	return sb.String()
}
