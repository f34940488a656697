package tui

import (
	"fmt"
	"strings"

	"github.com/joss/clash/internal/render"
)

// View renders the viewer.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return fmt.Sprintf("\n  %s Connecting...", m.spinner.View())
	}

	var b strings.Builder
	b.WriteString(m.renderHeader() + "\n\n")
	b.WriteString(m.viewport.View() + "\n")
	b.WriteString(m.renderActivity() + "\n")
	b.WriteString(m.renderStatus())
	return b.String()
}

func (m Model) renderHeader() string {
	title := titleStyle.Render("⚔ clash")
	if m.topic == "" {
		return title + infoStyle.Render("no session")
	}
	topic := render.Truncate(m.topic, max(m.width-30, 10))
	return title + topic + "  " + infoStyle.Render(string(m.mode))
}

func (m Model) renderTranscript() string {
	if len(m.turns) == 0 {
		return infoStyle.Render("  No turns yet")
	}
	return render.New(true, m.width).Transcript(m.turns)
}

func (m Model) renderActivity() string {
	switch {
	case m.err != "":
		return errorStyle.Render("✗ " + m.err)
	case m.thinking != "":
		return fmt.Sprintf("%s %s", m.spinner.View(), thinkingStyle.Render(m.thinking+" is thinking..."))
	case m.notice != "":
		return successStyle.Render("✓ " + m.notice)
	}
	return ""
}

func (m Model) renderStatus() string {
	parts := []string{string(m.status)}
	if m.round > 0 {
		if m.roundLimit > 0 {
			parts = append(parts, fmt.Sprintf("round %d/%d", m.round, m.roundLimit))
		} else {
			parts = append(parts, fmt.Sprintf("round %d", m.round))
		}
	}
	parts = append(parts, fmt.Sprintf("turns:%d", len(m.turns)))
	if m.closed {
		parts = append(parts, "stream closed")
	}
	parts = append(parts, "s: stop │ c: continue │ j/k: scroll │ g/G: top/bottom │ q: quit")

	return statusBarStyle.Width(m.width).Render(strings.Join(parts, " │ "))
}
