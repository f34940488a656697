package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joss/clash/internal/agent"
	"github.com/joss/clash/internal/domain"
)

// Format is a transcript export format.
type Format string

const (
	FormatMarkdown Format = "md"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
)

// ParseFormat accepts md, markdown, json, yaml and yml.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "md", "markdown":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want md, json or yaml)", s)
	}
}

// Export writes e to w in format f.
func Export(w io.Writer, e domain.HistoryEntry, f Format) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(e)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(e); err != nil {
			return err
		}
		return enc.Close()
	case FormatMarkdown:
		_, err := io.WriteString(w, Markdown(e))
		return err
	default:
		return fmt.Errorf("unknown export format %q", f)
	}
}

// Markdown renders e as a readable document.
func Markdown(e domain.HistoryEntry) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# %s\n\n", e.Topic)
	fmt.Fprintf(&sb, "- Mode: %s\n", e.Mode)
	fmt.Fprintf(&sb, "- Agents: %s (left) vs %s (right)\n", agent.Name(e.Left), agent.Name(e.Right))
	if e.EndReason != "" {
		fmt.Fprintf(&sb, "- Status: %s (%s)\n", e.Status, e.EndReason)
	} else {
		fmt.Fprintf(&sb, "- Status: %s\n", e.Status)
	}
	fmt.Fprintf(&sb, "- Rounds: %d\n", e.Rounds)
	if !e.CreatedAt.IsZero() {
		fmt.Fprintf(&sb, "- Date: %s\n", e.CreatedAt.UTC().Format(time.RFC3339))
	}

	round := 0
	for _, t := range e.Transcript {
		if t.Round != round {
			round = t.Round
			fmt.Fprintf(&sb, "\n## Round %d\n", round)
		}
		fmt.Fprintf(&sb, "\n### %s\n\n%s\n", agent.Name(t.SpeakerID), strings.TrimSpace(t.Text))
	}
	return sb.String()
}
