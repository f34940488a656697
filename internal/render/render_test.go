package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/joss/clash/internal/domain"
	"github.com/joss/clash/internal/protocol"
)

func sampleEntry() domain.HistoryEntry {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return domain.HistoryEntry{
		ID:        "01HX",
		SessionID: "01HX",
		Topic:     "Is water wet?",
		Mode:      domain.ModeDebate,
		Left:      "chatgpt",
		Right:     "claude",
		Status:    domain.StatusCompleted,
		EndReason: domain.EndRoundLimit,
		Rounds:    2,
		Transcript: []domain.Turn{
			{Round: 1, Side: domain.Left, SpeakerID: "chatgpt", Text: "Yes.", At: at},
			{Round: 1, Side: domain.Right, SpeakerID: "claude", Text: "No.", At: at},
			{Round: 2, Side: domain.Left, SpeakerID: "chatgpt", Text: "Still yes.", At: at},
		},
		CreatedAt: at,
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"md": FormatMarkdown, "Markdown": FormatMarkdown,
		"json": FormatJSON, "YAML": FormatYAML, "yml": FormatYAML,
	} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("pdf")
	assert.Error(t, err)
}

func TestExportMarkdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, sampleEntry(), FormatMarkdown))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "# Is water wet?\n"))
	assert.Contains(t, out, "- Agents: ChatGPT (left) vs Claude (right)")
	assert.Contains(t, out, "- Status: completed (round_limit)")
	assert.Equal(t, 1, strings.Count(out, "## Round 1"))
	assert.Equal(t, 1, strings.Count(out, "## Round 2"))
	assert.Less(t, strings.Index(out, "Yes."), strings.Index(out, "No."))
	assert.Less(t, strings.Index(out, "No."), strings.Index(out, "Still yes."))
}

func TestExportJSONAndYAML(t *testing.T) {
	e := sampleEntry()

	var js bytes.Buffer
	require.NoError(t, Export(&js, e, FormatJSON))
	var back domain.HistoryEntry
	require.NoError(t, json.Unmarshal(js.Bytes(), &back))
	assert.Equal(t, e.Topic, back.Topic)
	assert.Len(t, back.Transcript, 3)

	var ym bytes.Buffer
	require.NoError(t, Export(&ym, e, FormatYAML))
	assert.Contains(t, ym.String(), "end_reason: round_limit")
	var doc map[string]interface{}
	require.NoError(t, yaml.Unmarshal(ym.Bytes(), &doc))
	assert.Equal(t, "Is water wet?", doc["topic"])
}

func TestTranscriptPlain(t *testing.T) {
	r := New(false, 0)
	out := r.Transcript(sampleEntry().Transcript)
	assert.Contains(t, out, "[round 1] ChatGPT (left):\nYes.")
	assert.Contains(t, out, "[round 1] Claude (right):\nNo.")
	assert.Contains(t, out, "[round 2] ChatGPT (left):\nStill yes.")

	assert.Equal(t, "No turns yet\n", r.Transcript(nil))
}

func TestTranscriptPanes(t *testing.T) {
	r := New(true, 120)
	out := r.Transcript(sampleEntry().Transcript)
	assert.Contains(t, out, "Round 1")
	assert.Contains(t, out, "ChatGPT")
	assert.Contains(t, out, "Claude")
	assert.Contains(t, out, "Still yes.")
}

func TestStatusPlain(t *testing.T) {
	r := New(false, 0)
	out := r.Status(protocol.StatusPayload{
		Status:       domain.StatusError,
		CurrentRound: 2,
		Transcript:   sampleEntry().Transcript,
		SessionID:    "01HX",
		Error:        "boom",
	})
	assert.Equal(t, "status=error round=2 turns=3 session=01HX error=\"boom\"\n", out)
}

func TestEventRendering(t *testing.T) {
	r := New(false, 0)

	out := r.Event(protocol.NewEnvelope(protocol.MsgDebateUpdate, &protocol.UpdatePayload{
		Round: 1, Phase: protocol.PhaseLeftThinking, LeftAgentID: "chatgpt", RightAgentID: "claude", RoundLimit: 3,
	}))
	assert.Equal(t, "Round 1/3 · ChatGPT is thinking...\n", out)

	out = r.Event(protocol.NewEnvelope(protocol.MsgDebateUpdate, &protocol.UpdatePayload{
		Round: 1, Phase: protocol.PhaseRightThinking, LeftAgentID: "chatgpt", RightAgentID: "claude", LeftResponse: "Yes.",
	}))
	assert.Contains(t, out, "ChatGPT (left):\nYes.")
	assert.Contains(t, out, "Claude is thinking...")

	out = r.Event(protocol.NewEnvelope(protocol.MsgDebateComplete, &protocol.CompletePayload{
		Transcript: sampleEntry().Transcript, Reason: domain.EndNatural,
	}))
	assert.Equal(t, "Session complete (natural_end) after 3 turns\n", out)

	partial := domain.Turn{Round: 2, Side: domain.Left, SpeakerID: "chatgpt", Text: "I concede."}
	out = r.Event(protocol.NewEnvelope(protocol.MsgDebateComplete, &protocol.CompletePayload{
		Transcript: []domain.Turn{partial}, Reason: domain.EndNatural, PartialTurn: &partial,
	}))
	assert.Equal(t, "[round 2] ChatGPT (left):\nI concede.\n\nSession complete (natural_end) after 1 turns\n", out)

	out = r.Event(protocol.NewEnvelope(protocol.MsgDebateError, &protocol.ErrorPayload{Error: "no frame"}))
	assert.Equal(t, "error: no frame\n", out)

	out = r.Event(protocol.NewEnvelope(protocol.MsgModelsAvailable, &protocol.ModelsPayload{
		Side: domain.Left, AgentID: "chatgpt", Models: []domain.Model{{ID: "a", Name: "Fast", Selected: true}, {ID: "b", Name: "Deep"}},
	}))
	assert.Equal(t, "ChatGPT models (left): Fast*, Deep\n", out)
}

func TestStatusIcon(t *testing.T) {
	assert.Equal(t, "✓", StatusIcon(domain.StatusCompleted))
	assert.Equal(t, "●", StatusIcon(domain.StatusDebating))
	assert.Equal(t, "·", StatusIcon(domain.StatusIdle))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", Truncate("hello", 5))
	assert.Equal(t, "he...", Truncate("hello world", 5))
	assert.Equal(t, "héé", Truncate("héééé", 3))
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Header("history (%d)", 2)
	w.Item("%s %s", "a", "b")
	w.SubItem("%d%% literal", 100)
	w.Section("agents")
	w.Empty("none")
	assert.Equal(t, "history (2)\n───────────\n  a b\n    100% literal\n\nagents:\n(none)\n", buf.String())
}

func TestWrap(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		width int
		want  string
	}{
		{"fits", "hello world", 80, "hello world"},
		{"breaks", "hello world test", 10, "hello\nworld test"},
		{"keeps newlines", "line1\nline2", 80, "line1\nline2"},
		{"empty", "", 80, ""},
		{"no width", "test", 0, "test"},
		{"long word", "superlongword short", 5, "superlongword\nshort"},
		{"runes", "ééééé ééééé", 5, "ééééé\nééééé"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Wrap(tt.in, tt.width))
		})
	}
}

func TestPlainTranscriptWraps(t *testing.T) {
	r := New(false, 20)
	out := r.Transcript([]domain.Turn{{Round: 1, Side: domain.Left, SpeakerID: "chatgpt", Text: "water is wet because it makes things wet"}})
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "[round") {
			continue
		}
		assert.LessOrEqual(t, len([]rune(line)), 20, line)
	}
}
