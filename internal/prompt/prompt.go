// Package prompt builds the outbound message for every turn of a session.
//
// Builders are pure: identical requests produce byte-identical text. Each mode
// contributes only its base wording; turn numbering and the setting, persona and
// auto-end injections are applied uniformly afterwards, in that order.
package prompt

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/joss/clash/internal/domain"
)

// Sentinel is the literal an agent writes on its own line to end the exchange.
const Sentinel = "[[END_OF_EXCHANGE]]"

// FinalMarker prefixes the synthesis requested in the final round of convergent modes.
const FinalMarker = "FINAL VERDICT:"

// ErrUnknownMode is returned for modes outside the table.
var ErrUnknownMode = errors.New("unknown mode")

// Kind selects which builder of a mode is used.
type Kind int

const (
	// Opening is the first message of the left agent.
	Opening Kind = iota
	// OpeningWithContext is the right agent's first message, answering left's opening.
	OpeningWithContext
	// Followup answers the opponent's latest message in round ≥ 2, or finishes an interrupted round.
	Followup
)

func (k Kind) String() string {
	switch k {
	case Opening:
		return "opening"
	case OpeningWithContext:
		return "opening_with_context"
	case Followup:
		return "followup"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Request carries every input of a builder.
type Request struct {
	Mode  domain.Mode
	Side  domain.Side
	Topic string
	// Self and Opponent are display names.
	Self     string
	Opponent string
	// OpponentText is the message being answered (empty for Opening).
	OpponentText string
	Round        int
	// Turn is the 1-based ordinal of this message within the session.
	Turn int
	// RoundLimit is the effective limit used to detect the final round.
	RoundLimit int
	Persona    string
	Setting    string
	AutoEnd    bool
}

// data is what mode templates see.
type data struct {
	Request
	Role         string
	OpponentRole string
	PrevTurn     int
}

// Build returns the message text for kind.
func Build(kind Kind, req Request) (string, error) {
	m, ok := modes[req.Mode]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, req.Mode)
	}
	if req.Turn < 1 {
		return "", fmt.Errorf("turn must be >= 1, got %d", req.Turn)
	}

	tmpl := m.opening
	switch {
	case IsFinalRound(req):
		tmpl = m.final
	case kind == OpeningWithContext:
		tmpl = m.withContext
	case kind == Followup:
		tmpl = m.followup
	}

	d := data{
		Request:      req,
		Role:         m.roles[sideIndex(req.Side)],
		OpponentRole: m.roles[sideIndex(req.Side.Other())],
		PrevTurn:     req.Turn - 1,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("render %s/%s: %w", req.Mode, kind, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[Turn %d]\n\n", req.Turn)
	sb.WriteString(strings.TrimSpace(buf.String()))
	fmt.Fprintf(&sb, "\n\nThis is Turn #%d. Begin your response with \"%d.\" on its own line.", req.Turn, req.Turn)

	text := sb.String()
	for _, inject := range injections {
		text = inject(text, req)
	}
	return text, nil
}

// BuildOpening builds the left agent's first message.
func BuildOpening(req Request) (string, error) {
	return Build(Opening, req)
}

// BuildOpeningWithContext builds the right agent's first message.
func BuildOpeningWithContext(req Request) (string, error) {
	return Build(OpeningWithContext, req)
}

// BuildFollowup builds every later message.
func BuildFollowup(req Request) (string, error) {
	return Build(Followup, req)
}

// IsFinalRound reports whether req falls on the final round of a convergent mode.
func IsFinalRound(req Request) bool {
	m, ok := modes[req.Mode]
	return ok && m.final != nil && req.RoundLimit > 0 && req.Round == req.RoundLimit
}

func sideIndex(s domain.Side) int {
	if s == domain.Right {
		return 1
	}
	return 0
}

// ─────────────────────────────────────────────────────────────────────────────
// Injections
// ─────────────────────────────────────────────────────────────────────────────

// injections run in order after the base text.
var injections = []func(string, Request) string{
	injectSetting,
	injectPersona,
	injectAutoEnd,
}

func injectSetting(text string, req Request) string {
	setting := strings.TrimSpace(req.Setting)
	if setting == "" {
		return text
	}
	return text + "\n\nSetting: " + setting
}

func injectPersona(text string, req Request) string {
	desc, ok := PersonaDescription(req.Persona)
	if !ok {
		return text
	}
	return text + "\n\nPersona: respond as " + desc + ". Maintain this persona for your entire response."
}

func injectAutoEnd(text string, req Request) string {
	if !req.AutoEnd {
		return text
	}
	return text + "\n\nIf you judge that this exchange has reached its natural conclusion, write " +
		Sentinel + " on its own line at the end of your response. Do not write it otherwise."
}

// ─────────────────────────────────────────────────────────────────────────────
// Sentinel
// ─────────────────────────────────────────────────────────────────────────────

// HasSentinel reports whether a raw reply signals a natural end.
func HasSentinel(text string) bool {
	return strings.Contains(text, Sentinel)
}

// StripSentinel removes every sentinel occurrence and the blank space it leaves.
func StripSentinel(text string) string {
	if !HasSentinel(text) {
		return text
	}
	lines := strings.Split(strings.ReplaceAll(text, Sentinel, ""), "\n")
	out := lines[:0]
	for _, l := range lines {
		out = append(out, strings.TrimRight(l, " \t"))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
