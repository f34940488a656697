package prompt

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/clash/internal/domain"
)

func baseRequest() Request {
	return Request{
		Mode:       domain.ModeDebate,
		Side:       domain.Left,
		Topic:      "Pineapple belongs on pizza",
		Self:       "ChatGPT",
		Opponent:   "Claude",
		Round:      1,
		Turn:       1,
		RoundLimit: 3,
	}
}

func TestBuildStartsWithTurnMarker(t *testing.T) {
	for turn := 1; turn <= 6; turn++ {
		req := baseRequest()
		req.Turn = turn
		req.Round = (turn + 1) / 2
		if turn%2 == 0 {
			req.Side = domain.Right
			req.OpponentText = "previous"
		}
		kind := Followup
		if turn == 1 {
			kind = Opening
		} else if turn == 2 {
			kind = OpeningWithContext
		}

		text, err := Build(kind, req)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(text, fmt.Sprintf("[Turn %d]\n", turn)), "turn %d: %q", turn, text)
		assert.Contains(t, text, fmt.Sprintf("Begin your response with \"%d.\" on its own line.", turn))
	}
}

func TestBuildDebateWording(t *testing.T) {
	req := baseRequest()
	text, err := BuildOpening(req)
	require.NoError(t, err)
	assert.Contains(t, text, "Your position is: FOR the topic.")
	assert.Contains(t, text, `"Pineapple belongs on pizza"`)
	assert.NotContains(t, text, "---")

	req.Side = domain.Right
	req.Turn = 2
	req.Self, req.Opponent = "Claude", "ChatGPT"
	req.OpponentText = "It is delicious."
	text, err = BuildOpeningWithContext(req)
	require.NoError(t, err)
	assert.Contains(t, text, "Your position is: AGAINST the topic.")
	assert.Contains(t, text, "Turn #1 (ChatGPT, FOR the topic):\n---\nIt is delicious.\n---")

	req.Round = 2
	req.Turn = 4
	text, err = BuildFollowup(req)
	require.NoError(t, err)
	assert.Contains(t, text, "We are in Round 2 of our debate")
	assert.Contains(t, text, "Turn #3 (ChatGPT, FOR the topic)")
}

func TestBuildIsDeterministic(t *testing.T) {
	req := baseRequest()
	req.Persona = "pirate"
	req.Setting = "A crowded harbor tavern"
	req.AutoEnd = true

	for _, m := range Modes() {
		req.Mode = m.Mode
		for _, kind := range []Kind{Opening, OpeningWithContext, Followup} {
			a, err := Build(kind, req)
			require.NoError(t, err)
			b, err := Build(kind, req)
			require.NoError(t, err)
			assert.Equal(t, a, b, "%s/%s", m.Mode, kind)
		}
	}
}

func TestInjectionOrder(t *testing.T) {
	req := baseRequest()
	plain, err := BuildOpening(req)
	require.NoError(t, err)

	req.Setting = "A late-night radio show"
	req.Persona = "noir"
	req.AutoEnd = true
	text, err := BuildOpening(req)
	require.NoError(t, err)

	desc, _ := PersonaDescription("noir")
	want := plain +
		"\n\nSetting: A late-night radio show" +
		"\n\nPersona: respond as " + desc + ". Maintain this persona for your entire response." +
		"\n\nIf you judge that this exchange has reached its natural conclusion, write " + Sentinel +
		" on its own line at the end of your response. Do not write it otherwise."
	assert.Equal(t, want, text)
}

func TestInjectionsAreNoOpsWhenAbsent(t *testing.T) {
	req := baseRequest()
	plain, err := BuildOpening(req)
	require.NoError(t, err)

	req.Persona = "None"
	req.Setting = "   "
	req.AutoEnd = false
	text, err := BuildOpening(req)
	require.NoError(t, err)
	assert.Equal(t, plain, text)
	assert.NotContains(t, text, Sentinel)
}

func TestFreeTextPersona(t *testing.T) {
	req := baseRequest()
	req.Persona = "a grumpy medieval blacksmith"
	text, err := BuildOpening(req)
	require.NoError(t, err)
	assert.Contains(t, text, "Persona: respond as a grumpy medieval blacksmith.")
}

func TestFinalRoundVariant(t *testing.T) {
	for _, mode := range []domain.Mode{domain.ModeTruthSeeking, domain.ModeCollaborative, domain.ModeWritersRoom} {
		t.Run(string(mode), func(t *testing.T) {
			req := baseRequest()
			req.Mode = mode
			req.Side = domain.Right
			req.OpponentText = "draft"
			req.RoundLimit = 3

			req.Round = 2
			req.Turn = 4
			text, err := BuildFollowup(req)
			require.NoError(t, err)
			assert.NotContains(t, text, FinalMarker)
			assert.False(t, IsFinalRound(req))

			req.Round = 3
			req.Turn = 6
			text, err = BuildFollowup(req)
			require.NoError(t, err)
			assert.Contains(t, text, `"`+FinalMarker+`"`)
			assert.Contains(t, text, "final")
			assert.Contains(t, text, "\n---\ndraft\n---")
			assert.True(t, IsFinalRound(req))
		})
	}
}

func TestFinalRoundOnlyForConvergentModes(t *testing.T) {
	req := baseRequest()
	req.Round = 3
	req.RoundLimit = 3
	req.Turn = 5
	req.OpponentText = "x"

	text, err := BuildFollowup(req)
	require.NoError(t, err)
	assert.NotContains(t, text, FinalMarker)
	assert.False(t, IsFinalRound(req))
}

func TestFinalRoundWithoutOpponentText(t *testing.T) {
	req := baseRequest()
	req.Mode = domain.ModeTruthSeeking
	req.RoundLimit = 1

	text, err := BuildOpening(req)
	require.NoError(t, err)
	assert.Contains(t, text, FinalMarker)
	assert.NotContains(t, text, "---")
}

func TestRoleDependentWording(t *testing.T) {
	req := baseRequest()
	req.Mode = domain.ModeInterview
	req.Round = 2
	req.Turn = 3
	req.OpponentText = "answer"
	text, err := BuildFollowup(req)
	require.NoError(t, err)
	assert.Contains(t, text, "next single question")

	req.Side = domain.Right
	req.Turn = 4
	text, err = BuildFollowup(req)
	require.NoError(t, err)
	assert.Contains(t, text, "Answer the question candidly")
}

func TestBuildErrors(t *testing.T) {
	req := baseRequest()
	req.Mode = "karaoke"
	_, err := BuildOpening(req)
	assert.True(t, errors.Is(err, ErrUnknownMode))

	req = baseRequest()
	req.Turn = 0
	_, err = BuildOpening(req)
	assert.Error(t, err)
}

func TestModesTable(t *testing.T) {
	all := Modes()
	require.Len(t, all, 10)
	convergent := 0
	for _, m := range all {
		assert.True(t, ValidMode(m.Mode))
		assert.NotEmpty(t, m.LeftRole)
		assert.NotEmpty(t, m.RightRole)
		if m.Convergent {
			convergent++
		}
	}
	assert.Equal(t, 3, convergent)
	assert.False(t, ValidMode("karaoke"))
}

func TestPersonas(t *testing.T) {
	all := Personas()
	require.Len(t, all, 10)
	assert.Equal(t, "academic", all[0].Key)

	desc, ok := PersonaDescription("PIRATE")
	assert.True(t, ok)
	assert.Contains(t, desc, "pirate")

	_, ok = PersonaDescription("")
	assert.False(t, ok)
}

func TestSentinel(t *testing.T) {
	raw := "1.\nWe have reached agreement.\n\n" + Sentinel + "\n"
	assert.True(t, HasSentinel(raw))

	stripped := StripSentinel(raw)
	assert.Equal(t, "1.\nWe have reached agreement.", stripped)
	assert.False(t, HasSentinel(stripped))

	inline := "Done here " + Sentinel + " bye"
	assert.Equal(t, "Done here  bye", StripSentinel(inline))

	assert.Equal(t, "  untouched  ", StripSentinel("  untouched  "))
}
