package prompt

import (
	"sort"
	"text/template"

	"github.com/joss/clash/internal/domain"
)

// modeSpec is the wording of one mode. Final is set only for convergent modes.
type modeSpec struct {
	Name        string
	Description string
	Roles       [2]string // left, right
	Opening     string
	WithContext string
	Followup    string
	Final       string
}

type compiledMode struct {
	spec        modeSpec
	roles       [2]string
	opening     *template.Template
	withContext *template.Template
	followup    *template.Template
	final       *template.Template
}

// quote renders the message being answered.
const quote = `{{define "quote"}}Turn #{{.PrevTurn}} ({{.Opponent}}, {{.OpponentRole}}):
---
{{.OpponentText}}
---{{end}}`

var funcs = template.FuncMap{
	"marker": func() string { return FinalMarker },
}

var specs = map[domain.Mode]modeSpec{
	domain.ModeDebate: {
		Name:        "Debate",
		Description: "Two sides argue for and against the topic",
		Roles:       [2]string{"FOR the topic", "AGAINST the topic"},
		Opening: `You are participating in a structured debate against {{.Opponent}}. Your position is: {{.Role}}.

The debate topic is: "{{.Topic}}"

Present your opening argument. Be concise but thorough (2-3 paragraphs). Address the topic directly and present your strongest points.`,
		WithContext: `You are participating in a structured debate against {{.Opponent}}. Your position is: {{.Role}}.

The debate topic is: "{{.Topic}}"

{{template "quote" .}}

Respond to their points while presenting your own opening argument. Be concise (2-3 paragraphs).`,
		Followup: `We are in Round {{.Round}} of our debate on: "{{.Topic}}". Your position is: {{.Role}}.

{{template "quote" .}}

Address their specific points, present counter-arguments and strengthen your position. Be concise (2-3 paragraphs).`,
	},

	domain.ModeConversation: {
		Name:        "Conversation",
		Description: "A relaxed, curious exchange of views",
		Roles:       [2]string{"conversation opener", "conversation partner"},
		Opening: `You are having a friendly, open-ended conversation with {{.Opponent}} about: "{{.Topic}}"

Share your honest first thoughts and end with something your partner can pick up on. Keep it natural and under 200 words.`,
		WithContext: `You are having a friendly, open-ended conversation with {{.Opponent}} about: "{{.Topic}}"

{{template "quote" .}}

Reply as you would in a real conversation: react to what they said, add your own angle and keep the exchange going. Keep it under 200 words.`,
		Followup: `Our conversation about "{{.Topic}}" continues (Round {{.Round}}).

{{template "quote" .}}

Respond naturally. Build on their point or gently push back, and feel free to take the topic somewhere new. Keep it under 200 words.`,
	},

	domain.ModeRoast: {
		Name:        "Roast battle",
		Description: "Comedic trash talk, good-natured and sharp",
		Roles:       [2]string{"opening roaster", "counter-roaster"},
		Opening: `Welcome to a roast battle against {{.Opponent}}. The theme is: "{{.Topic}}"

Deliver your opening roast of {{.Opponent}}. Be witty and playful. Punch at their quirks, never at protected traits. 3-5 punchlines.`,
		WithContext: `Welcome to a roast battle against {{.Opponent}}. The theme is: "{{.Topic}}"

{{template "quote" .}}

Fire back. Riff on their jokes, then land your own. 3-5 punchlines.`,
		Followup: `Roast battle, Round {{.Round}}. Theme: "{{.Topic}}"

{{template "quote" .}}

Top that. Call back to earlier burns where it lands. 3-5 punchlines.`,
	},

	domain.ModeInterview: {
		Name:        "Interview",
		Description: "Left interviews, right is the guest",
		Roles:       [2]string{"interviewer", "guest"},
		Opening: `You are the interviewer. Your guest is {{.Opponent}} and the subject is: "{{.Topic}}"

Introduce the subject in one or two sentences and ask your first question. Ask one question at a time.`,
		WithContext: `You are the guest being interviewed by {{.Opponent}} about: "{{.Topic}}"

{{template "quote" .}}

Answer the question candidly and in depth. Do not ask questions back unless clarification is truly needed.`,
		Followup: `Interview on "{{.Topic}}", Round {{.Round}}. You are the {{.Role}}.

{{template "quote" .}}

{{if eq .Side "left"}}Follow up on the most interesting part of that answer with your next single question.{{else}}Answer the question candidly and in depth.{{end}}`,
	},

	domain.ModeStorytelling: {
		Name:        "Collaborative story",
		Description: "Both agents write one story, alternating passages",
		Roles:       [2]string{"first storyteller", "second storyteller"},
		Opening: `You and {{.Opponent}} are writing a story together, one passage each. The premise is: "{{.Topic}}"

Write the opening passage (150-250 words). Establish the setting and a character, and end on a hook.`,
		WithContext: `You and {{.Opponent}} are writing a story together, one passage each. The premise is: "{{.Topic}}"

{{template "quote" .}}

Continue the story directly from where it stops (150-250 words). Keep continuity and introduce a complication.`,
		Followup: `Our story ("{{.Topic}}") continues, Round {{.Round}}.

{{template "quote" .}}

Write the next passage (150-250 words), continuing seamlessly. Keep the characters consistent and move the plot forward.`,
	},

	domain.ModePhilosophical: {
		Name:        "Socratic dialogue",
		Description: "A questioner probes, a respondent defends and refines",
		Roles:       [2]string{"questioner", "respondent"},
		Opening: `You are the questioner in a Socratic dialogue with {{.Opponent}} on: "{{.Topic}}"

Pose an opening question that exposes the central assumption of the topic. Ask probing questions only.`,
		WithContext: `You are the respondent in a Socratic dialogue with {{.Opponent}} on: "{{.Topic}}"

{{template "quote" .}}

State your position clearly and answer the question. Be honest about what you are unsure of.`,
		Followup: `Socratic dialogue on "{{.Topic}}", Round {{.Round}}. You are the {{.Role}}.

{{template "quote" .}}

{{if eq .Side "left"}}Examine their answer. Ask the follow-up question that tests its weakest premise.{{else}}Answer thoughtfully and refine your position where the question reveals a weakness.{{end}}`,
	},

	domain.ModeTruthSeeking: {
		Name:        "Truth-seeking",
		Description: "Both sides converge on the most defensible answer",
		Roles:       [2]string{"first investigator", "second investigator"},
		Opening: `You and {{.Opponent}} are working together to find the most accurate answer to: "{{.Topic}}"

Give your best current answer, the evidence behind it and your confidence level. Flag what would change your mind.`,
		WithContext: `You and {{.Opponent}} are working together to find the most accurate answer to: "{{.Topic}}"

{{template "quote" .}}

Evaluate their answer. Point out errors or gaps, concede what is right and give your own best answer with a confidence level.`,
		Followup: `Truth-seeking on "{{.Topic}}", Round {{.Round}} of {{.RoundLimit}}.

{{template "quote" .}}

Narrow the disagreement. State what you now both agree on, what remains disputed and why.`,
		Final: `Truth-seeking on "{{.Topic}}": this is the final round.
{{if .OpponentText}}
{{template "quote" .}}
{{end}}
Give your definitive conclusion. Your answer must begin with "{{marker}}" followed by a one-sentence verdict, then a short justification.`,
	},

	domain.ModeCollaborative: {
		Name:        "Collaborative drafting",
		Description: "Both sides co-author a single deliverable",
		Roles:       [2]string{"lead drafter", "co-drafter"},
		Opening: `You and {{.Opponent}} are co-authoring a document together. The brief is: "{{.Topic}}"

Propose an outline and write a first draft of the opening section.`,
		WithContext: `You and {{.Opponent}} are co-authoring a document together. The brief is: "{{.Topic}}"

{{template "quote" .}}

Improve their draft: keep what works, fix what does not and extend it with the next section.`,
		Followup: `Co-authoring "{{.Topic}}", Round {{.Round}} of {{.RoundLimit}}.

{{template "quote" .}}

Revise and extend the current draft. Say briefly what you changed and why.`,
		Final: `Co-authoring "{{.Topic}}": this is the final round.
{{if .OpponentText}}
{{template "quote" .}}
{{end}}
Produce the finished document. Begin with "{{marker}}" and then give the complete final text with no commentary.`,
	},

	domain.ModeWritersRoom: {
		Name:        "Writers' room",
		Description: "Iterative pitch, critique and rewrite",
		Roles:       [2]string{"head writer", "script editor"},
		Opening: `You are in a writers' room with {{.Opponent}}. The assignment is: "{{.Topic}}"

Pitch your take and write a first pass.`,
		WithContext: `You are in a writers' room with {{.Opponent}}. The assignment is: "{{.Topic}}"

{{template "quote" .}}

Give a sharp critique in a few bullets, then rewrite the piece with your notes applied.`,
		Followup: `Writers' room, "{{.Topic}}", pass {{.Round}} of {{.RoundLimit}}.

{{template "quote" .}}

Note what improved and what still does not work, then deliver the next rewrite.`,
		Final: `Writers' room, "{{.Topic}}": this is the final pass.
{{if .OpponentText}}
{{template "quote" .}}
{{end}}
Lock the piece. Begin with "{{marker}}" and then give the final version only.`,
	},

	domain.ModeRoleplay: {
		Name:        "Roleplay",
		Description: "Both agents improvise a scene in character",
		Roles:       [2]string{"first character", "second character"},
		Opening: `You are improvising a scene with {{.Opponent}}. The scenario is: "{{.Topic}}"

Play the {{.Role}}. Open the scene in character with dialogue and brief action. Stay in the scene; no out-of-character commentary.`,
		WithContext: `You are improvising a scene with {{.Opponent}}. The scenario is: "{{.Topic}}"

{{template "quote" .}}

Play the {{.Role}}. Respond in character to what just happened and move the scene forward.`,
		Followup: `The scene continues ("{{.Topic}}"), beat {{.Round}}. You are the {{.Role}}.

{{template "quote" .}}

Stay in character and react, then take the scene somewhere unexpected.`,
	},
}

var modes = compileModes(specs)

func compileModes(specs map[domain.Mode]modeSpec) map[domain.Mode]compiledMode {
	out := make(map[domain.Mode]compiledMode, len(specs))
	for id, s := range specs {
		out[id] = compiledMode{
			spec:        s,
			roles:       s.Roles,
			opening:     parse(string(id)+"/opening", s.Opening),
			withContext: parse(string(id)+"/with_context", s.WithContext),
			followup:    parse(string(id)+"/followup", s.Followup),
			final:       parse(string(id)+"/final", s.Final),
		}
	}
	return out
}

func parse(name, body string) *template.Template {
	if body == "" {
		return nil
	}
	return template.Must(template.New(name).Funcs(funcs).Option("missingkey=error").Parse(body + quote))
}

// ModeInfo describes a mode for listings.
type ModeInfo struct {
	Mode        domain.Mode `json:"mode"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	LeftRole    string      `json:"leftRole"`
	RightRole   string      `json:"rightRole"`
	Convergent  bool        `json:"convergent"`
}

// Modes lists every mode ordered by identifier.
func Modes() []ModeInfo {
	out := make([]ModeInfo, 0, len(modes))
	for id, m := range modes {
		out = append(out, ModeInfo{
			Mode:        id,
			Name:        m.spec.Name,
			Description: m.spec.Description,
			LeftRole:    m.roles[0],
			RightRole:   m.roles[1],
			Convergent:  m.final != nil,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mode < out[j].Mode })
	return out
}

// ValidMode reports whether m is in the table.
func ValidMode(m domain.Mode) bool {
	_, ok := modes[m]
	return ok
}
