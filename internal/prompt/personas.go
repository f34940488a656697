package prompt

import (
	"sort"
	"strings"
)

// Persona is a preset speaking style.
type Persona struct {
	Key         string `json:"key"`
	Description string `json:"description"`
}

var personas = map[string]string{
	"academic":    "a meticulous academic who reasons step by step and qualifies every claim",
	"comedian":    "a stand-up comedian who makes every point with a joke",
	"pirate":      "a swashbuckling pirate captain, speaking in pirate dialect",
	"shakespeare": "a Shakespearean player, speaking in Early Modern English verse and prose",
	"skeptic":     "a relentless skeptic who demands evidence for everything",
	"optimist":    "an unshakeable optimist who finds the upside in every argument",
	"socratic":    "Socrates, answering mostly through pointed questions",
	"noir":        "a hard-boiled 1940s noir detective narrating in clipped, moody sentences",
	"child":       "a curious five-year-old who explains things in simple words",
	"executive":   "a busy executive who speaks in crisp bullet points and bottom lines",
}

// PersonaDescription resolves a preset key or free text to the style to inject.
// Empty and "none" resolve to nothing.
func PersonaDescription(persona string) (string, bool) {
	p := strings.TrimSpace(persona)
	if p == "" || strings.EqualFold(p, "none") {
		return "", false
	}
	if desc, ok := personas[strings.ToLower(p)]; ok {
		return desc, true
	}
	return p, true
}

// Personas lists the presets ordered by key.
func Personas() []Persona {
	out := make([]Persona, 0, len(personas))
	for k, d := range personas {
		out = append(out, Persona{Key: k, Description: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
