// Package domain defines the core debate entities shared by every layer.
package domain

import (
	"fmt"
	"time"
)

// Side identifies one of the two participants.
type Side string

const (
	Left  Side = "left"
	Right Side = "right"
)

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == Left {
		return Right
	}
	return Left
}

// Valid reports whether s is left or right.
func (s Side) Valid() bool {
	return s == Left || s == Right
}

// Status is the lifecycle state of a session.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusPreparing Status = "preparing"
	StatusDebating  Status = "debating"
	StatusStopped   Status = "stopped"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// statusMeta describes each status (extend via map, not switch).
var statusMeta = map[Status]struct {
	Active   bool
	Terminal bool
}{
	StatusIdle:      {false, false},
	StatusPreparing: {true, false},
	StatusDebating:  {true, false},
	StatusStopped:   {false, true},
	StatusCompleted: {false, true},
	StatusError:     {false, true},
}

// Active reports whether a session in this status is consuming agent turns.
func (s Status) Active() bool { return statusMeta[s].Active }

// Terminal reports whether the status ends a session.
func (s Status) Terminal() bool { return statusMeta[s].Terminal }

// Known reports whether s is a recognised status.
func (s Status) Known() bool {
	_, ok := statusMeta[s]
	return ok
}

// transitions lists the allowed status edges. A new start is allowed from every
// non-active status and supersedes an active one, so preparing is reachable from all.
var transitions = map[Status][]Status{
	StatusIdle:      {StatusPreparing},
	StatusPreparing: {StatusPreparing, StatusDebating, StatusStopped, StatusError},
	StatusDebating:  {StatusPreparing, StatusStopped, StatusCompleted, StatusError},
	StatusStopped:   {StatusPreparing, StatusIdle},
	StatusCompleted: {StatusPreparing, StatusDebating, StatusIdle},
	StatusError:     {StatusPreparing, StatusIdle},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// EndReason says why a session finished.
type EndReason string

const (
	EndNatural    EndReason = "natural_end"
	EndRoundLimit EndReason = "round_limit"
	EndStopped    EndReason = "stopped"
)

// Mode selects the conversational framing of a session.
type Mode string

const (
	ModeDebate        Mode = "debate"
	ModeConversation  Mode = "conversation"
	ModeRoast         Mode = "roast"
	ModeInterview     Mode = "interview"
	ModeStorytelling  Mode = "storytelling"
	ModePhilosophical Mode = "philosophical"
	ModeTruthSeeking  Mode = "truth-seeking"
	ModeCollaborative Mode = "collaborative"
	ModeWritersRoom   Mode = "writers-room"
	ModeRoleplay      Mode = "roleplay"
)

// Turn is one agent message within a round.
type Turn struct {
	Round     int       `json:"round" yaml:"round"`
	Side      Side      `json:"side" yaml:"side"`
	SpeakerID string    `json:"speakerId" yaml:"speaker"`
	Text      string    `json:"text" yaml:"text"`
	At        time.Time `json:"at" yaml:"at"`
}

// Model is a selectable model exposed by an agent's UI.
type Model struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Selected bool   `json:"selected,omitempty"`
}

// SchemaVersion is the layout of the persisted Session record. Records carrying
// another version are discarded on restore.
const SchemaVersion = 1

// Session is the state of one orchestrated exchange.
type Session struct {
	SchemaVersion int       `json:"schemaVersion"`
	ID            string    `json:"id"`
	Status        Status    `json:"status"`
	Topic         string    `json:"topic"`
	RoundLimit    int       `json:"roundLimit"`
	Mode          Mode      `json:"mode"`
	LeftAgentID   string    `json:"leftAgentId"`
	RightAgentID  string    `json:"rightAgentId"`
	LeftPersona   string    `json:"leftPersona,omitempty"`
	RightPersona  string    `json:"rightPersona,omitempty"`
	LeftModel     string    `json:"leftModel,omitempty"`
	RightModel    string    `json:"rightModel,omitempty"`
	Setting       string    `json:"setting,omitempty"`
	AutoEnd       bool      `json:"autoEnd"`
	ContainerID   string    `json:"containerId,omitempty"`
	CurrentRound  int       `json:"currentRound"`
	NextSpeaker   Side      `json:"nextSpeaker"`
	EndReason     EndReason `json:"endReason,omitempty"`
	PartialTurn   *Turn     `json:"partialTurn,omitempty"`
	Error         string    `json:"error,omitempty"`
	Transcript    []Turn    `json:"transcript"`
	StartedAt     time.Time `json:"startedAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// AgentID returns the agent on the given side.
func (s *Session) AgentID(side Side) string {
	if side == Left {
		return s.LeftAgentID
	}
	return s.RightAgentID
}

// Persona returns the persona configured for the given side.
func (s *Session) Persona(side Side) string {
	if side == Left {
		return s.LeftPersona
	}
	return s.RightPersona
}

// ModelID returns the requested model for the given side, if any.
func (s *Session) ModelID(side Side) string {
	if side == Left {
		return s.LeftModel
	}
	return s.RightModel
}

// NextTurnNumber is the 1-based ordinal of the next message. It is derived from
// the transcript so that it survives resume and restarts.
func (s *Session) NextTurnNumber() int {
	return len(s.Transcript) + 1
}

// LastText returns the most recent text spoken by side.
func (s *Session) LastText(side Side) (string, bool) {
	for i := len(s.Transcript) - 1; i >= 0; i-- {
		if s.Transcript[i].Side == side {
			return s.Transcript[i].Text, true
		}
	}
	return "", false
}

// LastTurn returns the final transcript entry.
func (s *Session) LastTurn() (Turn, bool) {
	if len(s.Transcript) == 0 {
		return Turn{}, false
	}
	return s.Transcript[len(s.Transcript)-1], true
}

// RoundsCompleted counts rounds in which both sides spoke.
func (s *Session) RoundsCompleted() int {
	n := 0
	for _, t := range s.Transcript {
		if t.Side == Right {
			n++
		}
	}
	return n
}

// EffectiveLimit is the round limit, falling back to safetyCap when unset.
func (s *Session) EffectiveLimit(safetyCap int) int {
	if s.RoundLimit > 0 {
		return s.RoundLimit
	}
	return safetyCap
}

// Resumable reports whether Continue is legal for this session.
func (s *Session) Resumable() bool {
	return s.Status == StatusCompleted && s.EndReason == EndNatural && len(s.Transcript) > 0
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Transcript = append([]Turn(nil), s.Transcript...)
	if s.PartialTurn != nil {
		pt := *s.PartialTurn
		c.PartialTurn = &pt
	}
	return &c
}

// Validate checks structural invariants of a persisted session.
func (s *Session) Validate() error {
	if !s.Status.Known() {
		return fmt.Errorf("unknown status %q", s.Status)
	}
	prevRound := 0
	for i, t := range s.Transcript {
		if t.Round < 1 {
			return fmt.Errorf("turn %d: round %d < 1", i, t.Round)
		}
		if t.Round < prevRound {
			return fmt.Errorf("turn %d: round decreases from %d to %d", i, prevRound, t.Round)
		}
		if !t.Side.Valid() {
			return fmt.Errorf("turn %d: invalid side %q", i, t.Side)
		}
		prevRound = t.Round
	}
	return nil
}

// HistoryEntry is a finished session kept for later browsing and export.
type HistoryEntry struct {
	ID         string    `json:"id" yaml:"id"`
	SessionID  string    `json:"sessionId" yaml:"session_id"`
	Topic      string    `json:"topic" yaml:"topic"`
	Mode       Mode      `json:"mode" yaml:"mode"`
	Left       string    `json:"left" yaml:"left"`
	Right      string    `json:"right" yaml:"right"`
	Status     Status    `json:"status" yaml:"status"`
	EndReason  EndReason `json:"endReason,omitempty" yaml:"end_reason,omitempty"`
	Rounds     int       `json:"rounds" yaml:"rounds"`
	Transcript []Turn    `json:"transcript" yaml:"transcript"`
	CreatedAt  time.Time `json:"createdAt" yaml:"created_at"`
}

// NewHistoryEntry snapshots a finished session.
func NewHistoryEntry(id string, s *Session, at time.Time) HistoryEntry {
	return HistoryEntry{
		ID:         id,
		SessionID:  s.ID,
		Topic:      s.Topic,
		Mode:       s.Mode,
		Left:       s.LeftAgentID,
		Right:      s.RightAgentID,
		Status:     s.Status,
		EndReason:  s.EndReason,
		Rounds:     s.CurrentRound,
		Transcript: append([]Turn(nil), s.Transcript...),
		CreatedAt:  at,
	}
}
