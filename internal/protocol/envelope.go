// Package protocol defines the tagged messages exchanged between the
// orchestrator, its observing view and agent adapters. Messages use a JSON
// envelope; over pipes each envelope is one line.
//
// Three families share the envelope:
//
//	view → orchestrator   START_DEBATE, STOP_DEBATE, CONTINUE_DEBATE, GET_STATUS, PRELOAD_IFRAMES, RESET
//	orchestrator → view   STATUS, DEBATE_UPDATE, DEBATE_COMPLETE, DEBATE_ERROR, MODELS_AVAILABLE
//	orchestrator ↔ agent  IS_READY, SEND_MESSAGE, WAIT_FOR_RESPONSE, GET_LATEST_RESPONSE,
//	                      GET_AVAILABLE_MODELS, SELECT_MODEL, answered by ADAPTER_REPLY
package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joss/clash/internal/domain"
)

// MessageType identifies the kind of message.
type MessageType string

const (
	// View → Orchestrator
	MsgStartDebate    MessageType = "START_DEBATE"
	MsgStopDebate     MessageType = "STOP_DEBATE"
	MsgContinueDebate MessageType = "CONTINUE_DEBATE"
	MsgGetStatus      MessageType = "GET_STATUS"
	MsgPreload        MessageType = "PRELOAD_IFRAMES"
	MsgReset          MessageType = "RESET"

	// Orchestrator → View
	MsgStatus          MessageType = "STATUS"
	MsgDebateUpdate    MessageType = "DEBATE_UPDATE"
	MsgDebateComplete  MessageType = "DEBATE_COMPLETE"
	MsgDebateError     MessageType = "DEBATE_ERROR"
	MsgModelsAvailable MessageType = "MODELS_AVAILABLE"
	// MsgCommandReply answers a command on stream transports; it reuses the command's ID
	MsgCommandReply MessageType = "COMMAND_REPLY"

	// Orchestrator → Adapter
	MsgIsReady            MessageType = "IS_READY"
	MsgSendMessage        MessageType = "SEND_MESSAGE"
	MsgWaitForResponse    MessageType = "WAIT_FOR_RESPONSE"
	MsgGetLatestResponse  MessageType = "GET_LATEST_RESPONSE"
	MsgGetAvailableModels MessageType = "GET_AVAILABLE_MODELS"
	MsgSelectModel        MessageType = "SELECT_MODEL"

	// Adapter → Orchestrator
	MsgAdapterReply MessageType = "ADAPTER_REPLY"
)

// IsCommand reports whether t is accepted from a view.
func (t MessageType) IsCommand() bool {
	switch t {
	case MsgStartDebate, MsgStopDebate, MsgContinueDebate, MsgGetStatus, MsgPreload, MsgReset:
		return true
	}
	return false
}

// Envelope wraps all protocol messages.
type Envelope struct {
	Type      MessageType `json:"type"`
	ID        string      `json:"id"`                // Message ID for correlation
	Timestamp string      `json:"ts"`                // RFC3339
	Payload   any         `json:"payload,omitempty"` // Type-specific data
}

// NewEnvelope creates a new envelope with a fresh ID and timestamp.
func NewEnvelope(msgType MessageType, payload any) *Envelope {
	return &Envelope{
		Type:      msgType,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Commands
// ─────────────────────────────────────────────────────────────────────────────

// StartPayload starts a new session.
type StartPayload struct {
	Topic        string      `json:"topic"`
	RoundLimit   int         `json:"roundLimit,omitempty"`
	LeftAgentID  string      `json:"leftAgentId"`
	RightAgentID string      `json:"rightAgentId"`
	Mode         domain.Mode `json:"mode"`
	AutoEnd      bool        `json:"autoEnd"`
	LeftPersona  string      `json:"leftPersona,omitempty"`
	RightPersona string      `json:"rightPersona,omitempty"`
	Setting      string      `json:"setting,omitempty"`
	LeftModel    string      `json:"leftModel,omitempty"`
	RightModel   string      `json:"rightModel,omitempty"`
}

// PreloadPayload asks for handles and model lists without starting.
type PreloadPayload struct {
	LeftAgentID  string `json:"leftAgentId"`
	RightAgentID string `json:"rightAgentId"`
}

// CommandReply answers every command.
type CommandReply struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Events
// ─────────────────────────────────────────────────────────────────────────────

// Phase marks progress within a round.
type Phase string

const (
	PhaseLeftThinking  Phase = "left_thinking"
	PhaseRightThinking Phase = "right_thinking"
	PhaseComplete      Phase = "complete"
)

// StatusPayload is the synchronous snapshot answered to GET_STATUS and sent on attach.
type StatusPayload struct {
	Status       domain.Status    `json:"status"`
	CurrentRound int              `json:"currentRound"`
	Transcript   []domain.Turn    `json:"transcript"`
	SessionID    string           `json:"sessionId,omitempty"`
	Topic        string           `json:"topic,omitempty"`
	Mode         domain.Mode      `json:"mode,omitempty"`
	LeftAgentID  string           `json:"leftAgentId,omitempty"`
	RightAgentID string           `json:"rightAgentId,omitempty"`
	RoundLimit   int              `json:"roundLimit,omitempty"`
	NextSpeaker  domain.Side      `json:"nextSpeaker,omitempty"`
	EndReason    domain.EndReason `json:"endReason,omitempty"`
	Error        string           `json:"error,omitempty"`
}

// UpdatePayload reports progress within a round.
type UpdatePayload struct {
	Round         int    `json:"round"`
	Phase         Phase  `json:"phase"`
	LeftAgentID   string `json:"leftAgentId,omitempty"`
	RightAgentID  string `json:"rightAgentId,omitempty"`
	LeftResponse  string `json:"leftResponse,omitempty"`
	RightResponse string `json:"rightResponse,omitempty"`
	RoundLimit    int    `json:"roundLimit"`
}

// CompletePayload reports the end of a session.
type CompletePayload struct {
	Transcript  []domain.Turn    `json:"transcript"`
	Reason      domain.EndReason `json:"reason"`
	PartialTurn *domain.Turn     `json:"partialTurn,omitempty"`
}

// ErrorPayload reports a fatal session error.
type ErrorPayload struct {
	Error string `json:"error"`
}

// ModelsPayload lists the model variants of one side.
type ModelsPayload struct {
	Side    domain.Side    `json:"side"`
	AgentID string         `json:"agentId"`
	Models  []domain.Model `json:"models"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Adapter contract
// ─────────────────────────────────────────────────────────────────────────────

// SendMessagePayload carries the text to submit.
type SendMessagePayload struct {
	Text string `json:"text"`
}

// SelectModelPayload names the variant to switch to.
type SelectModelPayload struct {
	ModelID string `json:"modelId"`
}

// AdapterReply answers every adapter request; its envelope reuses the request ID.
type AdapterReply struct {
	Success     bool           `json:"success"`
	Error       string         `json:"error,omitempty"`
	Ready       bool           `json:"ready,omitempty"`
	Response    string         `json:"response,omitempty"`
	HasResponse bool           `json:"hasResponse,omitempty"`
	Models      []domain.Model `json:"models,omitempty"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Encoder/Decoder for streaming JSON lines
// ─────────────────────────────────────────────────────────────────────────────

// Encoder writes envelopes as JSON lines.
type Encoder struct {
	w  io.Writer
	mu sync.Mutex
}

// NewEncoder creates an encoder for the given writer.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes an envelope as a single JSON line.
func (e *Encoder) Encode(env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.w.Write(data)
	return err
}

// Send is a convenience method to create and encode an envelope.
func (e *Encoder) Send(msgType MessageType, payload any) error {
	return e.Encode(NewEnvelope(msgType, payload))
}

// Decoder reads envelopes from JSON lines.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder creates a decoder for the given reader.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	// transcripts ride along in STATUS payloads
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	return &Decoder{scanner: scanner}
}

// Decode reads the next envelope, skipping blank lines. It returns io.EOF at end of input.
func (d *Decoder) Decode() (*Envelope, error) {
	for d.scanner.Scan() {
		line := d.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			return nil, fmt.Errorf("unmarshal envelope: %w", err)
		}
		return &env, nil
	}
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// ─────────────────────────────────────────────────────────────────────────────
// Payload extraction helpers
// ─────────────────────────────────────────────────────────────────────────────

// GetPayload extracts and unmarshals the payload into the target type.
func (e *Envelope) GetPayload(target any) error {
	if e.Payload == nil {
		return nil
	}

	// Payload comes as map[string]any from JSON, re-marshal to unmarshal into struct
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// As decodes the payload of env into a fresh T.
func As[T any](env *Envelope) (*T, error) {
	var p T
	if err := env.GetPayload(&p); err != nil {
		return nil, fmt.Errorf("%s payload: %w", env.Type, err)
	}
	return &p, nil
}
