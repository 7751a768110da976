// Package validate holds the per-event-kind payload checks that gate every
// inbound room event before it reaches the dispatcher (C8). Grounded on the
// teacher's ChatInfo.ValidateChat() style (a struct method returning an
// error) but extended into a schema-table dispatch, since this catalogue of
// event kinds is much larger than the teacher's single chat-message case.
package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmpty       = errors.New("field cannot be empty")
	ErrTooLong     = errors.New("field exceeds maximum length")
	ErrSuspicious  = errors.New("field contains disallowed content")
	ErrUnknownKind = errors.New("no validator registered for this event kind")
)

// Schema validates a decoded payload for one event kind.
type Schema func(raw json.RawMessage) error

// Registry is a lookup table of event-kind -> Schema, built once at startup
// and shared read-only across all rooms (schemas carry no per-room state).
type Registry struct {
	schemas map[string]Schema
}

// NewRegistry builds the default registry covering every validated event
// kind in spec.md's event table.
func NewRegistry() *Registry {
	r := &Registry{schemas: make(map[string]Schema)}
	r.register("chat_message", validateChatMessage)
	r.register("voice_offer", validateSDP)
	r.register("voice_answer", validateSDP)
	r.register("voice_ice_candidate", validateICECandidate)
	r.register("change_instrument", validateChangeInstrument)
	r.register("update_synth_params", validateSynthParams)
	return r
}

func (r *Registry) register(kind string, s Schema) { r.schemas[kind] = s }

// Validate runs the schema registered for kind, if any. Unregistered kinds
// are treated as schema-free (structural-only) — the dispatcher's own
// decode into a typed payload struct is the validation for those.
func (r *Registry) Validate(kind string, raw json.RawMessage) error {
	s, ok := r.schemas[kind]
	if !ok {
		return nil
	}
	return s(raw)
}

// --- chat ---

type chatPayload struct {
	Content string `json:"content"`
}

func validateChatMessage(raw json.RawMessage) error {
	var p chatPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("malformed chat_message payload: %w", err)
	}
	if len(p.Content) == 0 {
		return fmt.Errorf("content: %w", ErrEmpty)
	}
	if len(p.Content) > 1000 {
		return fmt.Errorf("content: %w", ErrTooLong)
	}
	if containsSuspiciousPattern(p.Content) {
		return fmt.Errorf("content: %w", ErrSuspicious)
	}
	return nil
}

// --- WebRTC signaling ---

const (
	maxSDPLength = 10000
	maxICELength = 1000
)

var validSDPTypes = map[string]bool{"offer": true, "answer": true}

type sdpPayload struct {
	Type           string `json:"type"`
	SDP            string `json:"sdp"`
	TargetClientID string `json:"targetClientId"`
}

func validateSDP(raw json.RawMessage) error {
	var p sdpPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("malformed SDP payload: %w", err)
	}
	if !validSDPTypes[p.Type] {
		return fmt.Errorf("type %q is not a recognized SDP type", p.Type)
	}
	if len(p.SDP) == 0 {
		return fmt.Errorf("sdp: %w", ErrEmpty)
	}
	if len(p.SDP) > maxSDPLength {
		return fmt.Errorf("sdp: %w", ErrTooLong)
	}
	if containsSuspiciousPattern(p.SDP) {
		return fmt.Errorf("sdp: %w", ErrSuspicious)
	}
	if p.TargetClientID == "" {
		return fmt.Errorf("targetClientId: %w", ErrEmpty)
	}
	return nil
}

type icePayload struct {
	Candidate      string `json:"candidate"`
	TargetClientID string `json:"targetClientId"`
}

func validateICECandidate(raw json.RawMessage) error {
	var p icePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("malformed ICE candidate payload: %w", err)
	}
	if len(p.Candidate) > maxICELength {
		return fmt.Errorf("candidate: %w", ErrTooLong)
	}
	if containsSuspiciousPattern(p.Candidate) {
		return fmt.Errorf("candidate: %w", ErrSuspicious)
	}
	if p.TargetClientID == "" {
		return fmt.Errorf("targetClientId: %w", ErrEmpty)
	}
	return nil
}

// SelfTargetCheck rejects a signaling message whose target is the caller
// itself — a caller can't negotiate a peer connection with themselves.
func SelfTargetCheck(callerID, targetID string) error {
	if callerID == targetID {
		return fmt.Errorf("target %q cannot be the caller", targetID)
	}
	return nil
}

// --- instrument / synth ---

type changeInstrumentPayload struct {
	InstrumentID string `json:"instrumentId"`
}

func validateChangeInstrument(raw json.RawMessage) error {
	var p changeInstrumentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("malformed change_instrument payload: %w", err)
	}
	if p.InstrumentID == "" {
		return fmt.Errorf("instrumentId: %w", ErrEmpty)
	}
	return nil
}

type synthParamsPayload struct {
	Params map[string]any `json:"params"`
}

const maxMediaConstraintDepth = 3

func validateSynthParams(raw json.RawMessage) error {
	var p synthParamsPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("malformed update_synth_params payload: %w", err)
	}
	if depth := nestingDepth(p.Params, 0); depth > maxMediaConstraintDepth {
		return fmt.Errorf("params nesting depth %d exceeds maximum %d", depth, maxMediaConstraintDepth)
	}
	return nil
}

func nestingDepth(v any, cur int) int {
	m, ok := v.(map[string]any)
	if !ok {
		return cur
	}
	max := cur
	for _, child := range m {
		if d := nestingDepth(child, cur+1); d > max {
			max = d
		}
	}
	return max
}

// --- shared XSS guard ---

var suspiciousSubstrings = []string{
	"javascript:", "data:", "vbscript:", "<script", "onload=", "onerror=",
}

func containsSuspiciousPattern(s string) bool {
	lower := strings.ToLower(s)
	for _, pat := range suspiciousSubstrings {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	return false
}
