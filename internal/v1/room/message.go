// Package room is the Room Dispatcher (C8): the central switch-on-event-name
// router that validates, rate-limits, mutates, and fans out every wire event
// in the jam/arrange event table. Grounded on the teacher's session package
// (internal/v1/session/room.go's router(), handlers.go's per-event handlers,
// webrtc.go's signal-forwarding), generalized from the teacher's fixed
// video-conferencing handler set to the full arrangement/jam event table.
package room

import "encoding/json"

// Message is the wire envelope for every inbound and outbound event —
// resolves the teacher's proto-vs-JSON split in favor of JSON (see
// DESIGN.md), keeping the teacher's {Event, Payload} shape.
type Message struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorDetail is the body of an ErrorEnvelope.
type ErrorDetail struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// ErrorEnvelope is sent to a single connection in place of a Message when a
// request cannot be satisfied.
type ErrorEnvelope struct {
	Error ErrorDetail `json:"error"`
}

// Recognized error codes (spec.md §6).
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeRateLimited      = "RATE_LIMITED"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeNotFound         = "NOT_FOUND"
	CodeConflict         = "CONFLICT"
	CodeInternal         = "INTERNAL"
	CodeConnectionError  = "CONNECTION_ERROR"
	CodeSessionError     = "SESSION_ERROR"
	CodeRoomStateError   = "ROOM_STATE_ERROR"
	CodeNetworkError     = "NETWORK_ERROR"
)

// decode unmarshals raw into T, reporting false on any malformed payload —
// the dispatcher's own decode-into-typed-struct step doubles as validation
// for event kinds that carry no registered validate.Schema.
func decode[T any](raw json.RawMessage) (T, bool) {
	var v T
	if len(raw) == 0 {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false
	}
	return v, true
}

// decodeInto unmarshals raw into dst, leaving dst untouched on any error or
// empty input — used where a relay handler needs to graft fields onto an
// otherwise-opaque payload body without a dedicated struct.
func decodeInto(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
