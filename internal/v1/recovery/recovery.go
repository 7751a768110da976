// Package recovery is Error Recovery (C12): a fixed error taxonomy, a
// per-minute per-kind flood-suppression counter, and the action table that
// maps a classified error to a remediation. Grounded on the teacher's
// error-envelope convention scattered through session/handlers.go
// (`Message{Event: "error", Payload: ...}` sends) and the rate limiter's
// fail-open logging discipline in ratelimit/limiter.go, generalized into the
// fixed taxonomy of spec.md §7.
package recovery

import (
	"strings"
	"sync"
	"time"
)

// Kind is one of the fixed taxonomy entries from spec.md §7.
type Kind string

const (
	KindNamespaceConnection Kind = "namespace_connection_error"
	KindSessionManagement   Kind = "session_management_error"
	KindRoomState           Kind = "room_state_error"
	KindValidation          Kind = "validation_error"
	KindRateLimit           Kind = "rate_limit_error"
	KindPermission          Kind = "permission_error"
	KindDatabase            Kind = "database_error"
	KindNetwork             Kind = "network_error"
	KindUnknown             Kind = "unknown_error"
)

// Action is the remediation a classified error maps to.
type Action string

const (
	ActionDisconnectSocket   Action = "disconnect_socket"
	ActionCleanupSession     Action = "cleanup_session"
	ActionResetRoomState     Action = "reset_room_state"
	ActionSendErrorResponse  Action = "send_error_response"
	ActionLogOnly            Action = "log_only"
)

// criticalPatterns force teardown regardless of classification — they
// indicate the process itself is in trouble, not just the one room.
var criticalPatterns = []string{
	"out of memory", "stack overflow", "database connection lost", "server shutting down",
}

// actionTable maps each taxonomy kind to its default remediation per
// spec.md §7's policy.
var actionTable = map[Kind]Action{
	KindValidation:          ActionSendErrorResponse,
	KindRateLimit:           ActionSendErrorResponse,
	KindPermission:          ActionSendErrorResponse,
	KindSessionManagement:   ActionCleanupSession,
	KindRoomState:           ActionResetRoomState,
	KindNamespaceConnection: ActionSendErrorResponse,
	KindNetwork:             ActionSendErrorResponse,
	KindDatabase:            ActionDisconnectSocket,
	KindUnknown:             ActionLogOnly,
}

// Classification is the outcome of classifying one error occurrence.
type Classification struct {
	Kind       Kind
	Action     Action
	Critical   bool
	Suppressed bool // true once the kind's per-minute counter exceeded the flood threshold
	RetryAfter time.Duration
}

const floodThresholdPerMinute = 10

type counter struct {
	windowStart time.Time
	count       int
}

// Recovery classifies errors and tracks per-kind flood-suppression state.
type Recovery struct {
	mu       sync.Mutex
	counters map[Kind]*counter
}

// New constructs a Recovery tracker.
func New() *Recovery {
	return &Recovery{counters: make(map[Kind]*counter)}
}

// IsCritical reports whether msg matches one of the hard-teardown patterns.
func IsCritical(msg string) bool {
	lower := strings.ToLower(msg)
	for _, p := range criticalPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Classify records one occurrence of kind and returns its remediation. When
// the kind's per-minute count exceeds floodThresholdPerMinute, Suppressed is
// set true and callers should only log, not re-notify the caller.
func (r *Recovery) Classify(kind Kind, errMsg string) Classification {
	if IsCritical(errMsg) {
		return Classification{Kind: kind, Action: ActionDisconnectSocket, Critical: true}
	}

	action, ok := actionTable[kind]
	if !ok {
		action = ActionLogOnly
		kind = KindUnknown
	}

	suppressed := r.bumpAndCheckFlood(kind)

	c := Classification{Kind: kind, Action: action, Suppressed: suppressed}
	if action == ActionSendErrorResponse {
		c.RetryAfter = time.Second
	}
	return c
}

func (r *Recovery) bumpAndCheckFlood(kind Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	c, ok := r.counters[kind]
	if !ok || now.Sub(c.windowStart) >= time.Minute {
		c = &counter{windowStart: now, count: 0}
		r.counters[kind] = c
	}
	c.count++
	return c.count > floodThresholdPerMinute
}

// CountInWindow reports the current count for kind within its active window
// (test/observability helper).
func (r *Recovery) CountInWindow(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counters[kind]
	if !ok {
		return 0
	}
	return c.count
}
