package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/jamfabric/roomfabric/internal/v1/config"
	"golang.org/x/time/rate"
)

// EventLimiter enforces the per-(identity, eventKind) caps in spec.md §4.3
// (play_note: 2400/min, chat_message: 30/min, etc). One *rate.Limiter per
// (identity, eventKind) pair, continuously refilled rather than a fixed
// window, in one mutex-guarded map swept every 5 minutes to bound memory for
// identities that have disconnected.
type EventLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	caps     map[string]int
	disableSynth bool
	disableVoice bool
}

type entry struct {
	limiter    *rate.Limiter
	lastTouch  time.Time
}

// NewEventLimiter builds an EventLimiter from the configured per-event caps.
func NewEventLimiter(cfg *config.Config) *EventLimiter {
	return &EventLimiter{
		limiters:     make(map[string]*entry),
		caps:         cfg.RateLimitPerMinute,
		disableSynth: cfg.DisableSynthRateLimit,
		disableVoice: cfg.DisableVoiceRateLimit,
	}
}

func shardKey(identity, eventKind string) string { return identity + "|" + eventKind }

// Allow reports whether identity may perform one more eventKind event right
// now. recoveryMode bypasses the cap entirely — error recovery (C12) may
// need to replay/reset state without itself tripping the limiter it's
// trying to recover from.
func (el *EventLimiter) Allow(identity, eventKind string, recoveryMode bool) bool {
	if recoveryMode {
		return true
	}
	if el.disableSynth && (eventKind == "update_synth_params" || eventKind == "update_effects_chain") {
		return true
	}
	if el.disableVoice && (eventKind == "voice_offer" || eventKind == "voice_answer" || eventKind == "voice_ice_candidate") {
		return true
	}

	perMinute, ok := el.caps[eventKind]
	if !ok {
		return true // uncapped event kinds pass through
	}

	el.mu.Lock()
	key := shardKey(identity, eventKind)
	e, ok := el.limiters[key]
	if !ok {
		// perMinute caps the rate; burst equals the full per-minute
		// allowance so a quiet identity can burst up to its normal
		// allowance immediately after a sweep.
		e = &entry{limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)}
		el.limiters[key] = e
	}
	e.lastTouch = time.Now()
	el.mu.Unlock()

	return e.limiter.Allow()
}

// Sweep drops limiter entries untouched for longer than idleAfter, bounding
// memory growth from identities that disconnected without a clean teardown.
func (el *EventLimiter) Sweep(idleAfter time.Duration) int {
	el.mu.Lock()
	defer el.mu.Unlock()

	cutoff := time.Now().Add(-idleAfter)
	dropped := 0
	for key, e := range el.limiters {
		if e.lastTouch.Before(cutoff) {
			delete(el.limiters, key)
			dropped++
		}
	}
	return dropped
}

// ErrRateLimited is returned by callers that want a typed sentinel instead
// of a bool, e.g. the room dispatcher's event-table wrapper.
type ErrRateLimited struct {
	EventKind string
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limit exceeded for event kind %q", e.EventKind)
}
