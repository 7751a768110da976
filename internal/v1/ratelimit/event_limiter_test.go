package ratelimit

import (
	"testing"
	"time"

	"github.com/jamfabric/roomfabric/internal/v1/config"
	"github.com/stretchr/testify/assert"
)

func testConfig() *config.Config {
	return &config.Config{
		RateLimitPerMinute: map[string]int{
			"chat_message": 3,
			"play_note":    120,
		},
	}
}

func TestEventLimiter_CapsPerIdentityAndKind(t *testing.T) {
	el := NewEventLimiter(testConfig())

	for i := 0; i < 3; i++ {
		assert.True(t, el.Allow("user1", "chat_message", false))
	}
	assert.False(t, el.Allow("user1", "chat_message", false), "4th chat_message should be throttled")

	// a different identity has its own independent bucket
	assert.True(t, el.Allow("user2", "chat_message", false))
}

func TestEventLimiter_UncappedEventKindPassesThrough(t *testing.T) {
	el := NewEventLimiter(testConfig())
	for i := 0; i < 50; i++ {
		assert.True(t, el.Allow("user1", "arrange:request_state", false))
	}
}

func TestEventLimiter_RecoveryModeBypasses(t *testing.T) {
	el := NewEventLimiter(testConfig())
	for i := 0; i < 3; i++ {
		el.Allow("user1", "chat_message", false)
	}
	assert.True(t, el.Allow("user1", "chat_message", true))
}

func TestEventLimiter_DisableSynthFlag(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerMinute["update_synth_params"] = 1
	cfg.DisableSynthRateLimit = true
	el := NewEventLimiter(cfg)

	for i := 0; i < 10; i++ {
		assert.True(t, el.Allow("user1", "update_synth_params", false))
	}
}

func TestEventLimiter_Sweep(t *testing.T) {
	el := NewEventLimiter(testConfig())
	el.Allow("user1", "chat_message", false)
	assert.Equal(t, 1, el.Sweep(-time.Second), "entry touched in the past should be swept with a negative idleAfter")
}

func TestErrRateLimited_Error(t *testing.T) {
	err := &ErrRateLimited{EventKind: "chat_message"}
	assert.Contains(t, err.Error(), "chat_message")
}
