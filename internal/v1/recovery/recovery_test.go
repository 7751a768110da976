package recovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_ValidationSendsErrorResponse(t *testing.T) {
	r := New()
	c := r.Classify(KindValidation, "content too long")
	assert.Equal(t, ActionSendErrorResponse, c.Action)
	assert.False(t, c.Critical)
}

func TestClassify_SessionErrorCleansUpSession(t *testing.T) {
	r := New()
	c := r.Classify(KindSessionManagement, "session not found")
	assert.Equal(t, ActionCleanupSession, c.Action)
}

func TestClassify_RoomStateErrorResets(t *testing.T) {
	r := New()
	c := r.Classify(KindRoomState, "inconsistent region state")
	assert.Equal(t, ActionResetRoomState, c.Action)
}

func TestClassify_CriticalPatternForcesDisconnect(t *testing.T) {
	r := New()
	c := r.Classify(KindValidation, "fatal: out of memory")
	assert.True(t, c.Critical)
	assert.Equal(t, ActionDisconnectSocket, c.Action)
}

func TestClassify_UnknownKindDefaultsToLogOnly(t *testing.T) {
	r := New()
	c := r.Classify(Kind("made_up_kind"), "mystery error")
	assert.Equal(t, KindUnknown, c.Kind)
	assert.Equal(t, ActionLogOnly, c.Action)
}

func TestClassify_FloodSuppressionAfterTenPerMinute(t *testing.T) {
	r := New()
	for i := 0; i < 10; i++ {
		c := r.Classify(KindValidation, "bad payload")
		assert.False(t, c.Suppressed, "first 10 should not be suppressed")
	}
	c := r.Classify(KindValidation, "bad payload")
	assert.True(t, c.Suppressed, "11th within the window should be suppressed")
}

func TestIsCritical(t *testing.T) {
	assert.True(t, IsCritical("Server shutting down now"))
	assert.True(t, IsCritical("stack overflow detected"))
	assert.False(t, IsCritical("just a normal validation failure"))
}
