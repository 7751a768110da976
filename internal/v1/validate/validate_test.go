package validate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateChatMessage(t *testing.T) {
	r := NewRegistry()

	ok, _ := json.Marshal(map[string]string{"content": "hello band"})
	assert.NoError(t, r.Validate("chat_message", ok))

	empty, _ := json.Marshal(map[string]string{"content": ""})
	assert.ErrorIs(t, r.Validate("chat_message", empty), ErrEmpty)

	xss, _ := json.Marshal(map[string]string{"content": "<script>alert(1)</script>"})
	assert.ErrorIs(t, r.Validate("chat_message", xss), ErrSuspicious)
}

func TestValidateSDP(t *testing.T) {
	r := NewRegistry()

	good, _ := json.Marshal(map[string]string{"type": "offer", "sdp": "v=0...", "targetClientId": "c2"})
	assert.NoError(t, r.Validate("voice_offer", good))

	badType, _ := json.Marshal(map[string]string{"type": "bogus", "sdp": "v=0...", "targetClientId": "c2"})
	assert.Error(t, r.Validate("voice_offer", badType))

	noTarget, _ := json.Marshal(map[string]string{"type": "offer", "sdp": "v=0..."})
	assert.Error(t, r.Validate("voice_offer", noTarget))

	pranswer, _ := json.Marshal(map[string]string{"type": "pranswer", "sdp": "v=0...", "targetClientId": "c2"})
	assert.Error(t, r.Validate("voice_offer", pranswer))

	xss, _ := json.Marshal(map[string]string{"type": "offer", "sdp": "v=0...<script>alert(1)</script>", "targetClientId": "c2"})
	assert.ErrorIs(t, r.Validate("voice_offer", xss), ErrSuspicious)
}

func TestValidateSDP_TooLong(t *testing.T) {
	r := NewRegistry()
	longSDP := make([]byte, maxSDPLength+1)
	for i := range longSDP {
		longSDP[i] = 'a'
	}
	raw, _ := json.Marshal(map[string]string{"type": "offer", "sdp": string(longSDP), "targetClientId": "c2"})
	assert.ErrorIs(t, r.Validate("voice_offer", raw), ErrTooLong)
}

func TestValidateICECandidate_TooLong(t *testing.T) {
	r := NewRegistry()
	longCandidate := make([]byte, maxICELength+1)
	for i := range longCandidate {
		longCandidate[i] = 'a'
	}
	raw, _ := json.Marshal(map[string]string{"candidate": string(longCandidate), "targetClientId": "c2"})
	assert.ErrorIs(t, r.Validate("voice_ice_candidate", raw), ErrTooLong)
}

func TestValidateICECandidate_Suspicious(t *testing.T) {
	r := NewRegistry()
	raw, _ := json.Marshal(map[string]string{"candidate": "javascript:alert(1)", "targetClientId": "c2"})
	assert.ErrorIs(t, r.Validate("voice_ice_candidate", raw), ErrSuspicious)
}

func TestSelfTargetCheck(t *testing.T) {
	assert.Error(t, SelfTargetCheck("c1", "c1"))
	assert.NoError(t, SelfTargetCheck("c1", "c2"))
}

func TestValidateChangeInstrument_Empty(t *testing.T) {
	r := NewRegistry()
	raw, _ := json.Marshal(map[string]string{"instrumentId": ""})
	assert.ErrorIs(t, r.Validate("change_instrument", raw), ErrEmpty)
}

func TestValidateSynthParams_NestingTooDeep(t *testing.T) {
	r := NewRegistry()
	raw := []byte(`{"params":{"a":{"b":{"c":{"d":1}}}}}`)
	assert.Error(t, r.Validate("update_synth_params", raw))
}

func TestValidateSynthParams_WithinDepthLimit(t *testing.T) {
	r := NewRegistry()
	raw := []byte(`{"params":{"a":{"b":1}}}`)
	assert.NoError(t, r.Validate("update_synth_params", raw))
}

func TestValidate_UnregisteredKindPassesThrough(t *testing.T) {
	r := NewRegistry()
	assert.NoError(t, r.Validate("arrange:request_state", []byte(`{}`)))
}
