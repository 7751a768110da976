package room

import "github.com/jamfabric/roomfabric/internal/v1/arrange"

// Identity is the authenticated caller of a Route call, resolved upstream
// (JWT validation, session lookup) before the dispatcher ever sees the
// event — the dispatcher trusts it rather than re-deriving it.
type Identity struct {
	ConnectionID string
	UserID       string
	Username     string
}

// JoinRoomPayload carries the room metadata resolved by the layer in front
// of the dispatcher (HTTP/WS accept handler, backed by a RoomRepository) —
// the dispatcher itself never talks to a database.
type JoinRoomPayload struct {
	RoomID      string `json:"roomId"`
	OwnerUserID string `json:"ownerUserId"`
	Private     bool   `json:"private"`
	RoomType    string `json:"roomType"`
	Role        string `json:"role,omitempty"`
}

type ApprovalResponsePayload struct {
	ConnectionID string `json:"connectionId"`
	Approve      bool   `json:"approve"`
}

type TransferOwnershipPayload struct {
	NewOwnerUserID string `json:"newOwnerUserId"`
}

type PlayNotePayload struct {
	TrackID  string  `json:"trackId,omitempty"`
	Pitch    int     `json:"pitch"`
	Velocity int     `json:"velocity"`
}

type ChangeInstrumentPayload struct {
	TrackID      string `json:"trackId,omitempty"`
	InstrumentID string `json:"instrumentId"`
}

type SynthParamsPayload struct {
	TrackID string         `json:"trackId"`
	Params  map[string]any `json:"params"`
}

type MetronomePayload struct {
	Enabled bool `json:"enabled"`
	BPM     int  `json:"bpm"`
}

type ChatMessagePayload struct {
	Content string `json:"content"`
}

type VoiceSignalPayload struct {
	Type           string `json:"type,omitempty"`
	SDP            string `json:"sdp,omitempty"`
	Candidate      string `json:"candidate,omitempty"`
	TargetClientID string `json:"targetClientId"`
}

type PingPayload struct {
	PingID    string `json:"pingId"`
	Timestamp int64  `json:"timestamp"`
}

// --- arrangement payloads ---

type TrackAddPayload struct {
	Name               string `json:"name"`
	Type               string `json:"type"`
	InstrumentID       string `json:"instrumentId,omitempty"`
	InstrumentCategory string `json:"instrumentCategory,omitempty"`
	Color              string `json:"color,omitempty"`
}

type TrackUpdatePayload struct {
	TrackID string `json:"trackId"`
	Updates struct {
		Name               *string  `json:"name"`
		InstrumentID       *string  `json:"instrumentId"`
		InstrumentCategory *string  `json:"instrumentCategory"`
		Volume             *float64 `json:"volume"`
		Pan                *float64 `json:"pan"`
		Mute               *bool    `json:"mute"`
		Solo               *bool    `json:"solo"`
		Color              *string  `json:"color"`
	} `json:"updates"`
}

type TrackReorderPayload struct {
	OrderedTrackIDs []string `json:"orderedTrackIds"`
}

type TrackDeletePayload struct {
	TrackID string `json:"trackId"`
}

type RegionAddPayload struct {
	TrackID string                   `json:"trackId"`
	Name    string                   `json:"name"`
	Kind    string                   `json:"kind"`
	Start   float64                  `json:"start"`
	Length  float64                  `json:"length"`
	Color   string                   `json:"color,omitempty"`
	Midi    *arrange.MidiRegionData  `json:"midi,omitempty"`
	Audio   *arrange.AudioRegionData `json:"audio,omitempty"`
}

type RegionUpdatePayload struct {
	RegionID string `json:"regionId"`
	Updates  struct {
		TrackID        *string  `json:"trackId"`
		Name           *string  `json:"name"`
		Start          *float64 `json:"start"`
		Length         *float64 `json:"length"`
		LoopEnabled    *bool    `json:"loopEnabled"`
		LoopIterations *int     `json:"loopIterations"`
		Color          *string  `json:"color"`
	} `json:"updates"`
}

type RegionMovePayload struct {
	RegionID   string  `json:"regionId"`
	DeltaBeats float64 `json:"deltaBeats"`
}

type RegionIDPayload struct {
	RegionID string `json:"regionId"`
}

type RegionDragItem struct {
	RegionID string  `json:"regionId"`
	TrackID  *string `json:"trackId,omitempty"`
	NewStart float64 `json:"newStart"`
}

type RegionDraggedPayload struct {
	Updates []RegionDragItem `json:"updates"`
}

type NoteListPayload struct {
	RegionID string             `json:"regionId"`
	Notes    []arrange.MidiNote `json:"notes"`
}

type BpmPayload struct {
	BPM int `json:"bpm"`
}

type TimeSignaturePayload struct {
	Numerator   int `json:"numerator"`
	Denominator int `json:"denominator"`
}

type SelectionPayload struct {
	SelectedTrackID   *string  `json:"selectedTrackId"`
	SelectedRegionIDs []string `json:"selectedRegionIds"`
}

type LockAcquirePayload struct {
	ElementID string `json:"elementId"`
	Kind      string `json:"type"`
}

type LockReleasePayload struct {
	ElementID string `json:"elementId"`
}

type MarkerAddPayload struct {
	Position    float64 `json:"position"`
	Description string  `json:"description"`
	Color       string  `json:"color,omitempty"`
}

type MarkerUpdatePayload struct {
	MarkerID    string   `json:"markerId"`
	Position    *float64 `json:"position"`
	Description *string  `json:"description"`
	Color       *string  `json:"color"`
}

type MarkerDeletePayload struct {
	MarkerID string `json:"markerId"`
}

// LockEntry flattens arrange.State.Locks (a map keyed by element id) into an
// array carrying its own elementId field, per spec.md §4.8's state_sync
// shape.
type LockEntry struct {
	ElementID string `json:"elementId"`
	*arrange.LockInfo
}

// stateSyncPayload flattens arrange.State for the wire: Locks becomes an
// array carrying elementId, SelectedRegionIDs becomes a plain string slice.
func stateSyncPayload(st *arrange.State) map[string]any {
	locks := make([]LockEntry, 0, len(st.Locks))
	for elementID, info := range st.Locks {
		locks = append(locks, LockEntry{ElementID: elementID, LockInfo: info})
	}
	selected := make([]string, 0, len(st.SelectedRegionIDs))
	for id := range st.SelectedRegionIDs {
		selected = append(selected, id)
	}
	return map[string]any{
		"tracks":            st.Tracks,
		"regions":           st.Regions,
		"locks":             locks,
		"selectedTrackId":   st.SelectedTrackID,
		"selectedRegionIds": selected,
		"bpm":               st.BPM,
		"timeSignature":     st.TimeSignature,
		"synthStates":       st.SynthStates,
		"markers":           st.Markers,
		"lastUpdated":       st.LastUpdated,
	}
}
