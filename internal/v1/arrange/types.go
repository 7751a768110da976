// Package arrange is the per-room state store (C6): tracks, regions, locks,
// markers, synth params, and the transactional operations over them. It
// generalizes the teacher's single Room's sync.RWMutex-guarded mutation
// style (internal/v1/session room.go/methods.go) from "one room" to "a
// store of many rooms", one mutex per room, proceeding in parallel.
package arrange

import "github.com/jamfabric/roomfabric/internal/v1/clock"

// TrackType distinguishes midi from audio tracks.
type TrackType string

const (
	TrackMidi  TrackType = "midi"
	TrackAudio TrackType = "audio"
)

// Track is an ordered channel of musical content.
type Track struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Type               TrackType `json:"type"`
	InstrumentID       string    `json:"instrumentId,omitempty"`
	InstrumentCategory string    `json:"instrumentCategory,omitempty"`
	Volume             float64   `json:"volume"`
	Pan                float64   `json:"pan"`
	Mute               bool      `json:"mute"`
	Solo               bool      `json:"solo"`
	Color              string    `json:"color,omitempty"`
	RegionIDs          []string  `json:"regionIds"`
}

// RegionKind tags the Region union (Region is a concrete struct with a Kind
// field and kind-specific pointer fields, matching the teacher's
// concrete-struct-with-enum style over interface dispatch).
type RegionKind string

const (
	RegionMidi  RegionKind = "midi"
	RegionAudio RegionKind = "audio"
)

// MidiNote is a single note event inside a MidiRegion.
type MidiNote struct {
	ID       string  `json:"id"`
	Pitch    int     `json:"pitch"`
	Velocity int     `json:"velocity"`
	Start    float64 `json:"start"`
	Length   float64 `json:"length"`
}

// MidiRegionData holds the fields specific to a midi region.
type MidiRegionData struct {
	Notes         []MidiNote `json:"notes"`
	SustainEvents []float64  `json:"sustainEvents,omitempty"`
}

// AudioRegionData holds the fields specific to an audio region.
type AudioRegionData struct {
	AudioURL       string  `json:"audioUrl,omitempty"`
	AudioFileID    string  `json:"audioFileId,omitempty"`
	TrimStart      float64 `json:"trimStart,omitempty"`
	OriginalLength float64 `json:"originalLength,omitempty"`
	Gain           float64 `json:"gain,omitempty"`
	FadeInDuration float64 `json:"fadeInDuration,omitempty"`
	FadeOutDuration float64 `json:"fadeOutDuration,omitempty"`
}

// Region is a contiguous block of musical content on a track. It is a
// tagged union over Kind: exactly one of Midi/Audio is non-nil.
type Region struct {
	ID            string           `json:"id"`
	TrackID       string           `json:"trackId"`
	Name          string           `json:"name"`
	Kind          RegionKind       `json:"kind"`
	Start         float64          `json:"start"`
	Length        float64          `json:"length"`
	LoopEnabled   bool             `json:"loopEnabled"`
	LoopIterations int             `json:"loopIterations"`
	Color         string           `json:"color,omitempty"`
	Midi          *MidiRegionData  `json:"midi,omitempty"`
	Audio         *AudioRegionData `json:"audio,omitempty"`
}

// LockKind identifies what an element lock protects.
type LockKind string

const (
	LockRegion         LockKind = "region"
	LockTrack          LockKind = "track"
	LockTrackProperty  LockKind = "track_property"
)

// LockInfo records who holds a lock on an element.
type LockInfo struct {
	UserID    string   `json:"userId"`
	Username  string   `json:"username"`
	Kind      LockKind `json:"type"`
	Timestamp int64    `json:"timestamp"`
}

// Marker is a named position on the timeline.
type Marker struct {
	ID          string `json:"id"`
	Position    float64 `json:"position"`
	Description string `json:"description"`
	Color       string `json:"color,omitempty"`
}

// TimeSignature is the room's time signature.
type TimeSignature struct {
	Numerator   int `json:"numerator"`
	Denominator int `json:"denominator"`
}

// State is the full arrangement state of one arrange room (invariants 1-7
// in spec §3 are enforced by the mutation methods in store.go, never by
// callers poking at this struct directly).
type State struct {
	Tracks            []*Track            `json:"tracks"`
	Regions           map[string]*Region  `json:"regions"`
	Locks             map[string]*LockInfo `json:"locks"`
	SelectedTrackID   string              `json:"selectedTrackId,omitempty"`
	SelectedRegionIDs map[string]struct{} `json:"selectedRegionIds"`
	BPM               int                 `json:"bpm"`
	TimeSignature     TimeSignature       `json:"timeSignature"`
	SynthStates       map[string]map[string]any `json:"synthStates"`
	Markers           []*Marker           `json:"markers"`
	LastUpdated       int64               `json:"lastUpdated"`
}

func newState(now clock.Clock) *State {
	return &State{
		Tracks:            []*Track{},
		Regions:           make(map[string]*Region),
		Locks:             make(map[string]*LockInfo),
		SelectedRegionIDs: make(map[string]struct{}),
		BPM:               120,
		TimeSignature:     TimeSignature{Numerator: 4, Denominator: 4},
		SynthStates:       make(map[string]map[string]any),
		Markers:           []*Marker{},
		LastUpdated:       now.NowMs(),
	}
}

// RegionPatch describes a partial update to a Region. A nil field leaves the
// corresponding value unchanged. Notes, when non-nil, replaces the full note
// set of a MidiRegion (note add/update/delete are expressed this way).
type RegionPatch struct {
	TrackID        *string
	Name           *string
	Start          *float64
	Length         *float64
	LoopEnabled    *bool
	LoopIterations *int
	Color          *string
	Notes          []MidiNote
	Audio          *AudioRegionData
}

// TrackPatch describes a partial update to a Track.
type TrackPatch struct {
	Name               *string
	InstrumentID       *string
	InstrumentCategory *string
	Volume             *float64
	Pan                *float64
	Mute               *bool
	Solo               *bool
	Color              *string
}
