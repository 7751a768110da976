package arrange

import (
	"errors"
	"sync"

	"github.com/jamfabric/roomfabric/internal/v1/clock"
)

var (
	ErrNoState       = errors.New("arrange: room has no state")
	ErrTrackNotFound  = errors.New("arrange: track not found")
	ErrRegionNotFound = errors.New("arrange: region not found")
	ErrLockConflict   = errors.New("arrange: element is locked by another user")
	ErrNotLockOwner   = errors.New("arrange: caller does not own the lock")
)

// room bundles one arrange room's state with its own mutex so different
// rooms proceed in parallel — generalizing the teacher's one Room.mu
// sync.RWMutex design (internal/v1/session/room.go) to a store of many.
type room struct {
	mu    sync.RWMutex
	state *State
}

// Store is the process-wide registry of per-room arrangement state.
type Store struct {
	mu    sync.RWMutex
	rooms map[string]*room
	clock clock.Clock
}

// NewStore constructs an empty Store.
func NewStore(c clock.Clock) *Store {
	if c == nil {
		c = clock.Real{}
	}
	return &Store{rooms: make(map[string]*room), clock: c}
}

func (s *Store) getRoom(roomID string) (*room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	return r, ok
}

// GetState returns the room's live state (not a copy), or ErrNoState.
func (s *Store) GetState(roomID string) (*State, error) {
	r, ok := s.getRoom(roomID)
	if !ok {
		return nil, ErrNoState
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state, nil
}

// InitState creates fresh state for roomID if absent (idempotent — returns
// the existing state if one is already present).
func (s *Store) InitState(roomID string) *State {
	s.mu.Lock()
	r, ok := s.rooms[roomID]
	if !ok {
		r = &room{state: newState(s.clock)}
		s.rooms[roomID] = r
	}
	s.mu.Unlock()

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// ClearState removes a room's arrangement state entirely.
func (s *Store) ClearState(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
}

func (s *Store) touch(r *room) {
	r.state.LastUpdated = s.clock.NowMs()
}

// withRoom runs fn under the named room's write lock. No I/O may happen
// inside fn — per spec.md §5's "no I/O inside the critical section", every
// mutation method returns a result describing what to fan out; the
// dispatcher (C8) performs the actual emit after this call returns and the
// lock has released.
func (s *Store) withRoom(roomID string, fn func(r *room) error) error {
	r, ok := s.getRoom(roomID)
	if !ok {
		return ErrNoState
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := fn(r); err != nil {
		return err
	}
	s.touch(r)
	return nil
}

// --- Tracks ---

// AddTrack appends a new track and returns it.
func (s *Store) AddTrack(roomID string, t *Track) (*Track, error) {
	err := s.withRoom(roomID, func(r *room) error {
		if t.RegionIDs == nil {
			t.RegionIDs = []string{}
		}
		r.state.Tracks = append(r.state.Tracks, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func findTrack(st *State, trackID string) (*Track, int) {
	for i, t := range st.Tracks {
		if t.ID == trackID {
			return t, i
		}
	}
	return nil, -1
}

// UpdateTrack applies a partial patch to a track.
func (s *Store) UpdateTrack(roomID, trackID string, patch TrackPatch) (*Track, error) {
	var updated *Track
	err := s.withRoom(roomID, func(r *room) error {
		t, _ := findTrack(r.state, trackID)
		if t == nil {
			return ErrTrackNotFound
		}
		if patch.Name != nil {
			t.Name = *patch.Name
		}
		if patch.InstrumentID != nil {
			t.InstrumentID = *patch.InstrumentID
		}
		if patch.InstrumentCategory != nil {
			t.InstrumentCategory = *patch.InstrumentCategory
		}
		if patch.Volume != nil {
			t.Volume = *patch.Volume
		}
		if patch.Pan != nil {
			t.Pan = *patch.Pan
		}
		if patch.Mute != nil {
			t.Mute = *patch.Mute
		}
		if patch.Solo != nil {
			t.Solo = *patch.Solo
		}
		if patch.Color != nil {
			t.Color = *patch.Color
		}
		updated = t
		return nil
	})
	return updated, err
}

// RemoveTrack removes a track, all regions on it, and prunes selection
// (invariant 5: no dangling selection references).
func (s *Store) RemoveTrack(roomID, trackID string) ([]string, error) {
	var removedRegionIDs []string
	err := s.withRoom(roomID, func(r *room) error {
		_, idx := findTrack(r.state, trackID)
		if idx < 0 {
			return ErrTrackNotFound
		}
		for rid, reg := range r.state.Regions {
			if reg.TrackID == trackID {
				removedRegionIDs = append(removedRegionIDs, rid)
				delete(r.state.Regions, rid)
				delete(r.state.SelectedRegionIDs, rid)
			}
		}
		r.state.Tracks = append(r.state.Tracks[:idx], r.state.Tracks[idx+1:]...)
		if r.state.SelectedTrackID == trackID {
			r.state.SelectedTrackID = ""
		}
		delete(r.state.SynthStates, trackID)
		return nil
	})
	return removedRegionIDs, err
}

// ReorderTracks replaces the track order wholesale.
func (s *Store) ReorderTracks(roomID string, orderedIDs []string) error {
	return s.withRoom(roomID, func(r *room) error {
		byID := make(map[string]*Track, len(r.state.Tracks))
		for _, t := range r.state.Tracks {
			byID[t.ID] = t
		}
		reordered := make([]*Track, 0, len(orderedIDs))
		for _, id := range orderedIDs {
			if t, ok := byID[id]; ok {
				reordered = append(reordered, t)
			}
		}
		r.state.Tracks = reordered
		return nil
	})
}

// --- Regions ---

// AddRegion adds a region to its track's regionIds (invariant 1).
func (s *Store) AddRegion(roomID string, reg *Region) (*Region, error) {
	err := s.withRoom(roomID, func(r *room) error {
		t, _ := findTrack(r.state, reg.TrackID)
		if t == nil {
			return ErrTrackNotFound
		}
		if reg.Start < 0 {
			reg.Start = 0 // invariant 5
		}
		r.state.Regions[reg.ID] = reg
		t.RegionIDs = append(t.RegionIDs, reg.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// UpdateRegion applies patch to a region. A changed TrackID atomically moves
// the region between tracks' regionIds lists, maintaining invariant 1.
func (s *Store) UpdateRegion(roomID, regionID string, patch RegionPatch) (*Region, error) {
	var updated *Region
	err := s.withRoom(roomID, func(r *room) error {
		reg, ok := r.state.Regions[regionID]
		if !ok {
			return ErrRegionNotFound
		}
		if patch.TrackID != nil && *patch.TrackID != reg.TrackID {
			newTrack, _ := findTrack(r.state, *patch.TrackID)
			if newTrack == nil {
				return ErrTrackNotFound
			}
			if oldTrack, _ := findTrack(r.state, reg.TrackID); oldTrack != nil {
				oldTrack.RegionIDs = removeString(oldTrack.RegionIDs, regionID)
			}
			newTrack.RegionIDs = append(newTrack.RegionIDs, regionID)
			reg.TrackID = *patch.TrackID
		}
		if patch.Name != nil {
			reg.Name = *patch.Name
		}
		if patch.Start != nil {
			start := *patch.Start
			if start < 0 {
				start = 0
			}
			reg.Start = start
		}
		if patch.Length != nil {
			reg.Length = *patch.Length
		}
		if patch.LoopEnabled != nil {
			reg.LoopEnabled = *patch.LoopEnabled
		}
		if patch.LoopIterations != nil {
			reg.LoopIterations = *patch.LoopIterations
		}
		if patch.Color != nil {
			reg.Color = *patch.Color
		}
		if patch.Notes != nil && reg.Kind == RegionMidi {
			if reg.Midi == nil {
				reg.Midi = &MidiRegionData{}
			}
			reg.Midi.Notes = patch.Notes
		}
		if patch.Audio != nil && reg.Kind == RegionAudio {
			reg.Audio = patch.Audio
		}
		updated = reg
		return nil
	})
	return updated, err
}

// RemoveRegion deletes a region, unlinks it from its track, and prunes
// selection. Returns the removed region so the caller (C8) can run the
// audio blob lifecycle check against it.
func (s *Store) RemoveRegion(roomID, regionID string) (*Region, error) {
	var removed *Region
	err := s.withRoom(roomID, func(r *room) error {
		reg, ok := r.state.Regions[regionID]
		if !ok {
			return ErrRegionNotFound
		}
		if t, _ := findTrack(r.state, reg.TrackID); t != nil {
			t.RegionIDs = removeString(t.RegionIDs, regionID)
		}
		delete(r.state.Regions, regionID)
		delete(r.state.SelectedRegionIDs, regionID)
		delete(r.state.Locks, regionID)
		removed = reg
		return nil
	})
	return removed, err
}

// MoveRegion applies a beat delta atomically, clamping the result to zero
// (the region_move concrete scenario: newStart = max(0, current+delta)).
func (s *Store) MoveRegion(roomID, regionID string, deltaBeats float64) (*Region, error) {
	var moved *Region
	err := s.withRoom(roomID, func(r *room) error {
		reg, ok := r.state.Regions[regionID]
		if !ok {
			return ErrRegionNotFound
		}
		start := reg.Start + deltaBeats
		if start < 0 {
			start = 0
		}
		reg.Start = start
		moved = reg
		return nil
	})
	return moved, err
}

// ReplaceState resets a room's arrangement wholesale — the "replace project"
// entry point invoked by the project-upload collaborator, not a wire event.
// Creates the room's state if it didn't already exist. Clears selection and
// synth state along with the old tracks/regions.
func (s *Store) ReplaceState(roomID string, tracks []*Track, regions map[string]*Region, bpm int, ts TimeSignature) {
	if tracks == nil {
		tracks = []*Track{}
	}
	if regions == nil {
		regions = make(map[string]*Region)
	}

	s.mu.Lock()
	r, ok := s.rooms[roomID]
	if !ok {
		r = &room{state: newState(s.clock)}
		s.rooms[roomID] = r
	}
	s.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Tracks = tracks
	r.state.Regions = regions
	r.state.BPM = bpm
	r.state.TimeSignature = ts
	r.state.SelectedTrackID = ""
	r.state.SelectedRegionIDs = make(map[string]struct{})
	r.state.SynthStates = make(map[string]map[string]any)
	r.state.LastUpdated = s.clock.NowMs()
}

func removeString(ss []string, target string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

// --- Transport/session state ---

func (s *Store) SetBpm(roomID string, bpm int) error {
	return s.withRoom(roomID, func(r *room) error {
		r.state.BPM = bpm
		return nil
	})
}

func (s *Store) SetTimeSignature(roomID string, ts TimeSignature) error {
	return s.withRoom(roomID, func(r *room) error {
		r.state.TimeSignature = ts
		return nil
	})
}

func (s *Store) UpdateSynthParams(roomID, trackID string, patch map[string]any) error {
	return s.withRoom(roomID, func(r *room) error {
		existing, ok := r.state.SynthStates[trackID]
		if !ok {
			existing = make(map[string]any)
		}
		for k, v := range patch {
			existing[k] = v
		}
		r.state.SynthStates[trackID] = existing
		return nil
	})
}

// --- Markers ---

func (s *Store) AddMarker(roomID string, m *Marker) error {
	return s.withRoom(roomID, func(r *room) error {
		r.state.Markers = append(r.state.Markers, m)
		return nil
	})
}

func (s *Store) UpdateMarker(roomID, markerID string, position *float64, description, color *string) error {
	return s.withRoom(roomID, func(r *room) error {
		for _, m := range r.state.Markers {
			if m.ID == markerID {
				if position != nil {
					m.Position = *position
				}
				if description != nil {
					m.Description = *description
				}
				if color != nil {
					m.Color = *color
				}
				return nil
			}
		}
		return errors.New("arrange: marker not found")
	})
}

func (s *Store) RemoveMarker(roomID, markerID string) error {
	return s.withRoom(roomID, func(r *room) error {
		for i, m := range r.state.Markers {
			if m.ID == markerID {
				r.state.Markers = append(r.state.Markers[:i], r.state.Markers[i+1:]...)
				return nil
			}
		}
		return errors.New("arrange: marker not found")
	})
}

// --- Selection ---

// UpdateSelection falls back to current values for nil fields.
func (s *Store) UpdateSelection(roomID string, selectedTrackID *string, selectedRegionIDs []string) error {
	return s.withRoom(roomID, func(r *room) error {
		if selectedTrackID != nil {
			if *selectedTrackID == "" {
				r.state.SelectedTrackID = ""
			} else if t, _ := findTrack(r.state, *selectedTrackID); t != nil {
				r.state.SelectedTrackID = *selectedTrackID
			}
		}
		if selectedRegionIDs != nil {
			next := make(map[string]struct{}, len(selectedRegionIDs))
			for _, id := range selectedRegionIDs {
				if _, ok := r.state.Regions[id]; ok {
					next[id] = struct{}{}
				}
			}
			r.state.SelectedRegionIDs = next
		}
		return nil
	})
}

// --- Locks ---

// AcquireLock succeeds if no lock exists or the existing lock belongs to
// the same user (invariant 7 forbids conflicting locks).
func (s *Store) AcquireLock(roomID, elementID string, info *LockInfo) (bool, error) {
	var ok bool
	err := s.withRoom(roomID, func(r *room) error {
		existing, has := r.state.Locks[elementID]
		if has && existing.UserID != info.UserID {
			ok = false
			return nil
		}
		r.state.Locks[elementID] = info
		ok = true
		return nil
	})
	return ok, err
}

// ReleaseLock succeeds only if the caller owns the lock.
func (s *Store) ReleaseLock(roomID, elementID, userID string) (bool, error) {
	var ok bool
	err := s.withRoom(roomID, func(r *room) error {
		existing, has := r.state.Locks[elementID]
		if !has || existing.UserID != userID {
			ok = false
			return nil
		}
		delete(r.state.Locks, elementID)
		ok = true
		return nil
	})
	return ok, err
}

// ReleaseUserLocks releases every lock held by userID — called when the
// user leaves the room (invariant 3).
func (s *Store) ReleaseUserLocks(roomID, userID string) ([]string, error) {
	var released []string
	err := s.withRoom(roomID, func(r *room) error {
		for elementID, lock := range r.state.Locks {
			if lock.UserID == userID {
				released = append(released, elementID)
				delete(r.state.Locks, elementID)
			}
		}
		return nil
	})
	return released, err
}

// IsLocked returns the lock on elementID, if any.
func (s *Store) IsLocked(roomID, elementID string) (*LockInfo, error) {
	r, ok := s.getRoom(roomID)
	if !ok {
		return nil, ErrNoState
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Locks[elementID], nil
}
