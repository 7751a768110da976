package room

import (
	"context"

	"github.com/jamfabric/roomfabric/internal/v1/arrange"
	"github.com/jamfabric/roomfabric/internal/v1/clock"
	"github.com/jamfabric/roomfabric/internal/v1/namespace"
)

func (d *Dispatcher) handleArrangeRequestState(ctx context.Context, identity Identity, conn namespace.Emitter) {
	if _, ok := d.requireMember(conn, identity); !ok {
		return
	}
	sess, _ := d.sessions.Get(identity.ConnectionID)
	d.sendStateSync(sess.RoomID, conn)
}

// checkRegionLock enforces the lock-conflict policy: a mutation on a locked
// region is rejected, with lock_conflict sent only to the caller (no
// broadcast), unless the caller holds the lock itself.
func (d *Dispatcher) checkRegionLock(conn namespace.Emitter, roomID, regionID, userID string) bool {
	lock, _ := d.arrange.IsLocked(roomID, regionID)
	if lock != nil && lock.UserID != userID {
		d.sendTo(conn, string(EventLockConflict), map[string]string{"elementId": regionID, "lockedBy": lock.Username})
		return false
	}
	return true
}

func (d *Dispatcher) handleArrangeTrackAdd(ctx context.Context, identity Identity, conn namespace.Emitter, raw []byte) {
	sess, ok := d.requireMember(conn, identity)
	if !ok {
		return
	}
	p, ok := decode[TrackAddPayload](raw)
	if !ok {
		d.sendError(conn, CodeValidation, "malformed track_add payload", nil, 0)
		return
	}
	t := &arrange.Track{
		ID: clock.New(clock.KindTrack), Name: p.Name, Type: arrange.TrackType(p.Type),
		InstrumentID: p.InstrumentID, InstrumentCategory: p.InstrumentCategory, Volume: 1, Pan: 0, Color: p.Color,
	}
	d.arrange.InitState(sess.RoomID)
	added, err := d.arrange.AddTrack(sess.RoomID, t)
	if err != nil {
		d.sendError(conn, CodeRoomStateError, err.Error(), nil, 0)
		return
	}
	d.emitRoom(sess.RoomID, string(EventTrackAdded), added, true)
}

func (d *Dispatcher) handleArrangeTrackUpdate(ctx context.Context, identity Identity, conn namespace.Emitter, raw []byte) {
	sess, ok := d.requireMember(conn, identity)
	if !ok {
		return
	}
	p, ok := decode[TrackUpdatePayload](raw)
	if !ok || p.TrackID == "" {
		d.sendError(conn, CodeValidation, "malformed track_update payload", nil, 0)
		return
	}
	patch := arrange.TrackPatch{
		Name: p.Updates.Name, InstrumentID: p.Updates.InstrumentID, InstrumentCategory: p.Updates.InstrumentCategory,
		Volume: p.Updates.Volume, Pan: p.Updates.Pan, Mute: p.Updates.Mute, Solo: p.Updates.Solo, Color: p.Updates.Color,
	}
	updated, err := d.arrange.UpdateTrack(sess.RoomID, p.TrackID, patch)
	if err != nil {
		d.sendError(conn, CodeRoomStateError, err.Error(), nil, 0)
		return
	}
	d.emitRoom(sess.RoomID, string(EventTrackUpdated), updated, true)
}

func (d *Dispatcher) handleArrangeTrackReorder(ctx context.Context, identity Identity, conn namespace.Emitter, raw []byte) {
	sess, ok := d.requireMember(conn, identity)
	if !ok {
		return
	}
	p, ok := decode[TrackReorderPayload](raw)
	if !ok {
		d.sendError(conn, CodeValidation, "malformed track_reorder payload", nil, 0)
		return
	}
	if err := d.arrange.ReorderTracks(sess.RoomID, p.OrderedTrackIDs); err != nil {
		d.sendError(conn, CodeRoomStateError, err.Error(), nil, 0)
		return
	}
	d.emitRoom(sess.RoomID, string(EventTrackReordered), p, true)
}

// audioStorageKey returns the canonical storage key for an audio region —
// audioFileId is preferred over the URL per spec.md §9's design note, since
// URLs may be rewritten at project-load time while the file id is stable.
func audioStorageKey(reg *arrange.Region) string {
	if reg == nil || reg.Kind != arrange.RegionAudio || reg.Audio == nil {
		return ""
	}
	if reg.Audio.AudioFileID != "" {
		return reg.Audio.AudioFileID
	}
	return reg.Audio.AudioURL
}

// reclaimAudio implements the audio blob lifecycle rule (spec.md §4.8,
// concrete scenario 3): for each removed audio region, only delete the
// backing blob once no surviving region (checked against the *post-mutation*
// state) still references the same storage key.
func (d *Dispatcher) reclaimAudio(ctx context.Context, roomID string, removed []*arrange.Region) {
	if len(removed) == 0 || d.storage == nil {
		return
	}
	st, err := d.arrange.GetState(roomID)
	if err != nil {
		return
	}
	surviving := make(map[string]struct{}, len(st.Regions))
	for _, reg := range st.Regions {
		if k := audioStorageKey(reg); k != "" {
			surviving[k] = struct{}{}
		}
	}
	seen := make(map[string]struct{})
	for _, reg := range removed {
		k := audioStorageKey(reg)
		if k == "" {
			continue
		}
		if _, stillUsed := surviving[k]; stillUsed {
			continue
		}
		if _, already := seen[k]; already {
			continue
		}
		seen[k] = struct{}{}
		_ = d.storage.DeleteRegionAudio(ctx, roomID, k)
	}
}

func (d *Dispatcher) handleArrangeTrackDelete(ctx context.Context, identity Identity, conn namespace.Emitter, raw []byte) {
	sess, ok := d.requireMember(conn, identity)
	if !ok {
		return
	}
	p, ok := decode[TrackDeletePayload](raw)
	if !ok || p.TrackID == "" {
		d.sendError(conn, CodeValidation, "malformed track_delete payload", nil, 0)
		return
	}

	st, err := d.arrange.GetState(sess.RoomID)
	if err != nil {
		d.sendError(conn, CodeNotFound, "no arrangement state", nil, 0)
		return
	}
	var removedAudio []*arrange.Region
	for _, reg := range st.Regions {
		if reg.TrackID == p.TrackID && reg.Kind == arrange.RegionAudio {
			removedAudio = append(removedAudio, reg)
		}
	}

	removedRegionIDs, err := d.arrange.RemoveTrack(sess.RoomID, p.TrackID)
	if err != nil {
		d.sendError(conn, CodeRoomStateError, err.Error(), nil, 0)
		return
	}
	d.reclaimAudio(ctx, sess.RoomID, removedAudio)
	d.emitRoom(sess.RoomID, string(EventTrackDeleted), map[string]any{
		"trackId": p.TrackID, "removedRegionIds": removedRegionIDs,
	}, true)
}

func (d *Dispatcher) handleArrangeRegionAdd(ctx context.Context, identity Identity, conn namespace.Emitter, raw []byte) {
	sess, ok := d.requireMember(conn, identity)
	if !ok {
		return
	}
	p, ok := decode[RegionAddPayload](raw)
	if !ok {
		d.sendError(conn, CodeValidation, "malformed region_add payload", nil, 0)
		return
	}
	reg := &arrange.Region{
		ID: clock.New(clock.KindRegion), TrackID: p.TrackID, Name: p.Name, Kind: arrange.RegionKind(p.Kind),
		Start: p.Start, Length: p.Length, Color: p.Color, Midi: p.Midi, Audio: p.Audio,
	}
	added, err := d.arrange.AddRegion(sess.RoomID, reg)
	if err != nil {
		d.sendError(conn, CodeRoomStateError, err.Error(), nil, 0)
		return
	}
	d.emitRoom(sess.RoomID, string(EventRegionAdded), added, true)
}

func (d *Dispatcher) handleArrangeRegionUpdate(ctx context.Context, identity Identity, conn namespace.Emitter, raw []byte) {
	sess, ok := d.requireMember(conn, identity)
	if !ok {
		return
	}
	p, ok := decode[RegionUpdatePayload](raw)
	if !ok || p.RegionID == "" {
		d.sendError(conn, CodeValidation, "malformed region_update payload", nil, 0)
		return
	}
	if !d.checkRegionLock(conn, sess.RoomID, p.RegionID, identity.UserID) {
		return
	}
	patch := arrange.RegionPatch{
		TrackID: p.Updates.TrackID, Name: p.Updates.Name, Start: p.Updates.Start, Length: p.Updates.Length,
		LoopEnabled: p.Updates.LoopEnabled, LoopIterations: p.Updates.LoopIterations, Color: p.Updates.Color,
	}
	updated, err := d.arrange.UpdateRegion(sess.RoomID, p.RegionID, patch)
	if err != nil {
		d.sendError(conn, CodeRoomStateError, err.Error(), nil, 0)
		return
	}
	d.emitRoom(sess.RoomID, string(EventRegionUpdated), updated, true)
}

func (d *Dispatcher) handleArrangeRegionMove(ctx context.Context, identity Identity, conn namespace.Emitter, raw []byte) {
	sess, ok := d.requireMember(conn, identity)
	if !ok {
		return
	}
	p, ok := decode[RegionMovePayload](raw)
	if !ok || p.RegionID == "" {
		d.sendError(conn, CodeValidation, "malformed region_move payload", nil, 0)
		return
	}
	if !d.checkRegionLock(conn, sess.RoomID, p.RegionID, identity.UserID) {
		return
	}
	moved, err := d.arrange.MoveRegion(sess.RoomID, p.RegionID, p.DeltaBeats)
	if err != nil {
		d.sendError(conn, CodeRoomStateError, err.Error(), nil, 0)
		return
	}
	d.emitRoom(sess.RoomID, string(EventRegionMoved), map[string]any{"regionId": p.RegionID, "newStart": moved.Start}, true)
}

func (d *Dispatcher) handleArrangeRegionDelete(ctx context.Context, identity Identity, conn namespace.Emitter, raw []byte) {
	sess, ok := d.requireMember(conn, identity)
	if !ok {
		return
	}
	p, ok := decode[RegionIDPayload](raw)
	if !ok || p.RegionID == "" {
		d.sendError(conn, CodeValidation, "malformed region_delete payload", nil, 0)
		return
	}
	if !d.checkRegionLock(conn, sess.RoomID, p.RegionID, identity.UserID) {
		return
	}
	removed, err := d.arrange.RemoveRegion(sess.RoomID, p.RegionID)
	if err != nil {
		d.sendError(conn, CodeRoomStateError, err.Error(), nil, 0)
		return
	}
	if removed.Kind == arrange.RegionAudio {
		d.reclaimAudio(ctx, sess.RoomID, []*arrange.Region{removed})
	}
	d.emitRoom(sess.RoomID, string(EventRegionDeleted), map[string]string{"regionId": p.RegionID}, true)
}

// handleArrangeRegionDragged applies a batch of drag updates, silently
// skipping any target whose track id is unknown or whose region is locked
// by another user, and batches the fan-out (immediate=false) since drags
// fire at pointer-move frequency.
func (d *Dispatcher) handleArrangeRegionDragged(ctx context.Context, identity Identity, conn namespace.Emitter, raw []byte) {
	sess, ok := d.requireMember(conn, identity)
	if !ok {
		return
	}
	p, ok := decode[RegionDraggedPayload](raw)
	if !ok {
		d.sendError(conn, CodeValidation, "malformed region_dragged payload", nil, 0)
		return
	}

	var accepted []*arrange.Region
	for _, item := range p.Updates {
		if lock, _ := d.arrange.IsLocked(sess.RoomID, item.RegionID); lock != nil && lock.UserID != identity.UserID {
			continue
		}
		start := item.NewStart
		if start < 0 {
			start = 0
		}
		patch := arrange.RegionPatch{Start: &start}
		if item.TrackID != nil {
			patch.TrackID = item.TrackID
		}
		reg, err := d.arrange.UpdateRegion(sess.RoomID, item.RegionID, patch)
		if err != nil {
			continue
		}
		accepted = append(accepted, reg)
	}
	if len(accepted) == 0 {
		return
	}
	d.emitRoom(sess.RoomID, string(EventRegionDragged), map[string]any{"updates": accepted}, false)
}

func (d *Dispatcher) handleArrangeNoteMutate(ctx context.Context, identity Identity, conn namespace.Emitter, event Event, raw []byte) {
	sess, ok := d.requireMember(conn, identity)
	if !ok {
		return
	}
	p, ok := decode[NoteListPayload](raw)
	if !ok || p.RegionID == "" {
		d.sendError(conn, CodeValidation, "malformed note payload", nil, 0)
		return
	}
	if !d.checkRegionLock(conn, sess.RoomID, p.RegionID, identity.UserID) {
		return
	}
	st, err := d.arrange.GetState(sess.RoomID)
	if err != nil {
		d.sendError(conn, CodeNotFound, "no arrangement state", nil, 0)
		return
	}
	reg, ok := st.Regions[p.RegionID]
	if !ok {
		d.sendError(conn, CodeNotFound, "region not found", nil, 0)
		return
	}
	if reg.Kind != arrange.RegionMidi {
		d.sendError(conn, CodeValidation, "region is not a midi region", nil, 0)
		return
	}
	seen := make(map[string]struct{}, len(p.Notes))
	for _, n := range p.Notes {
		if _, dup := seen[n.ID]; dup {
			d.sendError(conn, CodeConflict, "duplicate note id "+n.ID, nil, 0)
			return
		}
		seen[n.ID] = struct{}{}
	}

	updated, err := d.arrange.UpdateRegion(sess.RoomID, p.RegionID, arrange.RegionPatch{Notes: p.Notes})
	if err != nil {
		d.sendError(conn, CodeRoomStateError, err.Error(), nil, 0)
		return
	}

	var broadcastEvent string
	switch event {
	case EventArrangeNoteAdd:
		broadcastEvent = string(EventNoteAdded)
	case EventArrangeNoteUpdate:
		broadcastEvent = string(EventNoteUpdated)
	case EventArrangeNoteDelete:
		broadcastEvent = string(EventNoteDeleted)
	}
	d.emitRoom(sess.RoomID, broadcastEvent, updated, true)
}

func (d *Dispatcher) handleArrangeBpmChanged(ctx context.Context, identity Identity, conn namespace.Emitter, raw []byte) {
	sess, ok := d.requireMember(conn, identity)
	if !ok {
		return
	}
	p, ok := decode[BpmPayload](raw)
	if !ok {
		d.sendError(conn, CodeValidation, "malformed bpm_changed payload", nil, 0)
		return
	}
	if err := d.arrange.SetBpm(sess.RoomID, p.BPM); err != nil {
		d.sendError(conn, CodeRoomStateError, err.Error(), nil, 0)
		return
	}
	d.emitRoom(sess.RoomID, string(EventBpmChanged), map[string]int{"bpm": p.BPM}, true)
}

func (d *Dispatcher) handleArrangeTimeSignatureChanged(ctx context.Context, identity Identity, conn namespace.Emitter, raw []byte) {
	sess, ok := d.requireMember(conn, identity)
	if !ok {
		return
	}
	p, ok := decode[TimeSignaturePayload](raw)
	if !ok {
		d.sendError(conn, CodeValidation, "malformed time_signature_changed payload", nil, 0)
		return
	}
	ts := arrange.TimeSignature{Numerator: p.Numerator, Denominator: p.Denominator}
	if err := d.arrange.SetTimeSignature(sess.RoomID, ts); err != nil {
		d.sendError(conn, CodeRoomStateError, err.Error(), nil, 0)
		return
	}
	d.emitRoom(sess.RoomID, string(EventTimeSignatureChanged), ts, true)
}

func (d *Dispatcher) handleArrangeSelectionChanged(ctx context.Context, identity Identity, conn namespace.Emitter, raw []byte) {
	sess, ok := d.requireMember(conn, identity)
	if !ok {
		return
	}
	p, ok := decode[SelectionPayload](raw)
	if !ok {
		d.sendError(conn, CodeValidation, "malformed selection_changed payload", nil, 0)
		return
	}
	if err := d.arrange.UpdateSelection(sess.RoomID, p.SelectedTrackID, p.SelectedRegionIDs); err != nil {
		d.sendError(conn, CodeRoomStateError, err.Error(), nil, 0)
		return
	}
	d.emitRoomExcluding(sess.RoomID, identity.ConnectionID, string(EventSelectionChanged), map[string]any{
		"userId": identity.UserID, "username": identity.Username,
		"selectedTrackId": p.SelectedTrackID, "selectedRegionIds": p.SelectedRegionIDs,
	})
}

func (d *Dispatcher) handleArrangeLockAcquire(ctx context.Context, identity Identity, conn namespace.Emitter, raw []byte) {
	sess, ok := d.requireMember(conn, identity)
	if !ok {
		return
	}
	p, ok := decode[LockAcquirePayload](raw)
	if !ok || p.ElementID == "" {
		d.sendError(conn, CodeValidation, "malformed lock_acquire payload", nil, 0)
		return
	}
	info := &arrange.LockInfo{
		UserID: identity.UserID, Username: identity.Username, Kind: arrange.LockKind(p.Kind), Timestamp: d.clock.NowMs(),
	}
	acquired, err := d.arrange.AcquireLock(sess.RoomID, p.ElementID, info)
	if err != nil {
		d.sendError(conn, CodeRoomStateError, err.Error(), nil, 0)
		return
	}
	if !acquired {
		existing, _ := d.arrange.IsLocked(sess.RoomID, p.ElementID)
		lockedBy := ""
		if existing != nil {
			lockedBy = existing.Username
		}
		d.sendTo(conn, string(EventLockConflict), map[string]string{"elementId": p.ElementID, "lockedBy": lockedBy})
		return
	}
	d.emitRoom(sess.RoomID, string(EventLockAcquired), map[string]any{
		"elementId": p.ElementID, "userId": identity.UserID, "username": identity.Username, "type": p.Kind,
	}, true)
}

func (d *Dispatcher) handleArrangeLockRelease(ctx context.Context, identity Identity, conn namespace.Emitter, raw []byte) {
	sess, ok := d.requireMember(conn, identity)
	if !ok {
		return
	}
	p, ok := decode[LockReleasePayload](raw)
	if !ok || p.ElementID == "" {
		d.sendError(conn, CodeValidation, "malformed lock_release payload", nil, 0)
		return
	}
	released, err := d.arrange.ReleaseLock(sess.RoomID, p.ElementID, identity.UserID)
	if err != nil {
		d.sendError(conn, CodeRoomStateError, err.Error(), nil, 0)
		return
	}
	if !released {
		d.sendError(conn, CodePermissionDenied, "caller does not own this lock", nil, 0)
		return
	}
	d.emitRoom(sess.RoomID, string(EventLockReleased), map[string]string{"elementId": p.ElementID}, true)
}

// handleArrangeRelayExcludingSender backs recording_preview/_end and
// broadcast_state/_note: pure relays with no backing state mutation,
// excluding the sender per spec.md §4.8's fan-out column.
func (d *Dispatcher) handleArrangeRelayExcludingSender(ctx context.Context, identity Identity, conn namespace.Emitter, broadcastEvent string, raw []byte) {
	sess, ok := d.requireMember(conn, identity)
	if !ok {
		return
	}
	d.emitRoomExcluding(sess.RoomID, identity.ConnectionID, broadcastEvent, withSender(raw, identity))
}

func withSender(raw []byte, identity Identity) map[string]any {
	var body map[string]any
	if len(raw) > 0 {
		_ = decodeInto(raw, &body)
	}
	if body == nil {
		body = make(map[string]any)
	}
	body["userId"] = identity.UserID
	body["username"] = identity.Username
	return body
}

func (d *Dispatcher) handleArrangeMarkerAdd(ctx context.Context, identity Identity, conn namespace.Emitter, raw []byte) {
	sess, ok := d.requireMember(conn, identity)
	if !ok {
		return
	}
	p, ok := decode[MarkerAddPayload](raw)
	if !ok {
		d.sendError(conn, CodeValidation, "malformed marker_add payload", nil, 0)
		return
	}
	m := &arrange.Marker{ID: clock.New(clock.KindMarker), Position: p.Position, Description: p.Description, Color: p.Color}
	if err := d.arrange.AddMarker(sess.RoomID, m); err != nil {
		d.sendError(conn, CodeRoomStateError, err.Error(), nil, 0)
		return
	}
	d.emitRoom(sess.RoomID, string(EventMarkerAdded), m, true)
}

func (d *Dispatcher) handleArrangeMarkerUpdate(ctx context.Context, identity Identity, conn namespace.Emitter, raw []byte) {
	sess, ok := d.requireMember(conn, identity)
	if !ok {
		return
	}
	p, ok := decode[MarkerUpdatePayload](raw)
	if !ok || p.MarkerID == "" {
		d.sendError(conn, CodeValidation, "malformed marker_update payload", nil, 0)
		return
	}
	if err := d.arrange.UpdateMarker(sess.RoomID, p.MarkerID, p.Position, p.Description, p.Color); err != nil {
		d.sendError(conn, CodeNotFound, err.Error(), nil, 0)
		return
	}
	d.emitRoom(sess.RoomID, string(EventMarkerUpdated), p, true)
}

func (d *Dispatcher) handleArrangeMarkerDelete(ctx context.Context, identity Identity, conn namespace.Emitter, raw []byte) {
	sess, ok := d.requireMember(conn, identity)
	if !ok {
		return
	}
	p, ok := decode[MarkerDeletePayload](raw)
	if !ok || p.MarkerID == "" {
		d.sendError(conn, CodeValidation, "malformed marker_delete payload", nil, 0)
		return
	}
	if err := d.arrange.RemoveMarker(sess.RoomID, p.MarkerID); err != nil {
		d.sendError(conn, CodeNotFound, err.Error(), nil, 0)
		return
	}
	d.emitRoom(sess.RoomID, string(EventMarkerDeleted), map[string]string{"markerId": p.MarkerID}, true)
}

// ReplaceProject resets an arrange room's arrangement state wholesale — the
// entry point invoked by the project-upload collaborator, not a wire event
// — rewriting embedded audio URLs through the storage adapter before
// broadcasting arrange:project_loaded.
func (d *Dispatcher) ReplaceProject(ctx context.Context, roomID string, tracks []*arrange.Track, regions map[string]*arrange.Region, bpm int, ts arrange.TimeSignature) {
	if d.storage != nil {
		for _, reg := range regions {
			if reg.Kind == arrange.RegionAudio && reg.Audio != nil {
				reg.Audio.AudioURL = d.storage.RewriteAudioURL(ctx, roomID, reg.Audio.AudioURL)
			}
		}
	}
	d.arrange.ReplaceState(roomID, tracks, regions, bpm, ts)
	d.emitRoom(roomID, string(EventProjectLoaded), map[string]any{
		"tracks": tracks, "regions": regions, "bpm": bpm, "timeSignature": ts,
	}, true)
}
