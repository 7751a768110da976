package room

import (
	"context"

	"github.com/jamfabric/roomfabric/internal/v1/approval"
	"github.com/jamfabric/roomfabric/internal/v1/arrange"
	"github.com/jamfabric/roomfabric/internal/v1/namespace"
	"github.com/jamfabric/roomfabric/internal/v1/registry"
	"github.com/jamfabric/roomfabric/internal/v1/validate"
)

// handleJoinRoom covers three distinct paths per spec.md §4.8/§4.9:
//  1. grace-period rejoin: the user reattaches their seat silently (a fresh
//     state_sync only, no duplicate user_joined);
//  2. private room, not yet a member: routed into the approval flow instead
//     of joining immediately;
//  3. public room / already-approved: join immediately and broadcast
//     user_joined.
func (d *Dispatcher) handleJoinRoom(ctx context.Context, identity Identity, conn namespace.Emitter, raw []byte) {
	p, ok := decode[JoinRoomPayload](raw)
	if !ok || p.RoomID == "" {
		d.sendError(conn, CodeValidation, "malformed join_room payload", nil, 0)
		return
	}
	meta := d.seedRoomMeta(p.RoomID, p.OwnerUserID, p.Private, p.RoomType)

	if _, ok := d.sessions.IsInGrace(identity.UserID, p.RoomID); ok {
		d.sessions.ClearGrace(identity.UserID, p.RoomID)
		d.attachToRoom(identity, conn, p.RoomID)
		d.sendStateSync(p.RoomID, conn)
		return
	}

	if meta.private && meta.ownerUserID != identity.UserID {
		d.startApproval(identity, conn, p)
		return
	}

	d.attachToRoom(identity, conn, p.RoomID)
	d.arrange.InitState(p.RoomID)
	d.sendStateSync(p.RoomID, conn)
	d.emitRoomExcluding(p.RoomID, identity.ConnectionID, string(EventUserJoined), map[string]string{
		"userId": identity.UserID, "username": identity.Username, "connectionId": identity.ConnectionID,
	})
}

func (d *Dispatcher) attachToRoom(identity Identity, conn namespace.Emitter, roomID string) {
	path := "/room/" + roomID
	d.ns.Join(path, conn)
	d.sessions.Attach(identity.ConnectionID, &registry.Session{
		ConnectionID: identity.ConnectionID, RoomID: roomID, UserID: identity.UserID,
		NamespacePath: path, Kind: registry.KindRoom,
	})
}

func (d *Dispatcher) startApproval(identity Identity, conn namespace.Emitter, p JoinRoomPayload) {
	path := "/approval/" + p.RoomID
	d.ns.Join(path, conn)
	d.sessions.Attach(identity.ConnectionID, &registry.Session{
		ConnectionID: identity.ConnectionID, RoomID: p.RoomID, UserID: identity.UserID,
		NamespacePath: path, Kind: registry.KindApproval,
	})
	role := approval.RoleAudience
	if p.Role == string(approval.RoleBandMember) {
		role = approval.RoleBandMember
	}
	d.approvals.Request(&approval.Session{
		ConnectionID: identity.ConnectionID, RoomID: p.RoomID, UserID: identity.UserID,
		Username: identity.Username, Role: role,
	})
	d.sendTo(conn, string(EventApprovalPending), map[string]string{"roomId": p.RoomID})
	// Broadcast to the room rather than resolving the owner's specific
	// connection: the owner's client filters on its own ownership state,
	// and the room namespace doesn't exist yet for a room's very first
	// approval request.
	d.emitRoom(p.RoomID, string(EventApprovalPending), map[string]any{
		"connectionId": identity.ConnectionID, "userId": identity.UserID, "username": identity.Username, "role": string(role),
	}, true)
}

// OnApprovalTimeout is wired as approval.Coordinator's onTimeout callback.
func (d *Dispatcher) OnApprovalTimeout(s *approval.Session) {
	conn, ok := d.ns.Lookup("/approval/"+s.RoomID, s.ConnectionID)
	if ok {
		d.sendTo(conn, string(EventApprovalTimedOut), map[string]string{"roomId": s.RoomID})
	}
	d.ns.Leave("/approval/"+s.RoomID, s.ConnectionID)
	d.sessions.Detach(s.ConnectionID)
}

// handleApprovalResponse is called by the room's owner; it migrates the
// requester's transport connection from the approval namespace into the
// room namespace on approve, or notifies and drops it on deny.
func (d *Dispatcher) handleApprovalResponse(ctx context.Context, identity Identity, conn namespace.Emitter, raw []byte) {
	p, ok := decode[ApprovalResponsePayload](raw)
	if !ok || p.ConnectionID == "" {
		d.sendError(conn, CodeValidation, "malformed approval_response payload", nil, 0)
		return
	}
	sess, ok := d.approvals.Get(p.ConnectionID)
	if !ok {
		d.sendError(conn, CodeNotFound, "no pending approval for that connection", nil, 0)
		return
	}
	meta := d.roomMetaFor(sess.RoomID)
	if meta == nil || meta.ownerUserID != identity.UserID {
		d.sendError(conn, CodePermissionDenied, "only the room owner may respond to approvals", nil, 0)
		return
	}

	requester, found := d.ns.Lookup("/approval/"+sess.RoomID, p.ConnectionID)
	d.approvals.Resolve(p.ConnectionID)
	d.ns.Leave("/approval/"+sess.RoomID, p.ConnectionID)

	if !p.Approve {
		if found {
			d.sendTo(requester, string(EventApprovalDenied), map[string]string{"roomId": sess.RoomID})
		}
		d.sessions.Detach(p.ConnectionID)
		return
	}

	requesterIdentity := Identity{ConnectionID: p.ConnectionID, UserID: sess.UserID, Username: sess.Username}
	if found {
		d.attachToRoom(requesterIdentity, requester, sess.RoomID)
		d.arrange.InitState(sess.RoomID)
		d.sendTo(requester, string(EventConnectionApproved), map[string]string{"roomId": sess.RoomID})
		d.sendStateSync(sess.RoomID, requester)
		d.emitRoomExcluding(sess.RoomID, p.ConnectionID, string(EventUserJoined), map[string]string{
			"userId": sess.UserID, "username": sess.Username, "connectionId": p.ConnectionID,
		})
	}
}

func (d *Dispatcher) handleTransferOwnership(ctx context.Context, identity Identity, conn namespace.Emitter, raw []byte) {
	sess, ok := d.requireMember(conn, identity)
	if !ok {
		return
	}
	p, ok := decode[TransferOwnershipPayload](raw)
	if !ok || p.NewOwnerUserID == "" {
		d.sendError(conn, CodeValidation, "malformed transfer_ownership payload", nil, 0)
		return
	}
	meta := d.roomMetaFor(sess.RoomID)
	if meta == nil || meta.ownerUserID != identity.UserID {
		d.sendError(conn, CodePermissionDenied, "only the current owner may transfer ownership", nil, 0)
		return
	}
	d.mu.Lock()
	meta.ownerUserID = p.NewOwnerUserID
	d.mu.Unlock()
	d.emitRoom(sess.RoomID, string(EventOwnershipTransferred), map[string]string{"newOwnerUserId": p.NewOwnerUserID}, true)
}

// --- performance ---

func (d *Dispatcher) handlePlayNote(ctx context.Context, identity Identity, conn namespace.Emitter, raw []byte) {
	sess, ok := d.requireMember(conn, identity)
	if !ok {
		return
	}
	p, ok := decode[PlayNotePayload](raw)
	if !ok {
		d.sendError(conn, CodeValidation, "malformed play_note payload", nil, 0)
		return
	}
	// play_note broadcasts to the whole room including the sender: the
	// sender's own client relies on the authoritative echo rather than
	// assuming its local playback matches what everyone else heard.
	d.emitRoom(sess.RoomID, string(EventPlayNote), map[string]any{
		"userId": identity.UserID, "trackId": p.TrackID, "pitch": p.Pitch, "velocity": p.Velocity,
	}, false)
}

func (d *Dispatcher) handleChangeInstrument(ctx context.Context, identity Identity, conn namespace.Emitter, raw []byte) {
	sess, ok := d.requireMember(conn, identity)
	if !ok {
		return
	}
	p, ok := decode[ChangeInstrumentPayload](raw)
	if !ok {
		d.sendError(conn, CodeValidation, "malformed change_instrument payload", nil, 0)
		return
	}
	if p.TrackID != "" {
		// With a track target this also persists the change into
		// arrangement state; without one it's a pure relay (a non-arrange
		// room has no track state to update at all).
		if _, err := d.arrange.UpdateTrack(sess.RoomID, p.TrackID, arrange.TrackPatch{InstrumentID: &p.InstrumentID}); err != nil {
			d.sendError(conn, CodeRoomStateError, err.Error(), nil, 0)
			return
		}
	}
	d.emitRoom(sess.RoomID, string(EventChangeInstrument), map[string]any{
		"userId": identity.UserID, "trackId": p.TrackID, "instrumentId": p.InstrumentID,
	}, true)
}

func (d *Dispatcher) handleStopAllNotes(ctx context.Context, identity Identity, conn namespace.Emitter) {
	sess, ok := d.requireMember(conn, identity)
	if !ok {
		return
	}
	// Broadcasts to the whole room including the sender, same as play_note:
	// the sender's client also needs the authoritative "all notes off" signal.
	d.emitRoom(sess.RoomID, string(EventStopAllNotes), map[string]string{"userId": identity.UserID}, true)
}

func (d *Dispatcher) handleUpdateSynthParams(ctx context.Context, identity Identity, conn namespace.Emitter, raw []byte) {
	sess, ok := d.requireMember(conn, identity)
	if !ok {
		return
	}
	p, ok := decode[SynthParamsPayload](raw)
	if !ok || p.TrackID == "" {
		d.sendError(conn, CodeValidation, "malformed update_synth_params payload", nil, 0)
		return
	}
	if err := d.arrange.UpdateSynthParams(sess.RoomID, p.TrackID, p.Params); err != nil {
		d.sendError(conn, CodeRoomStateError, err.Error(), nil, 0)
		return
	}
	d.emitRoom(sess.RoomID, string(EventSynthParamsUpdated), map[string]any{"trackId": p.TrackID, "params": p.Params}, true)
}

func (d *Dispatcher) handleRequestSynthParams(ctx context.Context, identity Identity, conn namespace.Emitter, raw []byte) {
	sess, ok := d.requireMember(conn, identity)
	if !ok {
		return
	}
	st, err := d.arrange.GetState(sess.RoomID)
	if err != nil {
		d.sendError(conn, CodeNotFound, "no arrangement state", nil, 0)
		return
	}
	d.sendTo(conn, string(EventSynthParamsState), st.SynthStates)
}

func (d *Dispatcher) handleUpdateMetronome(ctx context.Context, identity Identity, conn namespace.Emitter, raw []byte) {
	sess, ok := d.requireMember(conn, identity)
	if !ok {
		return
	}
	p, ok := decode[MetronomePayload](raw)
	if !ok {
		d.sendError(conn, CodeValidation, "malformed update_metronome payload", nil, 0)
		return
	}
	if err := d.arrange.SetBpm(sess.RoomID, p.BPM); err != nil {
		d.sendError(conn, CodeRoomStateError, err.Error(), nil, 0)
		return
	}
	d.emitRoom(sess.RoomID, string(EventMetronomeUpdated), map[string]any{"enabled": p.Enabled, "bpm": p.BPM}, true)
}

func (d *Dispatcher) handleRequestMetronome(ctx context.Context, identity Identity, conn namespace.Emitter) {
	sess, ok := d.requireMember(conn, identity)
	if !ok {
		return
	}
	st, err := d.arrange.GetState(sess.RoomID)
	if err != nil {
		d.sendError(conn, CodeNotFound, "no arrangement state", nil, 0)
		return
	}
	d.sendTo(conn, string(EventMetronomeState), map[string]any{"enabled": true, "bpm": st.BPM})
}

// --- chat / voice ---

func (d *Dispatcher) handleChatMessage(ctx context.Context, identity Identity, conn namespace.Emitter, raw []byte) {
	sess, ok := d.requireMember(conn, identity)
	if !ok {
		return
	}
	p, ok := decode[ChatMessagePayload](raw)
	if !ok {
		d.sendError(conn, CodeValidation, "malformed chat_message payload", nil, 0)
		return
	}
	d.emitRoom(sess.RoomID, string(EventChatMessage), map[string]string{
		"userId": identity.UserID, "username": identity.Username, "content": p.Content,
	}, true)
}

// handleVoiceSignal is the shared relay for all four voice_* signaling
// events, grounded on the teacher's forwardWebRTCSignal: brief lookup of the
// target connection, rejecting a self-target, non-blocking delivery.
func (d *Dispatcher) handleVoiceSignal(ctx context.Context, identity Identity, conn namespace.Emitter, event Event, raw []byte) {
	sess, ok := d.requireMember(conn, identity)
	if !ok {
		return
	}
	p, ok := decode[VoiceSignalPayload](raw)
	if !ok || p.TargetClientID == "" {
		d.sendError(conn, CodeValidation, "malformed voice signal payload", nil, 0)
		return
	}
	if err := validate.SelfTargetCheck(identity.ConnectionID, p.TargetClientID); err != nil {
		d.sendError(conn, CodeValidation, err.Error(), nil, 0)
		return
	}
	target, ok := d.ns.Lookup("/room/"+sess.RoomID, p.TargetClientID)
	if !ok {
		d.sendError(conn, CodeNotFound, "target connection is not in this room", nil, 0)
		return
	}
	d.sendTo(target, string(event), map[string]any{
		"fromClientId": identity.ConnectionID, "type": p.Type, "sdp": p.SDP, "candidate": p.Candidate,
	})
}

func (d *Dispatcher) handlePingMeasurement(conn namespace.Emitter, raw []byte) {
	p, ok := decode[PingPayload](raw)
	if !ok {
		return
	}
	d.sendTo(conn, string(EventPingResponse), map[string]any{
		"pingId": p.PingID, "timestamp": p.Timestamp, "serverTimestamp": d.clock.NowMs(),
	})
}

// leaveRoomInternal is shared by both an explicit leave_room event and a raw
// transport disconnect: intended leaves are immediate, unintended
// disconnects (transport drop) enter the 30s grace window instead (spec.md
// §3's Grace-Period Entry) so a fast rejoin restores the same seat silently.
func (d *Dispatcher) leaveRoomInternal(ctx context.Context, identity Identity, intended bool) {
	sess := d.sessions.Detach(identity.ConnectionID)
	if sess == nil || sess.Kind != registry.KindRoom {
		return
	}
	d.ns.Leave(sess.NamespacePath, identity.ConnectionID)
	d.arrange.ReleaseUserLocks(sess.RoomID, identity.UserID)

	if !intended {
		d.sessions.AddGrace(identity.UserID, sess.RoomID, nil, false)
	}
	d.emitRoom(sess.RoomID, string(EventUserLeft), map[string]string{
		"userId": identity.UserID, "username": identity.Username, "connectionId": identity.ConnectionID,
	}, true)
}
