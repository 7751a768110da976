package room

// Event names the wire event table of spec.md §4.8. Inbound (client->server)
// arrangement events keep the teacher-adjacent "arrange:" namespace prefix
// exactly as the table lists them; their broadcasts drop the prefix except
// arrange:project_loaded, matching the one place spec.md's own prose keeps it
// (an Open Question resolved this way, recorded in DESIGN.md).
type Event string

const (
	// Core membership / transport
	EventJoinRoom           Event = "join_room"
	EventLeaveRoom          Event = "leave_room"
	EventApprovalResponse   Event = "approval_response"
	EventTransferOwnership  Event = "transfer_ownership"
	EventPingMeasurement    Event = "ping_measurement"

	// Performance
	EventPlayNote            Event = "play_note"
	EventChangeInstrument    Event = "change_instrument"
	EventStopAllNotes        Event = "stop_all_notes"
	EventUpdateSynthParams   Event = "update_synth_params"
	EventRequestSynthParams  Event = "request_synth_params"
	EventUpdateMetronome     Event = "update_metronome"
	EventRequestMetronome    Event = "request_metronome_state"

	// Chat / voice
	EventChatMessage      Event = "chat_message"
	EventVoiceOffer       Event = "voice_offer"
	EventVoiceAnswer      Event = "voice_answer"
	EventVoiceIceCandidate Event = "voice_ice_candidate"
	EventVoiceRenegotiate Event = "voice_renegotiate"

	// Arrangement (inbound, "arrange:" prefixed)
	EventArrangeRequestState          Event = "arrange:request_state"
	EventArrangeTrackAdd              Event = "arrange:track_add"
	EventArrangeTrackUpdate           Event = "arrange:track_update"
	EventArrangeTrackReorder          Event = "arrange:track_reorder"
	EventArrangeTrackDelete           Event = "arrange:track_delete"
	EventArrangeRegionAdd             Event = "arrange:region_add"
	EventArrangeRegionUpdate          Event = "arrange:region_update"
	EventArrangeRegionMove            Event = "arrange:region_move"
	EventArrangeRegionDelete          Event = "arrange:region_delete"
	EventArrangeRegionDragged         Event = "arrange:region_dragged"
	EventArrangeNoteAdd               Event = "arrange:note_add"
	EventArrangeNoteUpdate            Event = "arrange:note_update"
	EventArrangeNoteDelete            Event = "arrange:note_delete"
	EventArrangeBpmChanged            Event = "arrange:bpm_changed"
	EventArrangeTimeSignatureChanged  Event = "arrange:time_signature_changed"
	EventArrangeSelectionChanged      Event = "arrange:selection_changed"
	EventArrangeLockAcquire           Event = "arrange:lock_acquire"
	EventArrangeLockRelease           Event = "arrange:lock_release"
	EventArrangeRecordingPreview      Event = "arrange:recording_preview"
	EventArrangeRecordingEnd          Event = "arrange:recording_end"
	EventArrangeBroadcastState        Event = "arrange:broadcast_state"
	EventArrangeBroadcastNote         Event = "arrange:broadcast_note"
	EventArrangeMarkerAdd             Event = "arrange:marker_add"
	EventArrangeMarkerUpdate          Event = "arrange:marker_update"
	EventArrangeMarkerDelete          Event = "arrange:marker_delete"

	// Broadcast / reply-only (server->client)
	EventUserJoined           Event = "user_joined"
	EventUserLeft             Event = "user_left"
	EventApprovalPending      Event = "approval_pending"
	EventApprovalDenied       Event = "approval_denied"
	EventApprovalTimedOut     Event = "approval_timed_out"
	EventConnectionApproved   Event = "connection_approved"
	EventConnectionRejected   Event = "connection_rejected"
	EventConnectionTimeout    Event = "connection_timeout"
	EventOwnershipTransferred Event = "ownership_transferred"
	// EventSynthParamsState/EventMetronomeState are the request_synth_params/
	// request_metronome_state reply payloads only; the update_* broadcasts
	// use the *Updated names below instead (spec.md §4.8 distinguishes the
	// two: a reply echoes current state to one caller, a broadcast announces
	// a change to the room).
	EventSynthParamsState   Event = "synth_params_state"
	EventMetronomeState     Event = "metronome_state"
	EventSynthParamsUpdated Event = "synth_params_updated"
	EventMetronomeUpdated   Event = "metronome_updated"
	EventStateSync            Event = "state_sync"
	EventLockConflict         Event = "lock_conflict"
	EventLockAcquired         Event = "lock_acquired"
	EventLockReleased         Event = "lock_released"
	EventTrackAdded           Event = "track_added"
	EventTrackUpdated         Event = "track_updated"
	EventTrackReordered       Event = "track_reordered"
	EventTrackDeleted         Event = "track_deleted"
	EventRegionAdded          Event = "region_added"
	EventRegionUpdated        Event = "region_updated"
	EventRegionMoved          Event = "region_moved"
	EventRegionDeleted        Event = "region_deleted"
	EventRegionDragged        Event = "region_dragged"
	EventNoteAdded            Event = "note_added"
	EventNoteUpdated          Event = "note_updated"
	EventNoteDeleted          Event = "note_deleted"
	EventBpmChanged           Event = "bpm_changed"
	EventTimeSignatureChanged Event = "time_signature_changed"
	EventSelectionChanged     Event = "selection_changed"
	EventRecordingPreview     Event = "recording_preview"
	EventRecordingEnd         Event = "recording_end"
	EventBroadcastState       Event = "broadcast_state"
	EventBroadcastNote        Event = "broadcast_note"
	EventMarkerAdded          Event = "marker_added"
	EventMarkerUpdated        Event = "marker_updated"
	EventMarkerDeleted        Event = "marker_deleted"
	EventProjectLoaded        Event = "arrange:project_loaded"
	EventPingResponse         Event = "ping_response"
)
