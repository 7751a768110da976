package room

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jamfabric/roomfabric/internal/v1/admission"
	"github.com/jamfabric/roomfabric/internal/v1/approval"
	"github.com/jamfabric/roomfabric/internal/v1/arrange"
	"github.com/jamfabric/roomfabric/internal/v1/clock"
	"github.com/jamfabric/roomfabric/internal/v1/logging"
	"github.com/jamfabric/roomfabric/internal/v1/namespace"
	"github.com/jamfabric/roomfabric/internal/v1/ratelimit"
	"github.com/jamfabric/roomfabric/internal/v1/recovery"
	"github.com/jamfabric/roomfabric/internal/v1/registry"
	"github.com/jamfabric/roomfabric/internal/v1/validate"
	"go.uber.org/zap"
)

// Deps bundles every component the dispatcher routes events through.
type Deps struct {
	Arrange    *arrange.Store
	Sessions   *registry.Registry
	Namespaces *namespace.Manager
	Approvals  *approval.Coordinator
	Validator  *validate.Registry
	Limiter    *ratelimit.EventLimiter
	Recovery   *recovery.Recovery
	Storage    StorageAdapter
	Clock      clock.Clock
	BatchConfig admission.BatchConfig
}

// roomMeta is the lightweight ownership/type cache the dispatcher keeps for
// itself: no other component (arrange/registry/namespace) tracks who owns a
// room or whether it's private/arrange-typed, and the dispatcher needs that
// to gate approval_response/transfer_ownership/arrange:request_state. It is
// seeded lazily from the first join_room payload's fields, which the layer
// in front of the dispatcher is expected to have resolved from a
// RoomRepository before calling Route.
type roomMeta struct {
	ownerUserID string
	private     bool
	roomType    string
}

// Dispatcher is the Room Dispatcher (C8): the single entry point every
// inbound wire event passes through.
type Dispatcher struct {
	arrange   *arrange.Store
	sessions  *registry.Registry
	ns        *namespace.Manager
	approvals *approval.Coordinator
	validator *validate.Registry
	limiter   *ratelimit.EventLimiter
	recovery  *recovery.Recovery
	storage   StorageAdapter
	clock     clock.Clock
	batcher   *admission.Batcher

	mu    sync.Mutex
	rooms map[string]*roomMeta
}

// New constructs a Dispatcher. The batcher is owned internally (not
// Deps-supplied) because its Sender callback is the dispatcher's own
// publish method — constructing it externally would create a circular
// dependency between admission.Batcher and Dispatcher.
func New(deps Deps) *Dispatcher {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	d := &Dispatcher{
		arrange:   deps.Arrange,
		sessions:  deps.Sessions,
		ns:        deps.Namespaces,
		approvals: deps.Approvals,
		validator: deps.Validator,
		limiter:   deps.Limiter,
		recovery:  deps.Recovery,
		storage:   deps.Storage,
		clock:     deps.Clock,
		rooms:     make(map[string]*roomMeta),
	}
	d.batcher = admission.NewBatcher(deps.BatchConfig, d.publish)
	return d
}

// Route is the single entry point for every inbound event: validate, then
// rate-limit, then dispatch by event name. Both checks apply uniformly to
// every event kind — validate.Registry and ratelimit.EventLimiter already
// no-op/pass-through for kinds with no registered schema or configured cap,
// so the per-event "schema / rate / schema+rate / none" distinctions of
// spec.md's event table fall out of what's registered rather than a second
// lookup table here.
func (d *Dispatcher) Route(ctx context.Context, identity Identity, conn namespace.Emitter, raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			c := d.recovery.Classify(recovery.KindUnknown, anyToString(rec))
			logging.Error(ctx, "panic recovered in room dispatcher", zap.Any("panic", rec), zap.String("event", "unknown"))
			d.sendError(conn, CodeInternal, "internal error", nil, int(c.RetryAfter.Seconds()))
			if c.Critical {
				d.OnDisconnect(ctx, identity)
			}
		}
	}()

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.sendError(conn, CodeValidation, "malformed message envelope", nil, 0)
		return
	}

	if err := d.validator.Validate(msg.Event, msg.Payload); err != nil {
		d.sendError(conn, CodeValidation, err.Error(), nil, 0)
		return
	}
	if !d.limiter.Allow(identity.UserID, msg.Event, false) {
		d.sendError(conn, CodeRateLimited, "rate limit exceeded", map[string]string{"event": msg.Event}, 1)
		return
	}

	switch Event(msg.Event) {
	case EventJoinRoom:
		d.handleJoinRoom(ctx, identity, conn, msg.Payload)
	case EventLeaveRoom:
		d.leaveRoomInternal(ctx, identity, true)
	case EventApprovalResponse:
		d.handleApprovalResponse(ctx, identity, conn, msg.Payload)
	case EventTransferOwnership:
		d.handleTransferOwnership(ctx, identity, conn, msg.Payload)
	case EventPlayNote:
		d.handlePlayNote(ctx, identity, conn, msg.Payload)
	case EventChangeInstrument:
		d.handleChangeInstrument(ctx, identity, conn, msg.Payload)
	case EventStopAllNotes:
		d.handleStopAllNotes(ctx, identity, conn)
	case EventUpdateSynthParams:
		d.handleUpdateSynthParams(ctx, identity, conn, msg.Payload)
	case EventRequestSynthParams:
		d.handleRequestSynthParams(ctx, identity, conn, msg.Payload)
	case EventUpdateMetronome:
		d.handleUpdateMetronome(ctx, identity, conn, msg.Payload)
	case EventRequestMetronome:
		d.handleRequestMetronome(ctx, identity, conn)
	case EventChatMessage:
		d.handleChatMessage(ctx, identity, conn, msg.Payload)
	case EventVoiceOffer, EventVoiceAnswer, EventVoiceIceCandidate, EventVoiceRenegotiate:
		d.handleVoiceSignal(ctx, identity, conn, Event(msg.Event), msg.Payload)
	case EventPingMeasurement:
		d.handlePingMeasurement(conn, msg.Payload)

	case EventArrangeRequestState:
		d.handleArrangeRequestState(ctx, identity, conn)
	case EventArrangeTrackAdd:
		d.handleArrangeTrackAdd(ctx, identity, conn, msg.Payload)
	case EventArrangeTrackUpdate:
		d.handleArrangeTrackUpdate(ctx, identity, conn, msg.Payload)
	case EventArrangeTrackReorder:
		d.handleArrangeTrackReorder(ctx, identity, conn, msg.Payload)
	case EventArrangeTrackDelete:
		d.handleArrangeTrackDelete(ctx, identity, conn, msg.Payload)
	case EventArrangeRegionAdd:
		d.handleArrangeRegionAdd(ctx, identity, conn, msg.Payload)
	case EventArrangeRegionUpdate:
		d.handleArrangeRegionUpdate(ctx, identity, conn, msg.Payload)
	case EventArrangeRegionMove:
		d.handleArrangeRegionMove(ctx, identity, conn, msg.Payload)
	case EventArrangeRegionDelete:
		d.handleArrangeRegionDelete(ctx, identity, conn, msg.Payload)
	case EventArrangeRegionDragged:
		d.handleArrangeRegionDragged(ctx, identity, conn, msg.Payload)
	case EventArrangeNoteAdd, EventArrangeNoteUpdate, EventArrangeNoteDelete:
		d.handleArrangeNoteMutate(ctx, identity, conn, Event(msg.Event), msg.Payload)
	case EventArrangeBpmChanged:
		d.handleArrangeBpmChanged(ctx, identity, conn, msg.Payload)
	case EventArrangeTimeSignatureChanged:
		d.handleArrangeTimeSignatureChanged(ctx, identity, conn, msg.Payload)
	case EventArrangeSelectionChanged:
		d.handleArrangeSelectionChanged(ctx, identity, conn, msg.Payload)
	case EventArrangeLockAcquire:
		d.handleArrangeLockAcquire(ctx, identity, conn, msg.Payload)
	case EventArrangeLockRelease:
		d.handleArrangeLockRelease(ctx, identity, conn, msg.Payload)
	case EventArrangeRecordingPreview:
		d.handleArrangeRelayExcludingSender(ctx, identity, conn, string(EventRecordingPreview), msg.Payload)
	case EventArrangeRecordingEnd:
		d.handleArrangeRelayExcludingSender(ctx, identity, conn, string(EventRecordingEnd), msg.Payload)
	case EventArrangeBroadcastState:
		d.handleArrangeRelayExcludingSender(ctx, identity, conn, string(EventBroadcastState), msg.Payload)
	case EventArrangeBroadcastNote:
		d.handleArrangeRelayExcludingSender(ctx, identity, conn, string(EventBroadcastNote), msg.Payload)
	case EventArrangeMarkerAdd:
		d.handleArrangeMarkerAdd(ctx, identity, conn, msg.Payload)
	case EventArrangeMarkerUpdate:
		d.handleArrangeMarkerUpdate(ctx, identity, conn, msg.Payload)
	case EventArrangeMarkerDelete:
		d.handleArrangeMarkerDelete(ctx, identity, conn, msg.Payload)

	default:
		logging.Warn(ctx, "room dispatcher: unrecognized event", zap.String("event", msg.Event))
	}
}

func anyToString(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "unknown panic"
}

// OnDisconnect is invoked by the transport layer when a connection closes,
// whatever namespace it was in (room, approval, or lobby).
func (d *Dispatcher) OnDisconnect(ctx context.Context, identity Identity) {
	if sess, ok := d.sessions.Get(identity.ConnectionID); ok && sess.Kind == registry.KindApproval {
		d.approvals.Cancel(identity.ConnectionID)
		d.ns.Leave(sess.NamespacePath, identity.ConnectionID)
		d.sessions.Detach(identity.ConnectionID)
		return
	}
	d.leaveRoomInternal(ctx, identity, false)
}

// requireMember checks that identity currently holds a room-kind session,
// rejecting with PERMISSION_DENIED otherwise (every room/arrange event but
// join_room/approval_response requires this).
func (d *Dispatcher) requireMember(conn namespace.Emitter, identity Identity) (*registry.Session, bool) {
	sess, ok := d.sessions.Get(identity.ConnectionID)
	if !ok || sess.Kind != registry.KindRoom {
		d.sendError(conn, CodePermissionDenied, "not a member of any room", nil, 0)
		return nil, false
	}
	return sess, true
}

func (d *Dispatcher) roomMetaFor(roomID string) *roomMeta {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rooms[roomID]
}

func (d *Dispatcher) seedRoomMeta(roomID, ownerUserID string, private bool, roomType string) *roomMeta {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.rooms[roomID]
	if !ok {
		m = &roomMeta{ownerUserID: ownerUserID, private: private, roomType: roomType}
		d.rooms[roomID] = m
	}
	return m
}

func mustMarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return raw
}

// publish is the admission.Batcher's Sender: marshal once, fan out to every
// connection in the room namespace. Never called from inside an
// arrange.Store lock — every handler below calls a store method to
// completion first, then emits, satisfying spec.md §5's "no I/O inside the
// critical section".
func (d *Dispatcher) publish(roomID, event string, payload any) {
	raw, err := json.Marshal(Message{Event: event, Payload: mustMarshal(payload)})
	if err != nil {
		return
	}
	d.ns.EmitTo("/room/"+roomID, raw)
}

// emitRoom routes through the batcher (optimizedEmit): immediate=false lets
// high-frequency events (play_note, region_dragged) coalesce
// instead of flooding slow clients with one frame per note.
func (d *Dispatcher) emitRoom(roomID, event string, payload any, immediate bool) {
	d.batcher.Emit(roomID, event, payload, immediate)
}

// emitRoomExcluding skips the sender's own connection — used for the
// handful of event kinds spec.md calls out as excluding the sender
// (selection changes, recording preview/end, broadcast state/note).
func (d *Dispatcher) emitRoomExcluding(roomID, excludeConnID, event string, payload any) {
	raw, err := json.Marshal(Message{Event: event, Payload: mustMarshal(payload)})
	if err != nil {
		return
	}
	d.ns.EmitToExcept("/room/"+roomID, raw, excludeConnID)
}

func (d *Dispatcher) sendTo(conn namespace.Emitter, event string, payload any) {
	raw, err := json.Marshal(Message{Event: event, Payload: mustMarshal(payload)})
	if err != nil {
		return
	}
	conn.Send(raw)
}

func (d *Dispatcher) sendError(conn namespace.Emitter, code, message string, details any, retryAfter int) {
	raw, err := json.Marshal(ErrorEnvelope{Error: ErrorDetail{Code: code, Message: message, Details: details, RetryAfter: retryAfter}})
	if err != nil {
		return
	}
	conn.Send(raw)
}

func (d *Dispatcher) sendStateSync(roomID string, conn namespace.Emitter) {
	st, err := d.arrange.GetState(roomID)
	if err != nil {
		st = d.arrange.InitState(roomID)
	}
	d.sendTo(conn, string(EventStateSync), stateSyncPayload(st))
}
