package namespace

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamfabric/roomfabric/internal/v1/bus"
)

type fakeEmitter struct {
	id  string
	out [][]byte
}

func (f *fakeEmitter) Send(raw []byte) { f.out = append(f.out, raw) }
func (f *fakeEmitter) ID() string      { return f.id }

type fakePublished struct {
	roomID, event string
	payload       json.RawMessage
	senderID      string
}

// fakePublisher stands in for bus.Service in tests: records every Publish
// call and hands the Subscribe callback back to the test so it can simulate
// another process's event arriving.
type fakePublisher struct {
	mu        sync.Mutex
	published []fakePublished
	handler   func(bus.PubSubPayload)
}

func (f *fakePublisher) Publish(ctx context.Context, roomID, event string, payload json.RawMessage, senderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, fakePublished{roomID, event, payload, senderID})
	return nil
}

func (f *fakePublisher) Subscribe(ctx context.Context, roomID string, wg *sync.WaitGroup, handler func(bus.PubSubPayload)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

func TestGetOrCreate_Idempotent(t *testing.T) {
	m := New(nil)
	n1 := m.GetOrCreate("/room/r1")
	n2 := m.GetOrCreate("/room/r1")
	assert.Same(t, n1, n2)
}

func TestJoin_EmitTo_Leave(t *testing.T) {
	m := New(nil)
	c1 := &fakeEmitter{id: "c1"}
	c2 := &fakeEmitter{id: "c2"}

	m.Join("/room/r1", c1)
	m.Join("/room/r1", c2)

	n, ok := m.Get("/room/r1")
	require.True(t, ok)
	assert.Equal(t, 2, n.ConnectionCount())

	m.EmitTo("/room/r1", []byte("hello"))
	assert.Equal(t, [][]byte{[]byte("hello")}, c1.out)
	assert.Equal(t, [][]byte{[]byte("hello")}, c2.out)

	m.Leave("/room/r1", "c1")
	assert.Equal(t, 1, n.ConnectionCount())
}

func TestDisconnectAll_And_Dispose(t *testing.T) {
	m := New(nil)
	c1 := &fakeEmitter{id: "c1"}
	m.Join("/room/r1", c1)

	var disconnected []string
	m.DisconnectAll("/room/r1", func(e Emitter) {
		disconnected = append(disconnected, e.ID())
	})
	assert.Equal(t, []string{"c1"}, disconnected)

	m.RemoveAllListeners("/room/r1")
	n, _ := m.Get("/room/r1")
	assert.Equal(t, 0, n.ConnectionCount())

	m.Dispose("/room/r1")
	_, ok := m.Get("/room/r1")
	assert.False(t, ok)
}

func TestEmitTo_UnknownNamespace_NoOp(t *testing.T) {
	m := New(nil)
	assert.NotPanics(t, func() {
		m.EmitTo("/room/missing", []byte("x"))
	})
}

func TestAll_ListsEveryNamespace(t *testing.T) {
	m := New(nil)
	m.GetOrCreate("/room/r1")
	m.GetOrCreate(LobbyMonitor)
	assert.Len(t, m.All(), 2)
}

func TestSetBus_RepublishesRoomEmissions(t *testing.T) {
	m := New(nil)
	pub := &fakePublisher{}
	m.SetBus(pub)

	c1 := &fakeEmitter{id: "c1"}
	m.Join("/room/r1", c1)

	m.EmitTo("/room/r1", []byte(`{"event":"play_note","payload":{"pitch":60}}`))

	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.published) == 1
	}, time.Second, time.Millisecond)

	pub.mu.Lock()
	got := pub.published[0]
	pub.mu.Unlock()
	assert.Equal(t, "r1", got.roomID)
	assert.Equal(t, "play_note", got.event)
	assert.NotEmpty(t, got.senderID)
}

func TestSetBus_NonRoomNamespace_NeverPublishes(t *testing.T) {
	m := New(nil)
	pub := &fakePublisher{}
	m.SetBus(pub)

	c1 := &fakeEmitter{id: "c1"}
	m.Join(LobbyMonitor, c1)
	m.EmitTo(LobbyMonitor, []byte(`{"event":"lobby_update","payload":{}}`))

	time.Sleep(20 * time.Millisecond)
	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Empty(t, pub.published)
}

func TestBusSubscribe_SkipsOwnNodeID_DeliversOthers(t *testing.T) {
	m := New(nil)
	pub := &fakePublisher{}
	m.SetBus(pub)

	c1 := &fakeEmitter{id: "c1"}
	m.Join("/room/r1", c1)

	pub.mu.Lock()
	handler := pub.handler
	pub.mu.Unlock()
	require.NotNil(t, handler)

	// Our own publish echoed back: must not double-deliver to c1.
	handler(bus.PubSubPayload{RoomID: "r1", Event: "noop", SenderID: m.nodeID})
	assert.Empty(t, c1.out)

	// Another process's event: delivered locally.
	handler(bus.PubSubPayload{RoomID: "r1", Event: "play_note", Payload: json.RawMessage(`{"pitch":64}`), SenderID: "other-node"})
	require.Len(t, c1.out, 1)
}

func TestDispose_CancelsBusSubscription(t *testing.T) {
	m := New(nil)
	pub := &fakePublisher{}
	m.SetBus(pub)

	n := m.GetOrCreate("/room/r1")
	assert.NotNil(t, n.cancelSub)

	assert.NotPanics(t, func() { m.Dispose("/room/r1") })
}
