// Package namespace is the Namespace Manager (C7): a registry of channel
// groups (`/room/{roomId}`, `/approval/{roomId}`, `/lobby-monitor`) that
// connections join and the dispatcher fans events out to. Generalized from
// the teacher's Hub (internal/v1/session/hub.go), which is itself "one
// registry of Rooms keyed by id, sync.RWMutex-guarded, idempotent
// get-or-create" — the same shape, applied to namespaces instead of rooms.
package namespace

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/jamfabric/roomfabric/internal/v1/bus"
	"github.com/jamfabric/roomfabric/internal/v1/cleanup"
	"github.com/jamfabric/roomfabric/internal/v1/clock"
)

const LobbyMonitor = "/lobby-monitor"

// Publisher is the cross-process fan-out hook a Manager can be wired to via
// SetBus (bus.Service satisfies it) so a /room/ namespace's EmitTo/
// EmitToExcept reach every other process's connections too, not just this
// one's. Grounded on the teacher's BusService interface
// (internal/v1/session/hub.go), which likewise has the consuming package
// define the contract against the bus package's own payload type rather
// than bus depending back on its consumer.
type Publisher interface {
	Publish(ctx context.Context, roomID string, event string, payload json.RawMessage, senderID string) error
	Subscribe(ctx context.Context, roomID string, wg *sync.WaitGroup, handler func(bus.PubSubPayload))
}

// wireEnvelope mirrors room.Message's {event, payload} wire shape without
// namespace importing the room package back.
type wireEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Emitter is anything that can receive a raw outbound frame without
// blocking the namespace — the teacher's Client.send channel pattern
// (internal/v1/session/client.go), abstracted behind an interface so
// namespace does not depend on the transport package.
type Emitter interface {
	Send(raw []byte)
	ID() string
}

// Closer is optionally implemented by an Emitter that can be forced shut
// (transport.Client is). DisconnectAll type-asserts for it so a namespace
// disposal can actually drop the underlying sockets, not just the registry
// bookkeeping around them.
type Closer interface {
	Close()
}

// Namespace is one live channel group.
type Namespace struct {
	mu           sync.RWMutex
	path         string
	createdAt    int64
	lastActivity int64
	connections  map[string]Emitter
	clock        clock.Clock
	cancelSub    context.CancelFunc // non-nil only for a /room/ namespace with a bus.Publisher wired
}

// deliverLocal fans raw out to this namespace's own connections only, with
// no bus republish. Used both by EmitTo (after it republishes) and by the
// Manager's bus Subscribe callback, so a message received from another
// process is delivered locally exactly once and never re-published.
func (n *Namespace) deliverLocal(raw []byte) {
	n.mu.Lock()
	n.lastActivity = n.clock.NowMs()
	targets := make([]Emitter, 0, len(n.connections))
	for _, c := range n.connections {
		targets = append(targets, c)
	}
	n.mu.Unlock()

	for _, c := range targets {
		c.Send(raw)
	}
}

func (n *Namespace) deliverLocalExcept(raw []byte, exceptID string) {
	n.mu.Lock()
	n.lastActivity = n.clock.NowMs()
	targets := make([]Emitter, 0, len(n.connections))
	for id, c := range n.connections {
		if id == exceptID {
			continue
		}
		targets = append(targets, c)
	}
	n.mu.Unlock()

	for _, c := range targets {
		c.Send(raw)
	}
}

func (n *Namespace) Path() string { return n.path }

func (n *Namespace) CreatedAt() int64 { return n.createdAt }

func (n *Namespace) ConnectionCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.connections)
}

func (n *Namespace) LastActivity() int64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lastActivity
}

// IdleFor reports how long the namespace has gone without EmitTo/Touch
// activity, for the cleanup scheduler's disposal rules.
func (n *Namespace) IdleFor() time.Duration {
	n.mu.RLock()
	last := n.lastActivity
	n.mu.RUnlock()
	return time.Duration(n.clock.NowMs()-last) * time.Millisecond
}

// Manager is the process-wide namespace registry.
type Manager struct {
	mu         sync.RWMutex
	namespaces map[string]*Namespace
	clock      clock.Clock
	pub        Publisher
	nodeID     string
}

// New constructs an empty Manager. nodeID is minted once per process
// (clock.KindNode) and tags every bus publish this Manager makes, so its own
// Subscribe callback can recognize and drop its own messages instead of
// delivering them to its local connections a second time.
func New(c clock.Clock) *Manager {
	if c == nil {
		c = clock.Real{}
	}
	return &Manager{
		namespaces: make(map[string]*Namespace),
		clock:      c,
		nodeID:     clock.New(clock.KindNode),
	}
}

// SetBus wires a cross-process Publisher into the manager, so every
// existing and future /room/ namespace republishes its emissions and
// subscribes to receive everyone else's. Intended to be called once at
// startup, before traffic starts creating room namespaces.
func (m *Manager) SetBus(p Publisher) {
	m.mu.Lock()
	m.pub = p
	existing := make([]*Namespace, 0, len(m.namespaces))
	for path, n := range m.namespaces {
		if strings.HasPrefix(path, "/room/") {
			existing = append(existing, n)
		}
	}
	nodeID := m.nodeID
	m.mu.Unlock()

	for _, n := range existing {
		m.subscribeRoom(p, nodeID, n)
	}
}

// GetOrCreate returns the namespace at path, creating it if absent.
// Creation is idempotent: concurrent callers all observe the same handle.
func (m *Manager) GetOrCreate(path string) *Namespace {
	m.mu.Lock()
	if n, ok := m.namespaces[path]; ok {
		m.mu.Unlock()
		return n
	}
	n := &Namespace{
		path:         path,
		createdAt:    m.clock.NowMs(),
		lastActivity: m.clock.NowMs(),
		connections:  make(map[string]Emitter),
		clock:        m.clock,
	}
	m.namespaces[path] = n
	pub := m.pub
	nodeID := m.nodeID
	m.mu.Unlock()

	if pub != nil && strings.HasPrefix(path, "/room/") {
		m.subscribeRoom(pub, nodeID, n)
	}
	return n
}

// subscribeRoom starts (or restarts, from SetBus) a room namespace's
// cross-process subscription. Received events are delivered locally only
// (deliverLocal), never republished, so two processes never bounce the same
// event back and forth.
func (m *Manager) subscribeRoom(pub Publisher, nodeID string, n *Namespace) {
	roomID := strings.TrimPrefix(n.Path(), "/room/")
	ctx, cancel := context.WithCancel(context.Background())
	n.mu.Lock()
	n.cancelSub = cancel
	n.mu.Unlock()

	pub.Subscribe(ctx, roomID, nil, func(p bus.PubSubPayload) {
		if p.SenderID == nodeID {
			return // our own publish, already delivered locally by EmitTo/EmitToExcept
		}
		raw, err := json.Marshal(wireEnvelope{Event: p.Event, Payload: p.Payload})
		if err != nil {
			return
		}
		n.deliverLocal(raw)
	})
}

// republish forwards a room namespace's emission to every other process via
// the configured Publisher, tagged with this process's node id.
func (m *Manager) republish(path string, raw []byte) {
	m.mu.RLock()
	pub := m.pub
	nodeID := m.nodeID
	m.mu.RUnlock()
	if pub == nil || !strings.HasPrefix(path, "/room/") {
		return
	}

	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}
	roomID := strings.TrimPrefix(path, "/room/")
	go func() { _ = pub.Publish(context.Background(), roomID, env.Event, env.Payload, nodeID) }()
}

// Get returns the namespace at path, if it exists, without creating it.
func (m *Manager) Get(path string) (*Namespace, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.namespaces[path]
	return n, ok
}

// All returns every live namespace, for the cleanup scheduler's sweep.
func (m *Manager) All() []*Namespace {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Namespace, 0, len(m.namespaces))
	for _, n := range m.namespaces {
		out = append(out, n)
	}
	return out
}

// Join attaches conn to the namespace at path, touching lastActivity.
func (m *Manager) Join(path string, conn Emitter) *Namespace {
	n := m.GetOrCreate(path)
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connections[conn.ID()] = conn
	n.lastActivity = m.clock.NowMs()
	return n
}

// Leave detaches a connection from the namespace at path.
func (m *Manager) Leave(path string, connID string) {
	n, ok := m.Get(path)
	if !ok {
		return
	}
	n.mu.Lock()
	delete(n.connections, connID)
	n.mu.Unlock()
}

// EmitTo sends raw to every connection in the namespace at path, using the
// same non-blocking-send discipline the teacher's broadcastToClientMap
// uses: EmitTo itself never blocks on a slow client — Emitter.Send is
// expected to internally select-with-default. If a Publisher is wired
// (SetBus) and path is a room namespace, the emission is also republished so
// every other process holding a connection in the same room delivers it too.
func (m *Manager) EmitTo(path string, raw []byte) {
	n, ok := m.Get(path)
	if !ok {
		return
	}
	n.deliverLocal(raw)
	m.republish(path, raw)
}

// EmitToExcept behaves like EmitTo but skips the connection identified by
// exceptID — used for the fan-out kinds that exclude the sender (selection
// changes, arrangement preview/broadcast relays). The exclusion is local
// only: other processes have no connection matching exceptID anyway, so
// their delivery is unaffected.
func (m *Manager) EmitToExcept(path string, raw []byte, exceptID string) {
	n, ok := m.Get(path)
	if !ok {
		return
	}
	n.deliverLocalExcept(raw, exceptID)
	m.republish(path, raw)
}

// Lookup returns the connection identified by connID within the namespace at
// path, without creating the namespace. Used to migrate a connection's
// transport handle between namespaces (e.g. approval -> room on approve).
func (m *Manager) Lookup(path, connID string) (Emitter, bool) {
	n, ok := m.Get(path)
	if !ok {
		return nil, false
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	c, ok := n.connections[connID]
	return c, ok
}

// Touch records activity on path without emitting (e.g. a sender-only reply).
func (m *Manager) Touch(path string) {
	if n, ok := m.Get(path); ok {
		n.mu.Lock()
		n.lastActivity = m.clock.NowMs()
		n.mu.Unlock()
	}
}

// DisconnectAll disconnects every connection currently in the namespace.
// disconnect is supplied by the caller since Emitter has no Close/Disconnect
// method of its own (namespace stays transport-agnostic).
func (m *Manager) DisconnectAll(path string, disconnect func(Emitter)) {
	n, ok := m.Get(path)
	if !ok {
		return
	}
	n.mu.Lock()
	targets := make([]Emitter, 0, len(n.connections))
	for _, c := range n.connections {
		targets = append(targets, c)
	}
	n.mu.Unlock()

	for _, c := range targets {
		disconnect(c)
	}
}

// RemoveAllListeners clears a namespace's connection set without
// disconnecting the underlying transports (used right before Dispose, after
// DisconnectAll has already run).
func (m *Manager) RemoveAllListeners(path string) {
	n, ok := m.Get(path)
	if !ok {
		return
	}
	n.mu.Lock()
	n.connections = make(map[string]Emitter)
	n.mu.Unlock()
}

// Dispose removes the namespace record entirely. Callers should have
// already run DisconnectAll/RemoveAllListeners. If the namespace held a bus
// subscription, it is canceled so the background goroutine doesn't leak.
func (m *Manager) Dispose(path string) {
	m.mu.Lock()
	n, ok := m.namespaces[path]
	delete(m.namespaces, path)
	m.mu.Unlock()

	if !ok {
		return
	}
	n.mu.Lock()
	cancel := n.cancelSub
	n.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// AllNamespaces satisfies cleanup.Disposer, returning every live namespace
// as the narrower cleanup.NamespaceView interface.
func (m *Manager) AllNamespaces() []cleanup.NamespaceView {
	all := m.All()
	out := make([]cleanup.NamespaceView, len(all))
	for i, n := range all {
		out[i] = n
	}
	return out
}
