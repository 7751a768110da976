// Package transport is the WebSocket accept layer in front of the Room
// Dispatcher (C8): it upgrades an HTTP request, authenticates it, resolves
// an Identity plus room ownership metadata, and pumps frames between the
// socket and Dispatcher.Route. Adapted from the teacher's Hub/Client
// (internal/v1/session/hub.go, internal/v1/session/client.go), which did
// the same job for a binary protobuf wire format; here the wire format is
// JSON (room.Message) and the read/write pump shape is otherwise unchanged.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jamfabric/roomfabric/internal/v1/logging"
	"github.com/jamfabric/roomfabric/internal/v1/metrics"
	"github.com/jamfabric/roomfabric/internal/v1/namespace"
	"github.com/jamfabric/roomfabric/internal/v1/room"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// wsConnection is the subset of *websocket.Conn the Client pumps use,
// narrowed for testability the same way the teacher's client.go does.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Router is the single entry point a Client hands inbound frames to —
// satisfied by *room.Dispatcher.
type Router interface {
	Route(ctx context.Context, identity room.Identity, conn namespace.Emitter, raw []byte)
	OnDisconnect(ctx context.Context, identity room.Identity)
}

// Client is one live connection's transport handle: it satisfies
// namespace.Emitter so the dispatcher can address it directly, and owns the
// read/write pump goroutines that move frames to and from the socket.
type Client struct {
	conn   wsConnection
	send   chan []byte
	router Router
	identity room.Identity

	mu     sync.Mutex
	closed bool
}

// NewClient wraps an upgraded websocket connection for a given identity.
func NewClient(conn wsConnection, identity room.Identity, router Router) *Client {
	return &Client{
		conn:     conn,
		send:     make(chan []byte, 256),
		router:   router,
		identity: identity,
	}
}

func (c *Client) ID() string { return c.identity.ConnectionID }

// Close forcibly disconnects the client, satisfying namespace.Closer. Used
// by the cleanup scheduler when a namespace is disposed out from under its
// still-attached connections: closing the send channel drains the write
// pump's final close frame, and the deferred conn.Close unblocks the read
// pump's ReadMessage so OnDisconnect still fires normally.
func (c *Client) Close() {
	c.closeSend()
}

// Send enqueues a frame for the write pump, dropping it rather than
// blocking the caller if the client's outbound buffer is full — matching
// the teacher's sendProto "select with default" discipline.
func (c *Client) Send(raw []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	select {
	case c.send <- raw:
	default:
		logging.Warn(context.Background(), "client send buffer full, dropping frame",
			zap.String("connectionId", c.identity.ConnectionID))
	}
}

// Run starts the read and write pumps and blocks until the connection
// closes. Callers should invoke it in its own goroutine per connection.
func (c *Client) Run(ctx context.Context) {
	metrics.IncConnection()
	go c.writePump()
	c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.router.OnDisconnect(ctx, c.identity)
		c.closeSend()
		_ = c.conn.Close()
		metrics.DecConnection()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.router.Route(ctx, c.identity, c, data)
	}
}

func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()

	for message := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logging.Error(context.Background(), "error writing to client",
				zap.String("connectionId", c.identity.ConnectionID), zap.Error(err))
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
