// Package approval is the Approval Coordinator (C9): pending join requests
// into private rooms, each with a 30s TTL. Generalized from the teacher's
// in-room waiting list (internal/v1/session room.go's addWaiting/
// deleteWaiting, handlers.go's handleRequestWaiting/handleAcceptWaiting/
// handleDenyWaiting) into a standalone namespace-scoped coordinator, per
// spec.md §4.9.
package approval

import (
	"sync"
	"time"

	"github.com/jamfabric/roomfabric/internal/v1/clock"
)

const TTL = 30 * time.Second

// Role is the role the requester will receive if approved.
type Role string

const (
	RoleBandMember Role = "band_member"
	RoleAudience   Role = "audience"
)

// Session is one pending approval request.
type Session struct {
	ConnectionID string
	RoomID       string
	UserID       string
	Username     string
	Role         Role
	RequestedAt  int64
}

// Outcome is what happened to a Session, returned by methods that resolve one.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeDenied   Outcome = "denied"
	OutcomeTimedOut Outcome = "timed_out"
	OutcomeCanceled Outcome = "canceled"
)

// Coordinator tracks pending approval sessions keyed by connectionId with a
// secondary index by userId (spec.md §4.9: "a user has at most one pending
// approval; new one evicts old").
type Coordinator struct {
	mu        sync.Mutex
	byConn    map[string]*Session
	byUser    map[string]string // userID -> connectionID
	timers    map[string]*time.Timer
	onTimeout func(s *Session)
	clock     clock.Clock
}

// New constructs a Coordinator. onTimeout is invoked (outside the lock)
// whenever a session expires its 30s TTL without a response.
func New(c clock.Clock, onTimeout func(s *Session)) *Coordinator {
	if c == nil {
		c = clock.Real{}
	}
	return &Coordinator{
		byConn:    make(map[string]*Session),
		byUser:    make(map[string]string),
		timers:    make(map[string]*time.Timer),
		onTimeout: onTimeout,
		clock:     c,
	}
}

// Request registers a new pending approval, evicting any existing pending
// request from the same user (as a cancellation, not a timeout).
func (c *Coordinator) Request(s *Session) (evicted *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prevConn, ok := c.byUser[s.UserID]; ok {
		evicted = c.byConn[prevConn]
		c.removeLocked(prevConn)
	}

	s.RequestedAt = c.clock.NowMs()
	c.byConn[s.ConnectionID] = s
	c.byUser[s.UserID] = s.ConnectionID
	c.timers[s.ConnectionID] = time.AfterFunc(TTL, func() {
		c.mu.Lock()
		sess, ok := c.byConn[s.ConnectionID]
		if ok {
			c.removeLocked(s.ConnectionID)
		}
		c.mu.Unlock()
		if ok && c.onTimeout != nil {
			c.onTimeout(sess)
		}
	})
	return evicted
}

// removeLocked deletes a session's bookkeeping; caller holds c.mu.
func (c *Coordinator) removeLocked(connectionID string) {
	s, ok := c.byConn[connectionID]
	if !ok {
		return
	}
	if t, ok := c.timers[connectionID]; ok {
		t.Stop()
		delete(c.timers, connectionID)
	}
	delete(c.byConn, connectionID)
	if c.byUser[s.UserID] == connectionID {
		delete(c.byUser, s.UserID)
	}
}

// Get returns the pending session for a connection, if any.
func (c *Coordinator) Get(connectionID string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.byConn[connectionID]
	return s, ok
}

// Resolve removes and returns a pending session (approve/deny path).
func (c *Coordinator) Resolve(connectionID string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.byConn[connectionID]
	if ok {
		c.removeLocked(connectionID)
	}
	return s, ok
}

// Cancel handles requester-disconnect-before-response: treated as cancel.
func (c *Coordinator) Cancel(connectionID string) (*Session, bool) {
	return c.Resolve(connectionID)
}

// Stats summarizes the coordinator's current load.
type Stats struct {
	Pending int
}

func (c *Coordinator) StatsSnapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Pending: len(c.byConn)}
}

// Cleanup forcibly expires every pending session for a room (used when its
// room is disposed by the cleanup scheduler's stale-approval rule).
func (c *Coordinator) Cleanup(roomID string) []*Session {
	c.mu.Lock()
	var dropped []*Session
	for connID, s := range c.byConn {
		if s.RoomID == roomID {
			dropped = append(dropped, s)
			c.removeLocked(connID)
		}
	}
	c.mu.Unlock()
	return dropped
}
