// Package registry is the process-wide Session Registry (C5): which
// connection belongs to which room/user, plus the grace-period side table
// that lets a disconnecting user rejoin within a short window without
// losing their seat. Generalized from the teacher's Hub
// (internal/v1/session/hub.go), which tracks one room-level
// pendingRoomCleanups timer map, down to the per-session grace granularity
// spec.md §3's Grace-Period Entry calls for.
package registry

import (
	"sync"
	"time"

	"github.com/jamfabric/roomfabric/internal/v1/clock"
)

// SessionKind distinguishes which namespace family a session belongs to.
type SessionKind string

const (
	KindRoom     SessionKind = "room"
	KindApproval SessionKind = "approval"
	KindLobby    SessionKind = "lobby"
)

// Session is one live connection's membership record.
type Session struct {
	ConnectionID  string
	RoomID        string
	UserID        string
	NamespacePath string
	Kind          SessionKind
	JoinedAt      int64
}

// GraceEntry is the snapshot kept while a user is within their grace window
// after a disconnect, so a fast rejoin restores exactly their prior seat.
type GraceEntry struct {
	UserID          string
	RoomID          string
	Since           int64
	IsIntendedLeave bool
	Snapshot        any
}

const (
	graceTTL = 30 * time.Second
)

// Registry is the process-wide session + grace index, all of its maps guarded
// by a single sync.RWMutex the way the teacher guards Hub.rooms.
type Registry struct {
	mu sync.RWMutex

	sessions    map[string]*Session // connectionID -> Session
	byUser      map[string]string   // userID -> connectionID (at most one active room session per user)
	grace       map[string]*GraceEntry // "roomID|userID" -> entry
	graceTimers map[string]*time.Timer

	clock clock.Clock
}

// New constructs an empty Registry.
func New(c clock.Clock) *Registry {
	if c == nil {
		c = clock.Real{}
	}
	return &Registry{
		sessions:    make(map[string]*Session),
		byUser:      make(map[string]string),
		grace:       make(map[string]*GraceEntry),
		graceTimers: make(map[string]*time.Timer),
		clock:       c,
	}
}

func graceKey(roomID, userID string) string { return roomID + "|" + userID }

// Attach registers a new session for connectionID, evicting any prior
// session held by the same userID (a userId may have at most one active
// room session per spec.md §3).
func (r *Registry) Attach(connectionID string, s *Session) (evicted *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.Kind == KindRoom {
		if prevConn, ok := r.byUser[s.UserID]; ok && prevConn != connectionID {
			evicted = r.sessions[prevConn]
			delete(r.sessions, prevConn)
		}
		r.byUser[s.UserID] = connectionID
	}
	s.JoinedAt = r.clock.NowMs()
	r.sessions[connectionID] = s
	return evicted
}

// Detach removes a session.
func (r *Registry) Detach(connectionID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[connectionID]
	if !ok {
		return nil
	}
	delete(r.sessions, connectionID)
	if s.Kind == KindRoom && r.byUser[s.UserID] == connectionID {
		delete(r.byUser, s.UserID)
	}
	return s
}

// Get returns the session for connectionID, if any.
func (r *Registry) Get(connectionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[connectionID]
	return s, ok
}

// EvictUser detaches any prior session for userID, returning it.
func (r *Registry) EvictUser(userID string) *Session {
	r.mu.Lock()
	connID, ok := r.byUser[userID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return r.Detach(connID)
}

// AddGrace records a grace-period entry for (roomID, userID) with a 30s
// TTL, cancellable via ClearGrace (e.g. a fast rejoin).
func (r *Registry) AddGrace(userID, roomID string, snapshot any, intended bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := graceKey(roomID, userID)
	if t, ok := r.graceTimers[key]; ok {
		t.Stop()
	}
	r.grace[key] = &GraceEntry{
		UserID:          userID,
		RoomID:          roomID,
		Since:           r.clock.NowMs(),
		IsIntendedLeave: intended,
		Snapshot:        snapshot,
	}
	r.graceTimers[key] = time.AfterFunc(graceTTL, func() {
		r.mu.Lock()
		delete(r.grace, key)
		delete(r.graceTimers, key)
		r.mu.Unlock()
	})
}

// IsInGrace reports whether a grace entry currently exists for (roomID, userID).
func (r *Registry) IsInGrace(userID, roomID string) (*GraceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.grace[graceKey(roomID, userID)]
	return e, ok
}

// ClearGrace cancels and removes a grace entry, e.g. on successful rejoin.
func (r *Registry) ClearGrace(userID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := graceKey(roomID, userID)
	if t, ok := r.graceTimers[key]; ok {
		t.Stop()
		delete(r.graceTimers, key)
	}
	delete(r.grace, key)
}

// ExpireSweep drops any grace entries whose TTL has elapsed (defensive
// sweep; time.AfterFunc should have already cleared most of them) and
// returns the set of roomIds that lost at least one entry.
func (r *Registry) ExpireSweep() map[string]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.NowMs()
	affected := make(map[string]struct{})
	for key, entry := range r.grace {
		if now-entry.Since >= graceTTL.Milliseconds() {
			if t, ok := r.graceTimers[key]; ok {
				t.Stop()
				delete(r.graceTimers, key)
			}
			delete(r.grace, key)
			affected[entry.RoomID] = struct{}{}
		}
	}
	return affected
}

// StaleSessions returns sessions whose JoinedAt predates the given
// threshold — used by the cleanup scheduler's stale-session sweep (C11).
func (r *Registry) StaleSessions(olderThan time.Duration) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := r.clock.NowMs() - olderThan.Milliseconds()
	var stale []*Session
	for _, s := range r.sessions {
		if s.JoinedAt < cutoff {
			stale = append(stale, s)
		}
	}
	return stale
}

// DetachByRoom removes every session attached to roomID, returning what it
// removed — used by the cleanup scheduler when a room namespace is disposed
// so its registry entries don't linger past the namespace itself.
func (r *Registry) DetachByRoom(roomID string) []*Session {
	r.mu.Lock()
	var dropped []*Session
	for connID, s := range r.sessions {
		if s.RoomID != roomID {
			continue
		}
		dropped = append(dropped, s)
		delete(r.sessions, connID)
		if s.Kind == KindRoom && r.byUser[s.UserID] == connID {
			delete(r.byUser, s.UserID)
		}
	}
	r.mu.Unlock()
	return dropped
}

// CountByRoom returns the number of sessions currently attached to roomID.
func (r *Registry) CountByRoom(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.sessions {
		if s.RoomID == roomID {
			n++
		}
	}
	return n
}
