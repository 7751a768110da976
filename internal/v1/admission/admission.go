// Package admission is Connection Admission (C10): per-room and global
// connection caps, an IP-rate gate, a FIFO wait queue for rooms that are
// full, and batched outbound emission. The teacher admits authenticated
// connections unconditionally; this module is new code, built in the
// teacher's idiom — a config-knob struct, a container/list-based FIFO queue
// grounded on the teacher's draw-order/chat-history queues in
// internal/v1/session/methods.go, and batched emit modeled on bus/redis.go's
// "maybe defer, maybe immediate" fork.
package admission

import (
	"container/list"
	"sync"
	"time"

	"github.com/jamfabric/roomfabric/internal/v1/config"
)

// Decision is the outcome of shouldAllow.
type Decision string

const (
	Allowed Decision = "allowed"
	Rejected Decision = "rejected"
	Queued   Decision = "queued"
)

// RejectReason distinguishes why a connection was rejected.
type RejectReason string

const (
	ReasonIPLimit   RejectReason = "IP_LIMIT"
	ReasonGlobalCap RejectReason = "GLOBAL_CAP"
	ReasonQueueFull RejectReason = "QUEUE_FULL"
)

// Result is returned by Admitter.ShouldAllow.
type Result struct {
	Decision Decision
	Reason   RejectReason
	Position int // 1-based position in queue, only set when Decision == Queued
}

type waitEntry struct {
	roomID   string
	connID   string
	queuedAt time.Time
	timer    *time.Timer
}

// Admitter enforces admission policy and owns the per-room wait queues.
type Admitter struct {
	mu sync.Mutex

	maxPerRoom  int
	maxGlobal   int
	queueSize   int
	connTimeout time.Duration
	ipPerMin    int

	roomCounts   map[string]int
	globalCount  int
	queues       map[string]*list.List // roomID -> list of *waitEntry
	queueIndex   map[string]*list.Element
	ipWindow     map[string][]time.Time

	// OnTimeout is invoked (outside the lock) when a queued connection's
	// connectionTimeout elapses before a slot frees up.
	OnTimeout func(roomID, connID string)
}

// New builds an Admitter from config.
func New(cfg *config.Config) *Admitter {
	return &Admitter{
		maxPerRoom:  cfg.MaxConnectionsPerRoom,
		maxGlobal:   cfg.MaxConnectionsGlobal,
		queueSize:   cfg.QueueSize,
		connTimeout: cfg.ConnectionTimeout,
		ipPerMin:    10,
		roomCounts:  make(map[string]int),
		queues:      make(map[string]*list.List),
		queueIndex:  make(map[string]*list.Element),
		ipWindow:    make(map[string][]time.Time),
	}
}

// ShouldAllow evaluates admission policy for a new connection to roomID from
// the given client IP.
func (a *Admitter) ShouldAllow(roomID, connID, clientIP string) Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.checkIPLocked(clientIP) {
		return Result{Decision: Rejected, Reason: ReasonIPLimit}
	}
	if a.globalCount >= a.maxGlobal {
		return Result{Decision: Rejected, Reason: ReasonGlobalCap}
	}
	if a.roomCounts[roomID] < a.maxPerRoom {
		a.roomCounts[roomID]++
		a.globalCount++
		return Result{Decision: Allowed}
	}

	q, ok := a.queues[roomID]
	if !ok {
		q = list.New()
		a.queues[roomID] = q
	}
	if q.Len() >= a.queueSize {
		return Result{Decision: Rejected, Reason: ReasonQueueFull}
	}

	e := &waitEntry{roomID: roomID, connID: connID, queuedAt: time.Now()}
	elem := q.PushBack(e)
	a.queueIndex[connID] = elem
	e.timer = time.AfterFunc(a.connTimeout, func() { a.expireQueued(roomID, connID) })

	return Result{Decision: Queued, Position: q.Len()}
}

func (a *Admitter) checkIPLocked(ip string) bool {
	now := time.Now()
	cutoff := now.Add(-time.Minute)
	kept := a.ipWindow[ip][:0]
	for _, t := range a.ipWindow[ip] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= a.ipPerMin {
		a.ipWindow[ip] = kept
		return false
	}
	a.ipWindow[ip] = append(kept, now)
	return true
}

func (a *Admitter) expireQueued(roomID, connID string) {
	a.mu.Lock()
	elem, ok := a.queueIndex[connID]
	if ok {
		q := a.queues[roomID]
		q.Remove(elem)
		delete(a.queueIndex, connID)
	}
	a.mu.Unlock()

	if ok && a.OnTimeout != nil {
		a.OnTimeout(roomID, connID)
	}
}

// Release frees a slot held by connID in roomID, and dequeues the next
// waiting connection (if any), returning its connID so the caller can admit
// it and emit connection_approved.
func (a *Admitter) Release(roomID, connID string) (nextConnID string, hasNext bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.roomCounts[roomID] > 0 {
		a.roomCounts[roomID]--
	}
	if a.globalCount > 0 {
		a.globalCount--
	}

	q, ok := a.queues[roomID]
	if !ok || q.Len() == 0 {
		return "", false
	}
	front := q.Front()
	entry := front.Value.(*waitEntry)
	entry.timer.Stop()
	q.Remove(front)
	delete(a.queueIndex, entry.connID)

	a.roomCounts[roomID]++
	a.globalCount++
	return entry.connID, true
}

// QueuePosition reports a queued connection's current 1-based position, or
// 0 if it is not queued.
func (a *Admitter) QueuePosition(roomID, connID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	q, ok := a.queues[roomID]
	if !ok {
		return 0
	}
	pos := 0
	for e := q.Front(); e != nil; e = e.Next() {
		pos++
		if e.Value.(*waitEntry).connID == connID {
			return pos
		}
	}
	return 0
}

// RoomCount reports the number of admitted connections currently occupying
// roomID (not counting the wait queue).
func (a *Admitter) RoomCount(roomID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.roomCounts[roomID]
}
