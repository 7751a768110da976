// Package cleanup is the Cleanup Scheduler (C11): a two-cadence ticker that
// sweeps the namespace registry for empty, inactive, stale-approval, and
// memory-pressured namespaces and disposes of them. Grounded on the
// teacher's hub.go removeRoom grace-timer plus main.go's graceful-shutdown
// discipline, generalized into a time.Ticker-driven scheduler per
// spec.md §4.11.
package cleanup

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/jamfabric/roomfabric/internal/v1/logging"
	"go.uber.org/zap"
)

// NamespaceView is the subset of namespace.Namespace the scheduler needs to
// make disposal decisions, kept here as an interface so cleanup does not
// import namespace directly (avoids an import cycle with whatever wires
// approval cleanup on dispose).
type NamespaceView interface {
	Path() string
	ConnectionCount() int
	IdleFor() time.Duration
}

// Disposer removes a namespace — disconnecting its connections, clearing its
// listener set, and reaping any registry/approval sessions tied to it — and
// returns how many sessions it reaped. ReapStaleSessions runs once per
// sweep independent of any single namespace's disposal, a defensive catch
// for sessions whose connection never reported a clean disconnect.
type Disposer interface {
	AllNamespaces() []NamespaceView
	Dispose(path string) int
	ReapStaleSessions(olderThan time.Duration) int
}

const (
	emptyIdleThreshold      = 5 * time.Minute
	inactiveIdleThreshold   = 30 * time.Minute
	staleApprovalAge        = 10 * time.Minute
	memoryPressureHeapBytes = 600 * 1 << 20 // 600 MB
	aggressiveIdleThreshold = 15 * time.Minute
	aggressiveMaxConns      = 3
)

const approvalPrefix = "/approval/"
const lobbyMonitorPath = "/lobby-monitor"

// Metrics summarizes one sweep's effect.
type Metrics struct {
	NamespacesChecked   int
	NamespacesCleanedUp int
	SessionsCleanedUp   int
	MemoryFreed         int64
	DurationMs          int64
	LastRun             time.Time
}

// Scheduler runs the two-cadence sweep.
type Scheduler struct {
	disposer Disposer

	regular    *time.Ticker
	aggressive *time.Ticker
	stop       chan struct{}
	onRegular  []func()

	mu      sync.Mutex
	last    Metrics
}

// New constructs a Scheduler. Call Start to begin ticking.
func New(d Disposer) *Scheduler {
	return &Scheduler{disposer: d, stop: make(chan struct{})}
}

// RegisterRegularTick attaches fn to the regular (5 min) cadence alongside
// the namespace sweep itself — used to drive other components with the same
// "sweep every 5 minutes" cap (e.g. ratelimit.EventLimiter.Sweep) without
// each one owning its own ticker.
func (s *Scheduler) RegisterRegularTick(fn func()) {
	s.onRegular = append(s.onRegular, fn)
}

// Start launches the regular (5 min) and aggressive (30 min) tickers. Call
// Stop to release them.
func (s *Scheduler) Start(ctx context.Context) {
	s.regular = time.NewTicker(5 * time.Minute)
	s.aggressive = time.NewTicker(30 * time.Minute)

	go func() {
		for {
			select {
			case <-s.regular.C:
				s.RunSweep(ctx, false)
				for _, fn := range s.onRegular {
					fn()
				}
			case <-s.aggressive.C:
				s.RunSweep(ctx, true)
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts both tickers.
func (s *Scheduler) Stop() {
	if s.regular != nil {
		s.regular.Stop()
	}
	if s.aggressive != nil {
		s.aggressive.Stop()
	}
	close(s.stop)
}

// RunSweep applies the disposal rules once, in ascending priority (first
// match wins per namespace). Exported so it can also be invoked on demand,
// e.g. via the observability admin endpoint's force-cleanup route.
func (s *Scheduler) RunSweep(ctx context.Context, aggressive bool) Metrics {
	start := time.Now()

	var memBefore runtime.MemStats
	runtime.ReadMemStats(&memBefore)
	heapInUse := memBefore.HeapAlloc

	namespaces := s.disposer.AllNamespaces()
	m := Metrics{NamespacesChecked: len(namespaces), LastRun: start}

	for _, ns := range namespaces {
		if ns.Path() == lobbyMonitorPath {
			continue
		}
		if reason, dispose := evaluate(ns, heapInUse, aggressive); dispose {
			m.SessionsCleanedUp += s.disposer.Dispose(ns.Path())
			m.NamespacesCleanedUp++
			logging.Info(ctx, "namespace disposed by cleanup scheduler",
				zap.String("path", ns.Path()), zap.String("reason", reason), zap.Bool("aggressive", aggressive))
		}
	}

	m.SessionsCleanedUp += s.disposer.ReapStaleSessions(inactiveIdleThreshold)

	var memAfter runtime.MemStats
	runtime.ReadMemStats(&memAfter)
	if memAfter.HeapAlloc < heapInUse {
		m.MemoryFreed = int64(heapInUse - memAfter.HeapAlloc)
	}
	m.DurationMs = time.Since(start).Milliseconds()

	s.mu.Lock()
	s.last = m
	s.mu.Unlock()

	return m
}

// LastMetrics returns the most recently recorded sweep metrics.
func (s *Scheduler) LastMetrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func evaluate(ns NamespaceView, heapInUse uint64, aggressive bool) (reason string, dispose bool) {
	if ns.ConnectionCount() == 0 && ns.IdleFor() > emptyIdleThreshold {
		return "empty", true
	}
	if ns.IdleFor() > inactiveIdleThreshold {
		return "inactive", true
	}
	if len(ns.Path()) >= len(approvalPrefix) && ns.Path()[:len(approvalPrefix)] == approvalPrefix &&
		ns.IdleFor() > staleApprovalAge {
		return "stale_approval", true
	}
	if heapInUse > memoryPressureHeapBytes && ns.ConnectionCount() < 2 {
		return "memory_pressure", true
	}
	if aggressive && ns.ConnectionCount() < aggressiveMaxConns && ns.IdleFor() > aggressiveIdleThreshold {
		return "aggressive_low_activity", true
	}
	return "", false
}
