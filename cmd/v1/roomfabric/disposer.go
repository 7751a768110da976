package main

import (
	"strings"
	"time"

	"github.com/jamfabric/roomfabric/internal/v1/approval"
	"github.com/jamfabric/roomfabric/internal/v1/cleanup"
	"github.com/jamfabric/roomfabric/internal/v1/namespace"
	"github.com/jamfabric/roomfabric/internal/v1/registry"
)

// sweepDisposer satisfies cleanup.Disposer by actually tearing down a
// disposed namespace's state across every component that tracks it, rather
// than just dropping the namespace.Manager's own record of it.
type sweepDisposer struct {
	ns        *namespace.Manager
	sessions  *registry.Registry
	approvals *approval.Coordinator
}

func (d *sweepDisposer) AllNamespaces() []cleanup.NamespaceView {
	return d.ns.AllNamespaces()
}

// Dispose disconnects every live connection in the namespace, drops its
// listener set, reaps any registry/approval sessions still pointing at it,
// and finally removes the namespace record itself. Returns the number of
// sessions it reaped.
func (d *sweepDisposer) Dispose(path string) int {
	d.ns.DisconnectAll(path, func(e namespace.Emitter) {
		if c, ok := e.(namespace.Closer); ok {
			c.Close()
		}
	})
	d.ns.RemoveAllListeners(path)

	reaped := 0
	switch {
	case strings.HasPrefix(path, "/room/"):
		roomID := strings.TrimPrefix(path, "/room/")
		reaped += len(d.sessions.DetachByRoom(roomID))
		reaped += len(d.approvals.Cleanup(roomID))
	case strings.HasPrefix(path, "/approval/"):
		roomID := strings.TrimPrefix(path, "/approval/")
		reaped += len(d.approvals.Cleanup(roomID))
	}

	d.ns.Dispose(path)
	return reaped
}

// ReapStaleSessions is a defensive sweep independent of per-namespace
// disposal: it only acts on sessions old enough to be StaleSessions
// candidates AND whose namespace is already gone (e.g. the namespace was
// disposed by a prior sweep, or the process restarted mid-session), so a
// long-lived member of a still-active room is never touched. Everything
// else is left to Dispose, which owns tearing down a room that's actually
// being retired.
func (d *sweepDisposer) ReapStaleSessions(olderThan time.Duration) int {
	reaped := 0
	for _, s := range d.sessions.StaleSessions(olderThan) {
		if _, ok := d.ns.Get(s.NamespacePath); ok {
			continue // namespace still live; not actually orphaned
		}
		d.sessions.Detach(s.ConnectionID)
		if s.Kind == registry.KindApproval {
			d.approvals.Cancel(s.ConnectionID)
		}
		reaped++
	}
	return reaped
}
