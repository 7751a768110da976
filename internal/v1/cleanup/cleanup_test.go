package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNS struct {
	path    string
	conns   int
	idleFor time.Duration
}

func (f *fakeNS) Path() string             { return f.path }
func (f *fakeNS) ConnectionCount() int      { return f.conns }
func (f *fakeNS) IdleFor() time.Duration    { return f.idleFor }

type fakeDisposer struct {
	namespaces  []NamespaceView
	disposed    []string
	reapedStale int
}

func (d *fakeDisposer) AllNamespaces() []NamespaceView { return d.namespaces }
func (d *fakeDisposer) Dispose(path string) int {
	d.disposed = append(d.disposed, path)
	return 0
}
func (d *fakeDisposer) ReapStaleSessions(olderThan time.Duration) int { return d.reapedStale }

func TestRunSweep_DisposesEmptyPastThreshold(t *testing.T) {
	d := &fakeDisposer{namespaces: []NamespaceView{
		&fakeNS{path: "/room/r1", conns: 0, idleFor: 6 * time.Minute},
		&fakeNS{path: "/room/r2", conns: 1, idleFor: 1 * time.Minute},
	}}
	s := New(d)
	m := s.RunSweep(context.Background(), false)

	require.Len(t, d.disposed, 1)
	assert.Equal(t, "/room/r1", d.disposed[0])
	assert.Equal(t, 2, m.NamespacesChecked)
	assert.Equal(t, 1, m.NamespacesCleanedUp)
}

func TestRunSweep_DisposesInactive(t *testing.T) {
	d := &fakeDisposer{namespaces: []NamespaceView{
		&fakeNS{path: "/room/r1", conns: 2, idleFor: 31 * time.Minute},
	}}
	s := New(d)
	s.RunSweep(context.Background(), false)
	assert.Equal(t, []string{"/room/r1"}, d.disposed)
}

func TestRunSweep_DisposesStaleApproval(t *testing.T) {
	d := &fakeDisposer{namespaces: []NamespaceView{
		&fakeNS{path: "/approval/r1", conns: 1, idleFor: 11 * time.Minute},
	}}
	s := New(d)
	s.RunSweep(context.Background(), false)
	assert.Equal(t, []string{"/approval/r1"}, d.disposed)
}

func TestRunSweep_SkipsLobbyMonitor(t *testing.T) {
	d := &fakeDisposer{namespaces: []NamespaceView{
		&fakeNS{path: "/lobby-monitor", conns: 0, idleFor: 24 * time.Hour},
	}}
	s := New(d)
	s.RunSweep(context.Background(), false)
	assert.Empty(t, d.disposed)
}

func TestRunSweep_AggressivePassCatchesLowActivity(t *testing.T) {
	d := &fakeDisposer{namespaces: []NamespaceView{
		&fakeNS{path: "/room/r1", conns: 2, idleFor: 16 * time.Minute},
	}}
	s := New(d)
	m := s.RunSweep(context.Background(), false)
	assert.Empty(t, d.disposed, "regular pass should not catch this")

	m = s.RunSweep(context.Background(), true)
	assert.Equal(t, []string{"/room/r1"}, d.disposed)
	assert.GreaterOrEqual(t, m.DurationMs, int64(0))
}

func TestRunSweep_AccumulatesSessionsCleanedUp(t *testing.T) {
	d := &fakeDisposer{
		namespaces:  []NamespaceView{&fakeNS{path: "/room/r1", conns: 0, idleFor: 6 * time.Minute}},
		reapedStale: 3,
	}
	s := New(d)
	m := s.RunSweep(context.Background(), false)
	assert.Equal(t, 3, m.SessionsCleanedUp)
}

func TestLastMetrics_ReflectsMostRecentSweep(t *testing.T) {
	d := &fakeDisposer{}
	s := New(d)
	s.RunSweep(context.Background(), false)
	assert.False(t, s.LastMetrics().LastRun.IsZero())
}
