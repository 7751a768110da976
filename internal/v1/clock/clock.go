// Package clock provides the monotonic time source and id minting used
// throughout the room fabric. Every other component takes a Clock instead of
// calling time.Now directly so tests can inject a fake.
package clock

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Clock exposes a monotonic millisecond timestamp.
type Clock interface {
	NowMs() int64
	Now() time.Time
}

// Real is the production Clock backed by time.Now.
type Real struct{}

func (Real) NowMs() int64    { return time.Now().UnixMilli() }
func (Real) Now() time.Time { return time.Now() }

// Fake is a deterministic Clock for tests. Zero value starts at the Unix
// epoch; Advance moves it forward.
type Fake struct {
	ms atomic.Int64
}

// NewFake returns a Fake clock set to start.
func NewFake(start time.Time) *Fake {
	f := &Fake{}
	f.ms.Store(start.UnixMilli())
	return f
}

func (f *Fake) NowMs() int64 { return f.ms.Load() }

func (f *Fake) Now() time.Time { return time.UnixMilli(f.ms.Load()) }

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.ms.Add(d.Milliseconds())
}

// Id kinds recognized by the room fabric. Each minted id carries its kind as
// a string prefix so ids are self-describing in logs without a lookup.
const (
	KindRoom     = "room"
	KindTrack    = "track"
	KindRegion   = "region"
	KindNote     = "note"
	KindLock     = "lock"
	KindMarker   = "marker"
	KindSession  = "session"
	KindApproval = "approval"
	KindConn     = "conn"
	KindNode     = "node"
)

// New mints an opaque id of the given kind, formatted "<kind>_<uuid>". The
// uuid.New() generator draws from crypto/rand, giving a collision
// probability well under 2^-60 within a process lifetime.
func New(kind string) string {
	return fmt.Sprintf("%s_%s", kind, uuid.NewString())
}
