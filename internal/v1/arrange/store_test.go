package arrange

import (
	"sync"
	"testing"
	"time"

	"github.com/jamfabric/roomfabric/internal/v1/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitState_Defaults(t *testing.T) {
	s := NewStore(clock.NewFake(time.Unix(0, 0)))
	st := s.InitState("room1")
	assert.Equal(t, 120, st.BPM)
	assert.Equal(t, TimeSignature{Numerator: 4, Denominator: 4}, st.TimeSignature)
	assert.Empty(t, st.Tracks)
}

func TestInitState_Idempotent(t *testing.T) {
	s := NewStore(nil)
	st1 := s.InitState("room1")
	st2 := s.InitState("room1")
	assert.Same(t, st1, st2)
}

func TestGetState_NoRoom(t *testing.T) {
	s := NewStore(nil)
	_, err := s.GetState("missing")
	assert.ErrorIs(t, err, ErrNoState)
}

func TestAddTrack_And_AddRegion_Invariant1(t *testing.T) {
	s := NewStore(nil)
	s.InitState("room1")

	track, err := s.AddTrack("room1", &Track{ID: "t1", Type: TrackMidi})
	require.NoError(t, err)
	assert.Equal(t, "t1", track.ID)

	reg, err := s.AddRegion("room1", &Region{ID: "r1", TrackID: "t1", Kind: RegionMidi, Midi: &MidiRegionData{}})
	require.NoError(t, err)
	assert.Equal(t, "r1", reg.ID)

	st, _ := s.GetState("room1")
	foundTrack, _ := findTrack(st, "t1")
	assert.Contains(t, foundTrack.RegionIDs, "r1")
}

func TestAddRegion_UnknownTrack(t *testing.T) {
	s := NewStore(nil)
	s.InitState("room1")
	_, err := s.AddRegion("room1", &Region{ID: "r1", TrackID: "missing"})
	assert.ErrorIs(t, err, ErrTrackNotFound)
}

func TestUpdateRegion_MovesBetweenTracks(t *testing.T) {
	s := NewStore(nil)
	s.InitState("room1")
	s.AddTrack("room1", &Track{ID: "t1"})
	s.AddTrack("room1", &Track{ID: "t2"})
	s.AddRegion("room1", &Region{ID: "r1", TrackID: "t1"})

	newTrack := "t2"
	_, err := s.UpdateRegion("room1", "r1", RegionPatch{TrackID: &newTrack})
	require.NoError(t, err)

	st, _ := s.GetState("room1")
	t1, _ := findTrack(st, "t1")
	t2, _ := findTrack(st, "t2")
	assert.NotContains(t, t1.RegionIDs, "r1")
	assert.Contains(t, t2.RegionIDs, "r1")
	assert.Equal(t, "t2", st.Regions["r1"].TrackID)
}

func TestRemoveTrack_RemovesRegionsAndPrunesSelection(t *testing.T) {
	s := NewStore(nil)
	s.InitState("room1")
	s.AddTrack("room1", &Track{ID: "t1"})
	s.AddRegion("room1", &Region{ID: "r1", TrackID: "t1"})
	trackID := "t1"
	s.UpdateSelection("room1", &trackID, []string{"r1"})

	removed, err := s.RemoveTrack("room1", "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, removed)

	st, _ := s.GetState("room1")
	assert.Empty(t, st.Tracks)
	assert.Empty(t, st.Regions)
	assert.Equal(t, "", st.SelectedTrackID)
	assert.Empty(t, st.SelectedRegionIDs)
}

func TestAcquireLock_SameUserSucceeds(t *testing.T) {
	s := NewStore(nil)
	s.InitState("room1")

	ok, err := s.AcquireLock("room1", "t1", &LockInfo{UserID: "u1", Kind: LockTrack})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AcquireLock("room1", "t1", &LockInfo{UserID: "u1", Kind: LockTrack})
	require.NoError(t, err)
	assert.True(t, ok, "same user re-acquiring their own lock must succeed")
}

func TestAcquireLock_OtherUserFails(t *testing.T) {
	s := NewStore(nil)
	s.InitState("room1")
	s.AcquireLock("room1", "t1", &LockInfo{UserID: "u1"})

	ok, err := s.AcquireLock("room1", "t1", &LockInfo{UserID: "u2"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReleaseLock_OnlyOwnerSucceeds(t *testing.T) {
	s := NewStore(nil)
	s.InitState("room1")
	s.AcquireLock("room1", "t1", &LockInfo{UserID: "u1"})

	ok, err := s.ReleaseLock("room1", "t1", "u2")
	require.NoError(t, err)
	assert.False(t, ok, "non-owner must not release the lock")

	ok, err = s.ReleaseLock("room1", "t1", "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseUserLocks(t *testing.T) {
	s := NewStore(nil)
	s.InitState("room1")
	s.AcquireLock("room1", "t1", &LockInfo{UserID: "u1"})
	s.AcquireLock("room1", "t2", &LockInfo{UserID: "u1"})
	s.AcquireLock("room1", "t3", &LockInfo{UserID: "u2"})

	released, err := s.ReleaseUserLocks("room1", "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"t1", "t2"}, released)

	lock, _ := s.IsLocked("room1", "t3")
	assert.NotNil(t, lock)
}

// TestStore_ParallelRooms verifies different rooms proceed without
// interfering, exercising the per-room mutex granularity (spec.md §4.6
// concurrency contract: different rooms proceed in parallel).
func TestStore_ParallelRooms(t *testing.T) {
	s := NewStore(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		roomID := string(rune('a' + i%5))
		s.InitState(roomID)
		wg.Add(1)
		go func(room string, n int) {
			defer wg.Done()
			s.AddTrack(room, &Track{ID: room + string(rune('0'+n))})
		}(roomID, i)
	}
	wg.Wait()

	for i := 0; i < 5; i++ {
		roomID := string(rune('a' + i))
		st, err := s.GetState(roomID)
		require.NoError(t, err)
		assert.NotEmpty(t, st.Tracks)
	}
}
