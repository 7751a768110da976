package room

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamfabric/roomfabric/internal/v1/arrange"
)

type fakeStorage struct {
	deleted []string
}

func (f *fakeStorage) DeleteRegionAudio(ctx context.Context, roomID, storageRegionID string) error {
	f.deleted = append(f.deleted, storageRegionID)
	return nil
}

func (f *fakeStorage) RewriteAudioURL(ctx context.Context, roomID, audioURL string) string {
	return "https://cdn.example/" + roomID + "/" + audioURL
}

func addTrack(t *testing.T, d *Dispatcher, conn *fakeConn, identity Identity, name, kind string) string {
	t.Helper()
	route(d, identity, conn, string(EventArrangeTrackAdd), TrackAddPayload{Name: name, Type: kind})
	var added map[string]any
	require.NoError(t, json.Unmarshal(conn.lastMessage().Payload, &added))
	return added["id"].(string)
}

func TestRegionMove_ClampsToZero(t *testing.T) {
	d := newTestDispatcher(t)
	alice := joinPublicRoom(d, "room-move", "owner-1", "alice", "conn-1")
	identity := Identity{ConnectionID: "conn-1", UserID: "owner-1", Username: "alice"}

	trackID := addTrack(t, d, alice, identity, "drums", "midi")
	route(d, identity, alice, string(EventArrangeRegionAdd), RegionAddPayload{
		TrackID: trackID, Name: "r1", Kind: "midi", Start: 2, Length: 4,
	})
	var added map[string]any
	require.NoError(t, json.Unmarshal(alice.lastMessage().Payload, &added))
	regionID := added["id"].(string)

	route(d, identity, alice, string(EventArrangeRegionMove), RegionMovePayload{RegionID: regionID, DeltaBeats: -10})

	st, err := d.arrange.GetState("room-move")
	require.NoError(t, err)
	assert.Equal(t, float64(0), st.Regions[regionID].Start)
}

func TestRegionDelete_ReclaimsAudioWhenUnreferenced(t *testing.T) {
	d := newTestDispatcher(t)
	d.storage = &fakeStorage{}
	alice := joinPublicRoom(d, "room-audio", "owner-1", "alice", "conn-1")
	identity := Identity{ConnectionID: "conn-1", UserID: "owner-1", Username: "alice"}

	trackID := addTrack(t, d, alice, identity, "vox", "audio")
	route(d, identity, alice, string(EventArrangeRegionAdd), RegionAddPayload{
		TrackID: trackID, Name: "take1", Kind: "audio", Start: 0, Length: 8,
		Audio: &arrange.AudioRegionData{AudioFileID: "blob-1"},
	})
	var added map[string]any
	require.NoError(t, json.Unmarshal(alice.lastMessage().Payload, &added))
	regionID := added["id"].(string)

	route(d, identity, alice, string(EventArrangeRegionDelete), RegionIDPayload{RegionID: regionID})

	fs := d.storage.(*fakeStorage)
	assert.Equal(t, []string{"blob-1"}, fs.deleted)
}

func TestRegionDelete_KeepsAudioWhenStillReferenced(t *testing.T) {
	d := newTestDispatcher(t)
	fs := &fakeStorage{}
	d.storage = fs
	alice := joinPublicRoom(d, "room-audio2", "owner-1", "alice", "conn-1")
	identity := Identity{ConnectionID: "conn-1", UserID: "owner-1", Username: "alice"}

	trackID := addTrack(t, d, alice, identity, "vox", "audio")
	audio := &arrange.AudioRegionData{AudioFileID: "shared-blob"}
	route(d, identity, alice, string(EventArrangeRegionAdd), RegionAddPayload{
		TrackID: trackID, Name: "take1", Kind: "audio", Start: 0, Length: 8, Audio: audio,
	})
	var r1 map[string]any
	_ = json.Unmarshal(alice.lastMessage().Payload, &r1)
	region1 := r1["id"].(string)

	route(d, identity, alice, string(EventArrangeRegionAdd), RegionAddPayload{
		TrackID: trackID, Name: "take2", Kind: "audio", Start: 8, Length: 8, Audio: audio,
	})

	route(d, identity, alice, string(EventArrangeRegionDelete), RegionIDPayload{RegionID: region1})
	assert.Empty(t, fs.deleted)
}

func TestNoteAdd_RejectsDuplicateNoteIDs(t *testing.T) {
	d := newTestDispatcher(t)
	alice := joinPublicRoom(d, "room-notes", "owner-1", "alice", "conn-1")
	identity := Identity{ConnectionID: "conn-1", UserID: "owner-1", Username: "alice"}

	trackID := addTrack(t, d, alice, identity, "keys", "midi")
	route(d, identity, alice, string(EventArrangeRegionAdd), RegionAddPayload{
		TrackID: trackID, Name: "r1", Kind: "midi", Start: 0, Length: 4,
	})
	var reg map[string]any
	_ = json.Unmarshal(alice.lastMessage().Payload, &reg)
	regionID := reg["id"].(string)

	route(d, identity, alice, string(EventArrangeNoteAdd), NoteListPayload{
		RegionID: regionID,
		Notes: []arrange.MidiNote{
			{ID: "n1", Pitch: 60, Velocity: 100, Start: 0, Length: 1},
			{ID: "n1", Pitch: 62, Velocity: 100, Start: 1, Length: 1},
		},
	})

	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(alice.out[len(alice.out)-1], &env))
	assert.Equal(t, CodeConflict, env.Error.Code)
}

func TestLockRelease_RejectsNonOwner(t *testing.T) {
	d := newTestDispatcher(t)
	alice := joinPublicRoom(d, "room-lock", "owner-1", "alice", "conn-1")
	aliceIdentity := Identity{ConnectionID: "conn-1", UserID: "owner-1", Username: "alice"}
	bob := joinPublicRoom(d, "room-lock", "bob", "bob", "conn-2")
	bobIdentity := Identity{ConnectionID: "conn-2", UserID: "bob", Username: "bob"}

	route(d, aliceIdentity, alice, string(EventArrangeLockAcquire), LockAcquirePayload{ElementID: "el-1", Kind: "track"})
	route(d, bobIdentity, bob, string(EventArrangeLockRelease), LockReleasePayload{ElementID: "el-1"})

	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(bob.out[len(bob.out)-1], &env))
	assert.Equal(t, CodePermissionDenied, env.Error.Code)
}

func TestSelectionChanged_ExcludesSender(t *testing.T) {
	d := newTestDispatcher(t)
	alice := joinPublicRoom(d, "room-sel", "owner-1", "alice", "conn-1")
	aliceIdentity := Identity{ConnectionID: "conn-1", UserID: "owner-1", Username: "alice"}
	bob := joinPublicRoom(d, "room-sel", "bob", "bob", "conn-2")

	beforeAlice := len(alice.out)
	route(d, aliceIdentity, alice, string(EventArrangeSelectionChanged), SelectionPayload{SelectedRegionIDs: []string{}})

	assert.Equal(t, beforeAlice, len(alice.out))
	assert.Equal(t, string(EventSelectionChanged), bob.lastMessage().Event)
}

func TestMarkerLifecycle(t *testing.T) {
	d := newTestDispatcher(t)
	alice := joinPublicRoom(d, "room-marker", "owner-1", "alice", "conn-1")
	identity := Identity{ConnectionID: "conn-1", UserID: "owner-1", Username: "alice"}

	route(d, identity, alice, string(EventArrangeMarkerAdd), MarkerAddPayload{Position: 16, Description: "chorus"})
	var m map[string]any
	require.NoError(t, json.Unmarshal(alice.lastMessage().Payload, &m))
	markerID := m["id"].(string)

	newPos := 32.0
	route(d, identity, alice, string(EventArrangeMarkerUpdate), MarkerUpdatePayload{MarkerID: markerID, Position: &newPos})

	st, err := d.arrange.GetState("room-marker")
	require.NoError(t, err)
	require.Len(t, st.Markers, 1)
	assert.Equal(t, 32.0, st.Markers[0].Position)

	route(d, identity, alice, string(EventArrangeMarkerDelete), MarkerDeletePayload{MarkerID: markerID})
	st, _ = d.arrange.GetState("room-marker")
	assert.Empty(t, st.Markers)
}
