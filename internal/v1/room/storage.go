package room

import "context"

// StorageAdapter is the minimal surface the dispatcher needs from the blob
// store (C8's audio-blob-lifecycle rule and the "replace project" entry
// point) — the full object-storage interface lives in internal/v1/storage;
// this is deliberately the narrow slice room actually calls, so room does
// not need to depend on the wider storage package.
type StorageAdapter interface {
	// DeleteRegionAudio removes the audio blob backing storageRegionID, called
	// only after the caller has confirmed no surviving region in the room
	// still references it.
	DeleteRegionAudio(ctx context.Context, roomID, storageRegionID string) error
	// RewriteAudioURL rewrites an embedded audio URL at project-load time to
	// point at this deployment's storage adapter.
	RewriteAudioURL(ctx context.Context, roomID, audioURL string) string
}
