// Package storage is the object-storage boundary for arrangement audio
// blobs: upload, fetch, delete, and signed-URL rewriting for the audio
// regions the Room Dispatcher (C8) and arrange Store (C6) reference by id.
// Grounded on das7pad-overleaf-go's pkg/objectStorage/minio.go Backend,
// adapted from its SendFromStream/GetReadStream/Delete trio into the
// narrower SaveFile/GetFile/DeleteFile/FileExists/GetFileUrl surface this
// fabric actually needs, using the same minio-go/v7 client construction.
package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrNotFound = errors.New("storage: object not found")

// Adapter is the full object-storage surface the fabric uses: audio blob
// upload/fetch/delete plus version listing for the "replace project"
// upload flow, which may overwrite an existing region's audio file.
type Adapter interface {
	SaveFile(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	GetFile(ctx context.Context, key string, rangeStart, rangeEnd int64) (io.ReadCloser, int64, error)
	DeleteFile(ctx context.Context, key string) error
	FileExists(ctx context.Context, key string) (bool, error)
	GetFileUrl(ctx context.Context, key string, expiry time.Duration) (string, error)
	ListFiles(ctx context.Context, prefix string) ([]string, error)
	ListFileVersions(ctx context.Context, key string) ([]string, error)
	DeleteFileVersion(ctx context.Context, key, versionID string) error
}

// Minio is the default Adapter, backed by a minio-go/v7 client.
type Minio struct {
	client *minio.Client
	bucket string
}

// New constructs a Minio adapter and ensures the target bucket exists.
func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, secure bool) (*Minio, error) {
	c, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, err
	}
	exists, err := c.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := c.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
	}
	return &Minio{client: c, bucket: bucket}, nil
}

func rewriteError(err error) error {
	if err == nil {
		return nil
	}
	var resp minio.ErrorResponse
	if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
		return ErrNotFound
	}
	return err
}

func (m *Minio) SaveFile(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType, SendContentMd5: true,
	})
	return rewriteError(err)
}

// GetFile opens a read stream, optionally scoped to an HTTP Range (0,0
// means the whole object) — backs the audio-streaming endpoint's Range
// support.
func (m *Minio) GetFile(ctx context.Context, key string, rangeStart, rangeEnd int64) (io.ReadCloser, int64, error) {
	opts := minio.GetObjectOptions{}
	if rangeStart != 0 || rangeEnd != 0 {
		if err := opts.SetRange(rangeStart, rangeEnd); err != nil {
			return nil, 0, err
		}
	}
	obj, err := m.client.GetObject(ctx, m.bucket, key, opts)
	if err != nil {
		return nil, 0, rewriteError(err)
	}
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, 0, rewriteError(err)
	}
	return obj, info.Size, nil
}

func (m *Minio) DeleteFile(ctx context.Context, key string) error {
	return rewriteError(m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}))
}

func (m *Minio) FileExists(ctx context.Context, key string) (bool, error) {
	_, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if errors.Is(rewriteError(err), ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (m *Minio) GetFileUrl(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, m.bucket, key, expiry, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (m *Minio) ListFiles(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (m *Minio) ListFileVersions(ctx context.Context, key string) ([]string, error) {
	var versions []string
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: key, WithVersions: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if obj.Key == key {
			versions = append(versions, obj.VersionID)
		}
	}
	return versions, nil
}

func (m *Minio) DeleteFileVersion(ctx context.Context, key, versionID string) error {
	return rewriteError(m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{VersionID: versionID}))
}

// RoomAdapter narrows Adapter down to what internal/v1/room's StorageAdapter
// interface needs, implementing the audio blob lifecycle rule (spec.md
// §4.8 concrete scenario 3) and project-load URL rewriting over a bucket
// namespaced by room id.
type RoomAdapter struct {
	Adapter
	urlExpiry time.Duration
}

func NewRoomAdapter(a Adapter, urlExpiry time.Duration) *RoomAdapter {
	return &RoomAdapter{Adapter: a, urlExpiry: urlExpiry}
}

func audioKey(roomID, storageRegionID string) string {
	return "rooms/" + roomID + "/audio/" + storageRegionID
}

func (r *RoomAdapter) DeleteRegionAudio(ctx context.Context, roomID, storageRegionID string) error {
	err := r.DeleteFile(ctx, audioKey(roomID, storageRegionID))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// RewriteAudioURL re-signs an embedded audio reference at project-load time.
// audioURL is treated as the storage key when it doesn't already look like
// a URL (the common case: project uploads reference the blob by key, not a
// previously-signed URL that would have since expired).
func (r *RoomAdapter) RewriteAudioURL(ctx context.Context, roomID, audioURL string) string {
	if audioURL == "" {
		return ""
	}
	signed, err := r.GetFileUrl(ctx, audioKey(roomID, audioURL), r.urlExpiry)
	if err != nil {
		return audioURL
	}
	return signed
}
