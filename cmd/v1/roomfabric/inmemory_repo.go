package main

import (
	"context"
	"sync"

	"github.com/jamfabric/roomfabric/internal/v1/repo"
)

// inMemoryRoomRepo is the repo.RoomRepository used when POSTGRES_DSN is
// unset (local dev / SKIP_AUTH mode) — rooms are created on first join and
// live only for the process lifetime, the same "no persistence configured"
// fallback the teacher's Hub.getOrCreateRoom provides implicitly by keeping
// rooms purely in memory.
type inMemoryRoomRepo struct {
	mu    sync.Mutex
	rooms map[string]*repo.RoomRecord
}

func newInMemoryRoomRepo() *inMemoryRoomRepo {
	return &inMemoryRoomRepo{rooms: make(map[string]*repo.RoomRecord)}
}

func (r *inMemoryRoomRepo) GetRoom(ctx context.Context, roomID string) (*repo.RoomRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rooms[roomID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return rec, nil
}

func (r *inMemoryRoomRepo) CreateRoom(ctx context.Context, rec *repo.RoomRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rooms[rec.RoomID]; !exists {
		r.rooms[rec.RoomID] = rec
	}
	return nil
}

func (r *inMemoryRoomRepo) TransferOwnership(ctx context.Context, roomID, newOwnerUserID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rooms[roomID]
	if !ok {
		return repo.ErrNotFound
	}
	rec.OwnerUserID = newOwnerUserID
	return nil
}
