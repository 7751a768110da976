// Package repo is the persistence boundary between the room fabric and
// Postgres: room metadata (ownership, privacy, type) and user profile
// lookups that the HTTP layer resolves before a connection ever reaches the
// Room Dispatcher (C8). Grounded on das7pad-overleaf-go's pgx/v5 pool usage
// (cmd/pkg/utils/postgres.go), adapted from pgxpool.Connect/MustConnectPostgres
// to a pgxpool.New-returning constructor that reports errors instead of
// panicking, matching this codebase's config.ValidateEnv "collect and
// return" discipline over the teacher's fail-fast.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("repo: not found")

// RoomRecord is the persisted metadata for one room — the source of the
// ownerUserId/private/roomType fields the HTTP accept handler must resolve
// before calling room.Dispatcher.Route with a join_room event (the
// dispatcher itself never talks to Postgres).
type RoomRecord struct {
	RoomID      string
	OwnerUserID string
	Private     bool
	RoomType    string
	CreatedAt   time.Time
}

// UserRecord is the persisted profile backing a connection's Identity.
type UserRecord struct {
	UserID   string
	Username string
}

// RoomRepository resolves and persists room ownership/type metadata.
type RoomRepository interface {
	GetRoom(ctx context.Context, roomID string) (*RoomRecord, error)
	CreateRoom(ctx context.Context, r *RoomRecord) error
	TransferOwnership(ctx context.Context, roomID, newOwnerUserID string) error
}

// UserRepository resolves user profile data by id.
type UserRepository interface {
	GetUser(ctx context.Context, userID string) (*UserRecord, error)
}

// Postgres is the default pgx/v5-backed implementation of both
// RoomRepository and UserRepository.
type Postgres struct {
	pool *pgxpool.Pool
}

// Connect opens a pooled Postgres connection and verifies it with a Ping,
// per the teacher's connect-then-ping pattern — but returns the error to
// the caller rather than panicking, since ValidateEnv's startup already
// collects every configuration fault in one place.
func Connect(ctx context.Context, dsn string) (*Postgres, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) GetRoom(ctx context.Context, roomID string) (*RoomRecord, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT room_id, owner_user_id, private, room_type, created_at FROM rooms WHERE room_id = $1`,
		roomID)
	var r RoomRecord
	if err := row.Scan(&r.RoomID, &r.OwnerUserID, &r.Private, &r.RoomType, &r.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (p *Postgres) CreateRoom(ctx context.Context, r *RoomRecord) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO rooms (room_id, owner_user_id, private, room_type, created_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (room_id) DO NOTHING`,
		r.RoomID, r.OwnerUserID, r.Private, r.RoomType)
	return err
}

func (p *Postgres) TransferOwnership(ctx context.Context, roomID, newOwnerUserID string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE rooms SET owner_user_id = $1 WHERE room_id = $2`, newOwnerUserID, roomID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) GetUser(ctx context.Context, userID string) (*UserRecord, error) {
	row := p.pool.QueryRow(ctx, `SELECT user_id, username FROM users WHERE user_id = $1`, userID)
	var u UserRecord
	if err := row.Scan(&u.UserID, &u.Username); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}
