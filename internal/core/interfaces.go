// Package core holds the transport-facing and collaborator interfaces.
// Implementations live in adapters and store; gameplay packages depend
// only on these.
package core

import (
	"context"

	"github.com/ndenisov/quizroom/internal/domain"
)

// Frame is a serialized outbound message.
type Frame []byte

type ConnID string

// Conn abstracts one live client transport.
// Owned by the adapter; the adapter must Close() it.
type Conn interface {
	// TrySend enqueues a frame without blocking. Returns an error when the
	// connection is closed or its send buffer is full.
	TrySend(Frame) error
	// Ping writes a transport-level ping control message.
	Ping() error
	// Close performs a best-effort close handshake and releases the socket.
	Close()
	RemoteAddr() string
}

// RoomRecord is the persisted shape of a room's settings and roster,
// mirrored for operational visibility and survival of empty-room lookups.
type RoomRecord struct {
	Code       domain.RoomCode
	HostUserID int64
	Status     domain.RoomStatus
	MaxPlayers int
}

type MemberRecord struct {
	RoomCode domain.RoomCode
	UserID   int64
	Username string
}

// RoomRepository is the external room persistence collaborator.
type RoomRepository interface {
	SaveRoom(ctx context.Context, rec RoomRecord) error
	GetRoom(ctx context.Context, code domain.RoomCode) (*RoomRecord, error)
	DeleteRoom(ctx context.Context, code domain.RoomCode) error
	SaveMember(ctx context.Context, rec MemberRecord) error
	DeleteMember(ctx context.Context, code domain.RoomCode, userID int64) error
	Members(ctx context.Context, code domain.RoomCode) ([]MemberRecord, error)
}

// ConnBinding mirrors a live socket association.
type ConnBinding struct {
	ConnID   ConnID
	UserID   int64
	RoomCode domain.RoomCode
	Remote   string
}

// ConnSink receives best-effort copies of socket<->room<->user bindings.
// Failures must never block gameplay.
type ConnSink interface {
	MirrorConn(ctx context.Context, b ConnBinding) error
	DropConn(ctx context.Context, id ConnID) error
}
