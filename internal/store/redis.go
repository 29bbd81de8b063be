// Package store backs the room repository and the connection mirror
// with Redis. Both are operational collaborators: every write is
// best-effort from the caller's point of view.
package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/ndenisov/quizroom/internal/core"
	"github.com/ndenisov/quizroom/internal/domain"
	"github.com/ndenisov/quizroom/internal/errs"
)

type Redis struct {
	client redis.UniversalClient
	prefix string
}

func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "quizroom"
	}
	return &Redis{client: client, prefix: prefix}
}

var (
	_ core.RoomRepository = (*Redis)(nil)
	_ core.ConnSink       = (*Redis)(nil)
)

func (s *Redis) roomKey(code domain.RoomCode) string {
	return fmt.Sprintf("%s:room:%s", s.prefix, code)
}

func (s *Redis) membersKey(code domain.RoomCode) string {
	return fmt.Sprintf("%s:room:%s:members", s.prefix, code)
}

func (s *Redis) connKey(id core.ConnID) string {
	return fmt.Sprintf("%s:conn:%s", s.prefix, id)
}

func (s *Redis) SaveRoom(ctx context.Context, rec core.RoomRecord) error {
	return s.client.HSet(ctx, s.roomKey(rec.Code), map[string]any{
		"code":        string(rec.Code),
		"host":        rec.HostUserID,
		"status":      string(rec.Status),
		"max_players": rec.MaxPlayers,
	}).Err()
}

func (s *Redis) GetRoom(ctx context.Context, code domain.RoomCode) (*core.RoomRecord, error) {
	vals, err := s.client.HGetAll(ctx, s.roomKey(code)).Result()
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", code, err)
	}
	if len(vals) == 0 {
		return nil, errs.State("room %s not persisted", code)
	}
	host, _ := strconv.ParseInt(vals["host"], 10, 64)
	maxPlayers, _ := strconv.Atoi(vals["max_players"])
	return &core.RoomRecord{
		Code:       domain.RoomCode(vals["code"]),
		HostUserID: host,
		Status:     domain.RoomStatus(vals["status"]),
		MaxPlayers: maxPlayers,
	}, nil
}

func (s *Redis) DeleteRoom(ctx context.Context, code domain.RoomCode) error {
	return s.client.Del(ctx, s.roomKey(code), s.membersKey(code)).Err()
}

func (s *Redis) SaveMember(ctx context.Context, rec core.MemberRecord) error {
	field := strconv.FormatInt(rec.UserID, 10)
	return s.client.HSet(ctx, s.membersKey(rec.RoomCode), field, rec.Username).Err()
}

func (s *Redis) DeleteMember(ctx context.Context, code domain.RoomCode, userID int64) error {
	return s.client.HDel(ctx, s.membersKey(code), strconv.FormatInt(userID, 10)).Err()
}

// Members lists persisted join records for a room.
func (s *Redis) Members(ctx context.Context, code domain.RoomCode) ([]core.MemberRecord, error) {
	vals, err := s.client.HGetAll(ctx, s.membersKey(code)).Result()
	if err != nil {
		return nil, fmt.Errorf("get members %s: %w", code, err)
	}
	out := make([]core.MemberRecord, 0, len(vals))
	for field, username := range vals {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, core.MemberRecord{RoomCode: code, UserID: id, Username: username})
	}
	return out, nil
}

func (s *Redis) MirrorConn(ctx context.Context, b core.ConnBinding) error {
	return s.client.HSet(ctx, s.connKey(b.ConnID), map[string]any{
		"user":   b.UserID,
		"room":   string(b.RoomCode),
		"remote": b.Remote,
	}).Err()
}

func (s *Redis) DropConn(ctx context.Context, id core.ConnID) error {
	return s.client.Del(ctx, s.connKey(id)).Err()
}
