package game

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/ndenisov/quizroom/internal/app"
	"github.com/ndenisov/quizroom/internal/core"
	"github.com/ndenisov/quizroom/internal/domain"
	"github.com/ndenisov/quizroom/internal/errs"
)

// HostControl authorizes and executes host-only commands. Host
// authority is re-checked against current room state on every call,
// never trusted from an earlier check.
type HostControl struct {
	rooms   *app.RoomDirectory
	members *app.Membership
	bcast   *app.Broadcaster
	flow    *Flow
}

func NewHostControl(rooms *app.RoomDirectory, members *app.Membership, bcast *app.Broadcaster, flow *Flow) *HostControl {
	return &HostControl{rooms: rooms, members: members, bcast: bcast, flow: flow}
}

func (h *HostControl) authorize(code domain.RoomCode, callerID int64) (*app.RoomState, error) {
	room, ok := h.rooms.Get(code)
	if !ok {
		return nil, errs.State("room %s not found", code)
	}
	if room.HostID() != callerID {
		log.Warn().Str("module", "game.host").Str("room", string(code)).Int64("caller", callerID).Msg("host command by non-host rejected")
		return nil, errs.Permission("user %d is not the host of room %s", callerID, code)
	}
	return room, nil
}

// KickPlayer removes a member on host command. The target is told why
// before the leave cascade runs.
func (h *HostControl) KickPlayer(ctx context.Context, code domain.RoomCode, hostID, targetID int64) error {
	room, err := h.authorize(code, hostID)
	if err != nil {
		return err
	}
	if targetID == hostID {
		return errs.Validation("host cannot kick itself")
	}
	target, ok := room.Player(targetID)
	if !ok {
		return errs.State("user %d is not in room %s", targetID, code)
	}
	if target.ConnID != "" {
		h.bcast.ToConn(core.ConnID(target.ConnID), domain.EvKicked, map[string]any{
			"roomCode": code,
			"message":  "removed by host",
		})
	}
	log.Info().Str("module", "game.host").Str("room", string(code)).Int64("target", targetID).Msg("player kicked")
	return h.members.LeaveRoom(ctx, code, targetID)
}

// TransferHost moves host authority to another current member.
func (h *HostControl) TransferHost(code domain.RoomCode, hostID, targetID int64) error {
	room, err := h.authorize(code, hostID)
	if err != nil {
		return err
	}
	target, ok := room.Player(targetID)
	if !ok {
		return errs.State("user %d is not in room %s", targetID, code)
	}
	if !room.TransferHost(hostID, targetID) {
		return errs.State("host transfer from %d to %d failed", hostID, targetID)
	}
	log.Info().Str("module", "game.host").Str("room", string(code)).Int64("from", hostID).Int64("to", targetID).Msg("host transferred")
	h.bcast.ToRoom(code, domain.EvHostNotification, map[string]any{
		"message":    "host changed",
		"hostUserId": target.UserID,
		"hostName":   target.Username,
	})
	h.bcast.RoomSnapshot(code, true)
	return nil
}

// RequestNextQuestion advances the shared question pointer; only
// meaningful in synchronized mode.
func (h *HostControl) RequestNextQuestion(code domain.RoomCode, hostID int64) error {
	if _, err := h.authorize(code, hostID); err != nil {
		return err
	}
	sess, ok := h.flow.sessions.Get(code)
	if !ok {
		return errs.State("no active game in room %s", code)
	}
	if sess.Mode() != domain.ModeSynchronized {
		return errs.Validation("next-question is host-driven only in synchronized mode")
	}
	return h.flow.AdvanceShared(code)
}

// EndGame finishes the session on host command.
func (h *HostControl) EndGame(code domain.RoomCode, hostID int64) error {
	if _, err := h.authorize(code, hostID); err != nil {
		return err
	}
	h.flow.EndSession(code, domain.EndReasonHostEnded)
	return nil
}
