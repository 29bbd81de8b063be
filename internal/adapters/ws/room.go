package ws

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/ndenisov/quizroom/internal/core"
	"github.com/ndenisov/quizroom/internal/domain"
)

type joinPayload struct {
	RoomCode string `json:"roomCode"`
	Username string `json:"username"`
	UserID   int64  `json:"userId"`
}

func (ctl *Controller) handleJoin(ctx context.Context, id core.ConnID, data json.RawMessage) {
	p, err := decode[joinPayload](data)
	if err != nil {
		ctl.ack(id, domain.EvJoinRoom, err)
		return
	}

	room, err := ctl.Members.JoinRoom(ctx, id, domain.RoomCode(p.RoomCode), p.Username, p.UserID)
	if err != nil {
		ctl.ack(id, domain.EvJoinRoom, err)
		return
	}

	// Welcome ack carries the room state the joiner should render.
	_ = ctl.Registry.Send(id, domain.EvJoinRoom+domain.AckSuffix, map[string]any{
		"success": true,
		"message": "joined",
		"room":    room,
	})
}

type leavePayload struct {
	RoomCode string `json:"roomCode"`
	UserID   int64  `json:"userId"`
}

func (ctl *Controller) handleLeave(ctx context.Context, id core.ConnID, data json.RawMessage) {
	p, err := decode[leavePayload](data)
	if err != nil {
		ctl.ack(id, domain.EvLeaveRoom, err)
		return
	}
	err = ctl.Members.LeaveRoom(ctx, domain.RoomCode(p.RoomCode), p.UserID)
	if err == nil {
		ctl.Registry.ClearRoom(id)
	}
	ctl.ack(id, domain.EvLeaveRoom, err)
}

type readyPayload struct {
	RoomCode string `json:"roomCode"`
	UserID   int64  `json:"userId"`
}

func (ctl *Controller) handlePlayerReady(id core.ConnID, data json.RawMessage) {
	p, err := decode[readyPayload](data)
	if err != nil {
		ctl.ack(id, domain.EvPlayerReady, err)
		return
	}
	ctl.ack(id, domain.EvPlayerReady, ctl.Members.MarkReady(domain.RoomCode(p.RoomCode), p.UserID))
}

type requestPlayersPayload struct {
	RoomCode string `json:"roomCode"`
}

func (ctl *Controller) handleRequestPlayers(id core.ConnID, data json.RawMessage) {
	p, err := decode[requestPlayersPayload](data)
	if err != nil {
		ctl.ack(id, domain.EvRequestPlayers, err)
		return
	}
	log.Debug().Str("module", "ws").Str("room", p.RoomCode).Msg("players update requested")
	// Debounced: rapid repeats inside the window collapse into one
	// roster broadcast.
	ctl.Bcast.RoomSnapshot(domain.RoomCode(p.RoomCode), false)
	ctl.ack(id, domain.EvRequestPlayers, nil)
}

func (ctl *Controller) handlePing(id core.ConnID) {
	ctl.Registry.Pong(id)
	_ = ctl.Registry.Send(id, domain.EvPong, nil)
}
