package app

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ndenisov/quizroom/internal/core"
	"github.com/ndenisov/quizroom/internal/domain"
)

// Broadcaster serializes and delivers named events to one connection,
// to every connection bound to a room, or to a room minus one actor.
type Broadcaster struct {
	registry *Registry
	rooms    *RoomDirectory
	timers   *TimerManager

	snapshotDebounce time.Duration
	leaveNotifyDelay time.Duration
}

func NewBroadcaster(registry *Registry, rooms *RoomDirectory, timers *TimerManager, snapshotDebounce, leaveNotifyDelay time.Duration) *Broadcaster {
	if snapshotDebounce <= 0 {
		snapshotDebounce = time.Second
	}
	if leaveNotifyDelay <= 0 {
		leaveNotifyDelay = 300 * time.Millisecond
	}
	return &Broadcaster{
		registry:         registry,
		rooms:            rooms,
		timers:           timers,
		snapshotDebounce: snapshotDebounce,
		leaveNotifyDelay: leaveNotifyDelay,
	}
}

func (b *Broadcaster) ToConn(id core.ConnID, event string, payload any) {
	// Send failure already marks the connection for eviction.
	_ = b.registry.Send(id, event, payload)
}

func (b *Broadcaster) ToRoom(code domain.RoomCode, event string, payload any) {
	room, ok := b.rooms.Get(code)
	if !ok {
		log.Warn().Str("module", "app.broadcast").Str("room", string(code)).Str("event", event).Msg("broadcast to unknown room")
		return
	}
	b.registry.Broadcast(room.ConnIDs(), event, payload)
}

// ToRoomExcept notifies everyone in the room except one connection;
// used for "notify others, not the actor" flows.
func (b *Broadcaster) ToRoomExcept(code domain.RoomCode, except core.ConnID, event string, payload any) {
	room, ok := b.rooms.Get(code)
	if !ok {
		log.Warn().Str("module", "app.broadcast").Str("room", string(code)).Str("event", event).Msg("broadcast to unknown room")
		return
	}
	ids := room.ConnIDs()
	filtered := make([]core.ConnID, 0, len(ids))
	for _, id := range ids {
		if id != except {
			filtered = append(filtered, id)
		}
	}
	b.registry.Broadcast(filtered, event, payload)
}

// RoomSnapshot broadcasts the room-players-updated roster. Duplicate
// requests inside the debounce window are suppressed; force bypasses
// the check but still refreshes the stamp.
func (b *Broadcaster) RoomSnapshot(code domain.RoomCode, force bool) {
	room, ok := b.rooms.Get(code)
	if !ok {
		return
	}
	if !room.AllowSnapshot(b.snapshotDebounce, force) {
		log.Debug().Str("module", "app.broadcast").Str("room", string(code)).Msg("room snapshot debounced")
		return
	}
	snap := room.Snapshot()
	b.registry.Broadcast(room.ConnIDs(), domain.EvPlayersUpdated, snap)
}

// PlayerLeft emits player-left first and schedules the refreshed roster
// strictly after a short delay, so clients observe the removal before
// the new list even if the transport reorders distinct sends.
func (b *Broadcaster) PlayerLeft(code domain.RoomCode, left domain.Player) {
	b.ToRoom(code, domain.EvPlayerLeft, left)
	b.timers.Schedule(code, TimerLeaveNotify, b.leaveNotifyDelay, func() {
		b.RoomSnapshot(code, true)
	})
}
