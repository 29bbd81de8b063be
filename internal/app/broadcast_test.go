package app

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndenisov/quizroom/internal/core"
	"github.com/ndenisov/quizroom/internal/domain"
)

func setupRoomWithConns(t *testing.T, f *fixture, code domain.RoomCode, users ...int64) map[int64]*fakeConn {
	t.Helper()
	conns := make(map[int64]*fakeConn, len(users))
	room := f.rooms.GetOrCreate(code)
	base := time.Now()
	for i, uid := range users {
		id := fmt.Sprintf("%s-conn-%d", code, uid)
		conn := f.connect(core.ConnID(id))
		room.AddPlayer(domain.Player{
			UserID:   uid,
			Username: fmt.Sprintf("user%d", uid),
			ConnID:   id,
			JoinedAt: base.Add(time.Duration(i) * time.Second),
		})
		conns[uid] = conn
	}
	return conns
}

func TestBroadcaster_ToRoomExceptSkipsActor(t *testing.T) {
	f := newFixture(t)
	conns := setupRoomWithConns(t, f, "ABC123", 1, 2, 3)

	room, _ := f.rooms.Get("ABC123")
	actor := room.Players()[0]

	f.bcast.ToRoomExcept("ABC123", core.ConnID(actor.ConnID), "ev", nil)

	assert.Empty(t, conns[1].events(t), "actor must not receive its own notification")
	assert.Equal(t, []string{"ev"}, conns[2].events(t))
	assert.Equal(t, []string{"ev"}, conns[3].events(t))
}

func TestBroadcaster_RoomSnapshotDebounced(t *testing.T) {
	f := newFixture(t)
	conns := setupRoomWithConns(t, f, "ABC123", 1)

	f.bcast.RoomSnapshot("ABC123", false)
	f.bcast.RoomSnapshot("ABC123", false)

	assert.Equal(t, 1, conns[1].countEvent(t, domain.EvPlayersUpdated),
		"two snapshot requests inside the window produce one broadcast")
}

func TestBroadcaster_PlayerLeftPrecedesSnapshot(t *testing.T) {
	f := newFixture(t)
	conns := setupRoomWithConns(t, f, "ABC123", 1, 2)

	room, _ := f.rooms.Get("ABC123")
	left, _, ok := room.RemovePlayer(2)
	require.True(t, ok)

	f.bcast.PlayerLeft("ABC123", left)

	require.Eventually(t, func() bool {
		return conns[1].countEvent(t, domain.EvPlayersUpdated) == 1
	}, time.Second, 10*time.Millisecond, "delayed snapshot must arrive")

	events := conns[1].events(t)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EvPlayerLeft, events[0], "player-left strictly precedes the roster")
	assert.Equal(t, domain.EvPlayersUpdated, events[1])
}

func TestBroadcaster_UnknownRoomIsNoop(t *testing.T) {
	f := newFixture(t)
	f.bcast.ToRoom("NOROOM", "ev", nil)
	f.bcast.RoomSnapshot("NOROOM", true)
}
