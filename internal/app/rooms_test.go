package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndenisov/quizroom/internal/domain"
)

func addPlayer(r *RoomState, userID int64, name string, joined time.Time) {
	r.AddPlayer(domain.Player{
		UserID:   userID,
		Username: name,
		ConnID:   name + "-conn",
		JoinedAt: joined,
	})
}

func hostCount(r *RoomState) int {
	n := 0
	for _, p := range r.Players() {
		if p.IsHost {
			n++
		}
	}
	return n
}

func TestRoomState_FirstJoinerIsHost(t *testing.T) {
	base := time.Now()
	r := NewRoomState("ABC123")
	addPlayer(r, 1, "p1", base)
	addPlayer(r, 2, "p2", base.Add(time.Second))

	assert.Equal(t, int64(1), r.HostID())
	assert.Equal(t, 1, hostCount(r))
}

func TestRoomState_AddDuplicateUserRejected(t *testing.T) {
	r := NewRoomState("ABC123")
	require.True(t, r.AddPlayer(domain.Player{UserID: 1, Username: "p1"}))
	require.False(t, r.AddPlayer(domain.Player{UserID: 1, Username: "p1"}))
	assert.Equal(t, 1, r.PlayerCount())
}

func TestRoomState_HostLeavePromotesEarliestJoiner(t *testing.T) {
	base := time.Now()
	r := NewRoomState("ABC123")
	addPlayer(r, 1, "host", base)
	addPlayer(r, 3, "late", base.Add(2*time.Second))
	addPlayer(r, 2, "early", base.Add(time.Second))

	removed, newHost, ok := r.RemovePlayer(1)
	require.True(t, ok)
	assert.True(t, removed.IsHost)
	require.NotNil(t, newHost)
	assert.Equal(t, int64(2), newHost.UserID, "earliest remaining joiner becomes host")
	assert.Equal(t, 1, hostCount(r))
}

func TestRoomState_NonHostLeaveKeepsHost(t *testing.T) {
	base := time.Now()
	r := NewRoomState("ABC123")
	addPlayer(r, 1, "host", base)
	addPlayer(r, 2, "p2", base.Add(time.Second))

	_, newHost, ok := r.RemovePlayer(2)
	require.True(t, ok)
	assert.Nil(t, newHost)
	assert.Equal(t, int64(1), r.HostID())
}

func TestRoomState_RemoveUnknownPlayer(t *testing.T) {
	r := NewRoomState("ABC123")
	_, _, ok := r.RemovePlayer(99)
	assert.False(t, ok)
}

func TestRoomState_TransferHost(t *testing.T) {
	base := time.Now()
	r := NewRoomState("ABC123")
	addPlayer(r, 1, "host", base)
	addPlayer(r, 2, "p2", base.Add(time.Second))

	require.True(t, r.TransferHost(1, 2))
	assert.Equal(t, int64(2), r.HostID())
	assert.Equal(t, 1, hostCount(r))

	assert.False(t, r.TransferHost(1, 2), "only the current host can transfer")
	assert.False(t, r.TransferHost(2, 99), "target must be a member")
}

func TestRoomState_SnapshotOrderedByJoinTime(t *testing.T) {
	base := time.Now()
	r := NewRoomState("ABC123")
	addPlayer(r, 3, "c", base.Add(2*time.Second))
	addPlayer(r, 1, "a", base)
	addPlayer(r, 2, "b", base.Add(time.Second))

	snap := r.Snapshot()
	require.Len(t, snap.Players, 3)
	assert.Equal(t, "a", snap.Players[0].Username)
	assert.Equal(t, "b", snap.Players[1].Username)
	assert.Equal(t, "c", snap.Players[2].Username)
	assert.Equal(t, snap.HostUserID, r.HostID())
}

func TestRoomState_SnapshotDebounce(t *testing.T) {
	r := NewRoomState("ABC123")
	window := 100 * time.Millisecond

	assert.True(t, r.AllowSnapshot(window, false))
	assert.False(t, r.AllowSnapshot(window, false), "second request inside the window is suppressed")
	assert.True(t, r.AllowSnapshot(window, true), "forced request always passes")

	time.Sleep(window + 20*time.Millisecond)
	assert.True(t, r.AllowSnapshot(window, false))
}

func TestRoomState_AllReadyPromotesNothingWhenEmpty(t *testing.T) {
	r := NewRoomState("ABC123")
	assert.False(t, r.AllReady())

	addPlayer(r, 1, "p1", time.Now())
	assert.False(t, r.AllReady())

	r.SetPlayerStatus(1, domain.PlayerReady)
	assert.True(t, r.AllReady())
}

func TestRoomDirectory_GetOrCreateIsIdempotent(t *testing.T) {
	d := NewRoomDirectory()
	r1 := d.GetOrCreate("ABC123")
	r2 := d.GetOrCreate("ABC123")
	assert.Same(t, r1, r2)

	_, ok := d.Get("ABC123")
	assert.True(t, ok)

	d.Delete("ABC123")
	_, ok = d.Get("ABC123")
	assert.False(t, ok)
}

func TestRoomDirectory_UserIndex(t *testing.T) {
	d := NewRoomDirectory()
	d.BindUser(1, "ABC123")

	code, ok := d.RoomOfUser(1)
	require.True(t, ok)
	assert.Equal(t, domain.RoomCode("ABC123"), code)

	d.UnbindUser(1)
	_, ok = d.RoomOfUser(1)
	assert.False(t, ok)
}

func TestRoomDirectory_ListSorted(t *testing.T) {
	d := NewRoomDirectory()
	d.GetOrCreate("ZZZZZZ")
	d.GetOrCreate("AAAAAA")

	list := d.List()
	require.Len(t, list, 2)
	assert.Equal(t, domain.RoomCode("AAAAAA"), list[0].Code)
	assert.Equal(t, domain.RoomCode("ZZZZZZ"), list[1].Code)
}
