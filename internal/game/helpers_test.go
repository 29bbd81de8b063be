package game

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ndenisov/quizroom/internal/app"
	"github.com/ndenisov/quizroom/internal/core"
	"github.com/ndenisov/quizroom/internal/domain"
)

// fakeConn records frames instead of writing a socket.
type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("send failed")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Ping() error { return nil }

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) RemoteAddr() string { return "test:0" }

func (c *fakeConn) events(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		var env domain.Envelope
		require.NoError(t, json.Unmarshal(f, &env))
		out = append(out, env.Event)
	}
	return out
}

func (c *fakeConn) countEvent(t *testing.T, event string) int {
	t.Helper()
	n := 0
	for _, e := range c.events(t) {
		if e == event {
			n++
		}
	}
	return n
}

func (c *fakeConn) lastPayload(t *testing.T, event string, into any) bool {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.frames) - 1; i >= 0; i-- {
		var env domain.Envelope
		require.NoError(t, json.Unmarshal(c.frames[i], &env))
		if env.Event == event {
			require.NoError(t, json.Unmarshal(env.Data, into))
			return true
		}
	}
	return false
}

// fixture wires registry, rooms, timers and the game drivers with no
// persistence collaborators.
type fixture struct {
	registry *app.Registry
	rooms    *app.RoomDirectory
	timers   *app.TimerManager
	bcast    *app.Broadcaster
	members  *app.Membership
	sessions *SessionManager
	flow     *Flow
	engine   *Engine
	tracker  *Tracker
	host     *HostControl
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry := app.NewRegistry()
	rooms := app.NewRoomDirectory()
	timers := app.NewTimerManager()
	t.Cleanup(timers.Shutdown)
	bcast := app.NewBroadcaster(registry, rooms, timers, 200*time.Millisecond, 20*time.Millisecond)
	members := app.NewMembership(rooms, registry, bcast, nil, nil, app.MembershipConfig{
		DedupWindow:    time.Second,
		JoinRateLimit:  100,
		JoinRateWindow: time.Second,
	})
	sessions := NewSessionManager()
	tracker := NewTracker(sessions, bcast)
	flow := NewFlow(sessions, rooms, timers, bcast, tracker, FlowConfig{
		CountdownSeconds: 1,
		ProgressTick:     50 * time.Millisecond,
		EndGameGrace:     100 * time.Millisecond,
		MinTimeLimit:     time.Second,
		MaxTimeLimit:     time.Hour,
	})
	engine := NewEngine(sessions, rooms, bcast, tracker, flow)
	host := NewHostControl(rooms, members, bcast, flow)
	members.OnRoomEmpty = flow.Teardown
	members.OnPlayerLeft = flow.HandlePlayerLeft
	return &fixture{
		registry: registry,
		rooms:    rooms,
		timers:   timers,
		bcast:    bcast,
		members:  members,
		sessions: sessions,
		flow:     flow,
		engine:   engine,
		tracker:  tracker,
		host:     host,
	}
}

// seedRoom registers one connection per player and fills the room.
// Player user ids are 1..n, usernames p1..pn, conn ids c1..cn; p1 is
// the host.
func (f *fixture) seedRoom(t *testing.T, code domain.RoomCode, usernames ...string) map[string]*fakeConn {
	t.Helper()
	conns := make(map[string]*fakeConn, len(usernames))
	room := f.rooms.GetOrCreate(code)
	for i, name := range usernames {
		id := core.ConnID("c-" + name)
		conn := &fakeConn{}
		f.registry.Register(id, conn, func() {})
		f.registry.BindUser(id, int64(i+1))
		f.registry.BindRoom(id, code)
		require.True(t, room.AddPlayer(domain.Player{
			UserID:   int64(i + 1),
			Username: name,
			ConnID:   string(id),
			Status:   domain.PlayerWaiting,
			JoinedAt: time.Now().Add(time.Duration(i) * time.Millisecond),
		}))
		f.rooms.BindUser(int64(i+1), code)
		conns[name] = conn
	}
	return conns
}

func twoQuestions() []domain.Question {
	return []domain.Question{
		{ID: "q1", Text: "capital of France?", Options: []string{"Paris", "Lyon"}, Answer: "Paris"},
		{ID: "q2", Text: "2+2?", Options: []string{"3", "4"}, Answer: "4"},
	}
}

// startActive installs an already-activated session, bypassing the
// countdown, so tests can exercise the live-game paths directly.
func (f *fixture) startActive(t *testing.T, code domain.RoomCode, questions []domain.Question, limit time.Duration, mode domain.GameMode) *Session {
	t.Helper()
	room, ok := f.rooms.Get(code)
	require.True(t, ok)
	sess := NewSession(code, questions, limit, mode, room.Players())
	require.Nil(t, f.sessions.Put(sess))
	room.SetStatus(domain.RoomActive)
	sess.Activate(time.Now())
	return sess
}
