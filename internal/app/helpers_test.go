package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ndenisov/quizroom/internal/core"
	"github.com/ndenisov/quizroom/internal/domain"
)

// fakeConn records every frame instead of writing a socket.
type fakeConn struct {
	mu       sync.Mutex
	frames   []core.Frame
	failSend bool
	failPing bool
	pings    int
	closed   bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend || c.closed {
		return errors.New("send failed")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	if c.failPing {
		return errors.New("ping failed")
	}
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) RemoteAddr() string { return "test:0" }

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// events decodes the event names of every recorded frame, in order.
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

// lastPayload decodes the data of the last frame with the given event.
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

// fakeRepo records repository calls.
type fakeRepo struct {
	mu           sync.Mutex
	rooms        map[domain.RoomCode]core.RoomRecord
	members      map[domain.RoomCode]map[int64]string
	deletedRooms []domain.RoomCode
	failAll      bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		rooms:   make(map[domain.RoomCode]core.RoomRecord),
		members: make(map[domain.RoomCode]map[int64]string),
	}
}

func (r *fakeRepo) SaveRoom(_ context.Context, rec core.RoomRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return errors.New("repo down")
	}
	r.rooms[rec.Code] = rec
	return nil
}

func (r *fakeRepo) GetRoom(_ context.Context, code domain.RoomCode) (*core.RoomRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rooms[code]
	if !ok {
		return nil, errors.New("not found")
	}
	return &rec, nil
}

func (r *fakeRepo) DeleteRoom(_ context.Context, code domain.RoomCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, code)
	r.deletedRooms = append(r.deletedRooms, code)
	return nil
}

func (r *fakeRepo) SaveMember(_ context.Context, rec core.MemberRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return errors.New("repo down")
	}
	if r.members[rec.RoomCode] == nil {
		r.members[rec.RoomCode] = make(map[int64]string)
	}
	r.members[rec.RoomCode][rec.UserID] = rec.Username
	return nil
}

func (r *fakeRepo) DeleteMember(_ context.Context, code domain.RoomCode, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members[code], userID)
	return nil
}

func (r *fakeRepo) Members(_ context.Context, code domain.RoomCode) ([]core.MemberRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return nil, errors.New("repo down")
	}
	out := make([]core.MemberRecord, 0, len(r.members[code]))
	for id, name := range r.members[code] {
		out = append(out, core.MemberRecord{RoomCode: code, UserID: id, Username: name})
	}
	return out, nil
}

func (r *fakeRepo) memberCount(code domain.RoomCode) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members[code])
}

type fakeSink struct {
	mu       sync.Mutex
	mirrored map[core.ConnID]core.ConnBinding
	dropped  []core.ConnID
}

func newFakeSink() *fakeSink {
	return &fakeSink{mirrored: make(map[core.ConnID]core.ConnBinding)}
}

func (s *fakeSink) MirrorConn(_ context.Context, b core.ConnBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirrored[b.ConnID] = b
	return nil
}

func (s *fakeSink) DropConn(_ context.Context, id core.ConnID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped = append(s.dropped, id)
	return nil
}

// fixture bundles the app wiring most tests need.
type fixture struct {
	registry *Registry
	rooms    *RoomDirectory
	timers   *TimerManager
	bcast    *Broadcaster
	members  *Membership
	repo     *fakeRepo
	sink     *fakeSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry := NewRegistry()
	rooms := NewRoomDirectory()
	timers := NewTimerManager()
	t.Cleanup(timers.Shutdown)
	bcast := NewBroadcaster(registry, rooms, timers, 500*time.Millisecond, 50*time.Millisecond)
	repo := newFakeRepo()
	sink := newFakeSink()
	members := NewMembership(rooms, registry, bcast, repo, sink, MembershipConfig{
		DedupWindow:    time.Second,
		JoinRateLimit:  100,
		JoinRateWindow: time.Second,
	})
	return &fixture{
		registry: registry,
		rooms:    rooms,
		timers:   timers,
		bcast:    bcast,
		members:  members,
		repo:     repo,
		sink:     sink,
	}
}

// connect registers a fake connection.
func (f *fixture) connect(id core.ConnID) *fakeConn {
	conn := &fakeConn{}
	f.registry.Register(id, conn, func() {})
	return conn
}
