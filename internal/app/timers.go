package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ndenisov/quizroom/internal/domain"
)

// TimerKind distinguishes the per-room timers. At most one timer of
// each kind may be live per room; scheduling a new one replaces the
// prior one atomically.
type TimerKind string

const (
	TimerCountdown   TimerKind = "countdown"
	TimerGameTimeout TimerKind = "game-timeout"
	TimerProgress    TimerKind = "progress"
	TimerCleanup     TimerKind = "cleanup"
	TimerLeaveNotify TimerKind = "leave-notify"
)

type timerKey struct {
	room domain.RoomCode
	kind TimerKind
}

// TimerManager schedules and cancels per-room callbacks. Callbacks run
// on the timer goroutine; the components they re-enter must hold their
// own locks.
type TimerManager struct {
	mu     sync.Mutex
	timers map[timerKey]*time.Timer
	closed bool
}

func NewTimerManager() *TimerManager {
	return &TimerManager{timers: make(map[timerKey]*time.Timer)}
}

// Schedule arms a timer of the given kind for the room, cancelling any
// prior timer of the same kind.
func (m *TimerManager) Schedule(room domain.RoomCode, kind TimerKind, d time.Duration, fn func()) {
	key := timerKey{room: room, kind: kind}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if prev, ok := m.timers[key]; ok {
		prev.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		m.mu.Lock()
		// Drop the handle only if it still points at this timer; a
		// replacement scheduled meanwhile must keep its own entry.
		if cur, ok := m.timers[key]; ok && cur == t {
			delete(m.timers, key)
		}
		m.mu.Unlock()
		fn()
	})
	m.timers[key] = t
}

// Cancel stops the room's timer of the given kind, if armed.
func (m *TimerManager) Cancel(room domain.RoomCode, kind TimerKind) {
	key := timerKey{room: room, kind: kind}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[key]; ok {
		t.Stop()
		delete(m.timers, key)
	}
}

// CancelRoom stops every timer belonging to the room.
func (m *TimerManager) CancelRoom(room domain.RoomCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, t := range m.timers {
		if key.room == room {
			t.Stop()
			delete(m.timers, key)
		}
	}
}

// Active reports whether a timer of the given kind is armed.
func (m *TimerManager) Active(room domain.RoomCode, kind TimerKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[timerKey{room: room, kind: kind}]
	return ok
}

// Shutdown cancels all timers and rejects further scheduling.
func (m *TimerManager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for key, t := range m.timers {
		t.Stop()
		delete(m.timers, key)
	}
	log.Info().Str("module", "app.timers").Msg("timer manager shut down")
}
