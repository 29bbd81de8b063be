package game

import (
	"time"

	"github.com/ndenisov/quizroom/internal/app"
	"github.com/ndenisov/quizroom/internal/domain"
	"github.com/ndenisov/quizroom/internal/errs"
)

// Tracker aggregates per-player progress for on-demand broadcasts. The
// periodic time-remaining tick lives on Flow's progress timer; Tracker
// answers explicit requests.
type Tracker struct {
	sessions *SessionManager
	bcast    *app.Broadcaster
}

func NewTracker(sessions *SessionManager, bcast *app.Broadcaster) *Tracker {
	return &Tracker{sessions: sessions, bcast: bcast}
}

// TimeRemaining returns the clamped remaining game time.
func (t *Tracker) TimeRemaining(code domain.RoomCode) (time.Duration, error) {
	sess, ok := t.sessions.Get(code)
	if !ok {
		return 0, errs.State("no session in room %s", code)
	}
	return sess.TimeRemaining(time.Now()), nil
}

// BroadcastLeaderboard pushes the current standings to the whole room.
func (t *Tracker) BroadcastLeaderboard(code domain.RoomCode) error {
	sess, ok := t.sessions.Get(code)
	if !ok {
		return errs.State("no session in room %s", code)
	}
	t.bcast.ToRoom(code, domain.EvScoreboard, map[string]any{
		"entries": sess.Leaderboard(),
	})
	return nil
}

// BroadcastProgress pushes a progress-update with per-player question
// positions and the time remaining.
func (t *Tracker) BroadcastProgress(code domain.RoomCode) error {
	sess, ok := t.sessions.Get(code)
	if !ok {
		return errs.State("no session in room %s", code)
	}
	t.bcast.ToRoom(code, domain.EvProgressUpdate, map[string]any{
		"entries":   sess.Leaderboard(),
		"remaining": int(sess.TimeRemaining(time.Now()).Seconds()),
	})
	return nil
}
