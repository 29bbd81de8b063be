package game

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ndenisov/quizroom/internal/app"
	"github.com/ndenisov/quizroom/internal/core"
	"github.com/ndenisov/quizroom/internal/domain"
	"github.com/ndenisov/quizroom/internal/errs"
)

type FlowConfig struct {
	CountdownSeconds int
	ProgressTick     time.Duration
	EndGameGrace     time.Duration
	MinTimeLimit     time.Duration
	MaxTimeLimit     time.Duration
}

func (c *FlowConfig) defaults() {
	if c.CountdownSeconds <= 0 {
		c.CountdownSeconds = 5
	}
	if c.ProgressTick <= 0 {
		c.ProgressTick = time.Second
	}
	if c.EndGameGrace <= 0 {
		c.EndGameGrace = 10 * time.Second
	}
	if c.MinTimeLimit <= 0 {
		c.MinTimeLimit = 30 * time.Second
	}
	if c.MaxTimeLimit <= 0 {
		c.MaxTimeLimit = time.Hour
	}
}

// Flow drives the session state machine:
// Waiting -> Countdown -> QuestionActive (repeats) -> Ended.
// Timer callbacks re-enter through the same methods as client commands
// and rely on Session's first-wins End for racing triggers.
type Flow struct {
	sessions *SessionManager
	rooms    *app.RoomDirectory
	timers   *app.TimerManager
	bcast    *app.Broadcaster
	tracker  *Tracker
	cfg      FlowConfig
}

func NewFlow(sessions *SessionManager, rooms *app.RoomDirectory, timers *app.TimerManager, bcast *app.Broadcaster, tracker *Tracker, cfg FlowConfig) *Flow {
	cfg.defaults()
	return &Flow{
		sessions: sessions,
		rooms:    rooms,
		timers:   timers,
		bcast:    bcast,
		tracker:  tracker,
		cfg:      cfg,
	}
}

// StartGame validates the request, tears down any live session for the
// room, installs the new one and enters the countdown.
func (f *Flow) StartGame(code domain.RoomCode, hostUserID int64, questions []domain.Question, timeLimit time.Duration, mode domain.GameMode) error {
	room, ok := f.rooms.Get(code)
	if !ok {
		return errs.State("room %s not found", code)
	}
	if room.PlayerCount() < 1 {
		return errs.Validation("room %s has no players", code)
	}
	if room.HostID() != hostUserID {
		log.Warn().Str("module", "game.flow").Str("room", string(code)).Int64("user", hostUserID).Msg("start-game by non-host rejected")
		return errs.Permission("only the host can start the game")
	}
	if len(questions) == 0 {
		return errs.Validation("question list is empty")
	}
	if timeLimit < f.cfg.MinTimeLimit || timeLimit > f.cfg.MaxTimeLimit {
		return errs.Validation("time limit %s outside [%s, %s]", timeLimit, f.cfg.MinTimeLimit, f.cfg.MaxTimeLimit)
	}
	if mode == "" {
		mode = domain.ModeSelfPaced
	}

	sess := NewSession(code, questions, timeLimit, mode, room.Players())
	if old := f.sessions.Put(sess); old != nil {
		// Replacing a live session discards its progress and timers.
		old.End(domain.EndReasonHostEnded)
		f.cancelGameTimers(code)
		log.Info().Str("module", "game.flow").Str("room", string(code)).Msg("tore down previous session")
	}

	room.SetStatus(domain.RoomActive)
	for _, p := range room.Players() {
		room.SetPlayerStatus(p.UserID, domain.PlayerAnswering)
	}

	f.bcast.ToRoom(code, domain.EvGameStarted, map[string]any{
		"roomCode":       code,
		"countdown":      f.cfg.CountdownSeconds,
		"timeLimit":      int(timeLimit.Seconds()),
		"totalQuestions": len(questions),
		"mode":           mode,
	})
	log.Info().Str("module", "game.flow").Str("room", string(code)).Int("questions", len(questions)).Dur("limit", timeLimit).Str("mode", string(mode)).Msg("game starting")

	f.countdownTick(code, f.cfg.CountdownSeconds)
	return nil
}

// countdownTick broadcasts the current value and re-arms itself until
// zero, where the first question goes out.
func (f *Flow) countdownTick(code domain.RoomCode, n int) {
	sess, ok := f.sessions.Get(code)
	if !ok || sess.IsEnded() {
		return
	}

	f.bcast.ToRoom(code, domain.EvCountdown, map[string]any{"value": n})
	if n > 0 {
		f.timers.Schedule(code, app.TimerCountdown, time.Second, func() {
			f.countdownTick(code, n-1)
		})
		return
	}
	f.beginQuestions(code, sess)
}

func (f *Flow) beginQuestions(code domain.RoomCode, sess *Session) {
	now := time.Now()
	sess.Activate(now)

	q, idx, ok := sess.CurrentShared()
	if !ok {
		f.EndSession(code, domain.EndReasonAllFinished)
		return
	}
	f.bcast.ToRoom(code, domain.EvNewQuestion, questionPayload(q, idx, sess.QuestionCount()))

	f.timers.Schedule(code, app.TimerGameTimeout, sess.TimeLimit(), func() {
		f.EndSession(code, domain.EndReasonTimeout)
	})
	f.timers.Schedule(code, app.TimerProgress, f.cfg.ProgressTick, func() {
		f.progressTick(code)
	})
	log.Info().Str("module", "game.flow").Str("room", string(code)).Msg("questions active")
}

// progressTick broadcasts time remaining every tick and fires the
// timeout end when the clock hits zero while still active.
func (f *Flow) progressTick(code domain.RoomCode) {
	sess, ok := f.sessions.Get(code)
	if !ok || !sess.IsActive() {
		return
	}
	remaining := sess.TimeRemaining(time.Now())
	f.bcast.ToRoom(code, domain.EvTimerUpdate, map[string]any{
		"remaining": int(remaining.Seconds()),
	})
	_ = f.tracker.BroadcastProgress(code)
	if remaining <= 0 {
		f.EndSession(code, domain.EndReasonTimeout)
		return
	}
	f.timers.Schedule(code, app.TimerProgress, f.cfg.ProgressTick, func() {
		f.progressTick(code)
	})
}

// AdvanceShared pushes every player to the next question in
// synchronized mode. Running out of questions ends the session.
func (f *Flow) AdvanceShared(code domain.RoomCode) error {
	sess, ok := f.sessions.Get(code)
	if !ok || !sess.IsActive() {
		return errs.State("no active game in room %s", code)
	}
	q, idx, ok := sess.AdvanceShared(time.Now())
	if !ok {
		f.EndSession(code, domain.EndReasonHostEnded)
		return nil
	}
	f.bcast.ToRoom(code, domain.EvNextQuestion, questionPayload(q, idx, sess.QuestionCount()))
	return nil
}

// SendNextToPlayer delivers the player's own current question in
// self-paced mode, addressed to that player only.
func (f *Flow) SendNextToPlayer(code domain.RoomCode, username string) error {
	sess, ok := f.sessions.Get(code)
	if !ok || !sess.IsActive() {
		return errs.State("no active game in room %s", code)
	}
	q, idx, more, err := sess.CurrentForPlayer(username)
	if err != nil {
		return err
	}
	if !more {
		return errs.Validation("player %s has no remaining questions", username)
	}
	room, ok := f.rooms.Get(code)
	if !ok {
		return errs.State("room %s not found", code)
	}
	player, ok := room.PlayerByName(username)
	if !ok || player.ConnID == "" {
		return errs.State("player %s has no live connection", username)
	}
	f.bcast.ToConn(core.ConnID(player.ConnID), domain.EvNextQuestion, questionPayload(q, idx, sess.QuestionCount()))
	return nil
}

// EndSession finishes the game with the given reason. Racing triggers
// (timeout vs all-finished vs host command) resolve on Session.End;
// only the winner broadcasts and schedules cleanup.
func (f *Flow) EndSession(code domain.RoomCode, reason string) {
	sess, ok := f.sessions.Get(code)
	if !ok {
		log.Warn().Str("module", "game.flow").Str("room", string(code)).Str("reason", reason).Msg("end for unknown session")
		return
	}
	if !sess.End(reason) {
		return
	}

	f.cancelGameTimers(code)

	results := sess.Leaderboard()
	f.bcast.ToRoom(code, domain.EvGameEnded, map[string]any{
		"reason":  reason,
		"results": results,
	})
	if room, ok := f.rooms.Get(code); ok {
		room.SetStatus(domain.RoomEnded)
	}
	log.Info().Str("module", "game.flow").Str("room", string(code)).Str("reason", reason).Msg("game ended")

	// Grace period lets clients render final results before the room
	// resets to waiting.
	f.timers.Schedule(code, app.TimerCleanup, f.cfg.EndGameGrace, func() {
		f.cleanup(code)
	})
}

func (f *Flow) cleanup(code domain.RoomCode) {
	f.sessions.Delete(code)
	f.timers.CancelRoom(code)
	if room, ok := f.rooms.Get(code); ok {
		room.SetStatus(domain.RoomWaiting)
		for _, p := range room.Players() {
			room.SetPlayerStatus(p.UserID, domain.PlayerWaiting)
		}
		f.bcast.RoomSnapshot(code, true)
	}
	log.Info().Str("module", "game.flow").Str("room", string(code)).Msg("session cleaned up, room reset to waiting")
}

// Teardown discards the room's session and timers without any
// broadcast; used when the room itself goes away.
func (f *Flow) Teardown(code domain.RoomCode) {
	if sess, ok := f.sessions.Get(code); ok {
		sess.End(domain.EndReasonHostEnded)
	}
	f.sessions.Delete(code)
	f.timers.CancelRoom(code)
}

// HandlePlayerLeft keeps a pending or live game consistent when a
// player drops: their progress is closed out so the rest can still
// reach all-finished. Leavers during the countdown count too;
// MarkAbandoned never reports all-finished before activation, so the
// end check cannot fire early.
func (f *Flow) HandlePlayerLeft(code domain.RoomCode, username string) {
	sess, ok := f.sessions.Get(code)
	if !ok || sess.IsEnded() {
		return
	}
	if sess.MarkAbandoned(username, time.Now()) {
		f.EndSession(code, domain.EndReasonAllFinished)
	}
}

func (f *Flow) cancelGameTimers(code domain.RoomCode) {
	f.timers.Cancel(code, app.TimerCountdown)
	f.timers.Cancel(code, app.TimerGameTimeout)
	f.timers.Cancel(code, app.TimerProgress)
}

func questionPayload(q domain.Question, index, total int) map[string]any {
	return map[string]any{
		"question": q.Public(),
		"index":    index,
		"total":    total,
	}
}
