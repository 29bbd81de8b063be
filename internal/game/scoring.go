package game

import (
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ndenisov/quizroom/internal/app"
	"github.com/ndenisov/quizroom/internal/core"
	"github.com/ndenisov/quizroom/internal/domain"
	"github.com/ndenisov/quizroom/internal/errs"
	"github.com/ndenisov/quizroom/internal/telemetry"
)

// Engine validates submissions against session state, scores them and
// fans the results out. Validation failures come back as errors for the
// dispatcher to ack; they never mutate progress.
type Engine struct {
	sessions *SessionManager
	rooms    *app.RoomDirectory
	bcast    *app.Broadcaster
	tracker  *Tracker
	flow     *Flow
}

func NewEngine(sessions *SessionManager, rooms *app.RoomDirectory, bcast *app.Broadcaster, tracker *Tracker, flow *Flow) *Engine {
	return &Engine{sessions: sessions, rooms: rooms, bcast: bcast, tracker: tracker, flow: flow}
}

// Submission is one decoded submit-answer command.
type Submission struct {
	RoomCode      domain.RoomCode
	Username      string
	QuestionIndex int
	Answer        string
	// ClientTS is the client's own clock, kept for latency visibility
	// only. Scoring uses the server clock.
	ClientTS int64
}

// SubmitAnswer runs the full pipeline: session checks, shape checks,
// order checks, scoring, progress mutation, result events, and the
// all-finished end check.
func (e *Engine) SubmitAnswer(connID core.ConnID, sub Submission) error {
	sess, ok := e.sessions.Get(sub.RoomCode)
	if !ok {
		return errs.State("no active game in room %s", sub.RoomCode)
	}
	if !sess.IsActive() {
		return errs.State("game in room %s is not active", sub.RoomCode)
	}
	if sub.Username == "" {
		return errs.Validation("username is required")
	}
	if sub.QuestionIndex < 0 {
		return errs.Validation("question index must not be negative")
	}

	now := time.Now()
	out, err := sess.ApplyAnswer(sub.Username, sub.QuestionIndex, sub.Answer, now)
	if err != nil {
		return err
	}

	telemetry.AnswersScored.WithLabelValues(strconv.FormatBool(out.Record.Correct)).Inc()
	log.Info().Str("module", "game.scoring").Str("room", string(sub.RoomCode)).Str("user", sub.Username).Int("question", sub.QuestionIndex).Bool("correct", out.Record.Correct).Int("points", out.Record.Points).Msg("answer scored")

	if room, ok := e.rooms.Get(sub.RoomCode); ok {
		room.SetPlayerScore(sub.Username, out.TotalScore)
		if player, ok := room.PlayerByName(sub.Username); ok {
			st := domain.PlayerAnswering
			if out.Finished {
				st = domain.PlayerFinished
			}
			room.SetPlayerStatus(player.UserID, st)
		}
	}

	e.bcast.ToConn(connID, domain.EvAnswerResult, map[string]any{
		"questionIndex": sub.QuestionIndex,
		"correct":       out.Record.Correct,
		"points":        out.Record.Points,
		"totalScore":    out.TotalScore,
	})
	_ = e.tracker.BroadcastLeaderboard(sub.RoomCode)

	if out.Finished {
		e.bcast.ToRoom(sub.RoomCode, domain.EvPlayerFinished, map[string]any{
			"username": sub.Username,
			"score":    out.TotalScore,
		})
	}
	if out.AllFinished {
		e.flow.EndSession(sub.RoomCode, domain.EndReasonAllFinished)
	}
	return nil
}
