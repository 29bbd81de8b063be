package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ndenisov/quizroom/internal/core"
	"github.com/ndenisov/quizroom/internal/domain"
	"github.com/ndenisov/quizroom/internal/errs"
	"github.com/ndenisov/quizroom/internal/game"
)

type startGamePayload struct {
	RoomCode   string `json:"roomCode"`
	HostUserID int64  `json:"hostUserId"`
	// TimeLimit is the total game limit in seconds.
	TimeLimit int    `json:"timeLimit"`
	Mode      string `json:"mode"`
	Questions []struct {
		ID      string   `json:"id"`
		Text    string   `json:"text"`
		Options []string `json:"options"`
		Answer  string   `json:"answer"`
	} `json:"questions"`
}

func (ctl *Controller) handleStartGame(id core.ConnID, data json.RawMessage) {
	p, err := decode[startGamePayload](data)
	if err != nil {
		ctl.ack(id, domain.EvStartGame, err)
		return
	}

	questions := make([]domain.Question, 0, len(p.Questions))
	for _, q := range p.Questions {
		questions = append(questions, domain.Question{
			ID:      q.ID,
			Text:    q.Text,
			Options: q.Options,
			Answer:  q.Answer,
		})
	}

	err = ctl.Flow.StartGame(
		domain.RoomCode(p.RoomCode),
		p.HostUserID,
		questions,
		time.Duration(p.TimeLimit)*time.Second,
		domain.GameMode(p.Mode),
	)
	ctl.ack(id, domain.EvStartGame, err)
}

type submitAnswerPayload struct {
	RoomCode      string `json:"roomCode"`
	Username      string `json:"username"`
	QuestionIndex int    `json:"questionIndex"`
	Answer        string `json:"answer"`
	Timestamp     int64  `json:"timestamp"`
}

func (ctl *Controller) handleSubmitAnswer(id core.ConnID, data json.RawMessage) {
	p, err := decode[submitAnswerPayload](data)
	if err != nil {
		ctl.ack(id, domain.EvSubmitAnswer, err)
		return
	}
	err = ctl.Engine.SubmitAnswer(id, game.Submission{
		RoomCode:      domain.RoomCode(p.RoomCode),
		Username:      p.Username,
		QuestionIndex: p.QuestionIndex,
		Answer:        p.Answer,
		ClientTS:      p.Timestamp,
	})
	if err != nil {
		// Player-scoped: the submitter learns why, the room sees
		// nothing.
		ctl.ack(id, domain.EvSubmitAnswer, err)
	}
}

type requestNextPayload struct {
	RoomCode string `json:"roomCode"`
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
}

// handleRequestNext serves both pacing modes on the same event: the
// host drives everyone in synchronized mode, a player fetches their own
// next question in self-paced mode.
func (ctl *Controller) handleRequestNext(id core.ConnID, data json.RawMessage) {
	p, err := decode[requestNextPayload](data)
	if err != nil {
		ctl.ack(id, domain.EvRequestNext, err)
		return
	}
	code := domain.RoomCode(p.RoomCode)

	sess, ok := ctl.Sessions.Get(code)
	if !ok {
		ctl.ack(id, domain.EvRequestNext, errs.State("no active game in room %s", code))
		return
	}

	if sess.Mode() == domain.ModeSynchronized {
		ctl.ack(id, domain.EvRequestNext, ctl.Host.RequestNextQuestion(code, p.UserID))
		return
	}
	ctl.ack(id, domain.EvRequestNext, ctl.Flow.SendNextToPlayer(code, p.Username))
}

type requestProgressPayload struct {
	RoomCode string `json:"roomCode"`
}

// handleRequestProgress pushes the room's per-player positions and time
// remaining on demand, on top of the periodic tick.
func (ctl *Controller) handleRequestProgress(id core.ConnID, data json.RawMessage) {
	p, err := decode[requestProgressPayload](data)
	if err != nil {
		ctl.ack(id, domain.EvRequestProgress, err)
		return
	}
	ctl.ack(id, domain.EvRequestProgress, ctl.Tracker.BroadcastProgress(domain.RoomCode(p.RoomCode)))
}

type kickPayload struct {
	RoomCode     string `json:"roomCode"`
	HostUserID   int64  `json:"hostUserId"`
	TargetUserID int64  `json:"targetUserId"`
}

func (ctl *Controller) handleKick(ctx context.Context, id core.ConnID, data json.RawMessage) {
	p, err := decode[kickPayload](data)
	if err != nil {
		ctl.ack(id, domain.EvKickPlayer, err)
		return
	}
	ctl.ack(id, domain.EvKickPlayer, ctl.Host.KickPlayer(ctx, domain.RoomCode(p.RoomCode), p.HostUserID, p.TargetUserID))
}

type transferPayload struct {
	RoomCode     string `json:"roomCode"`
	HostUserID   int64  `json:"hostUserId"`
	TargetUserID int64  `json:"targetUserId"`
}

func (ctl *Controller) handleTransferHost(id core.ConnID, data json.RawMessage) {
	p, err := decode[transferPayload](data)
	if err != nil {
		ctl.ack(id, domain.EvTransferHost, err)
		return
	}
	ctl.ack(id, domain.EvTransferHost, ctl.Host.TransferHost(domain.RoomCode(p.RoomCode), p.HostUserID, p.TargetUserID))
}

type endGamePayload struct {
	RoomCode   string `json:"roomCode"`
	HostUserID int64  `json:"hostUserId"`
}

func (ctl *Controller) handleEndGame(id core.ConnID, data json.RawMessage) {
	p, err := decode[endGamePayload](data)
	if err != nil {
		ctl.ack(id, domain.EvEndGame, err)
		return
	}
	ctl.ack(id, domain.EvEndGame, ctl.Host.EndGame(domain.RoomCode(p.RoomCode), p.HostUserID))
}
