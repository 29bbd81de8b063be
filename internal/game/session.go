// Package game holds the per-room ephemeral quiz run: session state,
// the flow state machine, scoring and progress broadcasting. Rooms and
// transport live in app; this package mutates them only through their
// APIs.
package game

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ndenisov/quizroom/internal/domain"
	"github.com/ndenisov/quizroom/internal/errs"
	"github.com/ndenisov/quizroom/internal/telemetry"
)

// PlayerProgress tracks one player's run through the question list.
// Mutated only under the owning session's lock.
type PlayerProgress struct {
	Username     string
	UserID       int64
	CurrentIndex int
	Score        int
	Answers      []domain.AnswerRecord
	Finished     bool
	FinishedAt   time.Time
	JoinOrder    int

	questionStartedAt time.Time
	lastActivity      time.Time
}

// Session is one room's active game run. A room has at most one.
type Session struct {
	mu sync.Mutex

	roomCode  domain.RoomCode
	questions []domain.Question
	timeLimit time.Duration
	mode      domain.GameMode

	startedAt    time.Time
	currentIndex int
	active       bool
	ended        bool
	endReason    string

	progress map[string]*PlayerProgress
}

func NewSession(code domain.RoomCode, questions []domain.Question, timeLimit time.Duration, mode domain.GameMode, players []domain.Player) *Session {
	s := &Session{
		roomCode:  code,
		questions: questions,
		timeLimit: timeLimit,
		mode:      mode,
		progress:  make(map[string]*PlayerProgress, len(players)),
	}
	for i, p := range players {
		s.progress[p.Username] = &PlayerProgress{
			Username:  p.Username,
			UserID:    p.UserID,
			JoinOrder: i,
		}
	}
	return s
}

func (s *Session) RoomCode() domain.RoomCode { return s.roomCode }
func (s *Session) Mode() domain.GameMode     { return s.mode }
func (s *Session) TimeLimit() time.Duration  { return s.timeLimit }

func (s *Session) QuestionCount() int { return len(s.questions) }

// Activate flips the session live after the countdown and stamps every
// player's first-question clock.
func (s *Session) Activate(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active || s.ended {
		return
	}
	s.active = true
	s.startedAt = now
	for _, p := range s.progress {
		p.questionStartedAt = now
		p.lastActivity = now
	}
}

func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active && !s.ended
}

func (s *Session) IsEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *Session) EndReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// End marks the session finished with the given reason. Only the first
// caller wins; racing timeout and all-finished triggers resolve here.
func (s *Session) End(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.ended = true
	s.active = false
	s.endReason = reason
	return true
}

// TimeRemaining never goes negative.
func (s *Session) TimeRemaining(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.startedAt.IsZero() {
		return s.timeLimit
	}
	remaining := s.timeLimit - now.Sub(s.startedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// CurrentShared returns the synchronized-mode question pointer.
func (s *Session) CurrentShared() (domain.Question, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentIndex >= len(s.questions) {
		return domain.Question{}, s.currentIndex, false
	}
	return s.questions[s.currentIndex], s.currentIndex, true
}

// AdvanceShared moves every unfinished player to the next question
// together. Returns false when the list is exhausted.
func (s *Session) AdvanceShared(now time.Time) (domain.Question, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return domain.Question{}, s.currentIndex, false
	}
	s.currentIndex++
	if s.currentIndex >= len(s.questions) {
		return domain.Question{}, s.currentIndex, false
	}
	for _, p := range s.progress {
		if p.Finished {
			continue
		}
		p.CurrentIndex = s.currentIndex
		p.questionStartedAt = now
	}
	return s.questions[s.currentIndex], s.currentIndex, true
}

// CurrentForPlayer returns the player's current question in self-paced
// mode. ok is false once the player is past the last question.
func (s *Session) CurrentForPlayer(username string) (domain.Question, int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[username]
	if !ok {
		return domain.Question{}, 0, false, errs.State("player %s has no progress in room %s", username, s.roomCode)
	}
	if p.CurrentIndex >= len(s.questions) {
		return domain.Question{}, p.CurrentIndex, false, nil
	}
	return s.questions[p.CurrentIndex], p.CurrentIndex, true, nil
}

// AnswerOutcome reports the scored result of one submission.
type AnswerOutcome struct {
	Record      domain.AnswerRecord
	TotalScore  int
	Finished    bool
	AllFinished bool
}

const baseScore = 100

// scorePoints implements: correct -> round(base * (1 + max(0, 1 - t/limit))),
// incorrect -> 0.
func scorePoints(correct bool, timeToAnswer, timeLimit time.Duration) int {
	if !correct {
		return 0
	}
	factor := 1 - timeToAnswer.Seconds()/timeLimit.Seconds()
	if factor < 0 {
		factor = 0
	}
	return int(float64(baseScore)*(1+factor) + 0.5)
}

// ApplyAnswer validates and scores one submission atomically. The
// referenced index must be the player's current question and must not
// have been answered before; violations leave score and progress
// untouched.
func (s *Session) ApplyAnswer(username string, questionIndex int, answer string, now time.Time) (AnswerOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active || s.ended {
		return AnswerOutcome{}, errs.State("no active game in room %s", s.roomCode)
	}

	p, ok := s.progress[username]
	if !ok {
		return AnswerOutcome{}, errs.State("player %s has no progress in room %s", username, s.roomCode)
	}
	if p.Finished {
		return AnswerOutcome{}, errs.Validation("player %s already finished", username)
	}
	if questionIndex != p.CurrentIndex {
		return AnswerOutcome{}, errs.Validation("question %d is not the current question (%d)", questionIndex, p.CurrentIndex)
	}
	if questionIndex >= len(s.questions) {
		return AnswerOutcome{}, errs.Validation("question index %d out of range", questionIndex)
	}
	for _, rec := range p.Answers {
		if rec.Index == questionIndex {
			return AnswerOutcome{}, errs.Validation("question %d already answered", questionIndex)
		}
	}

	q := s.questions[questionIndex]
	correct := q.Matches(answer)
	elapsed := now.Sub(p.questionStartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	points := scorePoints(correct, elapsed, s.timeLimit)

	rec := domain.AnswerRecord{
		QuestionID: q.ID,
		Index:      questionIndex,
		Correct:    correct,
		Points:     points,
		Latency:    elapsed,
		SubmitTime: now,
	}
	p.Answers = append(p.Answers, rec)
	p.Score += points
	p.CurrentIndex++
	p.questionStartedAt = now
	p.lastActivity = now

	out := AnswerOutcome{Record: rec, TotalScore: p.Score}
	if p.CurrentIndex >= len(s.questions) {
		p.Finished = true
		p.FinishedAt = now
		out.Finished = true
		out.AllFinished = s.allFinishedLocked()
	}
	return out, nil
}

// MarkAbandoned finishes a player who left mid-game so the remaining
// players are not blocked from an all-finished end.
func (s *Session) MarkAbandoned(username string, now time.Time) (allFinished bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[username]
	if !ok || p.Finished {
		return s.active && !s.ended && s.allFinishedLocked()
	}
	p.Finished = true
	p.FinishedAt = now
	return s.active && !s.ended && s.allFinishedLocked()
}

func (s *Session) allFinishedLocked() bool {
	for _, p := range s.progress {
		if !p.Finished {
			return false
		}
	}
	return len(s.progress) > 0
}

// Progress returns a copy of one player's progress.
func (s *Session) Progress(username string) (PlayerProgress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[username]
	if !ok {
		return PlayerProgress{}, false
	}
	cp := *p
	cp.Answers = append([]domain.AnswerRecord(nil), p.Answers...)
	return cp, true
}

// Leaderboard sorts descending by score; finished players tie-break on
// earliest finish, everyone else on join order.
func (s *Session) Leaderboard() []domain.LeaderboardEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	players := make([]*PlayerProgress, 0, len(s.progress))
	for _, p := range s.progress {
		players = append(players, p)
	}
	sort.SliceStable(players, func(i, j int) bool {
		a, b := players[i], players[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Finished && b.Finished {
			return a.FinishedAt.Before(b.FinishedAt)
		}
		if a.Finished != b.Finished {
			return a.Finished
		}
		return a.JoinOrder < b.JoinOrder
	})
	out := make([]domain.LeaderboardEntry, 0, len(players))
	for _, p := range players {
		out = append(out, domain.LeaderboardEntry{
			Username:        p.Username,
			Score:           p.Score,
			CurrentQuestion: p.CurrentIndex,
			Finished:        p.Finished,
		})
	}
	return out
}

// SessionManager owns the room-code to session table. One active
// session per room; creating over a live one returns the old session
// for teardown.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[domain.RoomCode]*Session
}

func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[domain.RoomCode]*Session)}
}

// Put installs a session, returning the replaced one if present.
func (m *SessionManager) Put(s *Session) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.sessions[s.roomCode]
	m.sessions[s.roomCode] = s
	telemetry.SessionsActive.Set(float64(len(m.sessions)))
	return old
}

func (m *SessionManager) Get(code domain.RoomCode) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[code]
	return s, ok
}

func (m *SessionManager) Delete(code domain.RoomCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[code]; !ok {
		return
	}
	delete(m.sessions, code)
	telemetry.SessionsActive.Set(float64(len(m.sessions)))
	log.Info().Str("module", "game.session").Str("room", string(code)).Msg("session disposed")
}
