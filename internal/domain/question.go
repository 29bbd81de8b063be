package domain

import (
	"strings"
	"time"
)

type GameMode string

const (
	// ModeSelfPaced lets each player advance through questions independently.
	ModeSelfPaced GameMode = "self-paced"
	// ModeSynchronized advances all players together on host or server command.
	ModeSynchronized GameMode = "synchronized"
)

type Question struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
	Answer  string   `json:"-"`
}

// Matches reports whether a submitted answer is correct.
// Comparison is case-insensitive and ignores surrounding whitespace.
func (q Question) Matches(answer string) bool {
	return strings.EqualFold(strings.TrimSpace(answer), strings.TrimSpace(q.Answer))
}

// Public returns a copy safe to send to clients (no correct answer).
func (q Question) Public() Question {
	q.Answer = ""
	return q
}

// AnswerRecord is one scored submission in a player's history.
type AnswerRecord struct {
	QuestionID string        `json:"questionId"`
	Index      int           `json:"index"`
	Correct    bool          `json:"correct"`
	Points     int           `json:"points"`
	Latency    time.Duration `json:"latencyMs"`
	SubmitTime time.Time     `json:"submitTime"`
}
