package domain

import (
	"encoding/json"
	"time"
)

// Inbound event names.
const (
	EvJoinRoom        = "join-room"
	EvLeaveRoom       = "leave-room"
	EvStartGame       = "start-game"
	EvPlayerReady     = "player-ready"
	EvRequestPlayers  = "request-players-update"
	EvPing            = "ping"
	EvPong            = "pong"
	EvHeartbeat       = "heartbeat"
	EvSubmitAnswer    = "submit-answer"
	EvRequestNext     = "request-next-question"
	EvRequestProgress = "request-progress"
	EvKickPlayer      = "kick-player"
	EvTransferHost    = "transfer-host"
	EvEndGame         = "end-game"
)

// Outbound event names.
const (
	EvError            = "error"
	EvPlayerJoined     = "player-joined"
	EvPlayerLeft       = "player-left"
	EvPlayersUpdated   = "room-players-updated"
	EvGameStarted      = "game-started"
	EvCountdown        = "countdown"
	EvNewQuestion      = "new-question"
	EvNextQuestion     = "next-question"
	EvTimerUpdate      = "timer-update"
	EvProgressUpdate   = "progress-update"
	EvScoreboard       = "scoreboard-updated"
	EvAnswerResult     = "answer-result"
	EvPlayerFinished   = "player-finished"
	EvGameEnded        = "game-ended"
	EvHostNotification = "host-notification"
	EvKicked           = "kicked"
)

// AckSuffix is appended to the inbound event name for its acknowledgement.
const AckSuffix = "-ACK"

// Envelope is the wire form of every message, both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	TS    int64           `json:"ts"`
}

// Ack is the payload of every *-ACK and error event.
type Ack struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func NewEnvelope(event string, data json.RawMessage) Envelope {
	return Envelope{Event: event, Data: data, TS: time.Now().UnixMilli()}
}

// Session end reasons.
const (
	EndReasonTimeout     = "timeout"
	EndReasonAllFinished = "all-finished"
	EndReasonHostEnded   = "host-ended"
)

// LeaderboardEntry is one row of a scoreboard broadcast.
type LeaderboardEntry struct {
	Username        string `json:"username"`
	Score           int    `json:"score"`
	CurrentQuestion int    `json:"currentQuestion"`
	Finished        bool   `json:"finished"`
}
