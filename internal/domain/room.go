// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"
	"regexp"
	"time"
)

const (
	MinRoomCodeLen = 6
	MaxUsernameLen = 36
)

var (
	ErrBadRoomCode   = errors.New("room code must be 6+ alphanumeric characters")
	ErrBadUserID     = errors.New("user id must be positive")
	ErrUsernameEmpty = errors.New("username empty")
	ErrUsernameLong  = errors.New("username too long")
)

var roomCodeRe = regexp.MustCompile(`^[A-Za-z0-9]{6,}$`)

type RoomCode string

// ValidateRoomCode checks the 6+ alphanumeric format.
func ValidateRoomCode(code RoomCode) error {
	if !roomCodeRe.MatchString(string(code)) {
		return ErrBadRoomCode
	}
	return nil
}

func ValidateUser(userID int64, username string) error {
	if userID <= 0 {
		return ErrBadUserID
	}
	if username == "" {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameLong
	}
	return nil
}

type RoomStatus string

const (
	RoomWaiting RoomStatus = "waiting"
	RoomReady   RoomStatus = "ready"
	RoomFull    RoomStatus = "full"
	RoomActive  RoomStatus = "active"
	RoomEnded   RoomStatus = "ended"
)

type PlayerStatus string

const (
	PlayerWaiting   PlayerStatus = "waiting"
	PlayerReady     PlayerStatus = "ready"
	PlayerAnswering PlayerStatus = "answering"
	PlayerFinished  PlayerStatus = "finished"
)

// Player is a room member. ConnID may be empty while the player is
// briefly disconnected.
type Player struct {
	UserID   int64        `json:"userId"`
	Username string       `json:"username"`
	ConnID   string       `json:"-"`
	IsHost   bool         `json:"isHost"`
	Score    int          `json:"score"`
	Status   PlayerStatus `json:"status"`
	JoinedAt time.Time    `json:"joinedAt"`
}

type Room struct {
	Code       RoomCode   `json:"roomCode"`
	HostUserID int64      `json:"hostUserId"`
	Status     RoomStatus `json:"status"`
	Players    []Player   `json:"players"`
	CreatedAt  time.Time  `json:"createdAt"`
}
