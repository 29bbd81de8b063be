package app

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ndenisov/quizroom/internal/core"
	"github.com/ndenisov/quizroom/internal/domain"
	"github.com/ndenisov/quizroom/internal/telemetry"
)

// RoomState is a threadsafe in-memory room. It owns the membership list
// and the room's broadcast-debounce stamp; it never touches transport
// resources.
type RoomState struct {
	mu        sync.RWMutex
	code      domain.RoomCode
	status    domain.RoomStatus
	players   []domain.Player
	createdAt time.Time

	lastSnapshot time.Time
}

func NewRoomState(code domain.RoomCode) *RoomState {
	return &RoomState{
		code:      code,
		status:    domain.RoomWaiting,
		createdAt: time.Now(),
	}
}

func (r *RoomState) Code() domain.RoomCode { return r.code }

func (r *RoomState) Status() domain.RoomStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *RoomState) SetStatus(s domain.RoomStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = s
}

func (r *RoomState) PlayerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

// AddPlayer appends a new member. The first player in becomes host.
// Returns false when the user is already a member.
func (r *RoomState) AddPlayer(p domain.Player) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.players {
		if existing.UserID == p.UserID {
			return false
		}
	}
	p.IsHost = len(r.players) == 0
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}
	if p.Status == "" {
		p.Status = domain.PlayerWaiting
	}
	r.players = append(r.players, p)
	return true
}

// RemovePlayer removes a member. When the removed player was host and
// others remain, the earliest joiner is promoted and returned.
func (r *RoomState) RemovePlayer(userID int64) (removed domain.Player, newHost *domain.Player, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := -1
	for i, p := range r.players {
		if p.UserID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.Player{}, nil, false
	}
	removed = r.players[idx]
	r.players = append(r.players[:idx], r.players[idx+1:]...)

	if removed.IsHost && len(r.players) > 0 {
		earliest := 0
		for i, p := range r.players {
			if p.JoinedAt.Before(r.players[earliest].JoinedAt) {
				earliest = i
			}
		}
		r.players[earliest].IsHost = true
		host := r.players[earliest]
		return removed, &host, true
	}
	return removed, nil, true
}

// TransferHost moves host authority between two current members.
func (r *RoomState) TransferHost(fromUserID, toUserID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	var from, to *domain.Player
	for i := range r.players {
		switch r.players[i].UserID {
		case fromUserID:
			from = &r.players[i]
		case toUserID:
			to = &r.players[i]
		}
	}
	if from == nil || to == nil || !from.IsHost {
		return false
	}
	from.IsHost = false
	to.IsHost = true
	return true
}

func (r *RoomState) Player(userID int64) (domain.Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.players {
		if p.UserID == userID {
			return p, true
		}
	}
	return domain.Player{}, false
}

func (r *RoomState) PlayerByName(username string) (domain.Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.players {
		if p.Username == username {
			return p, true
		}
	}
	return domain.Player{}, false
}

// HostID returns the current host's user id, or 0 for an empty room.
func (r *RoomState) HostID() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.players {
		if p.IsHost {
			return p.UserID
		}
	}
	return 0
}

func (r *RoomState) UpdateConn(userID int64, connID core.ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.players {
		if r.players[i].UserID == userID {
			r.players[i].ConnID = string(connID)
			return true
		}
	}
	return false
}

func (r *RoomState) SetPlayerStatus(userID int64, st domain.PlayerStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.players {
		if r.players[i].UserID == userID {
			r.players[i].Status = st
			return true
		}
	}
	return false
}

func (r *RoomState) SetPlayerScore(username string, score int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.players {
		if r.players[i].Username == username {
			r.players[i].Score = score
			return
		}
	}
}

// AllReady reports whether every member has marked ready.
func (r *RoomState) AllReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.players) == 0 {
		return false
	}
	for _, p := range r.players {
		if p.Status != domain.PlayerReady {
			return false
		}
	}
	return true
}

// Players returns a copy ordered by join time.
func (r *RoomState) Players() []domain.Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Player, len(r.players))
	copy(out, r.players)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// ConnIDs returns the live connection ids of all members.
func (r *RoomState) ConnIDs() []core.ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.ConnID, 0, len(r.players))
	for _, p := range r.players {
		if p.ConnID != "" {
			out = append(out, core.ConnID(p.ConnID))
		}
	}
	return out
}

// Snapshot returns a consistent copy of the whole room.
func (r *RoomState) Snapshot() domain.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	players := make([]domain.Player, len(r.players))
	copy(players, r.players)
	sort.SliceStable(players, func(i, j int) bool {
		return players[i].JoinedAt.Before(players[j].JoinedAt)
	})
	var hostID int64
	for _, p := range players {
		if p.IsHost {
			hostID = p.UserID
		}
	}
	return domain.Room{
		Code:       r.code,
		HostUserID: hostID,
		Status:     r.status,
		Players:    players,
		CreatedAt:  r.createdAt,
	}
}

// AllowSnapshot checks and advances the debounce stamp. A forced
// request always passes and refreshes the stamp.
func (r *RoomState) AllowSnapshot(window time.Duration, force bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if !force && now.Sub(r.lastSnapshot) < window {
		return false
	}
	r.lastSnapshot = now
	return true
}

// RoomInfo is a read-only listing entry for the REST surface.
type RoomInfo struct {
	Code        domain.RoomCode   `json:"roomCode"`
	Status      domain.RoomStatus `json:"status"`
	PlayerCount int               `json:"playerCount"`
}

// RoomDirectory is the concurrent map of room code to live room state,
// plus the process-wide user->room index backing the one-membership
// rule.
type RoomDirectory struct {
	mu     sync.RWMutex
	rooms  map[domain.RoomCode]*RoomState
	byUser map[int64]domain.RoomCode
}

func NewRoomDirectory() *RoomDirectory {
	return &RoomDirectory{
		rooms:  make(map[domain.RoomCode]*RoomState),
		byUser: make(map[int64]domain.RoomCode),
	}
}

func (d *RoomDirectory) GetOrCreate(code domain.RoomCode) *RoomState {
	d.mu.RLock()
	room, ok := d.rooms[code]
	d.mu.RUnlock()
	if ok {
		return room
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if room, ok = d.rooms[code]; ok {
		return room
	}
	room = NewRoomState(code)
	d.rooms[code] = room
	telemetry.RoomsActive.Set(float64(len(d.rooms)))
	log.Info().Str("module", "app.rooms").Str("room", string(code)).Msg("created room")
	return room
}

func (d *RoomDirectory) Get(code domain.RoomCode) (*RoomState, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	room, ok := d.rooms[code]
	return room, ok
}

func (d *RoomDirectory) Delete(code domain.RoomCode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.rooms, code)
	telemetry.RoomsActive.Set(float64(len(d.rooms)))
	log.Info().Str("module", "app.rooms").Str("room", string(code)).Msg("deleted room")
}

func (d *RoomDirectory) List() []RoomInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]RoomInfo, 0, len(d.rooms))
	for code, r := range d.rooms {
		out = append(out, RoomInfo{Code: code, Status: r.Status(), PlayerCount: r.PlayerCount()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// RoomOfUser returns the room a user currently belongs to, if any.
func (d *RoomDirectory) RoomOfUser(userID int64) (domain.RoomCode, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	code, ok := d.byUser[userID]
	return code, ok
}

func (d *RoomDirectory) BindUser(userID int64, code domain.RoomCode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byUser[userID] = code
}

func (d *RoomDirectory) UnbindUser(userID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.byUser, userID)
}
