package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ndenisov/quizroom/internal/core"
	"github.com/ndenisov/quizroom/internal/domain"
	"github.com/ndenisov/quizroom/internal/errs"
)

type joinKey struct {
	room   domain.RoomCode
	userID int64
}

// Membership implements join/leave/host-transfer over the room
// directory. Persistence and the connection mirror are best-effort
// collaborators; their failures never block gameplay.
type Membership struct {
	rooms    *RoomDirectory
	registry *Registry
	bcast    *Broadcaster
	repo     core.RoomRepository
	sink     core.ConnSink
	limiter  *JoinRateLimiter

	dedupWindow time.Duration
	maxPlayers  int

	mu          sync.Mutex
	recentJoins map[joinKey]time.Time

	// OnRoomEmpty runs after the last player leaves, before the room is
	// forgotten. Wired to session teardown at composition time.
	OnRoomEmpty func(code domain.RoomCode)
	// OnPlayerLeft runs after a player is removed from a room.
	OnPlayerLeft func(code domain.RoomCode, username string)
}

type MembershipConfig struct {
	DedupWindow    time.Duration
	JoinRateLimit  int
	JoinRateWindow time.Duration
	MaxPlayers     int
}

func NewMembership(rooms *RoomDirectory, registry *Registry, bcast *Broadcaster, repo core.RoomRepository, sink core.ConnSink, cfg MembershipConfig) *Membership {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 2 * time.Second
	}
	if cfg.JoinRateLimit <= 0 {
		cfg.JoinRateLimit = 5
	}
	if cfg.JoinRateWindow <= 0 {
		cfg.JoinRateWindow = 10 * time.Second
	}
	if cfg.MaxPlayers <= 0 {
		cfg.MaxPlayers = 8
	}
	return &Membership{
		rooms:       rooms,
		registry:    registry,
		bcast:       bcast,
		repo:        repo,
		sink:        sink,
		limiter:     NewJoinRateLimiter(cfg.JoinRateLimit, cfg.JoinRateWindow),
		dedupWindow: cfg.DedupWindow,
		maxPlayers:  cfg.MaxPlayers,
		recentJoins: make(map[joinKey]time.Time),
	}
}

// JoinRoom admits a user into a room. A duplicate join of the same
// (room, user) pair inside the de-dup window is acknowledged as
// already-joined without re-processing. Re-joining outside the window
// updates the player's connection id. A user already in another room is
// moved: joining implies leaving the previous room.
func (m *Membership) JoinRoom(ctx context.Context, connID core.ConnID, code domain.RoomCode, username string, userID int64) (*domain.Room, error) {
	if err := domain.ValidateRoomCode(code); err != nil {
		return nil, errs.New(errs.KindValidation, errs.WithCause(err), errs.WithMessage(err.Error()))
	}
	if err := domain.ValidateUser(userID, username); err != nil {
		return nil, errs.New(errs.KindValidation, errs.WithCause(err), errs.WithMessage(err.Error()))
	}

	if m.isDuplicateJoin(code, userID) {
		log.Debug().Str("module", "app.membership").Str("room", string(code)).Int64("user", userID).Msg("duplicate join inside dedup window")
		if room, ok := m.rooms.Get(code); ok {
			snap := room.Snapshot()
			return &snap, nil
		}
	}

	if !m.limiter.Allow(userID) {
		return nil, errs.Validation("too many join attempts, slow down")
	}

	if prev, ok := m.rooms.RoomOfUser(userID); ok && prev != code {
		log.Info().Str("module", "app.membership").Str("from", string(prev)).Str("to", string(code)).Int64("user", userID).Msg("user switching rooms")
		m.LeaveRoom(ctx, prev, userID)
	}

	room := m.rooms.GetOrCreate(code)

	var existingPlayers []domain.Player
	player, rejoin := room.Player(userID)
	if rejoin {
		room.UpdateConn(userID, connID)
		player.ConnID = string(connID)
	} else {
		if room.PlayerCount() >= m.maxPlayers {
			return nil, errs.Validation("room %s is full", code)
		}
		existingPlayers = room.Players()
		player = domain.Player{
			UserID:   userID,
			Username: username,
			ConnID:   string(connID),
			Status:   domain.PlayerWaiting,
			JoinedAt: time.Now(),
		}
		room.AddPlayer(player)
		player, _ = room.Player(userID)
		if room.PlayerCount() >= m.maxPlayers {
			if st := room.Status(); st == domain.RoomWaiting || st == domain.RoomReady {
				room.SetStatus(domain.RoomFull)
			}
		}
	}

	m.rooms.BindUser(userID, code)
	m.registry.BindUser(connID, userID)
	m.registry.BindRoom(connID, code)
	m.markJoin(code, userID)

	m.persistJoin(ctx, connID, room, player)

	// Back-fill the joiner with every pre-existing member, then the
	// full roster; only the others get a player-joined for the newcomer
	// so the joiner never renders itself twice.
	for _, existing := range existingPlayers {
		m.bcast.ToConn(connID, domain.EvPlayerJoined, existing)
	}
	m.bcast.ToConn(connID, domain.EvPlayersUpdated, room.Snapshot())
	if !rejoin {
		m.bcast.ToRoomExcept(code, connID, domain.EvPlayerJoined, player)
	}
	m.bcast.RoomSnapshot(code, false)

	snap := room.Snapshot()
	log.Info().Str("module", "app.membership").Str("room", string(code)).Int64("user", userID).Str("username", username).Bool("rejoin", rejoin).Msg("player joined")
	return &snap, nil
}

// LeaveRoom removes the player. When the host leaves and others remain,
// host authority moves to the earliest joiner. An emptied room is
// deleted here and in the persistence collaborator.
func (m *Membership) LeaveRoom(ctx context.Context, code domain.RoomCode, userID int64) error {
	room, ok := m.rooms.Get(code)
	if !ok {
		log.Warn().Str("module", "app.membership").Str("room", string(code)).Int64("user", userID).Msg("leave for unknown room")
		return errs.State("room %s not found", code)
	}

	removed, newHost, ok := room.RemovePlayer(userID)
	if !ok {
		log.Warn().Str("module", "app.membership").Str("room", string(code)).Int64("user", userID).Msg("leave for non-member")
		return errs.State("user %d is not in room %s", userID, code)
	}

	m.rooms.UnbindUser(userID)
	if removed.ConnID != "" {
		m.registry.ClearRoom(core.ConnID(removed.ConnID))
	}

	if m.repo != nil {
		if err := m.repo.DeleteMember(ctx, code, userID); err != nil {
			log.Warn().Err(err).Str("module", "app.membership").Str("room", string(code)).Msg("delete member record failed")
		}
	}

	log.Info().Str("module", "app.membership").Str("room", string(code)).Int64("user", userID).Msg("player left")

	if room.PlayerCount() == 0 {
		if m.OnRoomEmpty != nil {
			m.OnRoomEmpty(code)
		}
		m.rooms.Delete(code)
		if m.repo != nil {
			if err := m.repo.DeleteRoom(ctx, code); err != nil {
				log.Warn().Err(err).Str("module", "app.membership").Str("room", string(code)).Msg("delete room record failed")
			}
		}
		return nil
	}

	if room.Status() == domain.RoomFull && room.PlayerCount() < m.maxPlayers {
		room.SetStatus(domain.RoomWaiting)
		m.persistRoom(ctx, room)
	}

	if newHost != nil {
		log.Info().Str("module", "app.membership").Str("room", string(code)).Int64("new_host", newHost.UserID).Msg("host reassigned")
		m.bcast.ToRoom(code, domain.EvHostNotification, map[string]any{
			"message":    "host changed",
			"hostUserId": newHost.UserID,
			"hostName":   newHost.Username,
		})
		m.persistRoom(ctx, room)
	}

	m.bcast.PlayerLeft(code, removed)

	if m.OnPlayerLeft != nil {
		m.OnPlayerLeft(code, removed.Username)
	}
	return nil
}

// HandleDisconnect runs the room-leave cascade for a dropped
// connection, then forgets it. Heartbeat evictions and client
// disconnects both land here.
func (m *Membership) HandleDisconnect(ctx context.Context, connID core.ConnID) {
	state, ok := m.registry.Get(connID)
	if ok && state.RoomCode != "" && state.UserID != 0 {
		if err := m.LeaveRoom(ctx, state.RoomCode, state.UserID); err != nil {
			log.Debug().Err(err).Str("module", "app.membership").Str("conn", string(connID)).Msg("leave cascade on disconnect")
		}
	}
	if m.sink != nil {
		if err := m.sink.DropConn(ctx, connID); err != nil {
			log.Warn().Err(err).Str("module", "app.membership").Str("conn", string(connID)).Msg("drop conn mirror failed")
		}
	}
	m.registry.Unregister(connID)
}

// GetRoom returns the in-memory snapshot, falling back to read-only
// repository records for rooms not held in memory.
func (m *Membership) GetRoom(ctx context.Context, code domain.RoomCode) (*domain.Room, error) {
	if room, ok := m.rooms.Get(code); ok {
		snap := room.Snapshot()
		return &snap, nil
	}
	if m.repo == nil {
		return nil, errs.State("room %s not found", code)
	}
	rec, err := m.repo.GetRoom(ctx, code)
	if err != nil {
		return nil, errs.New(errs.KindState, errs.WithCause(err), errs.WithMessagef("room %s not found", code))
	}
	room := &domain.Room{
		Code:       rec.Code,
		HostUserID: rec.HostUserID,
		Status:     rec.Status,
	}
	members, err := m.repo.Members(ctx, code)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.membership").Str("room", string(code)).Msg("member records unavailable")
		return room, nil
	}
	for _, rec := range members {
		room.Players = append(room.Players, domain.Player{
			UserID:   rec.UserID,
			Username: rec.Username,
			IsHost:   rec.UserID == room.HostUserID,
		})
	}
	return room, nil
}

// MarkReady flips a player to ready and promotes the room status once
// everyone is ready.
func (m *Membership) MarkReady(code domain.RoomCode, userID int64) error {
	room, ok := m.rooms.Get(code)
	if !ok {
		return errs.State("room %s not found", code)
	}
	if !room.SetPlayerStatus(userID, domain.PlayerReady) {
		return errs.State("user %d is not in room %s", userID, code)
	}
	if room.AllReady() {
		room.SetStatus(domain.RoomReady)
	}
	m.bcast.RoomSnapshot(code, false)
	return nil
}

func (m *Membership) isDuplicateJoin(code domain.RoomCode, userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.recentJoins[joinKey{room: code, userID: userID}]
	return ok && time.Since(last) < m.dedupWindow
}

func (m *Membership) markJoin(code domain.RoomCode, userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recentJoins[joinKey{room: code, userID: userID}] = time.Now()
	// Drop stale stamps so the map does not grow with every join ever.
	cutoff := time.Now().Add(-10 * m.dedupWindow)
	for k, t := range m.recentJoins {
		if t.Before(cutoff) {
			delete(m.recentJoins, k)
		}
	}
}

func (m *Membership) persistJoin(ctx context.Context, connID core.ConnID, room *RoomState, player domain.Player) {
	if m.repo != nil {
		if err := m.repo.SaveMember(ctx, core.MemberRecord{
			RoomCode: room.Code(),
			UserID:   player.UserID,
			Username: player.Username,
		}); err != nil {
			log.Warn().Err(err).Str("module", "app.membership").Str("room", string(room.Code())).Msg("save member record failed")
		}
	}
	m.persistRoom(ctx, room)
	if m.sink != nil {
		if err := m.sink.MirrorConn(ctx, core.ConnBinding{
			ConnID:   connID,
			UserID:   player.UserID,
			RoomCode: room.Code(),
		}); err != nil {
			log.Warn().Err(err).Str("module", "app.membership").Str("conn", string(connID)).Msg("mirror conn failed")
		}
	}
}

func (m *Membership) persistRoom(ctx context.Context, room *RoomState) {
	if m.repo == nil {
		return
	}
	snap := room.Snapshot()
	if err := m.repo.SaveRoom(ctx, core.RoomRecord{
		Code:       snap.Code,
		HostUserID: snap.HostUserID,
		Status:     snap.Status,
		MaxPlayers: m.maxPlayers,
	}); err != nil {
		log.Warn().Err(err).Str("module", "app.membership").Str("room", string(snap.Code)).Msg("save room record failed")
	}
}
