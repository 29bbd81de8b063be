package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ndenisov/quizroom/internal/core"
	"github.com/ndenisov/quizroom/internal/domain"
	"github.com/ndenisov/quizroom/internal/telemetry"
)

type connEntry struct {
	conn        core.Conn
	userID      int64
	roomCode    domain.RoomCode
	remote      string
	lastPong    time.Time
	missedPongs int
	cancel      context.CancelFunc
}

// ConnState is a read-only snapshot of one registered connection.
type ConnState struct {
	ID          core.ConnID
	UserID      int64
	RoomCode    domain.RoomCode
	Remote      string
	LastPong    time.Time
	MissedPongs int
}

// Registry owns the set of live transport connections, keyed by
// connection id. It knows nothing about game semantics.
type Registry struct {
	mu    sync.RWMutex
	conns map[core.ConnID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[core.ConnID]*connEntry)}
}

func (r *Registry) Register(id core.ConnID, conn core.Conn, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &connEntry{
		conn:     conn,
		remote:   conn.RemoteAddr(),
		lastPong: time.Now(),
		cancel:   cancel,
	}
	telemetry.ConnectionsActive.Set(float64(len(r.conns)))
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("remote", conn.RemoteAddr()).Msg("registered connection")
}

func (r *Registry) Unregister(id core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
	telemetry.ConnectionsActive.Set(float64(len(r.conns)))
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("unregistered connection")
}

func (r *Registry) BindUser(id core.ConnID, userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[id]; ok {
		e.userID = userID
	}
}

func (r *Registry) BindRoom(id core.ConnID, code domain.RoomCode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[id]; ok {
		e.roomCode = code
	}
}

func (r *Registry) ClearRoom(id core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[id]; ok {
		e.roomCode = ""
	}
}

func (r *Registry) Get(id core.ConnID) (ConnState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return ConnState{}, false
	}
	return ConnState{
		ID:          id,
		UserID:      e.userID,
		RoomCode:    e.roomCode,
		Remote:      e.remote,
		LastPong:    e.lastPong,
		MissedPongs: e.missedPongs,
	}, true
}

func (r *Registry) ConnIDs() []core.ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.ConnID, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Send delivers one event to one connection. A failed send is logged,
// the connection is scheduled for eviction and the error is returned
// for observability only; callers must treat it as non-fatal.
func (r *Registry) Send(id core.ConnID, event string, payload any) error {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	frame, err := encodeEnvelope(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Str("event", event).Msg("encode envelope")
		return err
	}

	if err := e.conn.TrySend(frame); err != nil {
		telemetry.SendFailures.Inc()
		log.Warn().Err(err).Str("module", "app.registry").Str("conn", string(id)).Str("event", event).Msg("send failed, evicting connection")
		r.Evict(id)
		return err
	}
	telemetry.EventsSent.WithLabelValues(event).Inc()
	return nil
}

// Broadcast fans one event out to many connections. A broken recipient
// never aborts delivery to the rest.
func (r *Registry) Broadcast(ids []core.ConnID, event string, payload any) {
	frame, err := encodeEnvelope(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Str("event", event).Msg("encode envelope")
		return
	}

	for _, id := range ids {
		r.mu.RLock()
		e, ok := r.conns[id]
		r.mu.RUnlock()
		if !ok {
			continue
		}
		if err := e.conn.TrySend(frame); err != nil {
			telemetry.SendFailures.Inc()
			log.Warn().Err(err).Str("module", "app.registry").Str("conn", string(id)).Str("event", event).Msg("broadcast send failed, evicting connection")
			r.Evict(id)
			continue
		}
		telemetry.EventsSent.WithLabelValues(event).Inc()
	}
}

// Ping sends a transport ping and increments the miss counter. Returns
// the consecutive miss count after the ping.
func (r *Registry) Ping(id core.ConnID) (int, error) {
	r.mu.Lock()
	e, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return 0, nil
	}
	e.missedPongs++
	missed := e.missedPongs
	conn := e.conn
	r.mu.Unlock()

	return missed, conn.Ping()
}

// Pong resets the miss counter unconditionally.
func (r *Registry) Pong(id core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[id]; ok {
		e.missedPongs = 0
		e.lastPong = time.Now()
	}
}

// Evict cancels the connection's context and force-closes the socket.
// The read pump exit runs the same cleanup path as a client disconnect.
func (r *Registry) Evict(id core.ConnID) {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	telemetry.Evictions.Inc()
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("evicting connection")
	if e.cancel != nil {
		e.cancel()
	}
	e.conn.Close()
}

// CloseAll force-closes every live connection; used on shutdown after
// the graceful window expires.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]core.Conn, 0, len(r.conns))
	for _, e := range r.conns {
		conns = append(conns, e.conn)
	}
	r.mu.RUnlock()
	for _, c := range conns {
		c.Close()
	}
}

func encodeEnvelope(event string, payload any) (core.Frame, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}
	env := domain.NewEnvelope(event, data)
	b, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return core.Frame(b), nil
}
