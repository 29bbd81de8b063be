// Package ws is the transport adapter: it upgrades connections, runs
// the read/write pumps and routes decoded events into the managers.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ndenisov/quizroom/internal/app"
	"github.com/ndenisov/quizroom/internal/core"
	"github.com/ndenisov/quizroom/internal/game"
)

var ErrBackpressure = errors.New("backpressure")

type Config struct {
	ReadLimit      int64
	SendBufferSize int
	WriteTimeout   time.Duration
}

func (c *Config) defaults() {
	if c.ReadLimit <= 0 {
		c.ReadLimit = 32768
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = 64
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
}

// Controller is the connection message dispatcher: the single entry
// point from the transport into the gameplay managers.
type Controller struct {
	Registry *app.Registry
	Members  *app.Membership
	Bcast    *app.Broadcaster
	Sessions *game.SessionManager
	Flow     *game.Flow
	Engine   *game.Engine
	Tracker  *game.Tracker
	Host     *game.HostControl
	Cfg      Config
}

func NewController(registry *app.Registry, members *app.Membership, bcast *app.Broadcaster, sessions *game.SessionManager, flow *game.Flow, engine *game.Engine, tracker *game.Tracker, host *game.HostControl, cfg Config) *Controller {
	cfg.defaults()
	return &Controller{
		Registry: registry,
		Members:  members,
		Bcast:    bcast,
		Sessions: sessions,
		Flow:     flow,
		Engine:   engine,
		Tracker:  tracker,
		Host:     host,
		Cfg:      cfg,
	}
}

// wsConn wraps one websocket with a bounded send queue. TrySend never
// blocks; a full queue is backpressure and the caller decides the
// policy.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
}

func newWSConn(conn *websocket.Conn, bufSize int, writeTimeout time.Duration) *wsConn {
	return &wsConn{
		conn:         conn,
		send:         make(chan core.Frame, bufSize),
		writeTimeout: writeTimeout,
	}
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

// Ping writes a transport ping control frame. Safe to call concurrently
// with the write pump; gorilla permits concurrent WriteControl.
func (c *wsConn) Ping() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// Close attempts a close handshake before releasing the socket.
func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWS upgrades the request and runs the connection until it drops.
// The deferred cleanup is the single disconnect path: heartbeat
// evictions cancel the context and land here too.
func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	socket, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("upgrade failed")
		return
	}
	socket.SetReadLimit(ctl.Cfg.ReadLimit)

	connID := core.ConnID(uuid.NewString())
	conn := newWSConn(socket, ctl.Cfg.SendBufferSize, ctl.Cfg.WriteTimeout)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ctl.Registry.Register(connID, conn, cancel)
	log.Info().Str("module", "ws").Str("conn", string(connID)).Str("remote", conn.RemoteAddr()).Msg("connection open")

	socket.SetPongHandler(func(string) error {
		ctl.Registry.Pong(connID)
		return nil
	})

	defer func() {
		ctl.Members.HandleDisconnect(context.WithoutCancel(ctx), connID)
		conn.Close()
		log.Info().Str("module", "ws").Str("conn", string(connID)).Msg("connection closed")
	}()

	go ctl.writePump(ctx, connID, conn)
	ctl.readPump(ctx, connID, conn)
}
