package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ndenisov/quizroom/internal/core"
	"github.com/ndenisov/quizroom/internal/domain"
	"github.com/ndenisov/quizroom/internal/errs"
)

func (ctl *Controller) writePump(ctx context.Context, id core.ConnID, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				log.Error().Err(err).Str("module", "ws").Str("conn", string(id)).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "ws").Str("conn", string(id)).Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, id core.ConnID, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("module", "ws").Str("conn", string(id)).Msg("readPump read error")
				return
			}
			ctl.dispatch(ctx, id, data)
		}
	}
}

// dispatch decodes the envelope and routes on the event name. Handler
// panics are converted into an error ack so the connection stays
// usable; nothing thrown below ever escapes this boundary.
func (ctl *Controller) dispatch(ctx context.Context, id core.ConnID, data []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "ws").Str("conn", string(id)).Msg("bad envelope")
		ctl.sendError(id, "malformed message envelope")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "ws").Str("conn", string(id)).Str("event", env.Event).Any("panic", r).Msg("handler panic recovered")
			ctl.ack(id, env.Event, errs.New(errs.KindInternal, errs.WithMessage("internal error")))
		}
	}()

	switch env.Event {
	case domain.EvJoinRoom:
		ctl.handleJoin(ctx, id, env.Data)
	case domain.EvLeaveRoom:
		ctl.handleLeave(ctx, id, env.Data)
	case domain.EvStartGame:
		ctl.handleStartGame(id, env.Data)
	case domain.EvPlayerReady:
		ctl.handlePlayerReady(id, env.Data)
	case domain.EvRequestPlayers:
		ctl.handleRequestPlayers(id, env.Data)
	case domain.EvSubmitAnswer:
		ctl.handleSubmitAnswer(id, env.Data)
	case domain.EvRequestNext:
		ctl.handleRequestNext(id, env.Data)
	case domain.EvRequestProgress:
		ctl.handleRequestProgress(id, env.Data)
	case domain.EvKickPlayer:
		ctl.handleKick(ctx, id, env.Data)
	case domain.EvTransferHost:
		ctl.handleTransferHost(id, env.Data)
	case domain.EvEndGame:
		ctl.handleEndGame(id, env.Data)
	case domain.EvPing:
		ctl.handlePing(id)
	case domain.EvPong, domain.EvHeartbeat:
		ctl.Registry.Pong(id)
	default:
		log.Warn().Str("module", "ws").Str("event", env.Event).Msg("unknown event")
		ctl.sendError(id, "unknown event: "+env.Event)
	}
}

// ack reports the outcome of an inbound command on its *-ACK event.
// Validation and permission failures carry their message; state gaps
// are reported the same way but logged as no-ops.
func (ctl *Controller) ack(id core.ConnID, event string, err error) {
	payload := domain.Ack{Success: err == nil}
	if err != nil {
		e := errs.Convert(err)
		payload.Message = e.Message
		if e.Kind == errs.KindState {
			log.Warn().Err(err).Str("module", "ws").Str("conn", string(id)).Str("event", event).Msg("state inconsistency, treated as no-op")
		}
	}
	_ = ctl.Registry.Send(id, event+domain.AckSuffix, payload)
}

func (ctl *Controller) sendError(id core.ConnID, message string) {
	_ = ctl.Registry.Send(id, domain.EvError, domain.Ack{Success: false, Message: message})
}

func decode[T any](data json.RawMessage) (T, error) {
	var out T
	if len(data) == 0 {
		return out, errs.Validation("missing payload")
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, errs.New(errs.KindValidation, errs.WithCause(err), errs.WithMessage("malformed payload"))
	}
	return out, nil
}
