package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/partybeacon/internal/events"
)

const (
	streamBuffer     = 64
	streamWriteWait  = 5 * time.Second
	streamPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEventStream upgrades to a websocket and forwards every beacon event
// as a JSON frame until the client goes away. Slow readers lose events.
func (s *Server) handleEventStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("event stream upgrade failed")
		return
	}
	defer conn.Close()

	name := "api.stream." + uuid.NewString()
	logger := log.With().Str("component", "event_stream").Str("remote", c.ClientIP()).Logger()

	queue := make(chan events.Event, streamBuffer)
	s.eventBus.SubscribeMany(events.BeaconEvents, name, func(_ context.Context, e events.Event) error {
		select {
		case queue <- e:
		default:
			logger.Debug().Str("event", string(e.Type)).Msg("event stream full, dropping event")
		}
		return nil
	})
	defer s.eventBus.UnsubscribeMany(events.BeaconEvents, name)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// reader: only needed to notice the close
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	logger.Info().Msg("event stream opened")
	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("event stream closed")
			return
		case <-s.eventBus.StopCh():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(streamWriteWait))
			return
		case e := <-queue:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				logger.Debug().Err(err).Msg("event stream write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}
