package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/harun/parley/pkg/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// feedContext ends when the request does or when shutdown begins.
func (s *Server) feedContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(s.feeds, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func welcomeEvent(clientID string) events.Event {
	return events.Event{
		ID:        clientID,
		Type:      events.TypeConnected,
		Level:     events.LevelSuccess,
		Message:   "Log stream connected successfully",
		Timestamp: time.Now().UTC(),
	}
}

func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.feedContext(r.Context())
	defer cancel()

	feed, err := s.hub.Subscribe(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	}

	clientID, _ := gonanoid.New()
	logger := s.logger.With().Str("client_id", clientID).Logger()

	sse := newSSEWriter(w)
	if err := sse.open(); err != nil {
		logger.Error().Err(err).Msg("Streaming not supported")
		return
	}
	logger.Info().Str("remote", r.RemoteAddr).Msg("Log stream client connected")
	defer logger.Info().Msg("Log stream client disconnected")

	if err := sse.writeData(welcomeEvent(clientID)); err != nil {
		return
	}

	heartbeat := time.NewTicker(SSEHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-feed:
			if !ok {
				return
			}
			if err := sse.writeData(ev); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := sse.writeHeartbeat(); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleLogSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}
	defer conn.Close()

	clientID, _ := gonanoid.New()
	logger := s.logger.With().Str("client_id", clientID).Logger()

	ctx, cancel := s.feedContext(r.Context())
	defer cancel()

	feed, err := s.hub.Subscribe(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to subscribe log socket")
		return
	}

	logger.Info().Str("remote", r.RemoteAddr).Msg("Log socket client connected")
	defer logger.Info().Msg("Log socket client disconnected")

	// The feed is one-way; reading only detects the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug().Err(err).Msg("Log socket read error")
				}
				return
			}
		}
	}()

	write := func(v any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(v)
	}
	if err := write(welcomeEvent(clientID)); err != nil {
		return
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteWait))
			return
		case ev, ok := <-feed:
			if !ok {
				return
			}
			if err := write(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleLogStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"connectedClients": s.hub.Subscribers(),
		"dropped":          s.hub.Dropped(),
		"uptime":           time.Since(s.started).Seconds(),
		"timestamp":        now(),
	})
}
