package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/taskmate/internal/auth"
	"github.com/nugget/taskmate/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
	wsBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// handleEventsWS streams the caller's task change events. Browsers
// cannot set headers on a websocket handshake, so the credentials may
// also arrive as ?token=<api key>.
// GET /api/events/ws
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "Event feed is not enabled")
		return
	}
	header := r.Header.Get("Authorization")
	if header == "" && r.URL.Query().Get("token") != "" {
		header = "Token " + r.URL.Query().Get("token")
	}
	user, err := s.auth.Authenticate(r.Context(), header)
	if errors.Is(err, auth.ErrUnauthorized) {
		s.errorResponse(w, http.StatusUnauthorized, "Invalid token.")
		return
	}
	if err != nil {
		s.internalError(w, "authenticate websocket", err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	log := s.logger.With("actor_id", user.ID, "remote", r.RemoteAddr)
	feed := s.bus.Subscribe(wsBufferSize, events.TaskChangesBy(user.ID))
	defer func() {
		if n := s.bus.Unsubscribe(feed); n > 0 {
			log.Warn("event feed fell behind", "dropped", n)
		}
	}()
	log.Info("event feed connected")

	// The reader only services control frames and notices the close.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			log.Info("event feed disconnected")
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case e, ok := <-feed:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				log.Debug("event feed write failed", "error", err)
				return
			}
		}
	}
}
