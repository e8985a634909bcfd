package hubserver

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pulsewatch/pulsewatch/internal/broadcast"
)

// writeWait bounds a single frame write to a subscriber.
const writeWait = 10 * time.Second

// pingInterval keeps idle connections alive through proxies.
const pingInterval = 30 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Subscribers are dashboards and CLIs, not browsers on a shared
	// origin; the token is the access control.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS upgrades a subscriber connection and streams matching
// events until the client disconnects or the hub shuts down.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if !s.cfg.NoAuth {
		token := q.Get("token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.SubscriberToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}

	filter := broadcast.Filter{
		Sources:  splitParam(q.Get("source")),
		Types:    splitParam(q.Get("type")),
		Projects: splitParam(q.Get("project")),
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := s.engine.Subscribe(filter)
	defer s.engine.Unsubscribe(sub)

	s.log.Info("subscriber connected",
		zap.String("subscriber", sub.ID),
		zap.String("remote", r.RemoteAddr))

	// Reader exists only to notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	defer conn.Close()

	for {
		select {
		case <-gone:
			s.log.Info("subscriber disconnected", zap.String("subscriber", sub.ID))
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Engine shut down: tell the client this is deliberate.
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub shutting down"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				s.log.Info("subscriber write failed, dropping",
					zap.String("subscriber", sub.ID), zap.Error(err))
				return
			}
		}
	}
}

// splitParam parses a comma-separated query value.
func splitParam(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
