package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/sweeney/boiler-control/internal/status"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMsgSize       = 1 << 12
	defaultInterval  = 5 * time.Second
	minInterval      = 10 * time.Millisecond
	maxInterval      = time.Minute
	maxIntervalMilli = 60_000
)

// wsEnvelope wraps every message pushed over /ws.
type wsEnvelope struct {
	Type string            `json:"type"`
	Data status.StatusJSON `json:"data"`
}

var upgrader = websocket.Upgrader{
	// The API has no auth and is served on the local network only.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConnect pushes the status document immediately and then every
// ?interval (or ?interval_ms) until the client goes away.
func (s *Server) wsConnect(c *gin.Context) {
	interval := parseInterval(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warnw("ws_upgrade_failed", "err", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go s.drain(conn, done)

	ticker := time.NewTicker(interval)
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ping.Stop()
	}()

	if err := s.sendStatus(conn); err != nil {
		s.log.Debugw("ws_write_failed", "err", err)
		return
	}
	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.log.Debugw("ws_ping_failed", "err", err)
				return
			}
		case <-ticker.C:
			if err := s.sendStatus(conn); err != nil {
				s.log.Debugw("ws_write_failed", "err", err)
				return
			}
		}
	}
}

// drain reads until the peer closes so control frames are processed.
func (s *Server) drain(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) sendStatus(conn *websocket.Conn) error {
	msg := wsEnvelope{Type: "status", Data: status.Build(s.deps.Status.Snapshot())}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

func parseInterval(c *gin.Context) time.Duration {
	if v := c.Query("interval"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= minInterval && d <= maxInterval {
			return d
		}
	}
	if v := c.Query("interval_ms"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 && ms <= maxIntervalMilli {
			if d := time.Duration(ms) * time.Millisecond; d >= minInterval {
				return d
			}
		}
	}
	return defaultInterval
}
