package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tidewatch/go-hazard-alerts/internal/broadcast"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Stream pushes alert lifecycle and delivery events to websocket clients.
type Stream struct {
	events   *broadcast.Broadcaster
	upgrader websocket.Upgrader
}

func NewStream(events *broadcast.Broadcaster) *Stream {
	return &Stream{
		events: events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The dashboard is served from a different origin in dev;
			// auth lives upstream of this service.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Stream) Serve(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	id, ch := s.events.Subscribe()
	slog.Info("stream subscriber connected", "subscriber", id, "remote", conn.RemoteAddr())

	go s.writePump(id, conn, ch)
	s.readPump(id, conn)
}

// readPump discards inbound frames; its job is to notice the close.
func (s *Stream) readPump(id uint64, conn *websocket.Conn) {
	defer func() {
		s.events.Unsubscribe(id)
		conn.Close()
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			slog.Debug("stream subscriber disconnected", "subscriber", id)
			return
		}
	}
}

func (s *Stream) writePump(id uint64, conn *websocket.Conn, ch chan broadcast.Event) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case event, ok := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				slog.Debug("stream write failed", "subscriber", id, "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
