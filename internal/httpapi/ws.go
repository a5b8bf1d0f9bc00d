package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsPushInterval = time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// handleWS upgrades the request and pushes a status snapshot once a second
// until the client goes away.
func (s *Server) handleWS(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("upgrade websocket: %w", err)
	}
	slog.Debug("ws client connected", "remote", c.RealIP())
	go s.pushStatus(conn, c.RealIP())
	return nil
}

func (s *Server) pushStatus(conn *websocket.Conn, remote string) {
	defer conn.Close()

	// Drain incoming frames so pings and close frames are processed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPushInterval)
	defer ticker.Stop()

	// First snapshot immediately so clients render without waiting a tick.
	if !s.writeStatus(conn) {
		return
	}
	for {
		select {
		case <-closed:
			slog.Debug("ws client disconnected", "remote", remote)
			return
		case <-ticker.C:
			if !s.writeStatus(conn) {
				slog.Debug("ws client disconnected", "remote", remote)
				return
			}
		}
	}
}

func (s *Server) writeStatus(conn *websocket.Conn) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(s.status.Status()) == nil
}
