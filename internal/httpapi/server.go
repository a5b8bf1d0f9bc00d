// Package httpapi exposes the bear's local control surface: health and
// status endpoints, the text-to-speech route that makes the bear talk, and a
// websocket stream of live status snapshots.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/TheGaf/gafTeddy/internal/telemetry"
)

// StatusProvider hands out the live status snapshot. The state machine
// satisfies it.
type StatusProvider interface {
	Status() telemetry.Status
}

// Server is the Echo application.
type Server struct {
	echo    *echo.Echo
	status  StatusProvider
	history *telemetry.History // optional
	tts     *TTS
}

// New constructs the Echo app with all routes registered. history may be
// nil; its route is skipped.
func New(status StatusProvider, tts *TTS, history *telemetry.History) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	s := &Server{echo: e, status: status, history: history, tts: tts}
	s.registerRoutes()
	return s
}

// requestLogger returns Echo middleware that logs each HTTP request via slog.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			slog.Debug("http request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return nil
		}
	}
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/status", s.handleStatus)
	if s.history != nil {
		s.echo.GET("/status/history", s.handleHistory)
	}
	if s.tts != nil {
		s.echo.POST("/speak", s.handleSpeak)
	}
	s.echo.GET("/ws", s.handleWS)
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := map[string]any{"ok": true}
	if s.tts != nil {
		resp["usb_device"] = s.tts.USBDevice
		resp["loopback_device"] = s.tts.LoopbackDevice
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.status.Status())
}

func (s *Server) handleHistory(c echo.Context) error {
	n := 60
	if raw := c.QueryParam("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > 10000 {
			return c.JSON(http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid n"})
		}
		n = v
	}
	snapshots, err := s.history.Recent(n)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
	}
	return c.JSON(http.StatusOK, snapshots)
}

// speakRequest is the /speak body.
type speakRequest struct {
	Text string `json:"text"`
	Rate int    `json:"rate"`
}

func (s *Server) handleSpeak(c echo.Context) error {
	var req speakRequest
	if err := c.Bind(&req); err != nil || req.Text == "" {
		return c.JSON(http.StatusBadRequest, map[string]any{"ok": false, "error": "missing 'text' field"})
	}
	if err := s.tts.Speak(req.Text, req.Rate); err != nil {
		slog.Error("tts speak failed", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]any{"ok": false, "error": "synthesis failed"})
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "msg": "played"})
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down http server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutCtx)
	}
}
