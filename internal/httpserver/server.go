// Package httpserver is the transport edge: an echo server exposing health
// and a websocket call endpoint. Binary frames in are caller PCM16LE, binary
// frames out are synthesized PCM, JSON text frames carry call events. The
// transport owns no conversation state; each connection gets its own session
// from the factory.
package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/PranavSlathia/Vartalaap/internal/logger"
	"github.com/PranavSlathia/Vartalaap/internal/turn"
)

// CallSession is what the transport drives for one connection.
type CallSession interface {
	Start(ctx context.Context) (func(), error)
	FeedCallerAudio(pcm []byte)
	ID() string
}

// SessionFactory builds a session that speaks into the given sink.
// callerNumber is the gateway-supplied caller id, empty when absent.
// onInterim receives live partial transcripts for the event stream.
type SessionFactory func(sink turn.AudioSink, callerNumber string, onInterim func(text string)) (CallSession, error)

// Config holds the transport settings.
type Config struct {
	AuthPassword     string // empty disables auth
	OutputSampleRate int
}

// Server bundles the echo router and call wiring.
type Server struct {
	Echo    *echo.Echo
	cfg     Config
	factory SessionFactory
	log     *logger.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// Telephony gateways connect server-to-server; origin carries no signal.
		return true
	},
}

// New constructs the server with routes registered.
func New(cfg Config, factory SessionFactory, log *logger.Logger) *Server {
	if cfg.OutputSampleRate == 0 {
		cfg.OutputSampleRate = 48000
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{Echo: e, cfg: cfg, factory: factory, log: log}
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/call", s.handleCall)
	return s
}

// callEvent is one JSON text frame on the call socket.
type callEvent struct {
	Type   string `json:"type"` // "call", "interim", "bye"
	CallID string `json:"call_id,omitempty"`
	Text   string `json:"text,omitempty"`
}

func (s *Server) handleCall(c echo.Context) error {
	if !authOK(c.Request(), s.cfg.AuthPassword) {
		return c.NoContent(http.StatusUnauthorized)
	}
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return nil // upgrader already wrote the response
	}
	defer func() { _ = conn.Close() }()

	ws := &wsWriter{conn: conn}
	sink := NewPacedSink(ws, s.cfg.OutputSampleRate)
	defer sink.Close()

	sess, err := s.factory(sink, c.QueryParam("from"), func(text string) {
		_ = ws.WriteJSON(callEvent{Type: "interim", Text: text})
	})
	if err != nil {
		s.log.Error("session construction failed", "error", err)
		_ = ws.WriteJSON(callEvent{Type: "bye"})
		return nil
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	stop, err := sess.Start(ctx)
	if err != nil {
		s.log.Error("session start failed", "call_id", sess.ID(), "error", err)
		return nil
	}
	defer stop()

	_ = ws.WriteJSON(callEvent{Type: "call", CallID: sess.ID()})

	for {
		mt, data, rerr := conn.ReadMessage()
		if rerr != nil {
			return nil
		}
		switch mt {
		case websocket.BinaryMessage:
			sess.FeedCallerAudio(data)
		case websocket.TextMessage:
			var ev callEvent
			if json.Unmarshal(data, &ev) != nil {
				continue
			}
			if strings.EqualFold(ev.Type, "bye") {
				return nil
			}
		}
	}
}

// authOK accepts the shared password via ?password=, X-Auth-Token or a
// bearer Authorization header. Empty expected means auth is disabled.
func authOK(r *http.Request, expected string) bool {
	if expected == "" {
		return true
	}
	if r == nil {
		return false
	}
	if q := r.URL.Query().Get("password"); q != "" {
		return q == expected
	}
	if x := r.Header.Get("X-Auth-Token"); x != "" {
		return x == expected
	}
	ah := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		return strings.TrimSpace(ah[len("bearer "):]) == expected
	}
	return false
}

// wsWriter serializes writes to one websocket connection; the pacer and the
// event stream both write to it concurrently.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) WriteBinary(frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (w *wsWriter) WriteJSON(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}
