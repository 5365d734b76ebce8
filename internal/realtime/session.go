package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/and161185/talko/internal/model"
)

var sessionIDCounter atomic.Uint64

// Session is one WebSocket connection. The read loop runs in the gateway's
// handler goroutine; writePump is the only goroutine writing data frames.
type Session struct {
	id        uint64
	conn      *websocket.Conn
	writeWait time.Duration
	pingEvery time.Duration
	log       *zap.Logger
	limiter   *rate.Limiter

	mu     sync.Mutex
	send   chan []byte
	closed bool
	ident  model.Identity

	authed atomic.Bool
}

func newSession(conn *websocket.Conn, cfg Config, log *zap.Logger) *Session {
	lim := rate.NewLimiter(rate.Inf, 0)
	if cfg.FramesPerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.FramesPerSec), max(cfg.FrameBurst, 1))
	}
	id := sessionIDCounter.Add(1)
	return &Session{
		id:        id,
		conn:      conn,
		writeWait: cfg.WriteWait,
		pingEvery: cfg.PongWait * 9 / 10,
		log:       log.With(zap.Uint64("conn_id", id)),
		limiter:   lim,
		send:      make(chan []byte, cfg.SendBuffer),
	}
}

func (s *Session) ID() uint64 { return s.id }

func (s *Session) Identity() model.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ident
}

func (s *Session) setIdentity(ident model.Identity) {
	s.mu.Lock()
	s.ident = ident
	s.mu.Unlock()
}

// Push enqueues frame for the writer. A closed session or a full queue drops the frame.
func (s *Session) Push(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// close stops accepting pushes; writePump then sends a close frame and releases the socket.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

// closeWith sends a close control frame with code and reason, then closes the session.
// WriteControl is safe to call alongside writePump.
func (s *Session) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.writeWait)); err != nil {
		s.log.Debug("write close frame", zap.Error(err))
	}
	s.close()
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.pingEvery)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.Debug("write frame", zap.Error(err))
				s.close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		}
	}
}
