package realtime

import (
	"context"
	"errors"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/and161185/talko/internal/bearer"
	"github.com/and161185/talko/internal/errs"
	"github.com/and161185/talko/internal/metrics"
	"github.com/and161185/talko/internal/model"
)

// Close reasons sent with websocket.ClosePolicyViolation.
const (
	ReasonInvalidToken = "Invalid token"
	ReasonUnknownUser  = "User not found"
	ReasonAuthTimeout  = "Authentication timeout"
)

// Authenticator resolves a bearer token to a stored user.
type Authenticator interface {
	VerifyToken(ctx context.Context, token string) (model.User, error)
}

// MessageSender persists a message and hands it to fan-out.
type MessageSender interface {
	Send(ctx context.Context, sender model.User, text string, recipient *uuid.UUID) (model.Message, error)
}

// ActivityRecorder stamps last activity for a user; failures are its own concern.
type ActivityRecorder interface {
	TouchLastSeen(ctx context.Context, id uuid.UUID)
}

// Config tunes connection handling.
type Config struct {
	AuthTimeout    time.Duration
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxFrameBytes  int64
	SendBuffer     int
	FramesPerSec   float64
	FrameBurst     int
	CheckOrigin    bool
	AllowedOrigins []string
}

// DefaultConfig mirrors the server defaults.
func DefaultConfig() Config {
	return Config{
		AuthTimeout:   10 * time.Second,
		WriteWait:     10 * time.Second,
		PongWait:      60 * time.Second,
		MaxFrameBytes: 64 * 1024,
		SendBuffer:    256,
		FramesPerSec:  20,
		FrameBurst:    40,
	}
}

// Gateway is the http.Handler behind /ws.
type Gateway struct {
	cfg      Config
	upgrader websocket.Upgrader
	auth     Authenticator
	sender   MessageSender
	activity ActivityRecorder
	reg      *Registry
	presence *Presence
	typing   *TypingRelay
	log      *zap.Logger

	mu       sync.Mutex
	sessions map[uint64]*Session
}

func NewGateway(cfg Config, auth Authenticator, sender MessageSender, activity ActivityRecorder,
	reg *Registry, presence *Presence, typing *TypingRelay, log *zap.Logger) *Gateway {
	g := &Gateway{
		cfg:      cfg,
		auth:     auth,
		sender:   sender,
		activity: activity,
		reg:      reg,
		presence: presence,
		typing:   typing,
		log:      log,
		sessions: make(map[uint64]*Session),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if !g.cfg.CheckOrigin {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(g.cfg.AllowedOrigins, "*") || slices.Contains(g.cfg.AllowedOrigins, origin)
}

// ServeHTTP upgrades the request and runs the connection until it closes.
// A token may be supplied up front as a bearer header or ?token=; otherwise
// the first frame must be {"type":"auth","token":...}.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	s := newSession(conn, g.cfg, g.log)
	g.track(s)
	defer g.untrack(s)

	go s.writePump()
	g.run(context.WithoutCancel(r.Context()), s, r)
}

func (g *Gateway) run(ctx context.Context, s *Session, r *http.Request) {
	var user model.User
	defer func() {
		if s.authed.Load() {
			g.leave(ctx, s, user)
		}
		s.close()
	}()

	s.conn.SetReadLimit(g.cfg.MaxFrameBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(g.cfg.AuthTimeout))
	s.conn.SetPongHandler(func(string) error {
		if !s.authed.Load() {
			return nil
		}
		return s.conn.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	})

	if tok, found := bearer.FromRequest(r); found {
		u, ok := g.authenticate(ctx, s, tok)
		if !ok {
			return
		}
		user = u
	}

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			g.readFailed(s, err)
			return
		}

		f, err := decodeInbound(data)
		if err != nil {
			metrics.WSFramesReceived.WithLabelValues("invalid", "malformed").Inc()
			g.log.Warn("malformed frame dropped", zap.Uint64("conn_id", s.id), zap.Error(err))
			continue
		}

		if !s.authed.Load() {
			if f.Type != FrameAuth {
				metrics.WSFramesReceived.WithLabelValues(label(f.Type), "ignored").Inc()
				continue
			}
			u, ok := g.authenticate(ctx, s, f.Token)
			if !ok {
				return
			}
			user = u
			continue
		}

		if !s.limiter.Allow() {
			metrics.WSFramesReceived.WithLabelValues(label(f.Type), "rate_limited").Inc()
			g.log.Warn("frame rate exceeded", zap.Uint64("conn_id", s.id), zap.String("user_id", user.ID.String()))
			continue
		}
		g.dispatch(ctx, s, user, f)
	}
}

func (g *Gateway) readFailed(s *Session, err error) {
	var ne net.Error
	if !s.authed.Load() && errors.As(err, &ne) && ne.Timeout() {
		metrics.WSAuthFailures.WithLabelValues("timeout").Inc()
		s.closeWith(websocket.ClosePolicyViolation, ReasonAuthTimeout)
		return
	}
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
		g.log.Info("websocket closed unexpectedly", zap.Uint64("conn_id", s.id), zap.Error(err))
	}
}

// authenticate performs the single allowed auth attempt. On failure the
// connection is closed with a policy violation and false is returned.
func (g *Gateway) authenticate(ctx context.Context, s *Session, token string) (model.User, bool) {
	user, err := g.auth.VerifyToken(ctx, token)
	if err != nil {
		reason := ReasonInvalidToken
		code := websocket.ClosePolicyViolation
		switch {
		case errors.Is(err, errs.ErrNotFound):
			reason = ReasonUnknownUser
		case !errors.Is(err, errs.ErrUnauthorized):
			code, reason = websocket.CloseInternalServerErr, "Internal error"
			g.log.Error("token verification failed", zap.Uint64("conn_id", s.id), zap.Error(err))
		}
		metrics.WSAuthFailures.WithLabelValues(label(reason)).Inc()
		metrics.WSFramesReceived.WithLabelValues(FrameAuth, "rejected").Inc()
		s.closeWith(code, reason)
		return model.User{}, false
	}

	s.setIdentity(user.Identity())
	s.authed.Store(true)
	_ = s.conn.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	metrics.WSFramesReceived.WithLabelValues(FrameAuth, "ok").Inc()

	first := g.reg.Register(s)
	metrics.WSConnections.Inc()
	g.presence.Connected(s, first)
	if g.activity != nil {
		g.activity.TouchLastSeen(ctx, user.ID)
	}
	g.log.Info("websocket authenticated",
		zap.Uint64("conn_id", s.id),
		zap.String("user_id", user.ID.String()),
		zap.Bool("first", first),
	)
	return user, true
}

func (g *Gateway) leave(ctx context.Context, s *Session, user model.User) {
	last := g.reg.Unregister(s)
	metrics.WSConnections.Dec()
	g.presence.Disconnected(user.Identity(), last)
	if g.activity != nil {
		g.activity.TouchLastSeen(ctx, user.ID)
	}
	g.log.Info("websocket closed",
		zap.Uint64("conn_id", s.id),
		zap.String("user_id", user.ID.String()),
		zap.Bool("last", last),
	)
}

func (g *Gateway) dispatch(ctx context.Context, s *Session, user model.User, f inbound) {
	switch f.Type {
	case FrameAuth:
		metrics.WSFramesReceived.WithLabelValues(FrameAuth, "ignored").Inc()

	case FrameMessage:
		if _, err := g.sender.Send(ctx, user, f.Text, f.RecipientID); err != nil {
			metrics.WSFramesReceived.WithLabelValues(FrameMessage, "rejected").Inc()
			g.log.Warn("message frame dropped",
				zap.Uint64("conn_id", s.id),
				zap.String("user_id", user.ID.String()),
				zap.Error(err),
			)
			return
		}
		metrics.WSFramesReceived.WithLabelValues(FrameMessage, "ok").Inc()

	case FrameTyping, FrameStopTyping:
		to := f.typingTarget()
		if to == nil || *to == uuid.Nil {
			metrics.WSFramesReceived.WithLabelValues(f.Type, "malformed").Inc()
			g.log.Warn("typing frame without recipient", zap.Uint64("conn_id", s.id))
			return
		}
		g.typing.Relay(user.ID, *to, model.TypingPhase(f.Type))
		metrics.WSFramesReceived.WithLabelValues(f.Type, "ok").Inc()

	default:
		metrics.WSFramesReceived.WithLabelValues("unknown", "ignored").Inc()
		g.log.Warn("unknown frame type", zap.Uint64("conn_id", s.id), zap.String("type", f.Type))
	}
}

func (g *Gateway) track(s *Session) {
	g.mu.Lock()
	g.sessions[s.id] = s
	g.mu.Unlock()
}

func (g *Gateway) untrack(s *Session) {
	g.mu.Lock()
	delete(g.sessions, s.id)
	g.mu.Unlock()
}

// Shutdown closes every open connection with CloseGoingAway. Hijacked
// connections are not covered by http.Server.Shutdown.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	open := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		open = append(open, s)
	}
	g.mu.Unlock()

	for _, s := range open {
		s.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
}

// label keeps metric label cardinality bounded.
func label(v string) string {
	switch v {
	case FrameAuth, FrameMessage, FrameTyping, FrameStopTyping:
		return v
	case ReasonInvalidToken:
		return "invalid_token"
	case ReasonUnknownUser:
		return "unknown_user"
	case "Internal error":
		return "internal"
	default:
		return "unknown"
	}
}
