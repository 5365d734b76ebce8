package realtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/talko/internal/metrics"
	"github.com/and161185/talko/internal/model"
)

// Presence derives the online set from the Registry and announces changes.
//
// With a zero grace period an identity is online exactly while it holds a
// connection. With a positive one, an identity whose last connection closed
// stays listed until the grace period passes; Sweep announces the expiry and
// a reconnect inside the window cancels it silently.
type Presence struct {
	reg   *Registry
	fan   *Fanout
	grace time.Duration
	log   *zap.Logger
	now   func() time.Time

	// broadcastMu orders snapshot+push pairs so observers never end on a stale set.
	broadcastMu sync.Mutex

	mu       sync.Mutex
	departed map[uuid.UUID]departure
}

type departure struct {
	ident model.Identity
	at    time.Time
}

func NewPresence(reg *Registry, fan *Fanout, grace time.Duration, log *zap.Logger) *Presence {
	return &Presence{
		reg:      reg,
		fan:      fan,
		grace:    grace,
		log:      log,
		now:      time.Now,
		departed: make(map[uuid.UUID]departure),
	}
}

// OnlineIdentities returns the online set ordered by username.
func (p *Presence) OnlineIdentities() []model.Identity {
	out := p.reg.Online()
	if p.grace > 0 {
		p.mu.Lock()
		for id, d := range p.departed {
			if !p.reg.IsOnline(id) {
				out = append(out, d.ident)
			}
		}
		p.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Username != out[j].Username {
			return out[i].Username < out[j].Username
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (p *Presence) snapshot() ([]byte, int, bool) {
	online := p.OnlineIdentities()
	frame, err := encodeOnlineUsers(online)
	if err != nil {
		p.log.Error("encode online_users frame", zap.Error(err))
		return nil, 0, false
	}
	return frame, len(online), true
}

// BroadcastPresence pushes the current online set to every live connection.
func (p *Presence) BroadcastPresence() int {
	p.broadcastMu.Lock()
	defer p.broadcastMu.Unlock()
	frame, n, ok := p.snapshot()
	if !ok {
		return 0
	}
	metrics.OnlineUsers.Set(float64(n))
	return p.fan.PushAll(FrameOnlineUsers, frame)
}

// Connected is called after peer was registered. first is what Register returned.
// A new identity triggers one broadcast; an extra tab only receives the current set itself.
func (p *Presence) Connected(peer Peer, first bool) {
	if first && !p.cancelDeparture(peer.Identity().ID) {
		p.BroadcastPresence()
		return
	}
	p.broadcastMu.Lock()
	defer p.broadcastMu.Unlock()
	frame, _, ok := p.snapshot()
	if !ok {
		return
	}
	metrics.RecordPush(FrameOnlineUsers, peer.Push(frame))
}

// Disconnected is called after a peer of ident was unregistered. last is what Unregister returned.
func (p *Presence) Disconnected(ident model.Identity, last bool) {
	if !last {
		return
	}
	if p.grace > 0 {
		p.mu.Lock()
		p.departed[ident.ID] = departure{ident: ident, at: p.now()}
		p.mu.Unlock()
		return
	}
	p.BroadcastPresence()
}

// cancelDeparture reports whether id was still inside its grace window.
func (p *Presence) cancelDeparture(id uuid.UUID) bool {
	if p.grace <= 0 {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.departed[id]
	delete(p.departed, id)
	return ok
}

// Sweep drops departures older than the grace period and broadcasts once if any expired.
func (p *Presence) Sweep(now time.Time) int {
	if p.grace <= 0 {
		return 0
	}
	expired := 0
	p.mu.Lock()
	for id, d := range p.departed {
		if now.Sub(d.at) >= p.grace {
			delete(p.departed, id)
			if !p.reg.IsOnline(id) {
				expired++
			}
		}
	}
	p.mu.Unlock()

	if expired == 0 {
		return 0
	}
	p.log.Debug("presence grace expired", zap.Int("identities", expired))
	p.BroadcastPresence()
	return expired
}

// Sweeper runs Sweep on a ticker until its context ends. It implements suture.Service.
type Sweeper struct {
	P        *Presence
	Interval time.Duration
}

func (s Sweeper) Serve(ctx context.Context) error {
	every := s.Interval
	if every <= 0 {
		every = time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			s.P.Sweep(now)
		}
	}
}

func (s Sweeper) String() string { return "presence-sweeper" }
