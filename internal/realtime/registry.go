package realtime

import (
	"sort"
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/talko/internal/model"
)

// Peer is one live connection as seen by the registry and fan-out.
type Peer interface {
	// ID is unique per connection for the life of the process.
	ID() uint64
	Identity() model.Identity
	// Push enqueues a frame without blocking. It reports false when the frame was dropped.
	Push(frame []byte) bool
}

type userConns struct {
	ident model.Identity
	conns map[uint64]Peer
}

// Registry maps identities to their live connections.
type Registry struct {
	mu     sync.RWMutex
	byUser map[uuid.UUID]*userConns
	total  int
}

func NewRegistry() *Registry {
	return &Registry{byUser: make(map[uuid.UUID]*userConns)}
}

// Register adds p under its identity. It reports whether p is the identity's first live connection.
// Registering the same peer again changes nothing and reports false.
func (r *Registry) Register(p Peer) (first bool) {
	ident := p.Identity()
	r.mu.Lock()
	defer r.mu.Unlock()

	uc, ok := r.byUser[ident.ID]
	if !ok {
		uc = &userConns{ident: ident, conns: make(map[uint64]Peer)}
		r.byUser[ident.ID] = uc
	}
	if _, dup := uc.conns[p.ID()]; dup {
		return false
	}
	uc.conns[p.ID()] = p
	r.total++
	return len(uc.conns) == 1
}

// Unregister removes exactly p. It reports whether that emptied the identity's set,
// in which case the identity is dropped.
func (r *Registry) Unregister(p Peer) (last bool) {
	id := p.Identity().ID
	r.mu.Lock()
	defer r.mu.Unlock()

	uc, ok := r.byUser[id]
	if !ok {
		return false
	}
	if _, ok := uc.conns[p.ID()]; !ok {
		return false
	}
	delete(uc.conns, p.ID())
	r.total--
	if len(uc.conns) > 0 {
		return false
	}
	delete(r.byUser, id)
	return true
}

// ConnectionsFor returns a snapshot of id's connections ordered by connection ID.
func (r *Registry) ConnectionsFor(id uuid.UUID) []Peer {
	r.mu.RLock()
	uc, ok := r.byUser[id]
	if !ok {
		r.mu.RUnlock()
		return nil
	}
	out := make([]Peer, 0, len(uc.conns))
	for _, p := range uc.conns {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sortPeers(out)
	return out
}

// AllConnections returns a snapshot of every connection ordered by connection ID.
func (r *Registry) AllConnections() []Peer {
	r.mu.RLock()
	out := make([]Peer, 0, r.total)
	for _, uc := range r.byUser {
		for _, p := range uc.conns {
			out = append(out, p)
		}
	}
	r.mu.RUnlock()
	sortPeers(out)
	return out
}

// Online returns identities holding at least one connection.
func (r *Registry) Online() []model.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Identity, 0, len(r.byUser))
	for _, uc := range r.byUser {
		out = append(out, uc.ident)
	}
	return out
}

// IsOnline reports whether id has a live connection.
func (r *Registry) IsOnline(id uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUser[id]
	return ok
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

func sortPeers(ps []Peer) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].ID() < ps[j].ID() })
}
