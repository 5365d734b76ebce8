package realtime

import (
	"sync"
	"sync/atomic"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/gofrs/uuid/v5"

	"github.com/and161185/talko/internal/model"
)

var fakePeerIDs atomic.Uint64

type fakePeer struct {
	id    uint64
	ident model.Identity

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

var _ Peer = (*fakePeer)(nil)

func newPeer(ident model.Identity) *fakePeer {
	return &fakePeer{id: fakePeerIDs.Add(1), ident: ident}
}

func (p *fakePeer) ID() uint64               { return p.id }
func (p *fakePeer) Identity() model.Identity { return p.ident }

func (p *fakePeer) Push(b []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.frames = append(p.frames, b)
	return true
}

func (p *fakePeer) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *fakePeer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

func (p *fakePeer) decoded(t *testing.T) []map[string]any {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]map[string]any, 0, len(p.frames))
	for _, b := range p.frames {
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("bad frame %s: %v", b, err)
		}
		out = append(out, m)
	}
	return out
}

func (p *fakePeer) reset() {
	p.mu.Lock()
	p.frames = nil
	p.mu.Unlock()
}

func ident(name string) model.Identity {
	return model.Identity{ID: uuid.Must(uuid.NewV4()), Username: name}
}

func onlineNames(t *testing.T, frame map[string]any) []string {
	t.Helper()
	users, ok := frame["users"].([]any)
	if !ok {
		t.Fatalf("frame has no users: %v", frame)
	}
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.(map[string]any)["username"].(string))
	}
	return out
}
