package httpapi

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/talko/internal/errs"
	"github.com/and161185/talko/internal/model"
	"github.com/and161185/talko/internal/repository"
)

// memStore backs both repositories in memory for end-to-end handler tests.
type memStore struct {
	mu       sync.Mutex
	users    map[uuid.UUID]model.User
	messages []model.Message
	nextID   int64
	pingErr  error
}

var (
	_ repository.UserRepository    = (*memUsers)(nil)
	_ repository.MessageRepository = (*memMessages)(nil)
)

func newMemStore() *memStore { return &memStore{users: map[uuid.UUID]model.User{}} }

func (s *memStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

func (s *memStore) failPing(err error) {
	s.mu.Lock()
	s.pingErr = err
	s.mu.Unlock()
}

type memUsers struct{ s *memStore }

func (m memUsers) Create(_ context.Context, u *model.User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, x := range m.s.users {
		if x.Username == u.Username {
			return errs.ErrAlreadyExists
		}
	}
	u.CreatedAt = time.Now().UTC()
	u.LastSeen = u.CreatedAt
	m.s.users[u.ID] = *u
	return nil
}

func (m memUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &u, nil
}

func (m memUsers) GetByUsername(_ context.Context, name string) (*model.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, u := range m.s.users {
		if u.Username == name {
			return &u, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (m memUsers) ListExcept(_ context.Context, id uuid.UUID) ([]model.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	out := []model.User{}
	for _, u := range m.s.users {
		if u.ID != id {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (m memUsers) TouchLastSeen(_ context.Context, id uuid.UUID, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return errs.ErrNotFound
	}
	u.LastSeen = at
	m.s.users[id] = u
	return nil
}

type memMessages struct{ s *memStore }

func (m memMessages) Create(_ context.Context, nm model.NewMessage) (model.Message, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if nm.RecipientID != nil {
		if _, ok := m.s.users[*nm.RecipientID]; !ok {
			return model.Message{}, errs.ErrNotFound
		}
	}
	m.s.nextID++
	msg := model.Message{ID: m.s.nextID, SenderID: nm.SenderID, RecipientID: nm.RecipientID, Text: nm.Text, Timestamp: time.Now().UTC()}
	m.s.messages = append(m.s.messages, msg)
	return msg, nil
}

func (m memMessages) filter(keep func(model.Message) bool) []model.MessageWithSender {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	out := []model.MessageWithSender{}
	for _, msg := range m.s.messages {
		if keep(msg) {
			u := m.s.users[msg.SenderID]
			out = append(out, model.MessageWithSender{Message: msg, Sender: model.Sender{ID: u.ID, Username: u.Username, CreatedAt: u.CreatedAt}})
		}
	}
	return out
}

func (m memMessages) ListBroadcast(context.Context) ([]model.MessageWithSender, error) {
	return m.filter(func(x model.Message) bool { return x.RecipientID == nil }), nil
}

func (m memMessages) ListConversation(_ context.Context, a, b uuid.UUID) ([]model.MessageWithSender, error) {
	return m.filter(func(x model.Message) bool {
		if x.RecipientID == nil {
			return false
		}
		r := *x.RecipientID
		return (x.SenderID == a && r == b) || (x.SenderID == b && r == a)
	}), nil
}
