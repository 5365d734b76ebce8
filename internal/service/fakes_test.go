package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/talko/internal/errs"
	"github.com/and161185/talko/internal/limiter"
	"github.com/and161185/talko/internal/model"
	"github.com/and161185/talko/internal/repository"
)

type fakeUsers struct {
	byName map[string]*model.User

	createErr error
	getErr    error
	touchErr  error

	touched map[uuid.UUID]time.Time
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byName: map[string]*model.User{}, touched: map[uuid.UUID]time.Time{}}
}

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	if _, exists := f.byName[u.Username]; exists {
		return errs.ErrAlreadyExists
	}
	u.CreatedAt = time.Now()
	u.LastSeen = u.CreatedAt
	cpy := *u
	f.byName[u.Username] = &cpy
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, u := range f.byName {
		if u.ID == id {
			c := *u
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byName[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (f *fakeUsers) ListExcept(_ context.Context, id uuid.UUID) ([]model.User, error) {
	out := make([]model.User, 0, len(f.byName))
	for _, u := range f.byName {
		if u.ID != id {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (f *fakeUsers) TouchLastSeen(_ context.Context, id uuid.UUID, at time.Time) error {
	if f.touchErr != nil {
		return f.touchErr
	}
	f.touched[id] = at
	return nil
}

type fakeMessages struct {
	mu     sync.Mutex
	nextID int64
	stored []model.Message
	known  map[uuid.UUID]model.User

	createErr error
}

var _ repository.MessageRepository = (*fakeMessages)(nil)

func (f *fakeMessages) Create(_ context.Context, m model.NewMessage) (model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return model.Message{}, f.createErr
	}
	if m.RecipientID != nil {
		if _, ok := f.known[*m.RecipientID]; !ok {
			return model.Message{}, errs.ErrNotFound
		}
	}
	f.nextID++
	msg := model.Message{ID: f.nextID, SenderID: m.SenderID, RecipientID: m.RecipientID, Text: m.Text, Timestamp: time.Now()}
	f.stored = append(f.stored, msg)
	return msg, nil
}

func (f *fakeMessages) withSender(m model.Message) model.MessageWithSender {
	u := f.known[m.SenderID]
	return model.MessageWithSender{Message: m, Sender: model.Sender{ID: u.ID, Username: u.Username, CreatedAt: u.CreatedAt}}
}

func (f *fakeMessages) ListBroadcast(context.Context) ([]model.MessageWithSender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.MessageWithSender{}
	for _, m := range f.stored {
		if m.RecipientID == nil {
			out = append(out, f.withSender(m))
		}
	}
	return out, nil
}

func (f *fakeMessages) ListConversation(_ context.Context, a, b uuid.UUID) ([]model.MessageWithSender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.MessageWithSender{}
	for _, m := range f.stored {
		if m.RecipientID == nil {
			continue
		}
		r := *m.RecipientID
		if (m.SenderID == a && r == b) || (m.SenderID == b && r == a) {
			out = append(out, f.withSender(m))
		}
	}
	return out, nil
}

type fakeDeliverer struct {
	got []model.MessageWithSender
}

func (d *fakeDeliverer) Deliver(m model.MessageWithSender) int {
	d.got = append(d.got, m)
	return 1
}

type fakeLimiter struct {
	allowOK   bool
	allowWait time.Duration
	allowErr  error

	failBlocked bool
	failErr     error

	successErr error

	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	l.allowCalls++
	return l.allowOK, l.allowWait, l.allowErr
}

func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return l.successErr
}

func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, time.Minute, l.failErr
}
