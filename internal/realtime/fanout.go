package realtime

import (
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/talko/internal/metrics"
	"github.com/and161185/talko/internal/model"
)

// Fanout pushes frames to sets of live connections resolved from the Registry.
// It never persists anything.
type Fanout struct {
	reg *Registry
	log *zap.Logger
}

func NewFanout(reg *Registry, log *zap.Logger) *Fanout {
	return &Fanout{reg: reg, log: log}
}

// Deliver pushes an already stored message. Broadcasts go to every connection;
// direct messages go to the sender's and the recipient's connections only.
// It returns the number of connections that accepted the frame.
func (f *Fanout) Deliver(msg model.MessageWithSender) int {
	frame, err := encodeMessage(msg)
	if err != nil {
		f.log.Error("encode message frame", zap.Int64("message_id", msg.ID), zap.Error(err))
		return 0
	}
	if !msg.IsDirect() {
		return f.push(f.reg.AllConnections(), FrameMessage, frame)
	}
	return f.push(f.directTargets(msg.SenderID, *msg.RecipientID), FrameMessage, frame)
}

// directTargets is ConnectionsFor(a) ∪ ConnectionsFor(b) without duplicates.
func (f *Fanout) directTargets(a, b uuid.UUID) []Peer {
	out := f.reg.ConnectionsFor(a)
	if a == b {
		return out
	}
	seen := make(map[uint64]struct{}, len(out))
	for _, p := range out {
		seen[p.ID()] = struct{}{}
	}
	for _, p := range f.reg.ConnectionsFor(b) {
		if _, dup := seen[p.ID()]; !dup {
			out = append(out, p)
		}
	}
	return out
}

// PushAll sends frame to every live connection.
func (f *Fanout) PushAll(typ string, frame []byte) int {
	return f.push(f.reg.AllConnections(), typ, frame)
}

// PushTo sends frame to every connection of userID.
func (f *Fanout) PushTo(userID uuid.UUID, typ string, frame []byte) int {
	return f.push(f.reg.ConnectionsFor(userID), typ, frame)
}

func (f *Fanout) push(peers []Peer, typ string, frame []byte) int {
	n := 0
	for _, p := range peers {
		ok := p.Push(frame)
		metrics.RecordPush(typ, ok)
		if ok {
			n++
			continue
		}
		f.log.Debug("push dropped",
			zap.Uint64("conn_id", p.ID()),
			zap.String("user_id", p.Identity().ID.String()),
			zap.String("type", typ),
		)
	}
	return n
}
