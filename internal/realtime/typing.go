package realtime

import (
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/talko/internal/model"
)

// TypingRelay forwards typing state point to point. Nothing is stored or queued:
// a recipient without live connections simply misses the signal.
type TypingRelay struct {
	fan *Fanout
	log *zap.Logger
}

func NewTypingRelay(fan *Fanout, log *zap.Logger) *TypingRelay {
	return &TypingRelay{fan: fan, log: log}
}

// Relay pushes {type: phase, fromUserId: from} to every connection of to.
func (t *TypingRelay) Relay(from, to uuid.UUID, phase model.TypingPhase) int {
	if !phase.Valid() {
		return 0
	}
	frame, err := encodeTyping(from, phase)
	if err != nil {
		t.log.Error("encode typing frame", zap.Error(err))
		return 0
	}
	return t.fan.PushTo(to, string(phase), frame)
}
