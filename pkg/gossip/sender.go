package gossip

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/mipsync/internal/telemetry"
)

const sendTimeout = time.Second

// Sender emits one-shot broadcasts carrying this peer's identity.
type Sender struct {
	self NodeID
	tr   Transport
	log  *zap.SugaredLogger
}

func NewSender(self NodeID, tr Transport, log *zap.SugaredLogger) *Sender {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Sender{self: self, tr: tr, log: log}
}

// Send broadcasts cmd once. Errors are logged and dropped: no retry, no
// acknowledgment, and the caller's control flow is never interrupted.
// The send survives cancellation of ctx so a quitting peer can still
// announce its departure.
func (s *Sender) Send(ctx context.Context, cmd Command) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	payload := Encode(Message{Sender: s.self, Command: cmd})
	if err := s.tr.Broadcast(ctx, payload); err != nil {
		telemetry.DatagramsSent.WithLabelValues(cmd.String(), "error").Inc()
		s.log.Debugw("Broadcast dropped", "command", cmd, "err", err)
		return
	}
	telemetry.DatagramsSent.WithLabelValues(cmd.String(), "ok").Inc()
	s.log.Debugw("Broadcast sent", "command", cmd)
}
