package gossip

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ryandielhenn/mipsync/internal/clock"
	"github.com/ryandielhenn/mipsync/internal/telemetry"
	"github.com/ryandielhenn/mipsync/pkg/kv"
)

const (
	DefaultReactionDelay = time.Second

	receiveErrorPause = 100 * time.Millisecond
	heardLogWindow    = 5 * time.Second
	heardLogCapacity  = 256
)

// Signals receives the listener's decoded intents.
type Signals interface {
	SignalActivate()
	SignalRetire()
}

// Listener turns datagrams from other peers into trigger signals.
//
// An Activate is honoured after the reaction delay in its own goroutine, so
// the receive loop keeps draining datagrams while a reaction is pending.
type Listener struct {
	self    NodeID
	tr      Transport
	signals Signals
	delay   time.Duration
	clock   clock.Clock
	log     *zap.SugaredLogger

	heard         *kv.Store[struct{}]
	malformedLogs rate.Sometimes

	pending sync.WaitGroup
}

func NewListener(self NodeID, tr Transport, signals Signals, delay time.Duration, clk clock.Clock, log *zap.SugaredLogger) *Listener {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if delay < 0 {
		delay = 0
	}
	return &Listener{
		self:          self,
		tr:            tr,
		signals:       signals,
		delay:         delay,
		clock:         clk,
		log:           log,
		heard:         kv.New[struct{}](heardLogCapacity, clk),
		malformedLogs: rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
}

// Run receives until ctx is done or the transport closes. It never returns
// an error: an unusable transport only means this peer hears nobody.
func (l *Listener) Run(ctx context.Context) error {
	defer l.pending.Wait()

	for {
		b, err := l.tr.Receive(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil, errors.Is(err, net.ErrClosed):
				return nil
			case errors.Is(err, ErrUnavailable):
				l.log.Warnw("Listener disabled, peers will not be heard", "err", err)
				return nil
			}
			telemetry.DatagramsReceived.WithLabelValues(telemetry.OutcomeError).Inc()
			l.log.Debugw("Receive failed", "err", err)
			select {
			case <-l.clock.After(receiveErrorPause):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		l.handle(ctx, b)
	}
}

func (l *Listener) handle(ctx context.Context, b []byte) {
	msg, err := Decode(b)
	if err != nil {
		telemetry.DatagramsReceived.WithLabelValues(telemetry.OutcomeMalformed).Inc()
		l.malformedLogs.Do(func() {
			l.log.Debugw("Discarding malformed datagram", "len", len(b), "err", err)
		})
		return
	}
	if msg.Sender == l.self {
		telemetry.DatagramsReceived.WithLabelValues(telemetry.OutcomeSelf).Inc()
		return
	}
	telemetry.DatagramsReceived.WithLabelValues(telemetry.OutcomeAccepted).Inc()

	switch msg.Command {
	case CommandActivate:
		l.noteHeard(msg, "Heard peer dancing, joining in", l.delay)
		l.pending.Add(1)
		go l.react(ctx)
	case CommandRetire:
		l.noteHeard(msg, "Heard peer leave", 0)
		l.signals.SignalRetire()
	}
}

func (l *Listener) react(ctx context.Context) {
	defer l.pending.Done()
	select {
	case <-l.clock.After(l.delay):
		l.signals.SignalActivate()
	case <-ctx.Done():
	}
}

// noteHeard logs at most once per sender and command within heardLogWindow.
func (l *Listener) noteHeard(msg Message, text string, delay time.Duration) {
	if !l.heard.PutIfAbsent(string(msg.Sender)+Delimiter+msg.Command.String(), struct{}{}, heardLogWindow) {
		return
	}
	if delay > 0 {
		l.log.Infow(text, "peer", msg.Sender, "delay", delay)
		return
	}
	l.log.Infow(text, "peer", msg.Sender)
}
