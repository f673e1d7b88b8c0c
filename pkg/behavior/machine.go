package behavior

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/ryandielhenn/mipsync/internal/clock"
	"github.com/ryandielhenn/mipsync/internal/telemetry"
	"github.com/ryandielhenn/mipsync/pkg/effect"
	"github.com/ryandielhenn/mipsync/pkg/gossip"
)

// Transition events.
const (
	EventActivate = "activate"
	EventFinish   = "finish"
	EventRest     = "rest"
	EventQuit     = "quit"
)

// What started an active episode, as recorded in episodes_total.
const (
	OriginManual = "manual"
	OriginPeer   = "peer"
	OriginRandom = "random"
)

// Deps are the collaborators a Machine drives.
type Deps struct {
	Effects     Effects
	Renderer    Renderer
	Broadcaster Broadcaster
	Triggers    Triggers
	Clock       clock.Clock
	Rand        *rand.Rand
	Logger      *zap.SugaredLogger
}

type Machine struct {
	cfg Config
	fsm *fsm.FSM

	fx  Effects
	out Renderer
	bc  Broadcaster
	tr  Triggers
	clk clock.Clock
	rnd *rand.Rand
	log *zap.SugaredLogger

	activeFx   effect.Playback
	shutdownFx effect.Playback

	episodeStart   time.Time
	settleUntil    time.Time
	nextIdleEffect time.Time

	// lastActiveEnd is written by the tick goroutine and read by status.
	endMu         sync.RWMutex
	lastActiveEnd time.Time
}

func New(cfg Config, d Deps) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if d.Effects == nil || d.Renderer == nil || d.Broadcaster == nil || d.Triggers == nil {
		return nil, fmt.Errorf("behavior: effects, renderer, broadcaster and triggers are required")
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}

	m := &Machine{
		cfg: cfg,
		fx:  d.Effects,
		out: d.Renderer,
		bc:  d.Broadcaster,
		tr:  d.Triggers,
		clk: d.Clock,
		rnd: d.Rand,
		log: d.Logger,
	}

	m.fsm = fsm.NewFSM(
		string(PhaseIdle),
		fsm.Events{
			{Name: EventActivate, Src: []string{string(PhaseIdle), string(PhaseCoolingDown)}, Dst: string(PhaseActive)},
			{Name: EventFinish, Src: []string{string(PhaseActive)}, Dst: string(PhaseCoolingDown)},
			{Name: EventRest, Src: []string{string(PhaseCoolingDown)}, Dst: string(PhaseIdle)},
			{Name: EventQuit, Src: []string{string(PhaseIdle), string(PhaseActive), string(PhaseCoolingDown)}, Dst: string(PhaseShuttingDown)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				telemetry.PhaseTransitions.WithLabelValues(e.Src, e.Dst).Inc()
				telemetry.SetPhase(e.Dst, phaseNames())
				m.log.Debugw("Phase changed", "from", e.Src, "to", e.Dst, "event", e.Event)
			},
		},
	)
	telemetry.SetPhase(string(PhaseIdle), phaseNames())
	m.scheduleIdleEffect(m.clk.Now())
	return m, nil
}

// Phase is safe to call from any goroutine.
func (m *Machine) Phase() Phase {
	return Phase(m.fsm.Current())
}

// LastActiveEnd is when the latest episode finished, zero if none has.
func (m *Machine) LastActiveEnd() time.Time {
	m.endMu.RLock()
	defer m.endMu.RUnlock()
	return m.lastActiveEnd
}

// Tick advances the machine by one step and returns the phase it ends in.
// Both trigger flags are taken on every tick, so a peer Retire heard while
// dancing is consumed and never plays the sad effect later.
// Once shutting down, further ticks do nothing.
func (m *Machine) Tick(ctx context.Context, in Input) Phase {
	if m.Phase() == PhaseShuttingDown {
		return PhaseShuttingDown
	}
	now := m.clk.Now()

	if in.Quit {
		m.shutdown(ctx, now)
		return m.Phase()
	}

	peerActivate := m.tr.TakeActivate()
	peerRetire := m.tr.TakeRetire()

	switch m.Phase() {
	case PhaseIdle, PhaseCoolingDown:
		m.tickResting(ctx, now, in, peerActivate, peerRetire)
	case PhaseActive:
		m.tickActive(now)
	}
	return m.Phase()
}

func (m *Machine) tickResting(ctx context.Context, now time.Time, in Input, peerActivate, peerRetire bool) {
	if peerRetire {
		if m.fx.Busy() {
			m.log.Debugw("Peer left while an effect was playing, ignoring")
		} else {
			m.log.Infow("A friend left. So sad...")
			m.fx.Play(effect.Sad)
		}
	}

	switch {
	case in.Activate:
		m.activate(ctx, now, OriginManual, true)
		return
	case peerActivate:
		m.activate(ctx, now, OriginPeer, false)
		return
	}

	if m.Phase() == PhaseCoolingDown && now.Sub(m.LastActiveEnd()) >= m.cfg.Cooldown {
		m.event(EventRest)
	}

	if !now.Before(m.nextIdleEffect) && !m.fx.Busy() {
		m.fx.Play(effect.Idle)
		m.scheduleIdleEffect(now)
	}

	if m.Phase() == PhaseIdle && m.roll() < m.cfg.ActivateChance {
		m.activate(ctx, now, OriginRandom, true)
		return
	}

	m.render(now, Breathing(now))
}

func (m *Machine) tickActive(now time.Time) {
	if m.settleUntil.IsZero() {
		if m.activeFx != nil && m.activeFx.Playing() {
			m.render(now, Dance(now.Sub(m.episodeStart)))
			return
		}
		m.activeFx = nil
		if m.roll() < m.cfg.SadAfterEpisodeChance {
			m.fx.Play(effect.Sad)
		}
		m.settleUntil = now.Add(m.cfg.SettlePause)
	}

	m.render(now, Settled)
	if now.Before(m.settleUntil) {
		return
	}

	m.settleUntil = time.Time{}
	m.event(EventFinish)
	m.endMu.Lock()
	m.lastActiveEnd = now
	m.endMu.Unlock()
	m.scheduleIdleEffect(now)
	m.log.Infow("Dance finished", "duration", now.Sub(m.episodeStart).Round(time.Millisecond))
}

func (m *Machine) activate(ctx context.Context, now time.Time, origin string, announce bool) {
	m.event(EventActivate)
	m.episodeStart = now
	m.settleUntil = time.Time{}
	m.activeFx = m.fx.Play(effect.Active)
	telemetry.Episodes.WithLabelValues(origin).Inc()
	m.log.Infow("Dancing", "origin", origin)

	if announce {
		m.bc.Send(ctx, gossip.CommandActivate)
	}
	m.render(now, Dance(0))
}

// shutdown silences whatever is playing, the dance included, before the
// departure notice.
func (m *Machine) shutdown(ctx context.Context, now time.Time) {
	m.fx.StopAll()
	m.activeFx = nil
	m.event(EventQuit)
	m.log.Infow("Powering down")

	m.bc.Send(ctx, gossip.CommandRetire)
	m.render(now, Settled)
	m.shutdownFx = m.fx.Play(effect.Shutdown)
}

// AwaitShutdown blocks until the shutdown effect stops playing, polling
// every ShutdownPoll, or until ShutdownTimeout has passed. A zero
// ShutdownTimeout waits for as long as the effect plays.
func (m *Machine) AwaitShutdown() {
	if m.shutdownFx == nil {
		return
	}
	deadline := m.clk.Now().Add(m.cfg.ShutdownTimeout)
	for m.shutdownFx.Playing() {
		if m.cfg.ShutdownTimeout > 0 && !m.clk.Now().Before(deadline) {
			m.log.Warnw("Shutdown effect still playing, giving up", "timeout", m.cfg.ShutdownTimeout)
			m.shutdownFx.Stop()
			return
		}
		<-m.clk.After(m.cfg.ShutdownPoll)
	}
}

// Run ticks at the configured rate until the machine shuts down, then waits
// for the shutdown effect. Requests are taken once per tick; a nil req means
// only cancellation can stop the loop. Cancelling ctx counts as a quit
// request.
func (m *Machine) Run(ctx context.Context, req *Requests) error {
	if req == nil {
		req = &Requests{}
	}
	interval := m.cfg.TickInterval()
	m.log.Infow("Behavior loop started", "interval", interval)

	for {
		in := req.Take()
		if ctx.Err() != nil {
			in.Quit = true
		}
		if m.Tick(ctx, in) == PhaseShuttingDown {
			m.AwaitShutdown()
			m.log.Infow("Behavior loop stopped")
			return nil
		}

		select {
		case <-ctx.Done():
		case <-m.clk.After(interval):
		}
	}
}

func (m *Machine) event(name string) {
	// A cancelled run context must not abort the quit transition.
	if err := m.fsm.Event(context.Background(), name); err != nil {
		m.log.Errorw("Invalid transition", "event", name, "phase", m.fsm.Current(), "err", err)
	}
}

func (m *Machine) render(now time.Time, t Transform) {
	m.out.Render(Frame{Phase: m.Phase(), Transform: t, At: now})
}

func (m *Machine) scheduleIdleEffect(now time.Time) {
	lo, hi := m.cfg.IdleEffectMin, m.cfg.IdleEffectMax
	m.nextIdleEffect = now.Add(lo + time.Duration(m.roll()*float64(hi-lo)))
}

func (m *Machine) roll() float64 {
	if m.rnd == nil {
		return rand.Float64()
	}
	return m.rnd.Float64()
}
