// Package peer assembles one running MiP: identity, listener, trigger
// flags and behavior machine, plus the HTTP status handlers.
package peer

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryandielhenn/mipsync/internal/clock"
	"github.com/ryandielhenn/mipsync/pkg/behavior"
	"github.com/ryandielhenn/mipsync/pkg/gossip"
	"github.com/ryandielhenn/mipsync/pkg/trigger"
)

type Config struct {
	Identity      gossip.NodeID
	Behavior      behavior.Config
	ReactionDelay time.Duration
	Clock         clock.Clock
	Rand          *rand.Rand
	Logger        *zap.SugaredLogger
}

type Peer struct {
	id       gossip.NodeID
	triggers *trigger.State
	gsp      *gossip.Gossiper
	machine  *behavior.Machine
	requests *behavior.Requests
	clk      clock.Clock
	started  time.Time
	log      *zap.SugaredLogger
}

func New(cfg Config, tr gossip.Transport, fx behavior.Effects, out behavior.Renderer) (*Peer, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	log := cfg.Logger.With("self", cfg.Identity)

	triggers := trigger.New()
	gsp, err := gossip.New(gossip.Config{
		Self:          cfg.Identity,
		ReactionDelay: cfg.ReactionDelay,
		Clock:         cfg.Clock,
		Logger:        log,
	}, tr, triggers)
	if err != nil {
		return nil, fmt.Errorf("peer: %w", err)
	}

	m, err := behavior.New(cfg.Behavior, behavior.Deps{
		Effects:     fx,
		Renderer:    out,
		Broadcaster: gsp,
		Triggers:    triggers,
		Clock:       cfg.Clock,
		Rand:        cfg.Rand,
		Logger:      log.Named("behavior"),
	})
	if err != nil {
		return nil, fmt.Errorf("peer: %w", err)
	}

	return &Peer{
		id:       cfg.Identity,
		triggers: triggers,
		gsp:      gsp,
		machine:  m,
		requests: &behavior.Requests{},
		clk:      cfg.Clock,
		started:  cfg.Clock.Now(),
		log:      log,
	}, nil
}

func (p *Peer) ID() gossip.NodeID { return p.id }

func (p *Peer) Phase() behavior.Phase { return p.machine.Phase() }

// RequestActivate asks for a dance on the next tick. It never blocks;
// requests made before that tick collapse into one.
func (p *Peer) RequestActivate() { p.requests.Activate() }

// RequestQuit asks the peer to announce its departure and stop. It never
// blocks and is never lost.
func (p *Peer) RequestQuit() { p.requests.Quit() }

// Run listens in the background and ticks the behavior machine until it
// has shut down. Cancelling ctx is a quit request; Run still broadcasts the
// departure and waits for the shutdown effect before returning.
func (p *Peer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	listenCtx, stopListening := context.WithCancel(gctx)

	g.Go(func() error {
		if err := p.gsp.Listen(listenCtx); err != nil {
			return fmt.Errorf("peer: listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		defer stopListening()
		return p.machine.Run(gctx, p.requests)
	})

	p.log.Infow("Peer running")
	err := g.Wait()
	p.log.Infow("Peer stopped", "uptime", p.clk.Now().Sub(p.started).Round(time.Millisecond))
	return err
}

// Close releases the transport.
func (p *Peer) Close() error {
	return p.gsp.Close()
}
