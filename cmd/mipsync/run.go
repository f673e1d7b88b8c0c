package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/mipsync/internal/clock"
	"github.com/ryandielhenn/mipsync/internal/config"
	"github.com/ryandielhenn/mipsync/internal/console"
	"github.com/ryandielhenn/mipsync/internal/logger"
	"github.com/ryandielhenn/mipsync/internal/telemetry"
	"github.com/ryandielhenn/mipsync/pkg/behavior"
	"github.com/ryandielhenn/mipsync/pkg/effect"
	"github.com/ryandielhenn/mipsync/pkg/gossip"
	"github.com/ryandielhenn/mipsync/pkg/identity"
	"github.com/ryandielhenn/mipsync/pkg/peer"
	"github.com/ryandielhenn/mipsync/pkg/registry"
	"github.com/ryandielhenn/mipsync/pkg/render"
)

const (
	defaultStatusPort = "9100"
	releaseTimeout    = 2 * time.Second
)

type runOptions struct {
	configPath string
	port       int
	statusAddr string
	headless   bool
	debug      bool
	seed       uint64
}

func run(ctx context.Context, opts runOptions) error {
	// 1. Configuration; flags win over file and environment
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.port > 0 {
		cfg.Network.Port = opts.port
	}
	if opts.statusAddr != "" {
		cfg.Status.Addr = opts.statusAddr
	}
	if opts.debug {
		cfg.Logging.Level = "debug"
	}

	logger.Initialize(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()
	log := logger.For(logger.ComponentBoot)

	rnd := newRand(opts.seed)

	// 2. Identity, reserved in etcd when a registry is configured
	id, release := resolveIdentity(ctx, cfg, rnd, log)
	defer release()
	telemetry.SetBuildInfo(Version, id)

	// 3. Effects; a broken library is fatal before anything starts
	lib, err := cfg.Library()
	if err != nil {
		log.Errorw("Cannot load effects", "err", err)
		return err
	}

	// 4. Transport, player and renderer
	tr := gossip.NewUDPTransport(cfg.Network.BroadcastAddr, cfg.Network.Port, cfg.Network.ReadBuffer)
	player := effect.NewPlayer(lib, clock.Real{}, rnd, logger.For(logger.ComponentEffects))

	interactive := !opts.headless && console.IsTerminal(os.Stdout) && console.IsTerminal(os.Stdin)
	var out behavior.Renderer = render.NewHeadless(logger.For(logger.ComponentRender))
	if interactive {
		out = render.NewTerminal(os.Stdout, id, logger.For(logger.ComponentRender))
	}

	p, err := peer.New(peer.Config{
		Identity:      gossip.NodeID(id),
		Behavior:      cfg.BehaviorConfig(),
		ReactionDelay: cfg.Network.ReactionDelay,
		Clock:         clock.Real{},
		Rand:          rnd,
		Logger:        logger.For(logger.ComponentBehavior),
	}, tr, player, out)
	if err != nil {
		return err
	}
	defer p.Close()

	// 5. Status endpoints
	if cfg.Status.Addr != "" {
		srv := &http.Server{
			Addr:              peer.NormalizeHostPort(cfg.Status.Addr, defaultStatusPort),
			Handler:           p.Mux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		statusLog := logger.For(logger.ComponentStatus)
		go func() {
			statusLog.Infow("Status server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				statusLog.Warnw("Status server stopped", "err", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	// 6. Keyboard
	if interactive {
		restore, err := console.Raw(os.Stdin)
		if err != nil {
			log.Warnw("Raw keyboard mode unavailable", "err", err)
		}
		defer restore()
		go func() {
			if err := console.Read(ctx, os.Stdin, p, logger.For(logger.ComponentConsole)); err != nil {
				log.Debugw("Keyboard reader stopped", "err", err)
			}
		}()
	}

	// 7. Power on and run until quit
	player.Play(effect.Startup)
	log.Infow("Powered on",
		"identity", id,
		"broadcast", fmt.Sprintf("%s:%d", cfg.Network.BroadcastAddr, cfg.Network.Port),
		"interactive", interactive,
	)
	return p.Run(ctx)
}

// resolveIdentity picks this process's name. The returned release func is
// never nil.
func resolveIdentity(ctx context.Context, cfg *config.Config, rnd *rand.Rand, log *zap.SugaredLogger) (string, func()) {
	log = logger.OrNop(log)
	noop := func() {}
	if cfg.Identity.Override != "" {
		return cfg.Identity.Override, noop
	}
	gen := cfg.Generator(rnd)
	if len(cfg.Registry.Endpoints) == 0 {
		return gen.Generate(), noop
	}

	regLog := logger.For(logger.ComponentRegistry)
	cli, err := registry.NewClient(cfg.Registry.Endpoints, cfg.Registry.DialTimeout)
	if err != nil {
		id := gen.Generate()
		regLog.Warnw("etcd unavailable, identity not reserved", "identity", id, "err", err)
		return id, noop
	}
	reg := registry.New(cli, cfg.Registry.LeaseTTL, regLog)

	cctx, cancel := context.WithTimeout(ctx, cfg.Registry.DialTimeout)
	id, err := identity.Claim(cctx, gen, reg.Reserve, cfg.Registry.Attempts)
	cancel()
	if err != nil {
		regLog.Warnw("Identity not reserved, continuing anyway", "identity", id, "err", err)
	} else {
		log.Infow("Identity reserved", "identity", id, "key", reg.Held())
	}

	return id, func() {
		rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := reg.Release(rctx); err != nil {
			regLog.Warnw("Release identity failed", "err", err)
		}
		_ = cli.Close()
	}
}

func newRand(seed uint64) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
