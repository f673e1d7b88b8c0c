package behavior

import (
	"context"
	"math/rand/v2"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/ryandielhenn/mipsync/internal/clock"
	"github.com/ryandielhenn/mipsync/internal/telemetry"
	"github.com/ryandielhenn/mipsync/pkg/effect"
	"github.com/ryandielhenn/mipsync/pkg/gossip"
	"github.com/ryandielhenn/mipsync/pkg/trigger"
)

var testLibrary = effect.Library{
	Clips: map[effect.Category][]effect.Clip{
		effect.Active:   {{Name: "dance", Duration: time.Second}},
		effect.Idle:     {{Name: "mip", Duration: 500 * time.Millisecond}},
		effect.Startup:  {{Name: "hello", Duration: time.Second}},
		effect.Shutdown: {{Name: "powerdown", Duration: 2 * time.Second}},
		effect.Sad:      {{Name: "aww", Duration: 500 * time.Millisecond}},
	},
	Loops: map[effect.Category]int{effect.Active: 2},
}

var _ = Describe("Machine", func() {
	var (
		ctx      context.Context
		cfg      Config
		clk      *clock.Fake
		fx       *recordingEffects
		screen   *recordingRenderer
		bc       *recordingBroadcaster
		triggers *trigger.State
		m        *Machine
	)

	build := func() {
		var err error
		m, err = New(cfg, Deps{
			Effects:     fx,
			Renderer:    screen,
			Broadcaster: bc,
			Triggers:    triggers,
			Clock:       clk,
			Rand:        rand.New(rand.NewPCG(1, 2)),
			Logger:      zaptest.NewLogger(GinkgoT()).Sugar(),
		})
		Expect(err).NotTo(HaveOccurred())
	}

	tick := func() Phase { return m.Tick(ctx, Input{}) }

	// finishEpisode runs an active episode to the end of its settle pause.
	finishEpisode := func() {
		Expect(m.Phase()).To(Equal(PhaseActive))
		clk.Advance(3 * time.Second)
		Expect(tick()).To(Equal(PhaseActive))
		Expect(screen.Last().Transform).To(Equal(Settled))
		clk.Advance(cfg.SettlePause)
		Expect(tick()).To(Equal(PhaseCoolingDown))
	}

	BeforeEach(func() {
		ctx = context.Background()
		cfg = DefaultConfig()
		cfg.ActivateChance = 0
		cfg.SadAfterEpisodeChance = 0
		cfg.IdleEffectMin = time.Hour
		cfg.IdleEffectMax = time.Hour
		clk = clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
		fx = &recordingEffects{Player: effect.NewPlayer(testLibrary, clk, rand.New(rand.NewPCG(3, 4)), nil)}
		screen = &recordingRenderer{}
		bc = &recordingBroadcaster{}
		triggers = trigger.New()
	})

	JustBeforeEach(build)

	It("starts idle and renders breathing frames", func() {
		Expect(m.Phase()).To(Equal(PhaseIdle))
		Expect(tick()).To(Equal(PhaseIdle))
		f := screen.Last()
		Expect(f.Phase).To(Equal(PhaseIdle))
		Expect(f.Transform).To(Equal(Breathing(clk.Now())))
		Expect(bc.Sent()).To(BeEmpty())
	})

	Context("manual activation", func() {
		It("dances and announces it", func() {
			before := testutil.ToFloat64(telemetry.Episodes.WithLabelValues(OriginManual))

			Expect(m.Tick(ctx, Input{Activate: true})).To(Equal(PhaseActive))
			Expect(bc.Sent()).To(Equal([]gossip.Command{gossip.CommandActivate}))
			Expect(fx.Played()).To(Equal([]effect.Category{effect.Active}))
			Expect(screen.Last().Transform).To(Equal(Dance(0)))
			Expect(testutil.ToFloat64(telemetry.Episodes.WithLabelValues(OriginManual))).To(Equal(before + 1))
			Expect(testutil.ToFloat64(telemetry.Phase.WithLabelValues(string(PhaseActive)))).To(Equal(1.0))
		})

		It("ignores activation requests while dancing", func() {
			m.Tick(ctx, Input{Activate: true})
			clk.Advance(250 * time.Millisecond)
			triggers.SignalActivate()

			Expect(m.Tick(ctx, Input{Activate: true})).To(Equal(PhaseActive))
			Expect(bc.Sent()).To(HaveLen(1))
			Expect(fx.Count(effect.Active)).To(Equal(1))
			Expect(screen.Last().Transform).To(Equal(Dance(250 * time.Millisecond)))

			a, _ := triggers.Pending()
			Expect(a).To(BeFalse(), "activate flag is consumed even while active")
		})
	})

	Context("peer activation", func() {
		It("dances without re-broadcasting", func() {
			triggers.SignalActivate()
			Expect(tick()).To(Equal(PhaseActive))
			Expect(bc.Sent()).To(BeEmpty())
			Expect(fx.Count(effect.Active)).To(Equal(1))
		})

		It("prefers the manual request when both arrive together", func() {
			triggers.SignalActivate()
			m.Tick(ctx, Input{Activate: true})
			Expect(bc.Sent()).To(Equal([]gossip.Command{gossip.CommandActivate}))
			a, _ := triggers.Pending()
			Expect(a).To(BeFalse())
		})
	})

	Context("episode completion", func() {
		JustBeforeEach(func() {
			m.Tick(ctx, Input{Activate: true})
		})

		It("plays the full looped effect, settles, then cools down", func() {
			clk.Advance(2900 * time.Millisecond)
			Expect(tick()).To(Equal(PhaseActive))
			Expect(screen.Last().Transform).To(Equal(Dance(2900 * time.Millisecond)))

			clk.Advance(100 * time.Millisecond)
			Expect(tick()).To(Equal(PhaseActive))
			Expect(screen.Last().Transform).To(Equal(Settled))

			clk.Advance(cfg.SettlePause - time.Millisecond)
			Expect(tick()).To(Equal(PhaseActive))

			clk.Advance(time.Millisecond)
			Expect(tick()).To(Equal(PhaseCoolingDown))
			Expect(m.LastActiveEnd()).To(Equal(clk.Now()))
			Expect(fx.Count(effect.Sad)).To(Equal(0))
		})

		When("the sad chance is certain", func() {
			BeforeEach(func() { cfg.SadAfterEpisodeChance = 1 })

			It("plays a sad effect when the dance ends", func() {
				finishEpisode()
				Expect(fx.Count(effect.Sad)).To(Equal(1))
			})
		})
	})

	Context("cooldown", func() {
		BeforeEach(func() { cfg.ActivateChance = 1 })

		It("never activates randomly before the cooldown has elapsed", func() {
			Expect(tick()).To(Equal(PhaseActive), "certain chance activates on the first idle tick")
			Expect(bc.Sent()).To(Equal([]gossip.Command{gossip.CommandActivate}))
			finishEpisode()
			end := m.LastActiveEnd()

			for clk.Now().Sub(end) < cfg.Cooldown-time.Second {
				clk.Advance(time.Second)
				Expect(tick()).To(Equal(PhaseCoolingDown))
			}
			Expect(bc.Sent()).To(HaveLen(1))

			clk.Set(end.Add(cfg.Cooldown))
			Expect(tick()).To(Equal(PhaseActive))
			Expect(bc.Sent()).To(HaveLen(2))
		})

		It("still accepts manual and peer activation", func() {
			tick()
			finishEpisode()

			Expect(m.Tick(ctx, Input{Activate: true})).To(Equal(PhaseActive))
			finishEpisode()

			triggers.SignalActivate()
			Expect(tick()).To(Equal(PhaseActive))
		})
	})

	Context("peer departure", func() {
		It("plays one sad effect and clears the flag", func() {
			triggers.SignalRetire()
			Expect(tick()).To(Equal(PhaseIdle))
			Expect(fx.Count(effect.Sad)).To(Equal(1))

			_, r := triggers.Pending()
			Expect(r).To(BeFalse())

			clk.Advance(time.Second)
			tick()
			Expect(fx.Count(effect.Sad)).To(Equal(1))
		})

		It("drops the cue while another effect plays", func() {
			fx.Play(effect.Startup)
			triggers.SignalRetire()
			tick()
			Expect(fx.Count(effect.Sad)).To(Equal(0))

			_, r := triggers.Pending()
			Expect(r).To(BeFalse())
		})

		It("drops the cue while dancing", func() {
			m.Tick(ctx, Input{Activate: true})
			fx.StopAll()
			triggers.SignalRetire()
			tick()
			Expect(fx.Count(effect.Sad)).To(Equal(0))
		})
	})

	Context("idle effects", func() {
		BeforeEach(func() {
			cfg.IdleEffectMin = 5 * time.Second
			cfg.IdleEffectMax = 5 * time.Second
		})

		It("plays an idle effect when the timer runs out", func() {
			clk.Advance(4 * time.Second)
			tick()
			Expect(fx.Count(effect.Idle)).To(Equal(0))

			clk.Advance(time.Second)
			tick()
			Expect(fx.Count(effect.Idle)).To(Equal(1))

			clk.Advance(time.Second)
			tick()
			Expect(fx.Count(effect.Idle)).To(Equal(1))
		})

		It("waits for silence before playing", func() {
			clk.Advance(4500 * time.Millisecond)
			fx.Play(effect.Startup)
			clk.Advance(500 * time.Millisecond)
			tick()
			Expect(fx.Count(effect.Idle)).To(Equal(0))

			clk.Advance(500 * time.Millisecond)
			tick()
			Expect(fx.Count(effect.Idle)).To(Equal(1))
		})
	})

	Context("shutdown", func() {
		It("stops the dance, announces departure once and plays the shutdown effect", func() {
			m.Tick(ctx, Input{Activate: true})
			clk.Advance(500 * time.Millisecond)

			Expect(m.Tick(ctx, Input{Quit: true})).To(Equal(PhaseShuttingDown))
			Expect(bc.Sent()).To(Equal([]gossip.Command{gossip.CommandActivate, gossip.CommandRetire}))
			Expect(fx.Played()).To(Equal([]effect.Category{effect.Active, effect.Shutdown}))
			Expect(screen.Last().Transform).To(Equal(Settled))

			Expect(m.Tick(ctx, Input{Quit: true, Activate: true})).To(Equal(PhaseShuttingDown))
			triggers.SignalActivate()
			tick()
			Expect(bc.Sent()).To(HaveLen(2))

			done := make(chan struct{})
			go func() {
				defer close(done)
				m.AwaitShutdown()
			}()
			Eventually(clk.Waiters).Should(Equal(1))
			Consistently(done).ShouldNot(BeClosed())

			clk.Advance(2 * time.Second)
			Eventually(done).Should(BeClosed())
		})

		It("silences idle chatter before powering down", func() {
			chatter := fx.Play(effect.Idle)
			Expect(chatter.Playing()).To(BeTrue())

			m.Tick(ctx, Input{Quit: true})
			Expect(chatter.Playing()).To(BeFalse())
			Expect(fx.Busy()).To(BeTrue())
			Expect(bc.Sent()).To(Equal([]gossip.Command{gossip.CommandRetire}))
		})

		It("waits without a cap when the timeout is zero", func() {
			cfg.ShutdownTimeout = 0
			build()
			lib := testLibrary
			lib.Clips = map[effect.Category][]effect.Clip{effect.Shutdown: {{Name: "long", Duration: 30 * time.Second}}}
			fx.Player = effect.NewPlayer(lib, clk, nil, nil)

			m.Tick(ctx, Input{Quit: true})
			done := make(chan struct{})
			go func() {
				defer close(done)
				m.AwaitShutdown()
			}()
			Eventually(clk.Waiters).Should(Equal(1))
			clk.Advance(20 * time.Second)
			Eventually(clk.Waiters).Should(Equal(1))
			Consistently(done).ShouldNot(BeClosed())
			Expect(fx.Busy()).To(BeTrue())

			clk.Advance(11 * time.Second)
			Eventually(done).Should(BeClosed())
		})

		It("gives up on a shutdown effect that never ends", func() {
			cfg.ShutdownTimeout = time.Second
			build()
			lib := testLibrary
			lib.Clips = map[effect.Category][]effect.Clip{effect.Shutdown: {{Name: "forever", Duration: time.Hour}}}
			fx.Player = effect.NewPlayer(lib, clk, nil, nil)

			m.Tick(ctx, Input{Quit: true})
			done := make(chan struct{})
			go func() {
				defer close(done)
				m.AwaitShutdown()
			}()
			Eventually(func() bool {
				clk.Advance(cfg.ShutdownPoll)
				select {
				case <-done:
					return true
				default:
					return false
				}
			}).Should(BeTrue())
			Expect(fx.Busy()).To(BeFalse())
		})
	})

	Context("Requests", func() {
		It("collapses activations and keeps quit set", func() {
			req := &Requests{}
			req.Activate()
			req.Activate()
			Expect(req.Take()).To(Equal(Input{Activate: true}))
			Expect(req.Take()).To(Equal(Input{}))

			req.Quit()
			Expect(req.Pending()).To(Equal(Input{Quit: true}))
			Expect(req.Take()).To(Equal(Input{Quit: true}))
			Expect(req.Take()).To(Equal(Input{Quit: true}))
		})
	})

	Context("Run", func() {
		It("treats cancellation as quit and returns after the shutdown effect", func() {
			runCtx, cancel := context.WithCancel(context.Background())
			cancel()

			errc := make(chan error, 1)
			go func() { errc <- m.Run(runCtx, nil) }()

			Eventually(clk.Waiters).Should(Equal(1))
			Expect(bc.Sent()).To(Equal([]gossip.Command{gossip.CommandRetire}))
			clk.Advance(2 * time.Second)
			Eventually(errc).Should(Receive(BeNil()))
			Expect(m.Phase()).To(Equal(PhaseShuttingDown))
		})

		It("lets a posted quit win over posted activations", func() {
			req := &Requests{}
			for range 100 {
				req.Activate()
			}
			req.Quit()

			errc := make(chan error, 1)
			go func() { errc <- m.Run(context.Background(), req) }()

			Eventually(clk.Waiters).Should(Equal(1))
			Expect(bc.Sent()).To(Equal([]gossip.Command{gossip.CommandRetire}))
			clk.Advance(2 * time.Second)
			Eventually(errc).Should(Receive(BeNil()))
		})
	})
})

var _ = Describe("Transforms", func() {
	It("starts the dance at the rest pose with a narrow width", func() {
		t := Dance(0)
		Expect(t.ScaleX).To(BeNumerically("~", 0.9, 1e-9))
		Expect(t.ScaleY).To(BeNumerically("~", 1.0, 1e-9))
		Expect(t.Rotation).To(BeNumerically("~", 0, 1e-9))
		Expect(t.OffsetX).To(BeNumerically("~", 0, 1e-9))
	})

	It("stays within the wobble bounds", func() {
		for ms := 0; ms < 10000; ms += 37 {
			t := Dance(time.Duration(ms) * time.Millisecond)
			Expect(t.ScaleX).To(BeNumerically(">=", 0.8-1e-9))
			Expect(t.ScaleX).To(BeNumerically("<=", 1.0+1e-9))
			Expect(t.ScaleY).To(BeNumerically(">=", 0.9-1e-9))
			Expect(t.ScaleY).To(BeNumerically("<=", 1.0+1e-9))
			Expect(t.Rotation).To(BeNumerically("<=", 5+1e-9))
			Expect(t.OffsetX).To(BeNumerically(">=", -15-1e-9))
		}
	})

	It("breathes by at most two percent", func() {
		start := time.Unix(0, 0)
		for s := 0; s < 100; s++ {
			t := Breathing(start.Add(time.Duration(s) * 100 * time.Millisecond))
			Expect(t.ScaleX).To(Equal(1.0))
			Expect(t.ScaleY).To(BeNumerically("~", 1, 0.02+1e-9))
		}
	})
})

var _ = Describe("Config", func() {
	It("rejects impossible settings", func() {
		bad := []func(*Config){
			func(c *Config) { c.TickRate = 0 },
			func(c *Config) { c.ActivateChance = 1.5 },
			func(c *Config) { c.SadAfterEpisodeChance = -0.1 },
			func(c *Config) { c.IdleEffectMax = c.IdleEffectMin - time.Second },
			func(c *Config) { c.ShutdownPoll = 0 },
			func(c *Config) { c.ShutdownTimeout = -time.Second },
		}
		for _, mutate := range bad {
			c := DefaultConfig()
			mutate(&c)
			Expect(c.Validate()).To(HaveOccurred())
		}
		Expect(DefaultConfig().Validate()).To(Succeed())
		Expect(DefaultConfig().TickInterval()).To(BeNumerically("~", time.Second/60, time.Microsecond))
	})
})
