package effect

import (
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/mipsync/internal/clock"
	"github.com/ryandielhenn/mipsync/internal/telemetry"
)

// Player starts clips from a Library and tracks which are still playing.
// It is used from the tick goroutine only; the mutex covers status readers.
type Player struct {
	mu      sync.Mutex
	lib     Library
	clk     clock.Clock
	rnd     *rand.Rand
	log     *zap.SugaredLogger
	playing []*playback
}

type playback struct {
	clk   clock.Clock
	clip  string
	until time.Time

	mu      sync.Mutex
	stopped bool
}

func (p *playback) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.stopped && p.clk.Now().Before(p.until)
}

func (p *playback) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
}

// NewPlayer returns a Player over lib. A nil clk uses the system clock and a
// nil rnd the global source.
func NewPlayer(lib Library, clk clock.Clock, rnd *rand.Rand, log *zap.SugaredLogger) *Player {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Player{lib: lib, clk: clk, rnd: rnd, log: log}
}

// Play starts a uniformly chosen clip of category c. An empty category
// yields a Playback that has already finished.
func (p *Player) Play(c Category) Playback {
	clips := p.lib.Clips[c]
	if len(clips) == 0 {
		p.log.Warnw("No clips for category", "category", c)
		return Nop
	}
	clip := clips[p.intN(len(clips))]
	d := p.lib.PlayTime(c, clip)

	pb := &playback{clk: p.clk, clip: clip.Name, until: p.clk.Now().Add(d)}

	p.mu.Lock()
	p.pruneLocked()
	p.playing = append(p.playing, pb)
	p.mu.Unlock()

	telemetry.EffectsPlayed.WithLabelValues(string(c)).Inc()
	p.log.Debugw("Playing effect", "category", c, "clip", clip.Name, "duration", d)
	return pb
}

// Busy reports whether any started clip is still playing.
func (p *Player) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneLocked()
	return len(p.playing) > 0
}

// StopAll silences every clip.
func (p *Player) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pb := range p.playing {
		pb.Stop()
	}
	p.playing = nil
}

func (p *Player) pruneLocked() {
	kept := p.playing[:0]
	for _, pb := range p.playing {
		if pb.Playing() {
			kept = append(kept, pb)
		}
	}
	clear(p.playing[len(kept):])
	p.playing = kept
}

func (p *Player) intN(n int) int {
	if p.rnd == nil {
		return rand.IntN(n)
	}
	return p.rnd.IntN(n)
}
