// Package behavior runs the per-tick state machine of one peer: idle
// breathing, dancing, cooling down after a dance, and the shutdown notice.
//
// Everything happens on a single goroutine calling Tick. The only input
// from other goroutines arrives through Triggers, whose flags are taken and
// cleared on every tick.
package behavior

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/ryandielhenn/mipsync/pkg/effect"
	"github.com/ryandielhenn/mipsync/pkg/gossip"
)

type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseActive       Phase = "active"
	PhaseCoolingDown  Phase = "cooling_down"
	PhaseShuttingDown Phase = "shutting_down"
)

var AllPhases = []Phase{PhaseIdle, PhaseActive, PhaseCoolingDown, PhaseShuttingDown}

func phaseNames() []string {
	out := make([]string, len(AllPhases))
	for i, p := range AllPhases {
		out[i] = string(p)
	}
	return out
}

// Transform distorts the base sprite. Scales are factors of the natural
// size, Rotation is in degrees and OffsetX in pixels from center.
type Transform struct {
	ScaleX   float64
	ScaleY   float64
	Rotation float64
	OffsetX  float64
}

// Settled is the undistorted pose.
var Settled = Transform{ScaleX: 1, ScaleY: 1}

// Dance is the wobble for a given time into the active effect.
func Dance(elapsed time.Duration) Transform {
	t := elapsed.Seconds() * 8
	return Transform{
		ScaleX:   0.9 + math.Sin(t)*0.1,
		ScaleY:   0.95 + math.Cos(t*1.2)*0.05,
		Rotation: math.Sin(t*0.8) * 5,
		OffsetX:  math.Sin(t) * 15,
	}
}

// Breathing is the slow vertical pulse shown while idle.
func Breathing(now time.Time) Transform {
	secs := float64(now.UnixNano()) / float64(time.Second)
	return Transform{ScaleX: 1, ScaleY: 1 + math.Sin(secs*2)*0.02}
}

// Frame is what gets drawn on one tick.
type Frame struct {
	Phase     Phase
	Transform Transform
	At        time.Time
}

// Effects plays sounds by category.
type Effects interface {
	Play(c effect.Category) effect.Playback
	Busy() bool
	StopAll()
}

type Renderer interface {
	Render(f Frame)
}

// Broadcaster announces local decisions to other peers. Send must not block
// for long and must not fail the caller.
type Broadcaster interface {
	Send(ctx context.Context, cmd gossip.Command)
}

// Triggers is the tick-side view of the flags set by the listener.
type Triggers interface {
	TakeActivate() bool
	TakeRetire() bool
}

// Input carries the edge-triggered local events observed since the last
// tick.
type Input struct {
	Activate bool
	Quit     bool
}

// Requests collects local requests between ticks. Any goroutine may post;
// nothing blocks and nothing is dropped. Activations collapse into one, and
// a quit stays set once posted.
type Requests struct {
	activate atomic.Bool
	quit     atomic.Bool
}

func (r *Requests) Activate() { r.activate.Store(true) }

func (r *Requests) Quit() { r.quit.Store(true) }

// Take returns the requests posted since the previous Take. The activate
// flag is cleared; the quit flag is not.
func (r *Requests) Take() Input {
	return Input{Activate: r.activate.Swap(false), Quit: r.quit.Load()}
}

// Pending reports the flags without clearing them.
func (r *Requests) Pending() Input {
	return Input{Activate: r.activate.Load(), Quit: r.quit.Load()}
}
