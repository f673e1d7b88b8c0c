package behavior

import (
	"context"
	"sync"

	"github.com/ryandielhenn/mipsync/pkg/effect"
	"github.com/ryandielhenn/mipsync/pkg/gossip"
)

// recordingEffects plays through a real effect.Player and remembers which
// categories were requested.
type recordingEffects struct {
	*effect.Player

	mu     sync.Mutex
	played []effect.Category
}

func (r *recordingEffects) Play(c effect.Category) effect.Playback {
	r.mu.Lock()
	r.played = append(r.played, c)
	r.mu.Unlock()
	return r.Player.Play(c)
}

func (r *recordingEffects) Played() []effect.Category {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]effect.Category(nil), r.played...)
}

func (r *recordingEffects) Count(c effect.Category) int {
	n := 0
	for _, p := range r.Played() {
		if p == c {
			n++
		}
	}
	return n
}

type recordingRenderer struct {
	mu     sync.Mutex
	frames []Frame
}

func (r *recordingRenderer) Render(f Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

func (r *recordingRenderer) Last() Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return Frame{}
	}
	return r.frames[len(r.frames)-1]
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []gossip.Command
}

func (b *recordingBroadcaster) Send(_ context.Context, cmd gossip.Command) {
	b.mu.Lock()
	b.sent = append(b.sent, cmd)
	b.mu.Unlock()
}

func (b *recordingBroadcaster) Sent() []gossip.Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]gossip.Command(nil), b.sent...)
}
