package gossip

import (
	"context"
	"net"
	"sync"
)

const defaultInboxSize = 64

// Hub is an in-process broadcast domain. Every ChannelTransport joined to it
// receives the broadcasts of the others; with loopback enabled a member also
// receives its own.
type Hub struct {
	mu       sync.Mutex
	members  map[*ChannelTransport]struct{}
	loopback bool
}

func NewHub(loopback bool) *Hub {
	return &Hub{members: make(map[*ChannelTransport]struct{}), loopback: loopback}
}

// Join attaches a new transport to the hub.
func (h *Hub) Join() *ChannelTransport {
	t := &ChannelTransport{
		hub:   h,
		inbox: make(chan []byte, defaultInboxSize),
		done:  make(chan struct{}),
	}
	h.mu.Lock()
	h.members[t] = struct{}{}
	h.mu.Unlock()
	return t
}

// Deliver injects a raw datagram to every member, as if it came from a peer
// outside the hub.
func (h *Hub) Deliver(payload []byte) {
	h.fanout(nil, payload)
}

func (h *Hub) fanout(from *ChannelTransport, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for m := range h.members {
		if m == from && !h.loopback {
			continue
		}
		// full inbox: the datagram is lost, as it would be on the wire
		select {
		case m.inbox <- append([]byte(nil), payload...):
		default:
		}
	}
}

func (h *Hub) leave(t *ChannelTransport) {
	h.mu.Lock()
	delete(h.members, t)
	h.mu.Unlock()
}

var _ Transport = (*ChannelTransport)(nil)

type ChannelTransport struct {
	hub       *Hub
	inbox     chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (t *ChannelTransport) Broadcast(ctx context.Context, payload []byte) error {
	select {
	case <-t.done:
		return net.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	t.hub.fanout(t, payload)
	return nil
}

func (t *ChannelTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case b := <-t.inbox:
		return b, nil
	case <-t.done:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *ChannelTransport) Close() error {
	t.closeOnce.Do(func() {
		t.hub.leave(t)
		close(t.done)
	})
	return nil
}
