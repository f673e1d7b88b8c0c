package gossip

import (
	"context"
	"errors"
)

// Transport moves raw datagrams for the broadcast protocol.
// Concrete implementations: UDPTransport for the LAN, ChannelTransport for
// in-process peers in tests and simulations.
type Transport interface {
	// Broadcast sends one datagram to every reachable peer. Delivery is not
	// confirmed.
	Broadcast(ctx context.Context, payload []byte) error
	// Receive blocks until a datagram arrives, ctx is done or the transport
	// is closed (net.ErrClosed).
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// ErrUnavailable reports that the transport cannot receive at all, e.g. the
// well-known port could not be bound.
var ErrUnavailable = errors.New("gossip: transport unavailable")
