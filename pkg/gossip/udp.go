package gossip

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

const (
	DefaultPort          = 2014
	DefaultBroadcastAddr = "255.255.255.255"
	DefaultReadBuffer    = 1024
)

var _ Transport = (*UDPTransport)(nil)

// UDPTransport broadcasts on the IPv4 limited broadcast address and receives
// on a shared, address-reusable socket bound to the well-known port.
type UDPTransport struct {
	broadcastAddr string
	port          int
	bufSize       int

	mu     sync.Mutex
	conn   net.PacketConn
	closed bool
}

func NewUDPTransport(broadcastAddr string, port, bufSize int) *UDPTransport {
	if broadcastAddr == "" {
		broadcastAddr = DefaultBroadcastAddr
	}
	if port <= 0 {
		port = DefaultPort
	}
	if bufSize <= 0 {
		bufSize = DefaultReadBuffer
	}
	return &UDPTransport{broadcastAddr: broadcastAddr, port: port, bufSize: bufSize}
}

// Broadcast opens a throwaway socket, sends payload once and closes it.
func (t *UDPTransport) Broadcast(ctx context.Context, payload []byte) error {
	dst, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(t.broadcastAddr, strconv.Itoa(t.port)))
	if err != nil {
		return fmt.Errorf("resolve broadcast addr: %w", err)
	}

	lc := net.ListenConfig{Control: broadcastControl}
	pc, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return fmt.Errorf("open broadcast socket: %w", err)
	}
	defer pc.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = pc.SetWriteDeadline(dl)
	}
	if _, err := pc.WriteTo(payload, dst); err != nil {
		return fmt.Errorf("send broadcast: %w", err)
	}
	return nil
}

func (t *UDPTransport) Receive(ctx context.Context) ([]byte, error) {
	pc, err := t.bind()
	if err != nil {
		return nil, err
	}

	// A previous cancelled Receive may have left a deadline in the past.
	_ = pc.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() { _ = pc.SetReadDeadline(time.Now()) })
	defer stop()

	buf := make([]byte, t.bufSize)
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return buf[:n], nil
}

func (t *UDPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// bind opens the receive socket once; it outlives any single Receive call.
func (t *UDPTransport) bind() (net.PacketConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, net.ErrClosed
	}
	if t.conn != nil {
		return t.conn, nil
	}
	lc := net.ListenConfig{Control: reuseAddrControl}
	pc, err := lc.ListenPacket(context.Background(), "udp4", ":"+strconv.Itoa(t.port))
	if err != nil {
		return nil, fmt.Errorf("%w: bind :%d: %v", ErrUnavailable, t.port, err)
	}
	t.conn = pc
	return pc, nil
}
