//go:build unix

package gossip

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func broadcastControl(_, _ string, c syscall.RawConn) error {
	return setSockoptOn(c, unix.SO_BROADCAST)
}

// Several peers on one host all bind the well-known port.
func reuseAddrControl(_, _ string, c syscall.RawConn) error {
	return setSockoptOn(c, unix.SO_REUSEADDR)
}

func setSockoptOn(c syscall.RawConn, opt int) error {
	var serr error
	if err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, opt, 1)
	}); err != nil {
		return err
	}
	return serr
}
