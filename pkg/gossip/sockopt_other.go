//go:build !unix

package gossip

import "syscall"

// Socket options are only tuned on unix; elsewhere the OS defaults apply and
// a failed broadcast is swallowed by the Sender like any other send error.
func broadcastControl(_, _ string, _ syscall.RawConn) error { return nil }

func reuseAddrControl(_, _ string, _ syscall.RawConn) error { return nil }
