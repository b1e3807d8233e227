//go:build linux

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setSocketOptions enables SO_REUSEPORT so multiple listener goroutines
// (or process restarts during a rolling deploy) can share one port.
// Grounded on the teacher's socket_linux.go, ported from raw syscall
// constants to golang.org/x/sys/unix, the more common idiom for a
// RawConn.Control sockopt call.
func setSocketOptions(network, address string, c syscall.RawConn) error {
	var sockErr error
	if err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	}); err != nil {
		return err
	}
	return sockErr
}
