//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package yeelight

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseControl lets several processes on the host listen on the discovery
// port at once.
func reuseControl(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if sockErr == nil {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
		}
	})
	if err != nil {
		return err
	}
	return sockErr
}
