//go:build linux || darwin

package transport

import (
	"net"

	"golang.org/x/sys/unix"
)

func controlWithFd(conn *net.UDPConn, fn func(fd int)) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var ctrlErr error
	err = raw.Control(func(fd uintptr) {
		ctrlErr = nil
		fn(int(fd))
	})
	if err != nil {
		return err
	}
	return ctrlErr
}

// setReuseAddr sets SO_REUSEADDR so multiple local processes (or restarts)
// can bind the same multicast port. The fd is already managed
// non-blocking by the Go runtime poller; it is not touched here.
func setReuseAddr(conn *net.UDPConn) error {
	return controlWithFd(conn, func(fd int) {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
}

// setDSCP marks outgoing datagrams Expedited Forwarding (0xB8) via
// IP_TOS/IPV6_TCLASS, per original_source/src/io/network.rs.
func setDSCP(conn *net.UDPConn, v6 bool) error {
	return controlWithFd(conn, func(fd int) {
		if v6 {
			_ = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_TCLASS, DSCPExpeditedForwarding)
		} else {
			_ = unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, DSCPExpeditedForwarding)
		}
	})
}
