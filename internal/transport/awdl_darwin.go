//go:build darwin

package transport

import (
	"net"

	"golang.org/x/sys/unix"
)

// allowAWDL sets SO_RECV_ANYIF so multicast datagrams arriving over
// Apple's AWDL interface (used by AirDrop-adjacent peer links) are not
// dropped by the default interface filter. Linux has no equivalent
// socket option; see awdl_other.go.
func allowAWDL(conn *net.UDPConn) error {
	return controlWithFd(conn, func(fd int) {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RECV_ANYIF, 1)
	})
}
