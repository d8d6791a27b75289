//go:build !darwin

package transport

import "net"

// allowAWDL is a no-op outside Darwin; SO_RECV_ANYIF has no equivalent.
func allowAWDL(conn *net.UDPConn) error {
	return nil
}
